package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/costrate"
	"github.com/iwvelando/margin-analysis/internal/project"
	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/datetime"
	"github.com/iwvelando/margin-analysis/pkg/output"
	"github.com/iwvelando/margin-analysis/pkg/validation"
)

// ErrUpstream marks a failed call to the external exchange-rate source.
var ErrUpstream = errors.New("exchange rate source failed")

type clientRequest struct {
	ClientName string `json:"client_name" validate:"required,max=255"`
}

type costRateRequest struct {
	CostRateUSD   *float64 `json:"cost_rate_usd" validate:"required,gte=0"`
	EffectiveDate string   `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
}

type bulkCostRateRequest struct {
	Rates []bulkCostRate `json:"rates" validate:"required,min=1,dive"`
}

type bulkCostRate struct {
	ResourceType string   `json:"resource_type" validate:"required,max=100"`
	CostRateUSD  *float64 `json:"cost_rate_usd" validate:"required,gte=0"`
}

type exchangeRateRequest struct {
	RateToUSD *float64 `json:"rate_to_usd" validate:"required,gt=0"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Clients

func (h *handler) handleListClients(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	clients, err := h.deps.Store.ListClients(r.Context())
	if err != nil {
		h.respondErr(w, r, err, "server.handleListClients")
		return
	}
	h.writeJSON(w, http.StatusOK, clients)
}

func (h *handler) handleGetClient(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleGetClient")
		return
	}
	client, err := h.deps.Store.GetClient(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err, "server.handleGetClient")
		return
	}
	h.writeJSON(w, http.StatusOK, client)
}

func (h *handler) handleCreateClient(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	var req clientRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondErr(w, r, err, "server.handleCreateClient")
		return
	}
	client, err := h.deps.Store.CreateClient(r.Context(), strings.TrimSpace(req.ClientName))
	if err != nil {
		h.respondErr(w, r, err, "server.handleCreateClient")
		return
	}
	h.audit(r.Context(), caller, store.ActionCreate, "clients", strconv.FormatInt(client.ID, 10), nil, req)
	h.writeJSON(w, http.StatusCreated, client)
}

func (h *handler) handleUpdateClient(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateClient")
		return
	}
	var req clientRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateClient")
		return
	}
	old, err := h.deps.Store.GetClient(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateClient")
		return
	}
	client, err := h.deps.Store.UpdateClient(r.Context(), id, strings.TrimSpace(req.ClientName))
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateClient")
		return
	}
	h.audit(r.Context(), caller, store.ActionUpdate, "clients", strconv.FormatInt(id, 10),
		clientRequest{ClientName: old.Name}, req)
	h.writeJSON(w, http.StatusOK, client)
}

func (h *handler) handleDeleteClient(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleDeleteClient")
		return
	}
	if err := h.deps.Store.DeleteClient(r.Context(), id); err != nil {
		h.respondErr(w, r, err, "server.handleDeleteClient")
		return
	}
	h.audit(r.Context(), caller, store.ActionDelete, "clients", strconv.FormatInt(id, 10), nil, nil)
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Client deleted successfully"})
}

// Projects

func parseProjectFilter(r *http.Request) (store.ProjectFilter, error) {
	q := r.URL.Query()
	f := store.ProjectFilter{
		ContractNumber: q.Get("contract_number"),
		OracleID:       q.Get("oracle_id"),
		ProjectName:    q.Get("project_name"),
		MarginStatus:   q.Get("margin_status"),
		PSRatioStatus:  q.Get("ps_ratio_status"),
	}

	if v := q.Get("client_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("%w: invalid client_id %q", ErrBadRequest, v)
		}
		f.ClientID = id
	}

	for _, d := range []struct {
		name   string
		target **time.Time
		endOf  bool
	}{
		{"start_date", &f.StartDate, false},
		{"end_date", &f.EndDate, true},
	} {
		v := q.Get(d.name)
		if v == "" {
			continue
		}
		t, err := datetime.ParseBound(v, d.endOf)
		if err != nil {
			return f, fmt.Errorf("%w: invalid %s %q", ErrBadRequest, d.name, v)
		}
		*d.target = &t
	}

	for name, status := range map[string]string{"margin_status": f.MarginStatus, "ps_ratio_status": f.PSRatioStatus} {
		if status != "" && status != constants.StatusOnTrack && status != constants.StatusBelowTarget {
			return f, fmt.Errorf("%w: %s must be %q or %q", ErrBadRequest, name, constants.StatusOnTrack, constants.StatusBelowTarget)
		}
	}
	return f, nil
}

func (h *handler) handleListProjects(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	filter, err := parseProjectFilter(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleListProjects")
		return
	}
	projects, err := h.deps.Projects.List(r.Context(), filter)
	if err != nil {
		h.respondErr(w, r, err, "server.handleListProjects")
		return
	}
	if projects == nil {
		projects = []store.Project{}
	}
	h.writeJSON(w, http.StatusOK, projects)
}

func (h *handler) handleProjectStats(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	filter, err := parseProjectFilter(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleProjectStats")
		return
	}
	stats, err := h.deps.Projects.Stats(r.Context(), filter)
	if err != nil {
		h.respondErr(w, r, err, "server.handleProjectStats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *handler) handleExportProjects(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	filter, err := parseProjectFilter(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleExportProjects")
		return
	}
	projects, err := h.deps.Projects.List(r.Context(), filter)
	if err != nil {
		h.respondErr(w, r, err, "server.handleExportProjects")
		return
	}

	filename := fmt.Sprintf("margin-analysis-%s.csv", h.now().UTC().Format(datetime.DateLayout))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	if err := output.CsvFormat(w, projects); err != nil {
		h.logger.Error("failed to write csv export",
			zap.String("op", "server.handleExportProjects"),
			zap.Error(err),
		)
	}
}

func (h *handler) handleGetProject(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleGetProject")
		return
	}
	p, err := h.deps.Projects.Get(r.Context(), caller, id)
	if err != nil {
		h.respondErr(w, r, err, "server.handleGetProject")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *handler) handleCreateProject(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	var in project.Input
	if err := h.decode(w, r, &in); err != nil {
		h.respondErr(w, r, err, "server.handleCreateProject")
		return
	}
	res, err := h.deps.Projects.Create(r.Context(), caller, in)
	if err != nil {
		h.respondErr(w, r, err, "server.handleCreateProject")
		return
	}
	if !caller.IsAdmin() {
		project.HideRates(&res.Project)
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *handler) handleUpdateProject(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateProject")
		return
	}
	var in project.Input
	if err := h.decode(w, r, &in); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateProject")
		return
	}
	res, err := h.deps.Projects.Update(r.Context(), caller, id, in)
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateProject")
		return
	}
	if !caller.IsAdmin() {
		project.HideRates(&res.Project)
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleDeleteProject(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err, "server.handleDeleteProject")
		return
	}
	if err := h.deps.Projects.Delete(r.Context(), caller, id); err != nil {
		h.respondErr(w, r, err, "server.handleDeleteProject")
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Project deleted successfully"})
}

// Cost rates

func (h *handler) handleListCostRates(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	rates, err := h.deps.Store.ListCostRates(r.Context())
	if err != nil {
		h.respondErr(w, r, err, "server.handleListCostRates")
		return
	}
	h.writeJSON(w, http.StatusOK, rates)
}

func (h *handler) currentCostRate(r *http.Request, resourceType string) (float64, error) {
	rate, ok, err := h.deps.Store.CostRate(r.Context(), resourceType)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: cost rate for %q", store.ErrNotFound, resourceType)
	}
	return rate, nil
}

func (h *handler) handleUpdateCostRate(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	resourceType := r.PathValue("type")
	var req costRateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateCostRate")
		return
	}

	old, err := h.currentCostRate(r, resourceType)
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateCostRate")
		return
	}

	effective, err := datetime.EffectiveDate(req.EffectiveDate, h.now())
	if err != nil {
		h.respondErr(w, r, fmt.Errorf("%w: %v", ErrBadRequest, err), "server.handleUpdateCostRate")
		return
	}
	if _, err := h.deps.Store.UpdateCostRates(r.Context(), map[string]float64{resourceType: *req.CostRateUSD}, effective, caller.UserID); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateCostRate")
		return
	}
	h.audit(r.Context(), caller, store.ActionUpdate, "admin_cost_rates", resourceType,
		map[string]float64{"cost_rate_usd": old}, map[string]float64{"cost_rate_usd": *req.CostRateUSD})

	h.logger.Info("cost rate updated",
		zap.String("op", "server.handleUpdateCostRate"),
		zap.String("resource_type", resourceType),
		zap.Float64("old_rate", old),
		zap.Float64("new_rate", *req.CostRateUSD),
		zap.String("user_id", caller.UserID),
	)

	rates, err := h.deps.Store.ListCostRates(r.Context())
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateCostRate")
		return
	}
	for _, rate := range rates {
		if rate.ResourceType == resourceType {
			h.writeJSON(w, http.StatusOK, rate)
			return
		}
	}
	h.respondErr(w, r, fmt.Errorf("%w: cost rate for %q", store.ErrNotFound, resourceType), "server.handleUpdateCostRate")
}

func (h *handler) handleBulkUpdateCostRates(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	var req bulkCostRateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondErr(w, r, err, "server.handleBulkUpdateCostRates")
		return
	}

	rates := make(map[string]float64, len(req.Rates))
	for _, rate := range req.Rates {
		_, ok, err := h.deps.Store.CostRate(r.Context(), rate.ResourceType)
		if err != nil {
			h.respondErr(w, r, err, "server.handleBulkUpdateCostRates")
			return
		}
		if !ok {
			h.respondErr(w, r, fmt.Errorf("%w: %s", costrate.ErrUnknownResourceType, rate.ResourceType),
				"server.handleBulkUpdateCostRates")
			return
		}
		rates[rate.ResourceType] = *rate.CostRateUSD
	}
	updated, err := h.deps.Store.UpdateCostRates(r.Context(), rates, datetime.StartOfDay(h.now()), caller.UserID)
	if err != nil {
		h.respondErr(w, r, err, "server.handleBulkUpdateCostRates")
		return
	}
	h.audit(r.Context(), caller, store.ActionBulkUpdate, "admin_cost_rates", "", nil, rates)

	h.writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		Updated int    `json:"updated"`
	}{Message: "Cost rates updated successfully", Updated: updated})
}

func (h *handler) handleCostRateHistory(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	resourceType := r.PathValue("type")
	if _, err := h.currentCostRate(r, resourceType); err != nil {
		h.respondErr(w, r, err, "server.handleCostRateHistory")
		return
	}

	limit := constants.CostRateHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondErr(w, r, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, v), "server.handleCostRateHistory")
			return
		}
		if n < limit {
			limit = n
		}
	}

	history, err := h.deps.Store.CostRateHistory(r.Context(), resourceType, limit)
	if err != nil {
		h.respondErr(w, r, err, "server.handleCostRateHistory")
		return
	}
	if history == nil {
		history = []store.CostRateHistory{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

// Exchange rates

func (h *handler) handleListExchangeRates(w http.ResponseWriter, r *http.Request, _ project.Caller) {
	rates, err := h.deps.Rates.Rates(r.Context())
	if err != nil {
		h.respondErr(w, r, err, "server.handleListExchangeRates")
		return
	}
	h.writeJSON(w, http.StatusOK, rates)
}

func (h *handler) handleUpdateExchangeRate(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	code := strings.ToUpper(r.PathValue("code"))
	if err := validation.ValidateCurrency(code); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateExchangeRate")
		return
	}
	var req exchangeRateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateExchangeRate")
		return
	}
	if err := h.deps.Rates.SetRate(r.Context(), code, *req.RateToUSD); err != nil {
		h.respondErr(w, r, err, "server.handleUpdateExchangeRate")
		return
	}
	h.audit(r.Context(), caller, store.ActionUpdate, "exchange_rates", code, nil, req)

	rates, err := h.deps.Rates.Rates(r.Context())
	if err != nil {
		h.respondErr(w, r, err, "server.handleUpdateExchangeRate")
		return
	}
	for _, rate := range rates {
		if rate.CurrencyCode == code {
			h.writeJSON(w, http.StatusOK, rate)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, store.ExchangeRate{CurrencyCode: code, RateToUSD: *req.RateToUSD})
}

func (h *handler) handleRefreshExchangeRates(w http.ResponseWriter, r *http.Request, caller project.Caller) {
	refreshed, err := h.deps.Rates.Refresh(r.Context())
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		h.respondErr(w, r, err, "server.handleRefreshExchangeRates")
		return
	}
	h.audit(r.Context(), caller, store.ActionRefresh, "exchange_rates", "", nil, refreshed)

	rates, err := h.deps.Rates.Rates(r.Context())
	if err != nil {
		h.respondErr(w, r, err, "server.handleRefreshExchangeRates")
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Message string               `json:"message"`
		Rates   []store.ExchangeRate `json:"rates"`
	}{Message: "Exchange rates updated successfully", Rates: rates})
}
