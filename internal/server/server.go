// Package server exposes the margin-analysis service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/costrate"
	"github.com/iwvelando/margin-analysis/internal/currency"
	"github.com/iwvelando/margin-analysis/internal/project"
	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/validation"
)

const (
	headerUserID    = "X-User-ID"
	headerUserRole  = "X-User-Role"
	headerRequestID = "X-Request-ID"
)

var (
	ErrUnauthenticated = errors.New("missing caller identity")
	ErrBadRequest      = errors.New("malformed request")
)

// ErrStatuses maps domain errors to the HTTP status returned for them. The
// first entry matched by errors.Is wins, so an error wrapping several of these
// always resolves the same way. Errors not listed here are answered with 500.
var ErrStatuses = []struct {
	Err    error
	Status int
}{
	{ErrUnauthenticated, http.StatusUnauthorized},
	{project.ErrForbidden, http.StatusForbidden},
	{ErrBadRequest, http.StatusBadRequest},
	{validation.ErrInvalid, http.StatusBadRequest},
	{costrate.ErrUnknownResourceType, http.StatusBadRequest},
	{currency.ErrInvalidRate, http.StatusBadRequest},
	{store.ErrClientHasProjects, http.StatusBadRequest},
	{project.ErrClientNotFound, http.StatusNotFound},
	{store.ErrNotFound, http.StatusNotFound},
	{store.ErrConflict, http.StatusConflict},
	{ErrUpstream, http.StatusBadGateway},
	{currency.ErrRateUnavailable, http.StatusServiceUnavailable},
	{currency.ErrNoSource, http.StatusServiceUnavailable},
}

// RateManager is the exchange-rate surface the admin API drives.
type RateManager interface {
	Refresh(ctx context.Context) (map[string]float64, error)
	SetRate(ctx context.Context, code string, rate float64) error
	Rates(ctx context.Context) ([]store.ExchangeRate, error)
}

// Dependencies are the services behind the API.
type Dependencies struct {
	Store    store.Store
	Projects *project.Service
	Rates    RateManager
}

type handler struct {
	logger      *zap.Logger
	deps        Dependencies
	maxBodySize int64
	version     string
	now         func() time.Time
}

// NewHandler constructs the HTTP handler that serves the margin-analysis API.
func NewHandler(logger *zap.Logger, deps Dependencies, maxBodySize int64, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBodySize <= 0 {
		maxBodySize = constants.DefaultMaxBodySizeBytes
	}
	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{logger: logger, deps: deps, maxBodySize: maxBodySize, version: trimmedVersion, now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/version", h.handleVersion)

	mux.HandleFunc("GET /api/clients", h.authenticated(h.handleListClients))
	mux.HandleFunc("POST /api/clients", h.authenticated(h.handleCreateClient))
	mux.HandleFunc("GET /api/clients/{id}", h.authenticated(h.handleGetClient))
	mux.HandleFunc("PUT /api/clients/{id}", h.authenticated(h.handleUpdateClient))
	mux.HandleFunc("DELETE /api/clients/{id}", h.authenticated(h.handleDeleteClient))

	mux.HandleFunc("GET /api/projects", h.authenticated(h.handleListProjects))
	mux.HandleFunc("POST /api/projects", h.authenticated(h.handleCreateProject))
	mux.HandleFunc("GET /api/projects/stats", h.authenticated(h.handleProjectStats))
	mux.HandleFunc("GET /api/projects/export", h.authenticated(h.handleExportProjects))
	mux.HandleFunc("GET /api/projects/{id}", h.authenticated(h.handleGetProject))
	mux.HandleFunc("PUT /api/projects/{id}", h.authenticated(h.handleUpdateProject))
	mux.HandleFunc("DELETE /api/projects/{id}", h.authenticated(h.handleDeleteProject))

	mux.HandleFunc("GET /api/admin/rates", h.admin(h.handleListCostRates))
	mux.HandleFunc("PATCH /api/admin/rates", h.admin(h.handleBulkUpdateCostRates))
	mux.HandleFunc("PUT /api/admin/rates/{type}", h.admin(h.handleUpdateCostRate))
	mux.HandleFunc("GET /api/admin/rates/{type}/history", h.admin(h.handleCostRateHistory))
	mux.HandleFunc("GET /api/admin/exchange-rates", h.admin(h.handleListExchangeRates))
	mux.HandleFunc("PUT /api/admin/exchange-rates/{code}", h.admin(h.handleUpdateExchangeRate))
	mux.HandleFunc("POST /api/admin/exchange-rates/refresh", h.admin(h.handleRefreshExchangeRates))

	return h.logRequests(mux)
}

type callerHandler func(w http.ResponseWriter, r *http.Request, caller project.Caller)

func callerFrom(r *http.Request) (project.Caller, error) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		return project.Caller{}, ErrUnauthenticated
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))
	switch role {
	case "":
		role = constants.RoleUser
	case constants.RoleAdmin, constants.RoleUser:
	default:
		return project.Caller{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, role)
	}
	return project.Caller{UserID: userID, Role: role}, nil
}

func (h *handler) authenticated(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFrom(r)
		if err != nil {
			h.respondErr(w, r, err, "server.authenticated")
			return
		}
		next(w, r, caller)
	}
}

func (h *handler) admin(next callerHandler) http.HandlerFunc {
	return h.authenticated(func(w http.ResponseWriter, r *http.Request, caller project.Caller) {
		if !caller.IsAdmin() {
			h.respondErr(w, r, project.ErrForbidden, "server.admin")
			return
		}
		next(w, r, caller)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := h.now()
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.logger.Debug("request served",
			zap.String("op", "server.logRequests"),
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", h.now().Sub(start)),
		)
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

// decode reads a JSON body into dst, rejecting unknown fields and oversized
// bodies, then validates it.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &statusError{status: http.StatusRequestEntityTooLarge,
				err: fmt.Errorf("request body exceeds limit of %d bytes", h.maxBodySize)}
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must contain a single JSON object", ErrBadRequest)
	}
	return validation.Struct(dst)
}

type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func statusFor(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	for _, known := range ErrStatuses {
		if errors.Is(err, known.Err) {
			return known.Status
		}
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error   string                  `json:"error"`
	Details []validation.FieldError `json:"details,omitempty"`
}

func (h *handler) respondErr(w http.ResponseWriter, r *http.Request, err error, op string) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		resp.Error = validation.ErrInvalid.Error()
		resp.Details = verrs
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}

	h.writeJSON(w, status, resp)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response",
			zap.String("op", "server.writeJSON"),
			zap.Error(err),
		)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrBadRequest, r.PathValue("id"))
	}
	return id, nil
}

func (h *handler) audit(ctx context.Context, caller project.Caller, action, entity, recordID string, oldValues, newValues interface{}) {
	entry := store.AuditEntry{
		ID:       uuid.New(),
		UserID:   caller.UserID,
		Action:   action,
		Entity:   entity,
		RecordID: recordID,
	}
	if oldValues != nil {
		if b, err := json.Marshal(oldValues); err == nil {
			entry.OldValues = string(b)
		}
	}
	if newValues != nil {
		if b, err := json.Marshal(newValues); err == nil {
			entry.NewValues = string(b)
		}
	}
	if err := h.deps.Store.RecordAudit(ctx, entry); err != nil {
		h.logger.Warn("failed to record audit entry",
			zap.String("op", "server.audit"),
			zap.String("action", action),
			zap.String("table", entity),
			zap.Error(err),
		)
	}
}
