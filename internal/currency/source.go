package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/pkg/constants"
)

// HTTPSource reads rates from an endpoint that quotes every currency per one
// USD, e.g. {"base":"USD","rates":{"AUD":1.53}}, and inverts them.
type HTTPSource struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPSource builds a source for url with a bounded retry budget.
func NewHTTPSource(url string, retries int, logger *zap.Logger) *HTTPSource {
	if url == "" {
		url = constants.DefaultRateSourceURL
	}
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = constants.RateRefreshTimeout
	client.Logger = retryLogger{logger: logger.With(zap.String("op", "currency.HTTPSource"))}

	return &HTTPSource{url: url, client: client}
}

type latestRatesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// FetchLatest returns USD per one unit for each refreshed currency present in
// the response. Non-positive quotes are dropped.
func (s *HTTPSource) FetchLatest(ctx context.Context) (map[string]float64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach rate source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rate source returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload latestRatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode rate response: %w", err)
	}
	if payload.Base != "" && payload.Base != constants.BaseCurrency {
		return nil, fmt.Errorf("rate source quoted against %s, expected %s", payload.Base, constants.BaseCurrency)
	}

	rates := make(map[string]float64, len(constants.RefreshedCurrencies))
	for _, code := range constants.RefreshedCurrencies {
		if perUSD, ok := payload.Rates[code]; ok && perUSD > 0 {
			rates[code] = 1 / perUSD
		}
	}
	return rates, nil
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *zap.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Warnw(msg, keysAndValues...)
}
