// Package currency converts local-currency amounts into USD using a short-lived
// in-memory rate cache, the persisted rate table and an external rate source,
// tried in that order.
package currency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/pkg/constants"
)

var (
	ErrRateUnavailable = errors.New("exchange rate not available")
	ErrInvalidRate     = errors.New("invalid exchange rate")
	ErrNoSource        = errors.New("no exchange rate source configured")
)

// RateStore is the persisted exchange-rate table.
type RateStore interface {
	ExchangeRate(ctx context.Context, code string) (float64, bool, error)
	UpsertExchangeRates(ctx context.Context, rates map[string]float64) error
	ListExchangeRates(ctx context.Context) ([]store.ExchangeRate, error)
}

// Source fetches current rates as USD per one unit of each currency.
type Source interface {
	FetchLatest(ctx context.Context) (map[string]float64, error)
}

type cachedRate struct {
	rate      float64
	fetchedAt time.Time
}

// snapshot is never mutated once published.
type snapshot map[string]cachedRate

type rateLookup struct {
	name string
	find func(ctx context.Context, code string) (float64, bool)
}

// Normalizer converts amounts into USD. It is safe for concurrent use.
type Normalizer struct {
	store          RateStore
	source         Source
	logger         *zap.Logger
	ttl            time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	cache   atomic.Pointer[snapshot]
	group   singleflight.Group
	lookups []rateLookup
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithTTL sets how long a cached rate is trusted.
func WithTTL(ttl time.Duration) Option {
	return func(n *Normalizer) {
		if ttl > 0 {
			n.ttl = ttl
		}
	}
}

// WithRefreshTimeout bounds a single refresh.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(n *Normalizer) {
		if timeout > 0 {
			n.refreshTimeout = timeout
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNormalizer builds a Normalizer. A nil source disables external refreshes.
func NewNormalizer(rates RateStore, source Source, opts ...Option) *Normalizer {
	n := &Normalizer{
		store:          rates,
		source:         source,
		logger:         zap.NewNop(),
		ttl:            constants.RateCacheTTL,
		refreshTimeout: constants.RateRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.cache.Store(&snapshot{})
	n.lookups = []rateLookup{
		{name: "cache", find: n.fromCache},
		{name: "store", find: n.fromStore},
		{name: "refresh", find: n.fromRefresh},
	}
	return n
}

// ConvertToUSD returns amount multiplied by the USD rate of code. USD amounts
// are returned unchanged without any lookup.
func (n *Normalizer) ConvertToUSD(ctx context.Context, amount float64, code string) (float64, error) {
	if code == constants.BaseCurrency {
		return amount, nil
	}
	rate, err := n.Rate(ctx, code)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}

// Rate resolves the USD value of one unit of code.
func (n *Normalizer) Rate(ctx context.Context, code string) (float64, error) {
	if code == constants.BaseCurrency {
		return 1.0, nil
	}
	for _, l := range n.lookups {
		if rate, ok := l.find(ctx, code); ok {
			n.logger.Debug("exchange rate resolved",
				zap.String("op", "currency.Rate"),
				zap.String("currency", code),
				zap.String("source", l.name),
				zap.Float64("rate_to_usd", rate),
			)
			return rate, nil
		}
	}
	return 0, fmt.Errorf("%w for %s", ErrRateUnavailable, code)
}

func (n *Normalizer) fromCache(_ context.Context, code string) (float64, bool) {
	entry, ok := (*n.cache.Load())[code]
	if !ok || entry.rate <= 0 {
		return 0, false
	}
	if n.now().Sub(entry.fetchedAt) >= n.ttl {
		return 0, false
	}
	return entry.rate, true
}

func (n *Normalizer) fromStore(ctx context.Context, code string) (float64, bool) {
	if n.store == nil {
		return 0, false
	}
	rate, ok, err := n.store.ExchangeRate(ctx, code)
	if err != nil {
		n.logger.Warn("exchange rate store lookup failed",
			zap.String("op", "currency.fromStore"),
			zap.String("currency", code),
			zap.Error(err),
		)
		return 0, false
	}
	if !ok || rate <= 0 {
		return 0, false
	}
	n.merge(map[string]float64{code: rate})
	return rate, true
}

func (n *Normalizer) fromRefresh(ctx context.Context, code string) (float64, bool) {
	rates, err := n.Refresh(ctx)
	if err != nil {
		n.logger.Warn("exchange rate refresh failed",
			zap.String("op", "currency.fromRefresh"),
			zap.String("currency", code),
			zap.Error(err),
		)
		return 0, false
	}
	rate, ok := rates[code]
	return rate, ok && rate > 0
}

// Refresh fetches every supported currency from the source, persists the whole
// set with USD pinned to 1 and re-seeds the cache. Concurrent callers share a
// single in-flight refresh. The cache is only updated once the rates are stored.
func (n *Normalizer) Refresh(ctx context.Context) (map[string]float64, error) {
	if n.source == nil {
		return nil, ErrNoSource
	}

	v, err, shared := n.group.Do("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.refreshTimeout)
		defer cancel()

		latest, err := n.source.FetchLatest(rctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch exchange rates: %w", err)
		}

		rates := make(map[string]float64, len(constants.SupportedCurrencies))
		for _, code := range constants.RefreshedCurrencies {
			if rate, ok := latest[code]; ok && rate > 0 {
				rates[code] = rate
			}
		}
		if len(rates) == 0 {
			return nil, fmt.Errorf("%w: source returned no supported currencies", ErrRateUnavailable)
		}
		rates[constants.BaseCurrency] = 1.0

		if n.store != nil {
			if err := n.store.UpsertExchangeRates(rctx, rates); err != nil {
				return nil, fmt.Errorf("failed to persist exchange rates: %w", err)
			}
		}
		n.merge(rates)
		return rates, nil
	})
	if err != nil {
		return nil, err
	}

	rates := v.(map[string]float64)
	n.logger.Info("exchange rates refreshed",
		zap.String("op", "currency.Refresh"),
		zap.Int("currencies", len(rates)),
		zap.Bool("shared", shared),
	)

	out := make(map[string]float64, len(rates))
	for code, rate := range rates {
		out[code] = rate
	}
	return out, nil
}

// Prime loads every stored rate into the cache.
func (n *Normalizer) Prime(ctx context.Context) error {
	if n.store == nil {
		return nil
	}
	stored, err := n.store.ListExchangeRates(ctx)
	if err != nil {
		return fmt.Errorf("failed to prime exchange rate cache: %w", err)
	}
	rates := make(map[string]float64, len(stored))
	for _, r := range stored {
		if r.RateToUSD > 0 {
			rates[r.CurrencyCode] = r.RateToUSD
		}
	}
	n.merge(rates)
	n.logger.Info("exchange rate cache primed",
		zap.String("op", "currency.Prime"),
		zap.Int("currencies", len(rates)),
	)
	return nil
}

// SetRate stores an administrator-supplied rate and caches it. USD cannot be
// set to anything but 1.
func (n *Normalizer) SetRate(ctx context.Context, code string, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("%w: %s rate must be positive, got %v", ErrInvalidRate, code, rate)
	}
	if code == constants.BaseCurrency && rate != 1.0 {
		return fmt.Errorf("%w: %s is fixed at 1", ErrInvalidRate, code)
	}
	if n.store != nil {
		if err := n.store.UpsertExchangeRates(ctx, map[string]float64{code: rate}); err != nil {
			return fmt.Errorf("failed to set exchange rate for %s: %w", code, err)
		}
	}
	n.merge(map[string]float64{code: rate})
	return nil
}

// Rates lists the stored rates.
func (n *Normalizer) Rates(ctx context.Context) ([]store.ExchangeRate, error) {
	if n.store == nil {
		return nil, nil
	}
	return n.store.ListExchangeRates(ctx)
}

// RunRefresher refreshes on every tick until ctx is done. Failures are logged
// and the previous rates stay in place.
func (n *Normalizer) RunRefresher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || n.source == nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := n.Refresh(ctx); err != nil {
				n.logger.Warn("scheduled exchange rate refresh failed",
					zap.String("op", "currency.RunRefresher"),
					zap.Error(err),
				)
			}
		}
	}
}

// merge publishes a new snapshot with rates stamped at the current time.
func (n *Normalizer) merge(rates map[string]float64) {
	if len(rates) == 0 {
		return
	}
	stamp := n.now()
	for {
		old := n.cache.Load()
		next := make(snapshot, len(*old)+len(rates))
		for code, entry := range *old {
			next[code] = entry
		}
		for code, rate := range rates {
			next[code] = cachedRate{rate: rate, fetchedAt: stamp}
		}
		if n.cache.CompareAndSwap(old, &next) {
			return
		}
	}
}
