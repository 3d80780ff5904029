// Package marketdata is the single externally-facing entry point. The
// facade owns one provider chain per data type and orchestrates the
// full request path: cache check, chain execution, normalization, and
// for options chains the two-stage filter followed by a greeks fetch
// for the surviving contracts only.
package marketdata

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/options"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
	"github.com/seaquant/marketd/pkg/models"
)

// batchFanOutLimit bounds the per-symbol concurrency when a non-batch
// provider serves a multi-symbol request.
const batchFanOutLimit = 4

// GreeksSource is implemented by providers able to serve per-contract
// greeks. The facade only ever calls it with the contracts that
// survived filtering; handing it a raw chain would multiply upstream
// calls by the full chain size.
type GreeksSource interface {
	FetchGreeks(ctx context.Context, occSymbols []string) (map[string]models.GreeksSet, error)
}

// Facade routes typed market data requests through the provider
// chains. All methods return the served value together with its
// provenance so callers can display which upstream the data came from.
type Facade struct {
	chains     map[provider.DataType]*provider.Chain
	engine     *options.Engine
	cache      *infra.Cache
	limiter    *ratelimit.Limiter
	norm       provider.Normalizer
	log        zerolog.Logger
	quoteTTL   time.Duration
	defaultTTL time.Duration
}

// NewFacade wires a facade from already-built parts. Chains missing
// from the map simply make the corresponding methods fail with an
// exhausted error.
func NewFacade(
	chains map[provider.DataType]*provider.Chain,
	engine *options.Engine,
	cache *infra.Cache,
	limiter *ratelimit.Limiter,
	norm provider.Normalizer,
	log zerolog.Logger,
	quoteTTL, defaultTTL time.Duration,
) *Facade {
	return &Facade{
		chains:     chains,
		engine:     engine,
		cache:      cache,
		limiter:    limiter,
		norm:       norm,
		log:        log.With().Str("component", "facade").Logger(),
		quoteTTL:   quoteTTL,
		defaultTTL: defaultTTL,
	}
}

type cached struct {
	value any
	prov  provider.Provenance
}

// GetQuote returns the current quote for one symbol.
func (f *Facade) GetQuote(ctx context.Context, symbol string) (*models.Quote, provider.Provenance, error) {
	params := provider.Params{provider.ParamSymbol: symbol}
	value, prov, err := f.fetch(ctx, provider.DataTypeQuote, params, f.quoteTTL)
	if err != nil {
		return nil, provider.Provenance{}, err
	}
	return value.(*models.Quote), prov, nil
}

// GetMultipleQuotes returns quotes for several symbols. Providers with
// native batch support get exactly one upstream call for the whole
// list; providers without it are called once per symbol and the
// results merged. Providers are still consulted in chain priority
// order, and the first one that yields any quotes wins.
func (f *Facade) GetMultipleQuotes(ctx context.Context, symbols []string) (*models.QuoteBatch, provider.Provenance, error) {
	if len(symbols) == 0 {
		return nil, provider.Provenance{}, &provider.MissingParamError{Param: provider.ParamSymbols}
	}
	chain, ok := f.chains[provider.DataTypeQuote]
	if !ok {
		return nil, provider.Provenance{}, &provider.ExhaustedError{DataType: provider.DataTypeQuote}
	}

	key := provider.CacheKey(provider.DataTypeQuote, provider.Params{
		provider.ParamSymbols: strings.Join(symbols, ","),
	})
	if hit, ok := f.cache.Get(key); ok {
		c := hit.(cached)
		return c.value.(*models.QuoteBatch), c.prov, nil
	}

	attempts := make([]provider.Attempt, 0, len(chain.Providers()))
	for _, p := range chain.Providers() {
		start := time.Now()
		batch, err := f.quotesFromProvider(ctx, p, symbols)
		if err == nil {
			prov := provider.Provenance{Provider: p.Name(), FetchedAt: time.Now().UTC()}
			f.cache.SetWithTTL(key, cached{value: batch, prov: prov}, f.quoteTTL)
			return batch, prov, nil
		}
		attempts = append(attempts, provider.Attempt{
			Provider: p.Name(),
			Outcome:  provider.OutcomeOf(err),
			Latency:  time.Since(start),
			Err:      err,
		})
		f.log.Warn().Str("provider", p.Name()).Err(err).Msg("batch quotes failed, falling through")
	}
	return nil, provider.Provenance{}, &provider.ExhaustedError{DataType: provider.DataTypeQuote, Attempts: attempts}
}

// quotesFromProvider serves a multi-symbol request from one provider,
// using its batch endpoint when it has one.
func (f *Facade) quotesFromProvider(ctx context.Context, p provider.Provider, symbols []string) (*models.QuoteBatch, error) {
	if bq, ok := p.(provider.BatchQuoter); ok {
		raw, err := bq.FetchQuoteBatch(ctx, symbols)
		if err != nil {
			return nil, err
		}
		value, err := f.norm.Normalize(provider.DataTypeQuote, raw)
		if err != nil {
			return nil, err
		}
		switch v := value.(type) {
		case *models.QuoteBatch:
			return v, nil
		case *models.Quote:
			// A single-symbol batch normalizes to a plain quote.
			return &models.QuoteBatch{
				Quotes: map[string]models.Quote{v.Symbol: *v},
				Errors: map[string]string{},
			}, nil
		}
		return nil, &provider.SchemaMismatchError{
			Provider: p.Name(), DataType: provider.DataTypeQuote, Field: "payload",
		}
	}

	// Per-symbol fan-out with bounded concurrency.
	batch := &models.QuoteBatch{
		Quotes: make(map[string]models.Quote, len(symbols)),
		Errors: make(map[string]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchFanOutLimit)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			raw, err := p.Fetch(gctx, provider.DataTypeQuote, provider.Params{provider.ParamSymbol: symbol})
			var quote *models.Quote
			if err == nil {
				var value any
				if value, err = f.norm.Normalize(provider.DataTypeQuote, raw); err == nil {
					quote = value.(*models.Quote)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if quote != nil {
				batch.Quotes[symbol] = *quote
			} else {
				batch.Errors[symbol] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(batch.Quotes) == 0 {
		return nil, &provider.UpstreamError{
			Provider: p.Name(), Op: "batch quotes",
			Err: errors.New("no symbol succeeded"),
		}
	}
	return batch, nil
}

// GetFundamentals returns company fundamentals for one symbol.
func (f *Facade) GetFundamentals(ctx context.Context, symbol string) (*models.Fundamentals, provider.Provenance, error) {
	params := provider.Params{provider.ParamSymbol: symbol}
	value, prov, err := f.fetch(ctx, provider.DataTypeFundamentals, params, f.defaultTTL)
	if err != nil {
		return nil, provider.Provenance{}, err
	}
	return value.(*models.Fundamentals), prov, nil
}

// GetOptionsChain returns the filtered options chain for a symbol.
// The raw chain runs through both filter stages before anything else
// happens; greeks, when requested, are fetched only for the surviving
// contracts.
func (f *Facade) GetOptionsChain(ctx context.Context, symbol string, includeGreeks bool) (*models.OptionsChain, provider.Provenance, error) {
	chain, ok := f.chains[provider.DataTypeOptionsChain]
	if !ok {
		return nil, provider.Provenance{}, &provider.ExhaustedError{DataType: provider.DataTypeOptionsChain}
	}
	params := provider.Params{provider.ParamSymbol: symbol}

	result, err := chain.Execute(ctx, params)
	if err != nil {
		return nil, provider.Provenance{}, err
	}
	raw := result.Value.(*models.OptionsChain)
	filtered := f.engine.Filter(raw)

	f.log.Debug().
		Str("symbol", symbol).
		Int("raw", filtered.RawCount).
		Int("kept", len(filtered.Contracts)).
		Bool("low_confidence", filtered.LowConfidence).
		Msg("options chain filtered")

	if includeGreeks && len(filtered.Contracts) > 0 {
		f.attachGreeks(ctx, chain, result.Provenance.Provider, filtered)
	}
	return filtered, result.Provenance, nil
}

// attachGreeks enriches the filtered contracts in place. A greeks
// failure is logged and swallowed: the filtered chain is still useful
// without them, and failing the whole request over an enrichment step
// would waste the chain execution that already succeeded.
func (f *Facade) attachGreeks(ctx context.Context, chain *provider.Chain, servedBy string, filtered *models.OptionsChain) {
	var source GreeksSource
	for _, p := range chain.Providers() {
		if p.Name() != servedBy {
			continue
		}
		if gs, ok := p.(GreeksSource); ok {
			source = gs
		}
		break
	}
	if source == nil {
		return
	}

	symbols := make([]string, len(filtered.Contracts))
	for i, c := range filtered.Contracts {
		symbols[i] = c.Symbol
	}
	greeks, err := source.FetchGreeks(ctx, symbols)
	if err != nil {
		f.log.Warn().Str("symbol", filtered.Symbol).Err(err).Msg("greeks fetch failed, returning chain without greeks")
		return
	}
	for i := range filtered.Contracts {
		if g, ok := greeks[filtered.Contracts[i].Symbol]; ok {
			gcopy := g
			filtered.Contracts[i].Greeks = &gcopy
		}
	}
}

// GetHistorical returns a candle series for a symbol.
func (f *Facade) GetHistorical(ctx context.Context, symbol, interval, span string) (*models.HistoricalSeries, provider.Provenance, error) {
	params := provider.Params{
		provider.ParamSymbol:   symbol,
		provider.ParamInterval: interval,
		provider.ParamSpan:     span,
	}
	value, prov, err := f.fetch(ctx, provider.DataTypeHistorical, params, f.defaultTTL)
	if err != nil {
		return nil, provider.Provenance{}, err
	}
	return value.(*models.HistoricalSeries), prov, nil
}

// GetIndicator returns a technical indicator series (RSI, MACD or
// BBANDS) with its signal and trend summary.
func (f *Facade) GetIndicator(ctx context.Context, symbol, indicator string, period int) (*models.Indicator, provider.Provenance, error) {
	params := provider.Params{
		provider.ParamSymbol:    symbol,
		provider.ParamIndicator: strings.ToUpper(indicator),
	}
	if period > 0 {
		params[provider.ParamPeriod] = strconv.Itoa(period)
	}
	value, prov, err := f.fetch(ctx, provider.DataTypeIndicator, params, f.defaultTTL)
	if err != nil {
		return nil, provider.Provenance{}, err
	}
	return value.(*models.Indicator), prov, nil
}

// fetch is the shared single-value path: cache, chain, cache fill.
func (f *Facade) fetch(ctx context.Context, dt provider.DataType, params provider.Params, ttl time.Duration) (any, provider.Provenance, error) {
	chain, ok := f.chains[dt]
	if !ok {
		return nil, provider.Provenance{}, &provider.ExhaustedError{DataType: dt}
	}

	key := provider.CacheKey(dt, params)
	if hit, ok := f.cache.Get(key); ok {
		c := hit.(cached)
		return c.value, c.prov, nil
	}

	result, err := chain.Execute(ctx, params)
	if err != nil {
		return nil, provider.Provenance{}, err
	}
	f.cache.SetWithTTL(key, cached{value: result.Value, prov: result.Provenance}, ttl)
	return result.Value, result.Provenance, nil
}

// ChainStatus describes one configured chain for the status surface.
type ChainStatus struct {
	DataType  provider.DataType `json:"data_type"`
	Providers []string          `json:"providers"`
}

// Status reports the configured chains and current rate budget usage.
type Status struct {
	Chains []ChainStatus                    `json:"chains"`
	Usage  map[string][]ratelimit.KeyUsage `json:"usage"`
}

// Status returns the current facade status.
func (f *Facade) Status() *Status {
	s := &Status{Usage: f.limiter.Snapshot()}
	for _, dt := range provider.AllDataTypes() {
		chain, ok := f.chains[dt]
		if !ok {
			continue
		}
		names := make([]string, 0)
		for _, p := range chain.Providers() {
			names = append(names, p.Name())
		}
		s.Chains = append(s.Chains, ChainStatus{DataType: dt, Providers: names})
	}
	return s
}
