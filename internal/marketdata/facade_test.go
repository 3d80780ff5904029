package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/options"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
	"github.com/seaquant/marketd/pkg/models"
)

// passNormalizer returns mock payloads as the normalized value.
type passNormalizer struct{}

func (passNormalizer) Normalize(dt provider.DataType, raw *provider.RawResponse) (any, error) {
	return raw.Payload, nil
}

// mockProvider is a scriptable provider. payload is returned as the
// already normalized value by passNormalizer.
type mockProvider struct {
	name    string
	caps    provider.CapabilitySet
	err     error
	payload func(params provider.Params) any
	calls   int
}

func (m *mockProvider) Name() string                      { return m.name }
func (m *mockProvider) Capabilities() []provider.DataType { return m.caps.List() }
func (m *mockProvider) Supports(dt provider.DataType) bool {
	return m.caps.Has(dt)
}

func (m *mockProvider) Fetch(ctx context.Context, dt provider.DataType, params provider.Params) (*provider.RawResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &provider.RawResponse{
		Provider:  m.name,
		Payload:   m.payload(params),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// batchMock adds native batch quote support.
type batchMock struct {
	mockProvider
	batchCalls int
}

func (m *batchMock) FetchQuoteBatch(ctx context.Context, symbols []string) (*provider.RawResponse, error) {
	m.batchCalls++
	if m.err != nil {
		return nil, m.err
	}
	batch := &models.QuoteBatch{Quotes: map[string]models.Quote{}, Errors: map[string]string{}}
	for _, s := range symbols {
		batch.Quotes[s] = models.Quote{Symbol: s, Price: decimal.NewFromInt(100), Provider: m.name}
	}
	return &provider.RawResponse{Provider: m.name, Payload: batch, FetchedAt: time.Now().UTC()}, nil
}

// greeksMock serves options chains and greeks, recording what greeks
// were asked for.
type greeksMock struct {
	mockProvider
	greeksRequested []string
}

func (m *greeksMock) FetchGreeks(ctx context.Context, occSymbols []string) (map[string]models.GreeksSet, error) {
	m.greeksRequested = occSymbols
	out := make(map[string]models.GreeksSet, len(occSymbols))
	for _, s := range occSymbols {
		out[s] = models.GreeksSet{Delta: 0.5}
	}
	return out, nil
}

func quoteProvider(name string, err error) *mockProvider {
	return &mockProvider{
		name: name,
		caps: provider.NewCapabilitySet(provider.DataTypeQuote),
		err:  err,
		payload: func(params provider.Params) any {
			return &models.Quote{
				Symbol:   params[provider.ParamSymbol],
				Price:    decimal.NewFromInt(100),
				Provider: name,
			}
		},
	}
}

func newFacade(chains map[provider.DataType]*provider.Chain) *Facade {
	limiter := ratelimit.New(nil, 0, time.UTC)
	return NewFacade(
		chains,
		options.NewEngine(options.DefaultConfig()),
		infra.NewCache(time.Minute),
		limiter,
		passNormalizer{},
		zerolog.Nop(),
		time.Minute,
		time.Minute,
	)
}

func quoteChain(providers ...provider.Provider) map[provider.DataType]*provider.Chain {
	return map[provider.DataType]*provider.Chain{
		provider.DataTypeQuote: provider.NewChain(provider.DataTypeQuote, passNormalizer{}, zerolog.Nop(), providers...),
	}
}

func TestGetQuoteProvenance(t *testing.T) {
	p := quoteProvider("finnhub", nil)
	f := newFacade(quoteChain(p))

	quote, prov, err := f.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, "finnhub", prov.Provider)
}

func TestGetQuoteFallsThroughOnRateLimit(t *testing.T) {
	limited := quoteProvider("finnhub", &provider.RateLimitedError{Provider: "finnhub"})
	backup := quoteProvider("fmp", nil)
	f := newFacade(quoteChain(limited, backup))

	_, prov, err := f.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "fmp", prov.Provider)
}

func TestGetQuoteAllExhausted(t *testing.T) {
	a := quoteProvider("finnhub", &provider.RateLimitedError{Provider: "finnhub"})
	b := quoteProvider("fmp", &provider.AuthFailedError{Provider: "fmp"})
	f := newFacade(quoteChain(a, b))

	_, _, err := f.GetQuote(context.Background(), "AAPL")
	var exhausted *provider.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "quote: all providers exhausted: finnhub rate-limited, fmp auth-failed", err.Error())
}

func TestGetQuoteServedFromCache(t *testing.T) {
	p := quoteProvider("finnhub", nil)
	f := newFacade(quoteChain(p))

	_, _, err := f.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	_, prov, err := f.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls, "second read comes from cache")
	assert.Equal(t, "finnhub", prov.Provider, "cache preserves provenance")
}

func TestGetMultipleQuotesBatchProviderOneCall(t *testing.T) {
	bp := &batchMock{mockProvider: *quoteProvider("fmp", nil)}
	f := newFacade(quoteChain(bp))

	batch, prov, err := f.GetMultipleQuotes(context.Background(), []string{"AAPL", "MSFT", "GOOG"})
	require.NoError(t, err)
	assert.Equal(t, 1, bp.batchCalls, "batch provider gets one call for the whole list")
	assert.Equal(t, 0, bp.calls, "no per-symbol calls")
	assert.Len(t, batch.Quotes, 3)
	assert.Equal(t, "fmp", prov.Provider)
}

func TestGetMultipleQuotesNonBatchMerges(t *testing.T) {
	p := quoteProvider("finnhub", nil)
	f := newFacade(quoteChain(p))

	batch, _, err := f.GetMultipleQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls, "non-batch provider is called once per symbol")
	assert.Len(t, batch.Quotes, 2)
	assert.Empty(t, batch.Errors)
}

func TestGetMultipleQuotesFallsToNextProvider(t *testing.T) {
	dead := &batchMock{mockProvider: *quoteProvider("fmp", &provider.AuthFailedError{Provider: "fmp"})}
	backup := quoteProvider("finnhub", nil)
	f := newFacade(quoteChain(dead, backup))

	batch, prov, err := f.GetMultipleQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "finnhub", prov.Provider)
	assert.Len(t, batch.Quotes, 1)
}

func TestGetMultipleQuotesEmptyList(t *testing.T) {
	f := newFacade(quoteChain(quoteProvider("finnhub", nil)))
	_, _, err := f.GetMultipleQuotes(context.Background(), nil)
	var missing *provider.MissingParamError
	require.ErrorAs(t, err, &missing)
}

func optionsChainPayload(symbol string, liquid, illiquid int) *models.OptionsChain {
	spot := decimal.NewFromInt(100)
	chain := &models.OptionsChain{Symbol: symbol, SpotPrice: spot}
	for i := 0; i < liquid; i++ {
		chain.Contracts = append(chain.Contracts, models.OptionContract{
			Symbol:       "L" + string(rune('A'+i)),
			Strike:       decimal.NewFromInt(int64(95 + i%10)),
			Expiration:   "2026-09-18",
			Type:         models.OptionTypeCall,
			Volume:       100,
			OpenInterest: 500,
		})
	}
	for i := 0; i < illiquid; i++ {
		chain.Contracts = append(chain.Contracts, models.OptionContract{
			Symbol:     "I" + string(rune('A'+i)),
			Strike:     decimal.NewFromInt(int64(95 + i%10)),
			Expiration: "2026-09-18",
			Type:       models.OptionTypePut,
		})
	}
	chain.RawCount = len(chain.Contracts)
	return chain
}

func TestGetOptionsChainGreeksOnlyForSurvivors(t *testing.T) {
	gm := &greeksMock{mockProvider: mockProvider{
		name: "robinhood",
		caps: provider.NewCapabilitySet(provider.DataTypeOptionsChain),
		payload: func(params provider.Params) any {
			return optionsChainPayload(params[provider.ParamSymbol], 8, 20)
		},
	}}
	chains := map[provider.DataType]*provider.Chain{
		provider.DataTypeOptionsChain: provider.NewChain(provider.DataTypeOptionsChain, passNormalizer{}, zerolog.Nop(), gm),
	}
	f := newFacade(chains)

	chain, prov, err := f.GetOptionsChain(context.Background(), "AAPL", true)
	require.NoError(t, err)
	assert.Equal(t, "robinhood", prov.Provider)
	assert.Equal(t, 28, chain.RawCount)
	assert.Len(t, chain.Contracts, 8, "illiquid contracts filtered out")

	// The greeks request covers exactly the survivors, never the raw chain.
	assert.Len(t, gm.greeksRequested, len(chain.Contracts))
	for _, c := range chain.Contracts {
		require.NotNil(t, c.Greeks)
		assert.Equal(t, 0.5, c.Greeks.Delta)
	}
}

func TestGetOptionsChainWithoutGreeks(t *testing.T) {
	gm := &greeksMock{mockProvider: mockProvider{
		name: "robinhood",
		caps: provider.NewCapabilitySet(provider.DataTypeOptionsChain),
		payload: func(params provider.Params) any {
			return optionsChainPayload(params[provider.ParamSymbol], 4, 0)
		},
	}}
	chains := map[provider.DataType]*provider.Chain{
		provider.DataTypeOptionsChain: provider.NewChain(provider.DataTypeOptionsChain, passNormalizer{}, zerolog.Nop(), gm),
	}
	f := newFacade(chains)

	chain, _, err := f.GetOptionsChain(context.Background(), "AAPL", false)
	require.NoError(t, err)
	assert.Nil(t, gm.greeksRequested, "greeks source untouched when not requested")
	for _, c := range chain.Contracts {
		assert.Nil(t, c.Greeks)
	}
}

func TestGetOptionsChainIlliquidLowConfidence(t *testing.T) {
	gm := &greeksMock{mockProvider: mockProvider{
		name: "robinhood",
		caps: provider.NewCapabilitySet(provider.DataTypeOptionsChain),
		payload: func(params provider.Params) any {
			return optionsChainPayload(params[provider.ParamSymbol], 0, 5)
		},
	}}
	chains := map[provider.DataType]*provider.Chain{
		provider.DataTypeOptionsChain: provider.NewChain(provider.DataTypeOptionsChain, passNormalizer{}, zerolog.Nop(), gm),
	}
	f := newFacade(chains)

	chain, _, err := f.GetOptionsChain(context.Background(), "XYZ", false)
	require.NoError(t, err)
	assert.True(t, chain.LowConfidence)
	assert.Len(t, chain.Contracts, 1, "fallback keeps the closest-to-money contract")
}

func TestStatusListsChains(t *testing.T) {
	f := newFacade(quoteChain(quoteProvider("finnhub", nil), quoteProvider("fmp", nil)))
	status := f.Status()
	require.Len(t, status.Chains, 1)
	assert.Equal(t, provider.DataTypeQuote, status.Chains[0].DataType)
	assert.Equal(t, []string{"finnhub", "fmp"}, status.Chains[0].Providers)
	assert.NotNil(t, status.Usage)
}

func TestMissingChainIsExhausted(t *testing.T) {
	f := newFacade(map[provider.DataType]*provider.Chain{})
	_, _, err := f.GetFundamentals(context.Background(), "AAPL")
	var exhausted *provider.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
}
