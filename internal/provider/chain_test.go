package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider is a scriptable provider for chain tests.
type mockProvider struct {
	name    string
	caps    CapabilitySet
	err     error
	payload any
	calls   int
}

func (m *mockProvider) Name() string             { return m.name }
func (m *mockProvider) Capabilities() []DataType { return m.caps.List() }
func (m *mockProvider) Supports(dt DataType) bool {
	return m.caps.Has(dt)
}

func (m *mockProvider) Fetch(ctx context.Context, dt DataType, params Params) (*RawResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &RawResponse{Provider: m.name, Payload: m.payload, FetchedAt: time.Now().UTC()}, nil
}

// passNormalizer accepts every payload as-is.
type passNormalizer struct{}

func (passNormalizer) Normalize(dt DataType, raw *RawResponse) (any, error) {
	return raw.Payload, nil
}

// rejectNormalizer fails payloads from one provider.
type rejectNormalizer struct{ reject string }

func (n rejectNormalizer) Normalize(dt DataType, raw *RawResponse) (any, error) {
	if raw.Provider == n.reject {
		return nil, &SchemaMismatchError{Provider: raw.Provider, DataType: dt, Field: "x"}
	}
	return raw.Payload, nil
}

func quoteMock(name string, err error) *mockProvider {
	return &mockProvider{
		name:    name,
		caps:    NewCapabilitySet(DataTypeQuote),
		err:     err,
		payload: "payload-" + name,
	}
}

func TestChainFirstSuccessShortCircuits(t *testing.T) {
	first := quoteMock("finnhub", nil)
	second := quoteMock("fmp", nil)
	c := NewChain(DataTypeQuote, passNormalizer{}, zerolog.Nop(), first, second)

	result, err := c.Execute(context.Background(), Params{ParamSymbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "payload-finnhub", result.Value)
	assert.Equal(t, "finnhub", result.Provenance.Provider)
	assert.Equal(t, 0, second.calls, "lower-priority provider must not be called")
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, OutcomeSuccess, result.Attempts[0].Outcome)
}

func TestChainFallsThroughToSecond(t *testing.T) {
	first := quoteMock("finnhub", &RateLimitedError{Provider: "finnhub"})
	second := quoteMock("fmp", nil)
	c := NewChain(DataTypeQuote, passNormalizer{}, zerolog.Nop(), first, second)

	result, err := c.Execute(context.Background(), Params{ParamSymbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "fmp", result.Provenance.Provider)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, OutcomeRateLimited, result.Attempts[0].Outcome)
	assert.Equal(t, OutcomeSuccess, result.Attempts[1].Outcome)
}

func TestChainAllFailExhausted(t *testing.T) {
	first := quoteMock("finnhub", &RateLimitedError{Provider: "finnhub"})
	second := quoteMock("fmp", &AuthFailedError{Provider: "fmp"})
	third := quoteMock("alphavantage", &UpstreamError{Provider: "alphavantage", Op: "get", Err: errors.New("timeout")})
	c := NewChain(DataTypeQuote, passNormalizer{}, zerolog.Nop(), first, second, third)

	_, err := c.Execute(context.Background(), Params{ParamSymbol: "AAPL"})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, OutcomeRateLimited, exhausted.Attempts[0].Outcome)
	assert.Equal(t, OutcomeAuthFailed, exhausted.Attempts[1].Outcome)
	assert.Equal(t, OutcomeError, exhausted.Attempts[2].Outcome)
	assert.Equal(t, "quote: all providers exhausted: finnhub rate-limited, fmp auth-failed, alphavantage error", err.Error())
}

func TestChainNormalizeFailureFallsThrough(t *testing.T) {
	first := quoteMock("finnhub", nil)
	second := quoteMock("fmp", nil)
	c := NewChain(DataTypeQuote, rejectNormalizer{reject: "finnhub"}, zerolog.Nop(), first, second)

	result, err := c.Execute(context.Background(), Params{ParamSymbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "fmp", result.Provenance.Provider)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, OutcomeError, result.Attempts[0].Outcome, "schema mismatch counts as a provider error")
}

func TestChainDropsIncapableProviders(t *testing.T) {
	quotes := quoteMock("finnhub", nil)
	optionsOnly := &mockProvider{name: "robinhood", caps: NewCapabilitySet(DataTypeOptionsChain)}
	c := NewChain(DataTypeQuote, passNormalizer{}, zerolog.Nop(), optionsOnly, quotes)

	providers := c.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "finnhub", providers[0].Name())
}

func TestChainEachProviderTriedOnce(t *testing.T) {
	first := quoteMock("finnhub", &UpstreamError{Provider: "finnhub", Op: "get", Err: errors.New("boom")})
	second := quoteMock("fmp", &UpstreamError{Provider: "fmp", Op: "get", Err: errors.New("boom")})
	c := NewChain(DataTypeQuote, passNormalizer{}, zerolog.Nop(), first, second)

	_, err := c.Execute(context.Background(), Params{ParamSymbol: "AAPL"})
	require.Error(t, err)
	assert.Equal(t, 1, first.calls, "no intra-provider retries")
	assert.Equal(t, 1, second.calls)
}

func TestValidateParams(t *testing.T) {
	err := ValidateParams(Params{ParamSymbol: "AAPL"}, ParamSymbol)
	assert.NoError(t, err)

	err = ValidateParams(Params{}, ParamSymbol)
	var missing *MissingParamError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ParamSymbol, missing.Param)
}

func TestCapabilitySetListStableOrder(t *testing.T) {
	s := NewCapabilitySet(DataTypeHistorical, DataTypeQuote)
	assert.Equal(t, []DataType{DataTypeQuote, DataTypeHistorical}, s.List())
}
