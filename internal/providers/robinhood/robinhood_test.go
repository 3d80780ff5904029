package robinhood

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
)

func newProvider(t *testing.T, handler http.Handler, session string) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	l := ratelimit.New(nil, 0, time.UTC)
	l.RegisterProvider("robinhood", ratelimit.KeyConfig{Key: "session", PerMinute: 120})
	return New(l, infra.NewHTTPClient(5*time.Second), session, WithBaseURL(srv.URL))
}

func TestNoSessionFailsAuth(t *testing.T) {
	calls := 0
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}), "")

	_, err := p.Fetch(context.Background(), provider.DataTypeQuote, provider.Params{provider.ParamSymbol: "AAPL"})
	var af *provider.AuthFailedError
	require.ErrorAs(t, err, &af)
	assert.Equal(t, 0, calls, "no upstream call without a session")
}

func TestSetSessionRecovers(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"results":[{"symbol":"AAPL","last_trade_price":"231.50","previous_close":"228.66"}]}`))
	}), "")

	p.SetSession("tok")
	raw, err := p.Fetch(context.Background(), provider.DataTypeQuote, provider.Params{provider.ParamSymbol: "AAPL"})
	require.NoError(t, err)

	q := raw.Payload.(*QuotesPayload)
	require.Len(t, q.Results, 1)
	assert.Equal(t, "231.50", q.Results[0].LastTradePrice)
}

func TestExpiredSessionClassifiedAuthFailed(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), "stale")

	_, err := p.Fetch(context.Background(), provider.DataTypeQuote, provider.Params{provider.ParamSymbol: "AAPL"})
	var af *provider.AuthFailedError
	require.ErrorAs(t, err, &af)
	assert.Contains(t, af.Error(), "session expired")
}

func TestFetchQuoteBatchSingleCall(t *testing.T) {
	calls := 0
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("symbols"))
		w.Write([]byte(`{"results":[
			{"symbol":"AAPL","last_trade_price":"231.50"},
			{"symbol":"MSFT","last_trade_price":"512.30"}
		]}`))
	}), "tok")

	raw, err := p.FetchQuoteBatch(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, raw.Payload.(*QuotesPayload).Results, 2)
}

func TestFetchOptionsAssemblesSpotAndContracts(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/quotes/":
			w.Write([]byte(`{"results":[{"symbol":"AAPL","last_trade_price":"231.50"}]}`))
		case r.URL.Path == "/options/chains/AAPL/":
			w.Write([]byte(`{"results":[
				{"occ_symbol":"AAPL260918C00230000","strike_price":"230.00","expiration_date":"2026-09-18","type":"call","volume":120,"open_interest":950}
			]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}), "tok")

	raw, err := p.Fetch(context.Background(), provider.DataTypeOptionsChain, provider.Params{provider.ParamSymbol: "AAPL"})
	require.NoError(t, err)

	chain := raw.Payload.(*OptionsPayload)
	assert.Equal(t, "231.50", chain.SpotPrice)
	require.Len(t, chain.Contracts, 1)
	assert.Equal(t, "AAPL260918C00230000", chain.Contracts[0].OccSymbol)
}

func TestFetchGreeks(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/marketdata/options/", r.URL.Path)
		assert.Equal(t, "A,B", r.URL.Query().Get("occ_symbols"))
		w.Write([]byte(`{"results":[
			{"occ_symbol":"A","delta":"0.52","gamma":"0.04","theta":"-0.08","vega":"0.11"},
			{"occ_symbol":"B","delta":"-0.31","gamma":"0.03","theta":"-0.05","vega":"0.09"}
		]}`))
	}), "tok")

	greeks, err := p.FetchGreeks(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, greeks, 2)
	assert.Equal(t, 0.52, greeks["A"].Delta)
	assert.Equal(t, -0.31, greeks["B"].Delta)
}

func TestFetchHistorical(t *testing.T) {
	p := newProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "day", r.URL.Query().Get("interval"))
		assert.Equal(t, "year", r.URL.Query().Get("span"))
		w.Write([]byte(`{"symbol":"AAPL","interval":"day","span":"year","historicals":[
			{"begins_at":"2026-08-26T00:00:00Z","open_price":"229.00","close_price":"231.50","high_price":"232.10","low_price":"228.40","volume":52000000}
		]}`))
	}), "tok")

	raw, err := p.Fetch(context.Background(), provider.DataTypeHistorical, provider.Params{
		provider.ParamSymbol:   "AAPL",
		provider.ParamInterval: "day",
		provider.ParamSpan:     "year",
	})
	require.NoError(t, err)
	assert.Len(t, raw.Payload.(*HistoricalPayload).Historicals, 1)
}
