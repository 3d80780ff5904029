// Package alphavantage adapts the Alpha Vantage REST API. Alpha
// Vantage signals throttling inside a 200 response body ("Note" or
// "Information" keys), so every response is screened before the
// payload is accepted.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
)

const defaultBaseURL = "https://www.alphavantage.co"

// QuotePayload is the raw GLOBAL_QUOTE object. All values arrive as
// strings; the change percent carries a trailing '%'.
type QuotePayload struct {
	Symbol    string `json:"01. symbol"`
	Open      string `json:"02. open"`
	High      string `json:"03. high"`
	Low       string `json:"04. low"`
	Price     string `json:"05. price"`
	Volume    string `json:"06. volume"`
	PrevClose string `json:"08. previous close"`
	Change    string `json:"09. change"`
	ChangePct string `json:"10. change percent"` // e.g. "1.2400%"
}

// DailyBar is one day of a TIME_SERIES_DAILY response.
type DailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// HistoricalPayload is the decoded TIME_SERIES_DAILY response.
type HistoricalPayload struct {
	Symbol string
	Span   string
	Series map[string]DailyBar // keyed by YYYY-MM-DD
}

// IndicatorPayload is a decoded technical indicator response. Series
// values are keyed by date, then by the upstream field name (e.g.
// "RSI", "MACD", "MACD_Signal", "Real Upper Band").
type IndicatorPayload struct {
	Symbol    string
	Indicator string // "RSI", "MACD", "BBANDS"
	Period    int
	Series    map[string]map[string]string
}

// Provider is the Alpha Vantage adapter. The free tier's daily cap is
// tiny, so it sits last in every chain it joins.
type Provider struct {
	provider.Base
	client  *infra.HTTPClient
	baseURL string
	timeout time.Duration
}

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL overrides the upstream base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New creates an Alpha Vantage provider drawing keys from limiter.
func New(limiter *ratelimit.Limiter, client *infra.HTTPClient, opts ...Option) *Provider {
	p := &Provider{
		Base: provider.NewBase("alphavantage", limiter,
			provider.DataTypeQuote,
			provider.DataTypeHistorical,
			provider.DataTypeIndicator,
		),
		client:  client,
		baseURL: defaultBaseURL,
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch implements provider.Provider.
func (p *Provider) Fetch(ctx context.Context, dt provider.DataType, params provider.Params) (*provider.RawResponse, error) {
	if err := provider.ValidateParams(params, provider.ParamSymbol); err != nil {
		return nil, err
	}
	key, err := p.AcquireKey()
	if err != nil {
		return nil, err
	}
	p.Spend(key)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	symbol := params[provider.ParamSymbol]

	var payload any
	switch dt {
	case provider.DataTypeQuote:
		payload, err = p.fetchQuote(ctx, key, symbol)
	case provider.DataTypeHistorical:
		payload, err = p.fetchDaily(ctx, key, symbol, params[provider.ParamSpan])
	case provider.DataTypeIndicator:
		payload, err = p.fetchIndicator(ctx, key, symbol, params)
	default:
		return nil, &provider.UpstreamError{
			Provider: p.Name(), Op: "fetch",
			Err: fmt.Errorf("unsupported data type %s", dt),
		}
	}
	if err != nil {
		return nil, err
	}

	return &provider.RawResponse{
		Provider:  p.Name(),
		Payload:   payload,
		FetchedAt: time.Now().UTC(),
		Latency:   time.Since(start),
	}, nil
}

func (p *Provider) fetchQuote(ctx context.Context, key, symbol string) (*QuotePayload, error) {
	body, err := p.query(ctx, key, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	})
	if err != nil {
		return nil, err
	}
	q := &QuotePayload{}
	if raw, ok := body["Global Quote"]; ok {
		if err := json.Unmarshal(raw, q); err != nil {
			return nil, &provider.UpstreamError{Provider: p.Name(), Op: "quote", Err: err}
		}
	}
	return q, nil
}

func (p *Provider) fetchDaily(ctx context.Context, key, symbol, span string) (*HistoricalPayload, error) {
	outputsize := "compact"
	if span == "5year" || span == "year" {
		outputsize = "full"
	}
	body, err := p.query(ctx, key, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {outputsize},
	})
	if err != nil {
		return nil, err
	}
	h := &HistoricalPayload{Symbol: symbol, Span: span}
	if raw, ok := body["Time Series (Daily)"]; ok {
		if err := json.Unmarshal(raw, &h.Series); err != nil {
			return nil, &provider.UpstreamError{Provider: p.Name(), Op: "daily", Err: err}
		}
	}
	return h, nil
}

func (p *Provider) fetchIndicator(ctx context.Context, key, symbol string, params provider.Params) (*IndicatorPayload, error) {
	name := strings.ToUpper(params[provider.ParamIndicator])
	period := params[provider.ParamPeriod]
	if period == "" {
		period = "14"
	}
	q := url.Values{
		"function":    {name},
		"symbol":      {symbol},
		"interval":    {"daily"},
		"series_type": {"close"},
	}
	if name != "MACD" {
		q.Set("time_period", period)
	}
	body, err := p.query(ctx, key, q)
	if err != nil {
		return nil, err
	}

	ind := &IndicatorPayload{Symbol: symbol, Indicator: name}
	fmt.Sscanf(period, "%d", &ind.Period)
	if raw, ok := body["Technical Analysis: "+name]; ok {
		if err := json.Unmarshal(raw, &ind.Series); err != nil {
			return nil, &provider.UpstreamError{Provider: p.Name(), Op: "indicator", Err: err}
		}
	}
	return ind, nil
}

// query issues one API call and screens the body for the in-band
// throttle and error markers before handing it back.
func (p *Provider) query(ctx context.Context, key string, q url.Values) (map[string]json.RawMessage, error) {
	q.Set("apikey", key)
	u := fmt.Sprintf("%s/query?%s", p.baseURL, q.Encode())

	var body map[string]json.RawMessage
	if err := p.client.GetJSON(ctx, u, nil, &body); err != nil {
		var se *infra.StatusError
		if errors.As(err, &se) {
			switch se.Code {
			case 401, 403:
				return nil, &provider.AuthFailedError{Provider: p.Name(), Detail: se.Body}
			case 429:
				return nil, &provider.RateLimitedError{Provider: p.Name()}
			}
		}
		return nil, &provider.UpstreamError{Provider: p.Name(), Op: "query", Err: err}
	}

	if _, throttled := body["Note"]; throttled {
		return nil, &provider.RateLimitedError{Provider: p.Name()}
	}
	if _, throttled := body["Information"]; throttled {
		return nil, &provider.RateLimitedError{Provider: p.Name()}
	}
	if raw, ok := body["Error Message"]; ok {
		return nil, &provider.UpstreamError{
			Provider: p.Name(), Op: "query",
			Err: fmt.Errorf("upstream error: %s", string(raw)),
		}
	}
	return body, nil
}
