// Package finnhub adapts the Finnhub REST API. Free tier covers
// real-time quotes, company profiles and daily candles; everything
// else is premium and not requested.
package finnhub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// QuotePayload is the raw quote response. Finnhub returns all zeros
// for unknown symbols, which the normalizer rejects via the zero
// timestamp.
type QuotePayload struct {
	Symbol    string  `json:"-"`
	Current   float64 `json:"c"`
	Change    float64 `json:"d"`
	ChangePct float64 `json:"dp"` // whole percent, e.g. 1.24
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
	Timestamp int64   `json:"t"`
}

// ProfilePayload is the raw company profile response.
type ProfilePayload struct {
	Symbol    string  `json:"ticker"`
	Name      string  `json:"name"`
	Exchange  string  `json:"exchange"`
	Industry  string  `json:"finnhubIndustry"`
	Currency  string  `json:"currency"`
	MarketCap float64 `json:"marketCapitalization"` // millions
}

// CandlePayload is the raw stock/candle response, parallel arrays.
type CandlePayload struct {
	Symbol     string    `json:"-"`
	Interval   string    `json:"-"`
	Span       string    `json:"-"`
	Status     string    `json:"s"` // "ok" or "no_data"
	Open       []float64 `json:"o"`
	High       []float64 `json:"h"`
	Low        []float64 `json:"l"`
	Close      []float64 `json:"c"`
	Volume     []int64   `json:"v"`
	Timestamps []int64   `json:"t"`
}

// Provider is the Finnhub adapter. No batch quote support: a
// multi-symbol request costs one upstream call per symbol.
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

// New creates a Finnhub provider drawing keys from limiter.
func New(limiter *ratelimit.Limiter, client *infra.HTTPClient, opts ...Option) *Provider {
	p := &Provider{
		Base: provider.NewBase("finnhub", limiter,
			provider.DataTypeQuote,
			provider.DataTypeFundamentals,
			provider.DataTypeHistorical,
		),
		client:  client,
		baseURL: defaultBaseURL,
		timeout: 10 * time.Second,
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
		q := &QuotePayload{Symbol: symbol}
		err = p.get(ctx, key, "quote", url.Values{"symbol": {symbol}}, q)
		payload = q
	case provider.DataTypeFundamentals:
		pr := &ProfilePayload{}
		err = p.get(ctx, key, "stock/profile2", url.Values{"symbol": {symbol}}, pr)
		if pr.Symbol == "" {
			pr.Symbol = symbol
		}
		payload = pr
	case provider.DataTypeHistorical:
		payload, err = p.fetchCandles(ctx, key, symbol, params)
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

func (p *Provider) fetchCandles(ctx context.Context, key, symbol string, params provider.Params) (*CandlePayload, error) {
	interval := params[provider.ParamInterval]
	span := params[provider.ParamSpan]
	to := time.Now()
	from := to.Add(-spanDuration(span))

	q := url.Values{
		"symbol":     {symbol},
		"resolution": {resolution(interval)},
		"from":       {strconv.FormatInt(from.Unix(), 10)},
		"to":         {strconv.FormatInt(to.Unix(), 10)},
	}
	c := &CandlePayload{Symbol: symbol, Interval: interval, Span: span}
	if err := p.get(ctx, key, "stock/candle", q, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provider) get(ctx context.Context, key, endpoint string, query url.Values, out any) error {
	query.Set("token", key)
	u := fmt.Sprintf("%s/%s?%s", p.baseURL, endpoint, query.Encode())
	return p.classify(p.client.GetJSON(ctx, u, nil, out))
}

// classify maps transport failures to the provider error taxonomy.
func (p *Provider) classify(err error) error {
	if err == nil {
		return nil
	}
	var se *infra.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 401, 403:
			return &provider.AuthFailedError{Provider: p.Name(), Detail: se.Body}
		case 429:
			return &provider.RateLimitedError{Provider: p.Name()}
		}
	}
	return &provider.UpstreamError{Provider: p.Name(), Op: "get", Err: err}
}

// resolution maps a canonical interval to Finnhub's resolution code.
func resolution(interval string) string {
	switch interval {
	case "5minute":
		return "5"
	case "hour":
		return "60"
	case "week":
		return "W"
	default:
		return "D"
	}
}

// spanDuration maps a canonical span to a lookback duration.
func spanDuration(span string) time.Duration {
	switch span {
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	case "month":
		return 31 * 24 * time.Hour
	case "3month":
		return 92 * 24 * time.Hour
	case "5year":
		return 5 * 365 * 24 * time.Hour
	default: // "year"
		return 365 * 24 * time.Hour
	}
}
