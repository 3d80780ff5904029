// Package fmp adapts the Financial Modeling Prep REST API. FMP is the
// one chain member with native batch quotes: a comma-joined symbol
// list costs a single upstream call.
package fmp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
)

const defaultBaseURL = "https://financialmodelingprep.com/api/v3"

// QuotePayload is one element of the raw /quote response.
type QuotePayload struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"changesPercentage"` // whole percent
	Open      float64 `json:"open"`
	DayHigh   float64 `json:"dayHigh"`
	DayLow    float64 `json:"dayLow"`
	PrevClose float64 `json:"previousClose"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// BatchQuotePayload is the full /quote response for one or more
// symbols.
type BatchQuotePayload struct {
	Requested []string
	Quotes    []QuotePayload
}

// ProfilePayload is one element of the raw /profile response.
type ProfilePayload struct {
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"companyName"`
	Exchange    string  `json:"exchangeShortName"`
	Sector      string  `json:"sector"`
	Industry    string  `json:"industry"`
	Currency    string  `json:"currency"`
	MarketCap   float64 `json:"mktCap"`
	LastDiv     float64 `json:"lastDiv"`
}

// HistoricalBar is one day of the raw historical-price-full response.
type HistoricalBar struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoricalPayload is the raw historical-price-full response.
type HistoricalPayload struct {
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"-"`
	Span       string          `json:"-"`
	Historical []HistoricalBar `json:"historical"`
}

// Provider is the FMP adapter.
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

// New creates an FMP provider drawing keys from limiter.
func New(limiter *ratelimit.Limiter, client *infra.HTTPClient, opts ...Option) *Provider {
	p := &Provider{
		Base: provider.NewBase("fmp", limiter,
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
		var quotes []QuotePayload
		err = p.get(ctx, key, "quote/"+url.PathEscape(symbol), nil, &quotes)
		if err == nil && len(quotes) == 0 {
			err = &provider.UpstreamError{
				Provider: p.Name(), Op: "quote",
				Err: fmt.Errorf("empty result for %s", symbol),
			}
		}
		if err == nil {
			payload = &quotes[0]
		}
	case provider.DataTypeFundamentals:
		var profiles []ProfilePayload
		err = p.get(ctx, key, "profile/"+url.PathEscape(symbol), nil, &profiles)
		if err == nil && len(profiles) == 0 {
			err = &provider.UpstreamError{
				Provider: p.Name(), Op: "profile",
				Err: fmt.Errorf("empty result for %s", symbol),
			}
		}
		if err == nil {
			payload = &profiles[0]
		}
	case provider.DataTypeHistorical:
		h := &HistoricalPayload{
			Interval: params[provider.ParamInterval],
			Span:     params[provider.ParamSpan],
		}
		q := url.Values{"timeseries": {timeseriesLen(params[provider.ParamSpan])}}
		err = p.get(ctx, key, "historical-price-full/"+url.PathEscape(symbol), q, h)
		if err == nil && h.Symbol == "" {
			h.Symbol = symbol
		}
		payload = h
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

// FetchQuoteBatch implements provider.BatchQuoter: one upstream call
// regardless of how many symbols are requested.
func (p *Provider) FetchQuoteBatch(ctx context.Context, symbols []string) (*provider.RawResponse, error) {
	if len(symbols) == 0 {
		return nil, &provider.MissingParamError{Param: provider.ParamSymbols}
	}
	key, err := p.AcquireKey()
	if err != nil {
		return nil, err
	}
	p.Spend(key)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	batch := &BatchQuotePayload{Requested: symbols}
	joined := strings.Join(symbols, ",")
	if err := p.get(ctx, key, "quote/"+url.PathEscape(joined), nil, &batch.Quotes); err != nil {
		return nil, err
	}

	return &provider.RawResponse{
		Provider:  p.Name(),
		Payload:   batch,
		FetchedAt: time.Now().UTC(),
		Latency:   time.Since(start),
	}, nil
}

func (p *Provider) get(ctx context.Context, key, endpoint string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", key)
	u := fmt.Sprintf("%s/%s?%s", p.baseURL, endpoint, query.Encode())
	return p.classify(p.client.GetJSON(ctx, u, nil, out))
}

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

// timeseriesLen maps a canonical span to a trading-day count.
func timeseriesLen(span string) string {
	switch span {
	case "day":
		return "2"
	case "week":
		return "5"
	case "month":
		return "22"
	case "3month":
		return "66"
	case "5year":
		return "1260"
	default: // "year"
		return "252"
	}
}
