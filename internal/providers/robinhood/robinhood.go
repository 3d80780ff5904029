// Package robinhood adapts the Robinhood private REST API. Access
// rides on a logged-in session token rather than an API key; when the
// session lapses every call fails authentication until an operator
// re-establishes it. Robinhood is the only chain member that serves
// options chains and per-contract greeks.
package robinhood

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/ratelimit"
	"github.com/seaquant/marketd/pkg/models"
)

const defaultBaseURL = "https://api.robinhood.com"

// QuoteResult is one raw quote. Robinhood encodes numbers as strings.
type QuoteResult struct {
	Symbol         string `json:"symbol"`
	LastTradePrice string `json:"last_trade_price"`
	PrevClose      string `json:"previous_close"`
	BidPrice       string `json:"bid_price"`
	AskPrice       string `json:"ask_price"`
	UpdatedAt      string `json:"updated_at"`
}

// QuotesPayload is the raw quotes response for one or more symbols.
type QuotesPayload struct {
	Requested []string
	Results   []QuoteResult `json:"results"`
}

// FundamentalsPayload is the raw fundamentals response.
type FundamentalsPayload struct {
	Symbol        string `json:"-"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	MarketCap     string `json:"market_cap"`
	PERatio       string `json:"pe_ratio"`
	DividendYield string `json:"dividend_yield"`
	High52Weeks   string `json:"high_52_weeks"`
	Low52Weeks    string `json:"low_52_weeks"`
	Sector        string `json:"sector"`
	Industry      string `json:"industry"`
}

// ContractResult is one raw tradable option contract.
type ContractResult struct {
	OccSymbol      string `json:"occ_symbol"`
	StrikePrice    string `json:"strike_price"`
	ExpirationDate string `json:"expiration_date"` // YYYY-MM-DD
	Type           string `json:"type"`            // "call" or "put"
	BidPrice       string `json:"bid_price"`
	AskPrice       string `json:"ask_price"`
	MarkPrice      string `json:"adjusted_mark_price"`
	Volume         int64  `json:"volume"`
	OpenInterest   int64  `json:"open_interest"`
}

// OptionsPayload is the raw options chain: the spot quote plus every
// tradable contract, unfiltered.
type OptionsPayload struct {
	Symbol    string
	SpotPrice string
	Contracts []ContractResult
}

// HistoricalBar is one raw candle.
type HistoricalBar struct {
	BeginsAt   string `json:"begins_at"`
	OpenPrice  string `json:"open_price"`
	ClosePrice string `json:"close_price"`
	HighPrice  string `json:"high_price"`
	LowPrice   string `json:"low_price"`
	Volume     int64  `json:"volume"`
}

// HistoricalPayload is the raw historicals response.
type HistoricalPayload struct {
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	Span        string          `json:"span"`
	Historicals []HistoricalBar `json:"historicals"`
}

// greeksResult is one raw option market-data record.
type greeksResult struct {
	OccSymbol string `json:"occ_symbol"`
	Delta     string `json:"delta"`
	Gamma     string `json:"gamma"`
	Theta     string `json:"theta"`
	Vega      string `json:"vega"`
}

type greeksPage struct {
	Results []greeksResult `json:"results"`
}

type contractsPage struct {
	Results []ContractResult `json:"results"`
}

// Provider is the Robinhood adapter.
type Provider struct {
	provider.Base
	client  *infra.HTTPClient
	baseURL string
	timeout time.Duration

	mu      sync.RWMutex
	session string
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

// New creates a Robinhood provider. session may be empty; calls fail
// with an authentication error until SetSession provides a token.
func New(limiter *ratelimit.Limiter, client *infra.HTTPClient, session string, opts ...Option) *Provider {
	p := &Provider{
		Base: provider.NewBase("robinhood", limiter,
			provider.DataTypeQuote,
			provider.DataTypeFundamentals,
			provider.DataTypeOptionsChain,
			provider.DataTypeHistorical,
		),
		client:  client,
		baseURL: defaultBaseURL,
		timeout: 15 * time.Second,
		session: session,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetSession replaces the session token, e.g. after an operator
// re-login.
func (p *Provider) SetSession(token string) {
	p.mu.Lock()
	p.session = token
	p.mu.Unlock()
}

func (p *Provider) sessionToken() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == "" {
		return "", &provider.AuthFailedError{Provider: p.Name(), Detail: "no active session"}
	}
	return p.session, nil
}

// Fetch implements provider.Provider.
func (p *Provider) Fetch(ctx context.Context, dt provider.DataType, params provider.Params) (*provider.RawResponse, error) {
	if err := provider.ValidateParams(params, provider.ParamSymbol); err != nil {
		return nil, err
	}
	token, err := p.sessionToken()
	if err != nil {
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
		q := &QuotesPayload{Requested: []string{symbol}}
		err = p.get(ctx, token, "/quotes/?symbols="+url.QueryEscape(symbol), q)
		payload = q
	case provider.DataTypeFundamentals:
		f := &FundamentalsPayload{Symbol: symbol}
		err = p.get(ctx, token, "/fundamentals/"+url.PathEscape(symbol)+"/", f)
		payload = f
	case provider.DataTypeOptionsChain:
		payload, err = p.fetchOptions(ctx, token, symbol, params[provider.ParamExpiry])
	case provider.DataTypeHistorical:
		h := &HistoricalPayload{Symbol: symbol}
		u := fmt.Sprintf("/quotes/historicals/%s/?interval=%s&span=%s",
			url.PathEscape(symbol),
			url.QueryEscape(params[provider.ParamInterval]),
			url.QueryEscape(params[provider.ParamSpan]))
		err = p.get(ctx, token, u, h)
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

// FetchQuoteBatch implements provider.BatchQuoter: one call for the
// whole symbol list.
func (p *Provider) FetchQuoteBatch(ctx context.Context, symbols []string) (*provider.RawResponse, error) {
	if len(symbols) == 0 {
		return nil, &provider.MissingParamError{Param: provider.ParamSymbols}
	}
	token, err := p.sessionToken()
	if err != nil {
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
	q := &QuotesPayload{Requested: symbols}
	u := "/quotes/?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	if err := p.get(ctx, token, u, q); err != nil {
		return nil, err
	}

	return &provider.RawResponse{
		Provider:  p.Name(),
		Payload:   q,
		FetchedAt: time.Now().UTC(),
		Latency:   time.Since(start),
	}, nil
}

// fetchOptions loads the spot quote and the tradable contract list.
// The contract list is returned whole; filtering happens downstream.
func (p *Provider) fetchOptions(ctx context.Context, token, symbol, expiry string) (*OptionsPayload, error) {
	quotes := &QuotesPayload{}
	if err := p.get(ctx, token, "/quotes/?symbols="+url.QueryEscape(symbol), quotes); err != nil {
		return nil, err
	}
	if len(quotes.Results) == 0 {
		return nil, &provider.UpstreamError{
			Provider: p.Name(), Op: "options",
			Err: fmt.Errorf("no quote for %s", symbol),
		}
	}

	u := "/options/chains/" + url.PathEscape(symbol) + "/"
	if expiry != "" {
		u += "?expiration_date=" + url.QueryEscape(expiry)
	}
	page := &contractsPage{}
	if err := p.get(ctx, token, u, page); err != nil {
		return nil, err
	}

	return &OptionsPayload{
		Symbol:    symbol,
		SpotPrice: quotes.Results[0].LastTradePrice,
		Contracts: page.Results,
	}, nil
}

// FetchGreeks returns greeks for the given contracts keyed by OCC
// symbol. Called only with an already-filtered contract list; fetching
// market data per contract is the expensive half of an options
// request.
func (p *Provider) FetchGreeks(ctx context.Context, occSymbols []string) (map[string]models.GreeksSet, error) {
	token, err := p.sessionToken()
	if err != nil {
		return nil, err
	}
	key, err := p.AcquireKey()
	if err != nil {
		return nil, err
	}
	p.Spend(key)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := "/marketdata/options/?occ_symbols=" + url.QueryEscape(strings.Join(occSymbols, ","))
	page := &greeksPage{}
	if err := p.get(ctx, token, u, page); err != nil {
		return nil, err
	}

	out := make(map[string]models.GreeksSet, len(page.Results))
	for _, r := range page.Results {
		out[r.OccSymbol] = models.GreeksSet{
			Delta: f64(r.Delta),
			Gamma: f64(r.Gamma),
			Theta: f64(r.Theta),
			Vega:  f64(r.Vega),
		}
	}
	return out, nil
}

func f64(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func (p *Provider) get(ctx context.Context, token, path string, out any) error {
	headers := map[string]string{"Authorization": "Bearer " + token}
	err := p.client.GetJSON(ctx, p.baseURL+path, headers, out)
	if err == nil {
		return nil
	}
	var se *infra.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 401, 403:
			return &provider.AuthFailedError{Provider: p.Name(), Detail: "session expired"}
		case 429:
			return &provider.RateLimitedError{Provider: p.Name()}
		}
	}
	return &provider.UpstreamError{Provider: p.Name(), Op: "get", Err: err}
}
