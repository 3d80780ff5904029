// Package normalize maps provider-specific payloads onto the canonical
// model types. The mapping is pure: the same payload always produces
// the same value, and a payload missing a required field is rejected
// with a schema mismatch so the chain can fall through to the next
// provider.
//
// Numeric conventions: monetary fields become fixed-point decimals,
// never float64, so values survive cross-provider comparison without
// binary rounding drift. Percentages are fractional ("1.24%" becomes
// 0.0124) regardless of how the upstream encodes them.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/providers/alphavantage"
	"github.com/seaquant/marketd/internal/providers/finnhub"
	"github.com/seaquant/marketd/internal/providers/fmp"
	"github.com/seaquant/marketd/internal/providers/robinhood"
	"github.com/seaquant/marketd/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// Normalizer implements provider.Normalizer for every payload type the
// adapters produce. It is stateless; the zero value is usable.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer { return &Normalizer{} }

// Normalize dispatches on the payload's concrete type. An unrecognized
// payload is a schema mismatch: it means the adapter and normalizer
// disagree about the provider's wire format.
func (n *Normalizer) Normalize(dt provider.DataType, raw *provider.RawResponse) (any, error) {
	switch p := raw.Payload.(type) {
	case *finnhub.QuotePayload:
		return n.finnhubQuote(raw, p)
	case *finnhub.ProfilePayload:
		return n.finnhubProfile(raw, p)
	case *finnhub.CandlePayload:
		return n.finnhubCandles(raw, p)
	case *fmp.QuotePayload:
		return n.fmpQuote(raw, p)
	case *fmp.BatchQuotePayload:
		return n.fmpBatch(raw, p)
	case *fmp.ProfilePayload:
		return n.fmpProfile(raw, p)
	case *fmp.HistoricalPayload:
		return n.fmpHistorical(raw, p)
	case *alphavantage.QuotePayload:
		return n.avQuote(raw, p)
	case *alphavantage.HistoricalPayload:
		return n.avHistorical(raw, p)
	case *alphavantage.IndicatorPayload:
		return n.avIndicator(raw, p)
	case *robinhood.QuotesPayload:
		return n.rhQuotes(raw, p)
	case *robinhood.FundamentalsPayload:
		return n.rhFundamentals(raw, p)
	case *robinhood.OptionsPayload:
		return n.rhOptions(raw, p)
	case *robinhood.HistoricalPayload:
		return n.rhHistorical(raw, p)
	default:
		return nil, &provider.SchemaMismatchError{
			Provider: raw.Provider, DataType: dt, Field: "payload",
		}
	}
}

// --- finnhub ---

func (n *Normalizer) finnhubQuote(raw *provider.RawResponse, p *finnhub.QuotePayload) (any, error) {
	// Unknown symbols come back as an all-zero object with t=0.
	if p.Timestamp == 0 || p.Current == 0 {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "c")
	}
	return &models.Quote{
		Symbol:    p.Symbol,
		Price:     decimal.NewFromFloat(p.Current),
		Open:      decimal.NewFromFloat(p.Open),
		High:      decimal.NewFromFloat(p.High),
		Low:       decimal.NewFromFloat(p.Low),
		PrevClose: decimal.NewFromFloat(p.PrevClose),
		Change:    decimal.NewFromFloat(p.Change),
		ChangePct: decimal.NewFromFloat(p.ChangePct).Div(hundred),
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

func (n *Normalizer) finnhubProfile(raw *provider.RawResponse, p *finnhub.ProfilePayload) (any, error) {
	if p.Name == "" {
		return nil, n.mismatch(raw, provider.DataTypeFundamentals, "name")
	}
	return &models.Fundamentals{
		Symbol:   p.Symbol,
		Name:     p.Name,
		Exchange: p.Exchange,
		Industry: p.Industry,
		Currency: p.Currency,
		// Finnhub reports market cap in millions.
		MarketCap: decimal.NewFromFloat(p.MarketCap).Mul(decimal.NewFromInt(1_000_000)),
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

func (n *Normalizer) finnhubCandles(raw *provider.RawResponse, p *finnhub.CandlePayload) (any, error) {
	if p.Status != "ok" || len(p.Close) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeHistorical, "s")
	}
	if len(p.Open) != len(p.Close) || len(p.Timestamps) != len(p.Close) {
		return nil, n.mismatch(raw, provider.DataTypeHistorical, "t")
	}
	candles := make([]models.Candle, len(p.Close))
	for i := range p.Close {
		candles[i] = models.Candle{
			Open:      decimal.NewFromFloat(p.Open[i]),
			High:      decimal.NewFromFloat(p.High[i]),
			Low:       decimal.NewFromFloat(p.Low[i]),
			Close:     decimal.NewFromFloat(p.Close[i]),
			Timestamp: time.Unix(p.Timestamps[i], 0).UTC(),
		}
		if i < len(p.Volume) {
			candles[i].Volume = p.Volume[i]
		}
	}
	return &models.HistoricalSeries{
		Symbol:    p.Symbol,
		Interval:  p.Interval,
		Span:      p.Span,
		Candles:   candles,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

// --- fmp ---

func (n *Normalizer) fmpQuote(raw *provider.RawResponse, p *fmp.QuotePayload) (any, error) {
	if p.Symbol == "" || p.Price == 0 {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "price")
	}
	return &models.Quote{
		Symbol:    p.Symbol,
		Price:     decimal.NewFromFloat(p.Price),
		Open:      decimal.NewFromFloat(p.Open),
		High:      decimal.NewFromFloat(p.DayHigh),
		Low:       decimal.NewFromFloat(p.DayLow),
		PrevClose: decimal.NewFromFloat(p.PrevClose),
		Change:    decimal.NewFromFloat(p.Change),
		ChangePct: decimal.NewFromFloat(p.ChangePct).Div(hundred),
		Volume:    p.Volume,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

func (n *Normalizer) fmpBatch(raw *provider.RawResponse, p *fmp.BatchQuotePayload) (any, error) {
	batch := &models.QuoteBatch{
		Quotes: make(map[string]models.Quote, len(p.Quotes)),
		Errors: make(map[string]string),
	}
	for i := range p.Quotes {
		q, err := n.fmpQuote(raw, &p.Quotes[i])
		if err != nil {
			continue
		}
		quote := q.(*models.Quote)
		batch.Quotes[quote.Symbol] = *quote
	}
	for _, sym := range p.Requested {
		if _, ok := batch.Quotes[sym]; !ok {
			batch.Errors[sym] = "not returned by provider"
		}
	}
	if len(batch.Quotes) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "quotes")
	}
	return batch, nil
}

func (n *Normalizer) fmpProfile(raw *provider.RawResponse, p *fmp.ProfilePayload) (any, error) {
	if p.CompanyName == "" {
		return nil, n.mismatch(raw, provider.DataTypeFundamentals, "companyName")
	}
	return &models.Fundamentals{
		Symbol:    p.Symbol,
		Name:      p.CompanyName,
		Exchange:  p.Exchange,
		Sector:    p.Sector,
		Industry:  p.Industry,
		Currency:  p.Currency,
		MarketCap: decimal.NewFromFloat(p.MarketCap),
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

func (n *Normalizer) fmpHistorical(raw *provider.RawResponse, p *fmp.HistoricalPayload) (any, error) {
	if len(p.Historical) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeHistorical, "historical")
	}
	// FMP returns newest first; canonical order is ascending.
	candles := make([]models.Candle, 0, len(p.Historical))
	for i := len(p.Historical) - 1; i >= 0; i-- {
		bar := p.Historical[i]
		ts, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			return nil, n.mismatch(raw, provider.DataTypeHistorical, "date")
		}
		candles = append(candles, models.Candle{
			Open:      decimal.NewFromFloat(bar.Open),
			High:      decimal.NewFromFloat(bar.High),
			Low:       decimal.NewFromFloat(bar.Low),
			Close:     decimal.NewFromFloat(bar.Close),
			Volume:    bar.Volume,
			Timestamp: ts,
		})
	}
	return &models.HistoricalSeries{
		Symbol:    p.Symbol,
		Interval:  p.Interval,
		Span:      p.Span,
		Candles:   candles,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

// --- alphavantage ---

func (n *Normalizer) avQuote(raw *provider.RawResponse, p *alphavantage.QuotePayload) (any, error) {
	if p.Symbol == "" || p.Price == "" {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "05. price")
	}
	price, ok := dec(p.Price)
	if !ok {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "05. price")
	}
	q := &models.Quote{
		Symbol:    p.Symbol,
		Price:     price,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}
	q.Open, _ = dec(p.Open)
	q.High, _ = dec(p.High)
	q.Low, _ = dec(p.Low)
	q.PrevClose, _ = dec(p.PrevClose)
	q.Change, _ = dec(p.Change)
	if pct, ok := dec(strings.TrimSuffix(p.ChangePct, "%")); ok {
		q.ChangePct = pct.Div(hundred)
	}
	if v, ok := dec(p.Volume); ok {
		q.Volume = v.IntPart()
	}
	return q, nil
}

func (n *Normalizer) avHistorical(raw *provider.RawResponse, p *alphavantage.HistoricalPayload) (any, error) {
	if len(p.Series) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeHistorical, "Time Series (Daily)")
	}
	dates := make([]string, 0, len(p.Series))
	for d := range p.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	candles := make([]models.Candle, 0, len(dates))
	for _, d := range dates {
		bar := p.Series[d]
		ts, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, n.mismatch(raw, provider.DataTypeHistorical, "date")
		}
		c := models.Candle{Timestamp: ts}
		var ok bool
		if c.Close, ok = dec(bar.Close); !ok {
			return nil, n.mismatch(raw, provider.DataTypeHistorical, "4. close")
		}
		c.Open, _ = dec(bar.Open)
		c.High, _ = dec(bar.High)
		c.Low, _ = dec(bar.Low)
		if v, ok := dec(bar.Volume); ok {
			c.Volume = v.IntPart()
		}
		candles = append(candles, c)
	}
	return &models.HistoricalSeries{
		Symbol:    p.Symbol,
		Interval:  "day",
		Span:      p.Span,
		Candles:   candles,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

func (n *Normalizer) avIndicator(raw *provider.RawResponse, p *alphavantage.IndicatorPayload) (any, error) {
	if len(p.Series) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeIndicator, "Technical Analysis: "+p.Indicator)
	}
	dates := make([]string, 0, len(p.Series))
	for d := range p.Series {
		dates = append(dates, d)
	}
	// Newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	points := make([]models.IndicatorPoint, 0, len(dates))
	for _, d := range dates {
		fields := p.Series[d]
		pt := models.IndicatorPoint{Date: d}
		switch p.Indicator {
		case "RSI":
			pt.Value = f64(fields["RSI"])
		case "MACD":
			pt.Value = f64(fields["MACD"])
			pt.Signal = f64(fields["MACD_Signal"])
			pt.Histogram = f64(fields["MACD_Hist"])
		case "BBANDS":
			pt.Value = f64(fields["Real Middle Band"])
			pt.Upper = f64(fields["Real Upper Band"])
			pt.Lower = f64(fields["Real Lower Band"])
		default:
			return nil, n.mismatch(raw, provider.DataTypeIndicator, p.Indicator)
		}
		points = append(points, pt)
	}

	ind := &models.Indicator{
		Symbol:    p.Symbol,
		Name:      p.Indicator,
		Period:    p.Period,
		Points:    points,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}
	ind.Signal = classifySignal(ind)
	ind.Trend = classifyTrend(points)
	return ind, nil
}

// --- robinhood ---

func (n *Normalizer) rhQuotes(raw *provider.RawResponse, p *robinhood.QuotesPayload) (any, error) {
	if len(p.Requested) <= 1 {
		if len(p.Results) == 0 {
			return nil, n.mismatch(raw, provider.DataTypeQuote, "results")
		}
		return n.rhQuote(raw, &p.Results[0])
	}

	batch := &models.QuoteBatch{
		Quotes: make(map[string]models.Quote, len(p.Results)),
		Errors: make(map[string]string),
	}
	for i := range p.Results {
		q, err := n.rhQuote(raw, &p.Results[i])
		if err != nil {
			continue
		}
		quote := q.(*models.Quote)
		batch.Quotes[quote.Symbol] = *quote
	}
	for _, sym := range p.Requested {
		if _, ok := batch.Quotes[sym]; !ok {
			batch.Errors[sym] = "not returned by provider"
		}
	}
	if len(batch.Quotes) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "results")
	}
	return batch, nil
}

func (n *Normalizer) rhQuote(raw *provider.RawResponse, r *robinhood.QuoteResult) (any, error) {
	price, ok := dec(r.LastTradePrice)
	if !ok {
		return nil, n.mismatch(raw, provider.DataTypeQuote, "last_trade_price")
	}
	q := &models.Quote{
		Symbol:    r.Symbol,
		Price:     price,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}
	if prev, ok := dec(r.PrevClose); ok && !prev.IsZero() {
		q.PrevClose = prev
		q.Change = price.Sub(prev)
		q.ChangePct = q.Change.Div(prev)
	}
	return q, nil
}

func (n *Normalizer) rhFundamentals(raw *provider.RawResponse, p *robinhood.FundamentalsPayload) (any, error) {
	cap, ok := dec(p.MarketCap)
	if !ok {
		return nil, n.mismatch(raw, provider.DataTypeFundamentals, "market_cap")
	}
	f := &models.Fundamentals{
		Symbol:    p.Symbol,
		Sector:    p.Sector,
		Industry:  p.Industry,
		Currency:  "USD",
		MarketCap: cap,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}
	f.PERatio, _ = dec(p.PERatio)
	f.Week52High, _ = dec(p.High52Weeks)
	f.Week52Low, _ = dec(p.Low52Weeks)
	// Robinhood reports dividend yield as a whole percent.
	if dy, ok := dec(p.DividendYield); ok {
		f.DividendYield = dy.Div(hundred)
	}
	return f, nil
}

func (n *Normalizer) rhOptions(raw *provider.RawResponse, p *robinhood.OptionsPayload) (any, error) {
	spot, ok := dec(p.SpotPrice)
	if !ok || spot.IsZero() {
		return nil, n.mismatch(raw, provider.DataTypeOptionsChain, "spot_price")
	}

	contracts := make([]models.OptionContract, 0, len(p.Contracts))
	expirations := make(map[string]struct{})
	for _, c := range p.Contracts {
		strike, ok := dec(c.StrikePrice)
		if !ok {
			continue
		}
		oc := models.OptionContract{
			Symbol:       c.OccSymbol,
			Strike:       strike,
			Expiration:   c.ExpirationDate,
			Type:         models.OptionTypeCall,
			Volume:       c.Volume,
			OpenInterest: c.OpenInterest,
		}
		if strings.EqualFold(c.Type, "put") {
			oc.Type = models.OptionTypePut
		}
		oc.Premium, _ = dec(c.MarkPrice)
		oc.Bid, _ = dec(c.BidPrice)
		oc.Ask, _ = dec(c.AskPrice)
		contracts = append(contracts, oc)
		expirations[c.ExpirationDate] = struct{}{}
	}

	exps := make([]string, 0, len(expirations))
	for e := range expirations {
		exps = append(exps, e)
	}
	sort.Strings(exps)

	return &models.OptionsChain{
		Symbol:      p.Symbol,
		SpotPrice:   spot,
		Contracts:   contracts,
		Expirations: exps,
		RawCount:    len(p.Contracts),
		Provider:    raw.Provider,
		FetchedAt:   raw.FetchedAt,
	}, nil
}

func (n *Normalizer) rhHistorical(raw *provider.RawResponse, p *robinhood.HistoricalPayload) (any, error) {
	if len(p.Historicals) == 0 {
		return nil, n.mismatch(raw, provider.DataTypeHistorical, "historicals")
	}
	candles := make([]models.Candle, 0, len(p.Historicals))
	for _, bar := range p.Historicals {
		ts, err := time.Parse(time.RFC3339, bar.BeginsAt)
		if err != nil {
			return nil, n.mismatch(raw, provider.DataTypeHistorical, "begins_at")
		}
		c := models.Candle{Volume: bar.Volume, Timestamp: ts.UTC()}
		var ok bool
		if c.Close, ok = dec(bar.ClosePrice); !ok {
			return nil, n.mismatch(raw, provider.DataTypeHistorical, "close_price")
		}
		c.Open, _ = dec(bar.OpenPrice)
		c.High, _ = dec(bar.HighPrice)
		c.Low, _ = dec(bar.LowPrice)
		candles = append(candles, c)
	}
	return &models.HistoricalSeries{
		Symbol:    p.Symbol,
		Interval:  p.Interval,
		Span:      p.Span,
		Candles:   candles,
		Provider:  raw.Provider,
		FetchedAt: raw.FetchedAt,
	}, nil
}

// --- helpers ---

func (n *Normalizer) mismatch(raw *provider.RawResponse, dt provider.DataType, field string) error {
	return &provider.SchemaMismatchError{Provider: raw.Provider, DataType: dt, Field: field}
}

func dec(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func f64(s string) float64 {
	d, ok := dec(s)
	if !ok {
		return 0
	}
	f, _ := d.Float64()
	return f
}
