package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fundamentals is a normalized company-profile snapshot.
type Fundamentals struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Exchange      string          `json:"exchange,omitempty"`
	Sector        string          `json:"sector,omitempty"`
	Industry      string          `json:"industry,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	PERatio       decimal.Decimal `json:"pe_ratio"`
	EPS           decimal.Decimal `json:"eps"`
	DividendYield decimal.Decimal `json:"dividend_yield"` // fractional
	Week52High    decimal.Decimal `json:"week_52_high"`
	Week52Low     decimal.Decimal `json:"week_52_low"`
	Provider      string          `json:"provider"`
	FetchedAt     time.Time       `json:"fetched_at"`
}
