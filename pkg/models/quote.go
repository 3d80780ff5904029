// Package models defines the canonical data types returned by the
// market data facade. Every provider payload is normalized into one of
// these shapes before it leaves the aggregation layer; callers never
// see provider-specific field names.
//
// Monetary fields use decimal fixed-point values so that quotes from
// different providers compare exactly. Percentage fields are stored in
// fractional form ("1.24%" is 0.0124).
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a normalized real-time stock quote.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"change_pct"` // fractional, 0.0124 == 1.24%
	Volume    int64           `json:"volume"`
	Provider  string          `json:"provider"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// QuoteBatch holds the merged result of a multi-symbol quote request.
// Symbols that could not be served are listed in Errors by symbol.
type QuoteBatch struct {
	Quotes map[string]Quote  `json:"quotes"`
	Errors map[string]string `json:"errors,omitempty"`
}
