package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar in a historical series.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// HistoricalSeries is a normalized price history for one symbol.
type HistoricalSeries struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"` // e.g. "day", "week"
	Span      string    `json:"span"`     // e.g. "3month", "year"
	Candles   []Candle  `json:"candles"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}
