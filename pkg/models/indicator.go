package models

import "time"

// IndicatorPoint is one dated value of a technical indicator. MACD
// carries its signal line and histogram; other indicators leave the
// extra fields zero.
type IndicatorPoint struct {
	Date      string  `json:"date"` // YYYY-MM-DD
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal,omitempty"`
	Histogram float64 `json:"histogram,omitempty"`
	Upper     float64 `json:"upper,omitempty"`
	Lower     float64 `json:"lower,omitempty"`
}

// IndicatorSignal classifies the latest indicator reading.
type IndicatorSignal string

const (
	SignalOverbought IndicatorSignal = "OVERBOUGHT"
	SignalOversold   IndicatorSignal = "OVERSOLD"
	SignalBullish    IndicatorSignal = "BULLISH"
	SignalBearish    IndicatorSignal = "BEARISH"
	SignalNeutral    IndicatorSignal = "NEUTRAL"
)

// IndicatorTrend classifies the recent direction of the series.
type IndicatorTrend string

const (
	TrendRising       IndicatorTrend = "RISING"
	TrendFalling      IndicatorTrend = "FALLING"
	TrendSideways     IndicatorTrend = "SIDEWAYS"
	TrendInsufficient IndicatorTrend = "INSUFFICIENT_DATA"
)

// Indicator is a normalized technical-indicator series with a summary
// of the latest reading.
type Indicator struct {
	Symbol    string           `json:"symbol"`
	Name      string           `json:"name"` // "RSI", "MACD", "BBANDS"
	Period    int              `json:"period,omitempty"`
	Points    []IndicatorPoint `json:"points"` // newest first
	Signal    IndicatorSignal  `json:"signal"`
	Trend     IndicatorTrend   `json:"trend"`
	Provider  string           `json:"provider"`
	FetchedAt time.Time        `json:"fetched_at"`
}
