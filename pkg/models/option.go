package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// GreeksSet holds the risk sensitivities for a single contract.
// Greeks are ratios, not monetary amounts, so float64 is sufficient.
type GreeksSet struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// OptionContract is one normalized contract in an options chain.
// Greeks is nil until the contract has survived professional filtering
// and enrichment was requested.
type OptionContract struct {
	Symbol       string          `json:"symbol"`
	Strike       decimal.Decimal `json:"strike"`
	Expiration   string          `json:"expiration"` // YYYY-MM-DD
	Type         OptionType      `json:"type"`
	Premium      decimal.Decimal `json:"premium"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
	Greeks       *GreeksSet      `json:"greeks,omitempty"`
}

// ExpirationDate parses the contract's expiration. A zero time is
// returned for malformed dates; the filter engine sorts those last.
func (c OptionContract) ExpirationDate() time.Time {
	t, err := time.Parse("2006-01-02", c.Expiration)
	if err != nil {
		return time.Time{}
	}
	return t
}

// OptionsChain is a normalized options chain for one underlying.
// After filtering, Contracts holds only the professional subset and
// LowConfidence marks chains where the liquidity filter found nothing
// and the closest-to-the-money contract was kept as a fallback.
type OptionsChain struct {
	Symbol        string           `json:"symbol"`
	SpotPrice     decimal.Decimal  `json:"spot_price"`
	Contracts     []OptionContract `json:"contracts"`
	Expirations   []string         `json:"expirations,omitempty"`
	RawCount      int              `json:"raw_count,omitempty"` // contracts before filtering
	LowConfidence bool             `json:"low_confidence,omitempty"`
	Provider      string           `json:"provider"`
	FetchedAt     time.Time        `json:"fetched_at"`
}
