// Package options reduces a raw options chain to the small,
// trader-relevant subset worth spending greeks calls on. Filtering is
// two pure stages: a cheap strike-range pre-filter, then a liquidity
// and proximity ranking. Both stages are idempotent, so re-filtering
// an already filtered chain changes nothing.
package options

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/seaquant/marketd/pkg/models"
)

// Config holds the filter thresholds. Everything here is operator
// tunable; the defaults reflect how the chains are actually traded.
type Config struct {
	// StrikeRangePct bounds stage 1: contracts survive when their
	// strike lies within this fraction of spot on either side.
	StrikeRangePct float64 `mapstructure:"strike_range_pct"`
	// MinVolume, MinOpenInterest and TightSpreadPct form the stage 2
	// liquidity test: volume above MinVolume, OR open interest above
	// MinOpenInterest, OR a bid/ask spread at most TightSpreadPct of
	// the mid price with both sides quoted.
	MinVolume       int64   `mapstructure:"min_volume"`
	MinOpenInterest int64   `mapstructure:"min_open_interest"`
	TightSpreadPct  float64 `mapstructure:"tight_spread_pct"`
	// MaxExpirations keeps only the N nearest expiration dates.
	MaxExpirations int `mapstructure:"max_expirations"`
	// MaxContracts caps the total survivor count, ATM-first.
	MaxContracts int `mapstructure:"max_contracts"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		StrikeRangePct:  0.15,
		MinVolume:       0,
		MinOpenInterest: 10,
		TightSpreadPct:  0.10,
		MaxExpirations:  3,
		MaxContracts:    16,
	}
}

// Engine applies the two-stage filter.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine with the given thresholds. Zero-value
// fields fall back to defaults so a partially specified config stays
// sane.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.StrikeRangePct <= 0 {
		cfg.StrikeRangePct = def.StrikeRangePct
	}
	if cfg.TightSpreadPct <= 0 {
		cfg.TightSpreadPct = def.TightSpreadPct
	}
	if cfg.MaxExpirations <= 0 {
		cfg.MaxExpirations = def.MaxExpirations
	}
	if cfg.MaxContracts <= 0 {
		cfg.MaxContracts = def.MaxContracts
	}
	return &Engine{cfg: cfg}
}

// Filter runs both stages over chain and returns a new chain holding
// only the survivors. The input is not modified. RawCount carries
// through so callers can see the reduction; LowConfidence is set when
// the liquidity fallback had to kick in.
func (e *Engine) Filter(chain *models.OptionsChain) *models.OptionsChain {
	pre := e.PreFilter(chain.Contracts, chain.SpotPrice)
	kept, lowConfidence := e.ProfessionalFilter(pre, chain.SpotPrice)

	out := &models.OptionsChain{
		Symbol:        chain.Symbol,
		SpotPrice:     chain.SpotPrice,
		Contracts:     kept,
		Expirations:   expirationsOf(kept),
		RawCount:      chain.RawCount,
		LowConfidence: lowConfidence || chain.LowConfidence,
		Provider:      chain.Provider,
		FetchedAt:     chain.FetchedAt,
	}
	return out
}

// PreFilter is stage 1: keep contracts whose strike lies within
// StrikeRangePct of spot. This runs before any per-contract work, so
// the expensive stage only ever sees a small slice of the raw chain.
func (e *Engine) PreFilter(contracts []models.OptionContract, spot decimal.Decimal) []models.OptionContract {
	if spot.IsZero() {
		return nil
	}
	band := spot.Mul(decimal.NewFromFloat(e.cfg.StrikeRangePct))
	lo := spot.Sub(band)
	hi := spot.Add(band)

	kept := make([]models.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if c.Strike.Cmp(lo) >= 0 && c.Strike.Cmp(hi) <= 0 {
			kept = append(kept, c)
		}
	}
	return kept
}

// ProfessionalFilter is stage 2: drop illiquid contracts, keep the
// nearest MaxExpirations expiration dates, rank within each expiration
// by distance from the money, and cap the total at MaxContracts. When
// nothing survives the liquidity test the single closest-to-the-money
// contract is returned instead, flagged low confidence, so an illiquid
// underlying still yields something rather than an empty answer.
func (e *Engine) ProfessionalFilter(contracts []models.OptionContract, spot decimal.Decimal) (kept []models.OptionContract, lowConfidence bool) {
	liquid := make([]models.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if e.isLiquid(c) {
			liquid = append(liquid, c)
		}
	}

	if len(liquid) == 0 {
		if closest, ok := closestToMoney(contracts, spot); ok {
			return []models.OptionContract{closest}, true
		}
		return nil, true
	}

	liquid = e.nearestExpirations(liquid)
	e.rankByMoneyness(liquid, spot)
	if len(liquid) > e.cfg.MaxContracts {
		liquid = liquid[:e.cfg.MaxContracts]
	}
	return liquid, false
}

// isLiquid is the stage 2 liquidity test.
func (e *Engine) isLiquid(c models.OptionContract) bool {
	if c.Volume > e.cfg.MinVolume {
		return true
	}
	if c.OpenInterest > e.cfg.MinOpenInterest {
		return true
	}
	return e.hasTightSpread(c)
}

// hasTightSpread requires both sides quoted and a spread no wider
// than TightSpreadPct of the mid price.
func (e *Engine) hasTightSpread(c models.OptionContract) bool {
	if c.Bid.IsZero() || c.Ask.IsZero() || c.Ask.Cmp(c.Bid) < 0 {
		return false
	}
	mid := c.Bid.Add(c.Ask).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return false
	}
	spread := c.Ask.Sub(c.Bid)
	return spread.Div(mid).Cmp(decimal.NewFromFloat(e.cfg.TightSpreadPct)) <= 0
}

// nearestExpirations keeps contracts belonging to the MaxExpirations
// earliest expiration dates present in the set.
func (e *Engine) nearestExpirations(contracts []models.OptionContract) []models.OptionContract {
	dates := expirationsOf(contracts)
	if len(dates) > e.cfg.MaxExpirations {
		dates = dates[:e.cfg.MaxExpirations]
	}
	allowed := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		allowed[d] = struct{}{}
	}

	kept := contracts[:0:0]
	for _, c := range contracts {
		if _, ok := allowed[c.Expiration]; ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// rankByMoneyness sorts by expiration date, then by absolute distance
// of the strike from spot, so the cap trims the far wings first.
func (e *Engine) rankByMoneyness(contracts []models.OptionContract, spot decimal.Decimal) {
	sort.SliceStable(contracts, func(i, j int) bool {
		if contracts[i].Expiration != contracts[j].Expiration {
			return contracts[i].Expiration < contracts[j].Expiration
		}
		di := contracts[i].Strike.Sub(spot).Abs()
		dj := contracts[j].Strike.Sub(spot).Abs()
		return di.Cmp(dj) < 0
	})
}

// closestToMoney picks the contract with the minimum strike distance
// from spot, preferring the nearer expiration on ties.
func closestToMoney(contracts []models.OptionContract, spot decimal.Decimal) (models.OptionContract, bool) {
	if len(contracts) == 0 {
		return models.OptionContract{}, false
	}
	best := contracts[0]
	bestDist := best.Strike.Sub(spot).Abs()
	for _, c := range contracts[1:] {
		d := c.Strike.Sub(spot).Abs()
		switch d.Cmp(bestDist) {
		case -1:
			best, bestDist = c, d
		case 0:
			if c.Expiration < best.Expiration {
				best = c
			}
		}
	}
	return best, true
}

// expirationsOf returns the distinct expiration dates, ascending.
func expirationsOf(contracts []models.OptionContract) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	for _, c := range contracts {
		if _, ok := seen[c.Expiration]; !ok {
			seen[c.Expiration] = struct{}{}
			out = append(out, c.Expiration)
		}
	}
	sort.Strings(out)
	return out
}
