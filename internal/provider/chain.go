package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Normalizer maps a provider's raw payload to the canonical model for
// a data type. It must be deterministic and stateless; a failed
// mapping returns *SchemaMismatchError.
type Normalizer interface {
	Normalize(dt DataType, raw *RawResponse) (any, error)
}

// Provenance names the provider that ultimately served a result.
type Provenance struct {
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Result is a successful chain execution: the normalized value, its
// provenance, and the attempt log including the winning attempt.
type Result struct {
	Value      any
	Provenance Provenance
	Attempts   []Attempt
}

// Chain tries providers for one data type in fixed priority order
// until one returns a payload the normalizer accepts. Execution is
// intentionally sequential: a higher-priority success short-circuits
// every lower-priority provider, keeping load off fallback sources.
type Chain struct {
	dataType  DataType
	providers []Provider
	norm      Normalizer
	log       zerolog.Logger
}

// NewChain builds a chain for dt. Providers that do not declare the
// capability are dropped; the remaining order is the priority order.
func NewChain(dt DataType, norm Normalizer, log zerolog.Logger, providers ...Provider) *Chain {
	capable := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Supports(dt) {
			capable = append(capable, p)
		} else {
			log.Debug().
				Str("provider", p.Name()).
				Str("data_type", string(dt)).
				Msg("provider lacks capability, excluded from chain")
		}
	}
	return &Chain{
		dataType:  dt,
		providers: capable,
		norm:      norm,
		log:       log.With().Str("data_type", string(dt)).Logger(),
	}
}

// DataType returns the data type this chain serves.
func (c *Chain) DataType() DataType { return c.dataType }

// Providers returns the chain's providers in priority order.
func (c *Chain) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Execute runs the fallback protocol. Each provider gets exactly one
// try; rate-limit, auth and upstream failures are recorded and the
// next provider is consulted. A payload the normalizer rejects counts
// as an upstream failure for that provider, so the chain still falls
// through. When every provider fails the returned error is an
// *ExhaustedError carrying one attempt per provider.
func (c *Chain) Execute(ctx context.Context, params Params) (*Result, error) {
	attempts := make([]Attempt, 0, len(c.providers))

	for _, p := range c.providers {
		start := time.Now()
		raw, err := p.Fetch(ctx, c.dataType, params)
		if err == nil {
			var value any
			value, err = c.norm.Normalize(c.dataType, raw)
			if err == nil {
				attempt := Attempt{Provider: p.Name(), Outcome: OutcomeSuccess, Latency: time.Since(start)}
				attempts = append(attempts, attempt)
				c.log.Debug().
					Str("provider", p.Name()).
					Dur("latency", attempt.Latency).
					Msg("chain fetch served")
				return &Result{
					Value:      value,
					Provenance: Provenance{Provider: p.Name(), FetchedAt: raw.FetchedAt},
					Attempts:   attempts,
				}, nil
			}
		}

		attempt := Attempt{
			Provider: p.Name(),
			Outcome:  OutcomeOf(err),
			Latency:  time.Since(start),
			Err:      err,
		}
		attempts = append(attempts, attempt)
		c.log.Warn().
			Str("provider", p.Name()).
			Str("outcome", string(attempt.Outcome)).
			Err(err).
			Msg("provider failed, falling through")
	}

	return nil, &ExhaustedError{DataType: c.dataType, Attempts: attempts}
}
