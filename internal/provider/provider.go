// Package provider defines the market data provider abstraction: a
// closed set of data types, a capability-queried Provider interface,
// and the fallback chain that routes a request across providers in
// configured priority order.
package provider

import (
	"context"
	"time"
)

// DataType tags the kind of market data a request is for. It selects
// both the provider chain and the normalizer that apply.
type DataType string

const (
	DataTypeQuote        DataType = "quote"
	DataTypeFundamentals DataType = "fundamentals"
	DataTypeOptionsChain DataType = "options_chain"
	DataTypeHistorical   DataType = "historical"
	DataTypeIndicator    DataType = "indicator"
)

// AllDataTypes returns every defined data type, in a stable order.
func AllDataTypes() []DataType {
	return []DataType{
		DataTypeQuote,
		DataTypeFundamentals,
		DataTypeOptionsChain,
		DataTypeHistorical,
		DataTypeIndicator,
	}
}

// Params is the generic query parameter map passed to providers.
// Each provider documents which keys it requires.
type Params map[string]string

// Common parameter keys.
const (
	ParamSymbol    = "symbol"
	ParamSymbols   = "symbols" // comma-separated, batch quote requests
	ParamInterval  = "interval"
	ParamSpan      = "span"
	ParamIndicator = "indicator"
	ParamPeriod    = "period"
	ParamExpiry    = "expiry"
)

// RawResponse is a provider-specific payload plus fetch metadata. It is
// transient: the chain hands it straight to the normalizer and the
// payload is never exposed to callers.
type RawResponse struct {
	Provider  string
	Payload   any
	FetchedAt time.Time
	Latency   time.Duration
}

// Provider is an adapter to one upstream market data source. A
// provider declares its capability set at construction and never
// changes it; a chain only considers providers whose capabilities
// contain the requested data type.
//
// Fetch returns a RawResponse or one of the typed failures in this
// package: *RateLimitedError when no key has budget, *AuthFailedError
// when the upstream rejects credentials, *UpstreamError for anything
// else (timeout, malformed payload, 5xx). Every attempt, successful or
// not, consumes rate budget, matching upstream billing behavior.
type Provider interface {
	Name() string
	Capabilities() []DataType
	Supports(dt DataType) bool
	Fetch(ctx context.Context, dt DataType, params Params) (*RawResponse, error)
}

// BatchQuoter is implemented by providers that can serve a multi-symbol
// quote request in a single upstream call.
type BatchQuoter interface {
	FetchQuoteBatch(ctx context.Context, symbols []string) (*RawResponse, error)
}

// CapabilitySet is a helper for building the fixed capability set of a
// concrete provider.
type CapabilitySet map[DataType]struct{}

// NewCapabilitySet builds a set from the given data types.
func NewCapabilitySet(types ...DataType) CapabilitySet {
	s := make(CapabilitySet, len(types))
	for _, dt := range types {
		s[dt] = struct{}{}
	}
	return s
}

// Has reports whether the set contains dt.
func (s CapabilitySet) Has(dt DataType) bool {
	_, ok := s[dt]
	return ok
}

// List returns the set's members in the canonical data type order.
func (s CapabilitySet) List() []DataType {
	out := make([]DataType, 0, len(s))
	for _, dt := range AllDataTypes() {
		if s.Has(dt) {
			out = append(out, dt)
		}
	}
	return out
}

// ValidateParams checks that all required keys are present and
// non-empty.
func ValidateParams(params Params, required ...string) error {
	for _, key := range required {
		if params[key] == "" {
			return &MissingParamError{Param: key}
		}
	}
	return nil
}
