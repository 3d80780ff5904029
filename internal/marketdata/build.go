package marketdata

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/seaquant/marketd/internal/config"
	"github.com/seaquant/marketd/internal/infra"
	"github.com/seaquant/marketd/internal/normalize"
	"github.com/seaquant/marketd/internal/options"
	"github.com/seaquant/marketd/internal/provider"
	"github.com/seaquant/marketd/internal/providers/alphavantage"
	"github.com/seaquant/marketd/internal/providers/finnhub"
	"github.com/seaquant/marketd/internal/providers/fmp"
	"github.com/seaquant/marketd/internal/providers/robinhood"
	"github.com/seaquant/marketd/internal/ratelimit"
)

// Build assembles a facade from configuration: rate limiter, HTTP
// client, every enabled provider, and one chain per data type in the
// configured priority order. Providers without credentials are left
// out of every chain rather than failing startup; a single-provider
// deployment is a legitimate setup.
func Build(cfg *config.Config, log zerolog.Logger) (*Facade, error) {
	loc, err := time.LoadLocation(cfg.RateLimit.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.RateLimit.Timezone, err)
	}
	limiter := ratelimit.New(ratelimit.SystemClock(), cfg.RateLimit.DailyResetHour, loc)
	client := infra.NewHTTPClient(30 * time.Second)

	registry := make(map[string]provider.Provider)

	if pc := cfg.Providers.Finnhub; pc.Enabled() {
		limiter.RegisterProvider("finnhub", keyConfigs(pc)...)
		registry["finnhub"] = finnhub.New(limiter, client,
			finnhub.WithTimeout(timeout(pc.TimeoutMS)))
	}
	if pc := cfg.Providers.FMP; pc.Enabled() {
		limiter.RegisterProvider("fmp", keyConfigs(pc)...)
		registry["fmp"] = fmp.New(limiter, client,
			fmp.WithTimeout(timeout(pc.TimeoutMS)))
	}
	if pc := cfg.Providers.AlphaVantage; pc.Enabled() {
		limiter.RegisterProvider("alphavantage", keyConfigs(pc)...)
		registry["alphavantage"] = alphavantage.New(limiter, client,
			alphavantage.WithTimeout(timeout(pc.TimeoutMS)))
	}
	if rc := cfg.Providers.Robinhood; rc.Enabled() {
		limiter.RegisterProvider("robinhood", ratelimit.KeyConfig{
			Key:       "session",
			PerMinute: rc.PerMinute,
		})
		registry["robinhood"] = robinhood.New(limiter, client, rc.SessionToken,
			robinhood.WithTimeout(timeout(rc.TimeoutMS)))
	}
	if len(registry) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	norm := normalize.New()
	chains := make(map[provider.DataType]*provider.Chain)
	chainOrder := map[provider.DataType][]string{
		provider.DataTypeQuote:        cfg.Chains.Quote,
		provider.DataTypeFundamentals: cfg.Chains.Fundamentals,
		provider.DataTypeOptionsChain: cfg.Chains.OptionsChain,
		provider.DataTypeHistorical:   cfg.Chains.Historical,
		provider.DataTypeIndicator:    cfg.Chains.Indicator,
	}
	for dt, names := range chainOrder {
		members := make([]provider.Provider, 0, len(names))
		for _, name := range names {
			if p, ok := registry[name]; ok {
				members = append(members, p)
			}
		}
		if len(members) == 0 {
			log.Warn().Str("data_type", string(dt)).Msg("no providers available for chain")
			continue
		}
		chains[dt] = provider.NewChain(dt, norm, log, members...)
	}

	return NewFacade(
		chains,
		options.NewEngine(cfg.Options),
		infra.NewCache(time.Duration(cfg.Cache.DefaultTTLSec)*time.Second),
		limiter,
		norm,
		log,
		time.Duration(cfg.Cache.QuoteTTLSec)*time.Second,
		time.Duration(cfg.Cache.DefaultTTLSec)*time.Second,
	), nil
}

func keyConfigs(pc config.KeyedProviderConfig) []ratelimit.KeyConfig {
	out := make([]ratelimit.KeyConfig, 0, len(pc.Keys))
	for _, k := range pc.Keys {
		out = append(out, ratelimit.KeyConfig{
			Key:       k,
			PerMinute: pc.PerMinute,
			PerDay:    pc.PerDay,
		})
	}
	return out
}

func timeout(ms int) time.Duration {
	if ms <= 0 {
		return 10 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}
