// marketd is a multi-provider market data service with fallback chains.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seaquant/marketd/api"
	"github.com/seaquant/marketd/internal/config"
	"github.com/seaquant/marketd/internal/logging"
	"github.com/seaquant/marketd/internal/marketdata"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "Market data with provider fallback chains",
	Long: `marketd aggregates quotes, fundamentals, options chains, historical
candles and technical indicators from multiple upstream providers,
falling through a configured priority chain when a provider is rate
limited, misconfigured or down.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments use the environment.
		_ = godotenv.Load()

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	optionsCmd.Flags().Bool("greeks", false, "fetch greeks for the filtered contracts")
	historicalCmd.Flags().String("interval", "day", "candle interval (5minute, hour, day, week)")
	historicalCmd.Flags().String("span", "year", "lookback span (day, week, month, 3month, year, 5year)")
	indicatorCmd.Flags().Int("period", 14, "indicator period")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(quotesCmd)
	rootCmd.AddCommand(fundamentalsCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(historicalCmd)
	rootCmd.AddCommand(indicatorCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("marketd %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New(cfg.Logging)
		facade, err := marketdata.Build(cfg, log)
		if err != nil {
			return err
		}
		srv := api.NewServer(cfg, facade, log)
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		log.Info().Str("addr", addr).Msg("starting marketd")
		return srv.ListenAndServe(addr)
	},
}

// --- Data Commands ---

var quoteCmd = &cobra.Command{
	Use:   "quote [symbol]",
	Short: "Fetch the current quote for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			q, prov, err := f.GetQuote(ctx, strings.ToUpper(args[0]))
			return q, prov.Provider, err
		})
	},
}

var quotesCmd = &cobra.Command{
	Use:   "quotes [symbol,symbol,...]",
	Short: "Fetch quotes for multiple symbols",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols := strings.Split(strings.ToUpper(args[0]), ",")
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			b, prov, err := f.GetMultipleQuotes(ctx, symbols)
			return b, prov.Provider, err
		})
	},
}

var fundamentalsCmd = &cobra.Command{
	Use:   "fundamentals [symbol]",
	Short: "Fetch company fundamentals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			fd, prov, err := f.GetFundamentals(ctx, strings.ToUpper(args[0]))
			return fd, prov.Provider, err
		})
	},
}

var optionsCmd = &cobra.Command{
	Use:   "options [symbol]",
	Short: "Fetch the filtered options chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		greeks, _ := cmd.Flags().GetBool("greeks")
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			chain, prov, err := f.GetOptionsChain(ctx, strings.ToUpper(args[0]), greeks)
			return chain, prov.Provider, err
		})
	},
}

var historicalCmd = &cobra.Command{
	Use:   "historical [symbol]",
	Short: "Fetch historical candles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetString("interval")
		span, _ := cmd.Flags().GetString("span")
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			series, prov, err := f.GetHistorical(ctx, strings.ToUpper(args[0]), interval, span)
			return series, prov.Provider, err
		})
	},
}

var indicatorCmd = &cobra.Command{
	Use:   "indicator [symbol] [name]",
	Short: "Fetch a technical indicator (RSI, MACD, BBANDS)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, _ := cmd.Flags().GetInt("period")
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			ind, prov, err := f.GetIndicator(ctx, strings.ToUpper(args[0]), args[1], period)
			return ind, prov.Provider, err
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured chains and rate budget usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFacade(func(ctx context.Context, f *marketdata.Facade) (any, string, error) {
			return f.Status(), "", nil
		})
	},
}

// withFacade builds the facade, runs one operation with a deadline and
// prints the result as indented JSON.
func withFacade(fn func(context.Context, *marketdata.Facade) (any, string, error)) error {
	log := logging.New(cfg.Logging)
	facade, err := marketdata.Build(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	value, servedBy, err := fn(ctx, facade)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if servedBy != "" {
		fmt.Fprintf(os.Stderr, "served by: %s\n", servedBy)
	}
	return nil
}
