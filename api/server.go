// Package api provides the HTTP REST API server for marketd.
//
// Every endpoint maps straight onto a facade method and serializes
// the result in a {success, data|error, timestamp} envelope. The data
// object always carries a "provider" field naming the upstream that
// served it.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/seaquant/marketd/internal/config"
	"github.com/seaquant/marketd/internal/marketdata"
	"github.com/seaquant/marketd/internal/provider"
)

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	facade *marketdata.Facade
	log    zerolog.Logger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, facade *marketdata.Facade, log zerolog.Logger) *Server {
	srv := &Server{
		cfg:    cfg,
		facade: facade,
		log:    log.With().Str("component", "api").Logger(),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	s.log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check stays unauthenticated for load balancer probes.
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/quote/{symbol}", s.handleQuote)
		r.Get("/quotes", s.handleQuotes)
		r.Get("/fundamentals/{symbol}", s.handleFundamentals)
		r.Get("/options/{symbol}", s.handleOptions)
		r.Get("/historical/{symbol}", s.handleHistorical)
		r.Get("/indicator/{symbol}", s.handleIndicator)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// requireToken authenticates the caller with a bearer token compared
// against the configured secret. When no secret is configured the API
// is open; that is an explicit deployment decision for local use.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.API.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	quote, prov, err := s.facade.GetQuote(r.Context(), symbol)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeData(w, withProvenance{Value: quote, Provider: prov.Provider})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	symbols := splitSymbols(raw)
	batch, prov, err := s.facade.GetMultipleQuotes(r.Context(), symbols)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeData(w, withProvenance{Value: batch, Provider: prov.Provider})
}

func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	fund, prov, err := s.facade.GetFundamentals(r.Context(), symbol)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeData(w, withProvenance{Value: fund, Provider: prov.Provider})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	includeGreeks := r.URL.Query().Get("greeks") == "true"
	chain, prov, err := s.facade.GetOptionsChain(r.Context(), symbol, includeGreeks)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeData(w, withProvenance{Value: chain, Provider: prov.Provider})
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "day"
	}
	span := r.URL.Query().Get("span")
	if span == "" {
		span = "year"
	}
	series, prov, err := s.facade.GetHistorical(r.Context(), symbol, interval, span)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeData(w, withProvenance{Value: series, Provider: prov.Provider})
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	period, _ := strconv.Atoi(r.URL.Query().Get("period"))
	ind, prov, err := s.facade.GetIndicator(r.Context(), symbol, name, period)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeData(w, withProvenance{Value: ind, Provider: prov.Provider})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.facade.Status())
}

// writeFacadeError maps facade failures onto HTTP codes: caller errors
// are 400, an exhausted chain is 502 because every upstream refused.
func (s *Server) writeFacadeError(w http.ResponseWriter, err error) {
	var missing *provider.MissingParamError
	if errors.As(err, &missing) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var exhausted *provider.ExhaustedError
	if errors.As(err, &exhausted) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// withProvenance repeats the serving provider at the envelope level so
// callers can show the data source without digging into the value.
type withProvenance struct {
	Value    any    `json:"value"`
	Provider string `json:"provider"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success:   false,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	})
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
