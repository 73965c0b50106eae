// Path: internal/delivery/rest/server.go
package rest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"push-broker/internal/config"
	"push-broker/internal/logger"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Broker   channelRegistry
	Service  producerService
	Gatherer prometheus.Gatherer
	Health   func(ctx context.Context) error
	Logger   *slog.Logger
}

// Server is the HTTP server for the event stream and the producer API.
type Server struct {
	httpServer *http.Server
}

// NewRouter wires every route onto a ServeMux.
func NewRouter(cfg config.ServerConfig, producer config.ProducerConfig, deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.Component("http"))

	streams := NewStreamHandlers(deps.Broker, cfg, log)
	producers := NewProducerHandlers(deps.Service, log)
	limiter := rate.NewLimiter(rate.Limit(producer.RequestsPerSecond), producer.BurstLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", streams.Stream)
	mux.HandleFunc("OPTIONS /sse", preflight)
	mux.Handle("POST /sse/events", rateLimit(limiter, http.HandlerFunc(producers.SendEvent)))
	mux.Handle("POST /sse/test", rateLimit(limiter, http.HandlerFunc(producers.SendTestEvent)))
	mux.Handle("GET /sse/connections", rateLimit(limiter, http.HandlerFunc(producers.Connections)))
	mux.HandleFunc("OPTIONS /sse/", preflight)
	mux.HandleFunc("GET /healthz", healthz(deps.Health))
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return logRequests(log, cors(cfg.AllowedOrigin, mux))
}

// NewServer creates and configures a new API server.
func NewServer(port string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			// Event streams stay open, so there is no write timeout.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// DisableKeepAlives closes idle connections once their current request ends.
func (s *Server) DisableKeepAlives() {
	s.httpServer.SetKeepAlivesEnabled(false)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
