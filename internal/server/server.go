// package server contains the router, middleware & handlers of the ride server
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/shared"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 5 * time.Second

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
// Common middleware includes logging, authentication, CORS, rate limiting, etc.
type Middleware func(http.Handler) http.Handler

// Handler defines the interface for HTTP request handlers in the ride server.
// Implementations handle specific endpoints (the JSON API, the websocket hub).
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the "METHOD /path" patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
// Implementations register handlers, apply middleware, and configure the HTTP server.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Server is the ride server: HTTP API, websocket hub and the periodic resync.
type Server struct {
	config   shared.ServerConfig
	logger   *log.Logger
	registry *Registry
	hub      *Hub
	router   *BasicRouter
}

// New assembles a server. A nil recorder disables persistence.
func New(config shared.ServerConfig, recorder Recorder, logger *log.Logger) *Server {
	if recorder == nil {
		recorder = NopRecorder{}
	}

	registry := NewRegistry()
	hub := NewHub(HubOptions{
		Registry:      registry,
		Recorder:      recorder,
		Logger:        logger,
		LocationRate:  config.LocationRate,
		LocationBurst: config.LocationBurst,
	})

	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger), CORS(), BearerAuth(config.APIToken))
	router.Handler(NewAPI(config, registry, hub, recorder, logger))
	router.Handler(hub)
	// preflight for every path; CORS answers before this handler runs
	router.Handle(http.MethodOptions, "/", http.NotFoundHandler())

	return &Server{
		config:   config,
		logger:   logger,
		registry: registry,
		hub:      hub,
		router:   router,
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Registry exposes the live ride state.
func (s *Server) Registry() *Registry { return s.registry }

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe listens on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if every := s.config.ResyncInterval.Duration; every > 0 {
		go s.resync(ctx, every)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ride server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down ride server")
	s.hub.Close()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) resync(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.Resync()
		}
	}
}
