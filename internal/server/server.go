package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"dabubble/internal/guards"
	"dabubble/internal/stores"

	"go.uber.org/zap"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
	shutdown      time.Duration
}

// NewServer returns new Server serving the pages gated by g and the API over the stores in set
func NewServer(logger *zap.SugaredLogger, set *stores.Set, g *guards.Guards, opts ...Option) (*Server, error) {
	h := &handler{
		logger: logger,
		set:    set,
		guards: g,
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		api:        h.apiRoutes(),
		pages:      h.pageRoutes(),
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	for _, opt := range []Option{
		applyEnforcePOSTJSON(),
		applyTimeout(),
		applyAuthRateLimit(),
		applyInstrument(),
		applyLog(logger.Desugar()),
		registerHandlers(),
	} {
		opt.apply(c)
	}

	return &Server{
		logger:        logger,
		httpServer:    c.httpServer,
		afterShutdown: c.afterShutdown,
		shutdown:      c.shutdown,
	}, nil
}

// Handler returns the root handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		ctx := context.Background()
		if s.shutdown > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.shutdown)
			defer cancel()
		}
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
