package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"decoywatch/internal/config"
	"decoywatch/internal/hub"
	"decoywatch/internal/metrics"
	"decoywatch/internal/websocket"
)

// Server is the local read-only surface over a running application:
// REST snapshots, a websocket relay of hub notifications and metrics.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	ws     *websocket.Handler
	http   *Handler
	server *http.Server
}

// Live is a Source that also exposes its subscription hub.
type Live interface {
	Source
	Hub() *hub.Hub
}

func NewServer(cfg *config.Config, src Live, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	wsHandler := websocket.NewHandler(src.Hub(), logger.With(zap.String("component", "relay")))
	httpHandler := NewHandler(src, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", wsHandler.ServeWS)

	mux.HandleFunc("GET /api/events", httpHandler.GetEvents)
	mux.HandleFunc("GET /api/stats", httpHandler.GetStats)
	mux.HandleFunc("GET /api/status", httpHandler.GetStatus)
	mux.HandleFunc("GET /api/notices", httpHandler.GetNotices)
	mux.HandleFunc("POST /api/reload", httpHandler.Reload)
	mux.HandleFunc("GET /healthz", httpHandler.Healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		ws:     wsHandler,
		http:   httpHandler,
		server: server,
	}
}

func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("local server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down local server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.ws.CloseAll()
	return s.server.Shutdown(shutdownCtx)
}
