// Пакет server — HTTP-сервер Photo Timeline с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/phototimeline/internal/config"
)

// Routes — маршруты приложения: публичные (health, metrics, /blobs)
// и /api/v1/*, к которым применяются API middleware.
type Routes interface {
	MountPublic(r chi.Router)
	MountAPI(r chi.Router)
}

// Server — HTTP-сервер Photo Timeline.
type Server struct {
	http            *http.Server
	certFile        string
	keyFile         string
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// New собирает сервер. middlewares оборачивают все маршруты в переданном
// порядке, apiMiddlewares (JWT, контракт OpenAPI) только /api/v1/*.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	routes Routes,
	apiMiddlewares []func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) *Server {
	s := &Server{
		http: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
			Handler:           NewRouter(routes, apiMiddlewares, middlewares...),
			ReadHeaderTimeout: cfg.HTTPReadTimeout,
			ReadTimeout:       cfg.HTTPReadTimeout,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger.With(slog.String("component", "http_server")),
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		s.certFile, s.keyFile = cfg.TLSCert, cfg.TLSKey
		s.http.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return s
}

// NewRouter собирает chi-роутер.
func NewRouter(routes Routes, apiMiddlewares []func(http.Handler) http.Handler, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	routes.MountPublic(r)
	r.Group(func(api chi.Router) {
		api.Use(apiMiddlewares...)
		routes.MountAPI(api)
	})
	return r
}

// MetricsHandler — обработчик /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Run обслуживает запросы до SIGINT/SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve обслуживает запросы до отмены ctx, затем ждёт завершения
// активных запросов не дольше ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("ошибка HTTP-сервера: %w", err)
	}
	tlsOn := s.http.TLSConfig != nil
	s.log.Info("HTTP-сервер запущен",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("tls", tlsOn),
	)

	served := make(chan error, 1)
	go func() {
		if tlsOn {
			served <- s.http.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			served <- s.http.Serve(ln)
		}
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ошибка HTTP-сервера: %w", err)
	case <-ctx.Done():
		s.log.Info("Получен сигнал завершения, останавливаем HTTP-сервер")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.log.Info("HTTP-сервер остановлен")
	return nil
}
