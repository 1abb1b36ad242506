package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/runfrog/runfrog/config"
	httpx "github.com/runfrog/runfrog/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	Version  string
	// ErrCh receives the serve error if the listener fails after startup.
	ErrCh chan<- error
}

// StartHTTPServer binds the listen address, builds the router and serves in
// the background. Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	if cfg == nil {
		return nil, errors.New("http server config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	if appCfg.HTTP.CompressionEnabled {
		logger.Info("HTTP compression enabled", "level", appCfg.HTTP.CompressionLevel)
	}

	handler, err := httpx.NewRouter(httpx.RouterServices{
		Submissions:    cfg.Services.Submissions,
		Tasks:          cfg.Services.Tasks,
		MaxUploadBytes: appCfg.Queue.MaxUploadBytes,
		HTTP:           appCfg.HTTP,
		GUI:            appCfg.GUI,
		Version:        cfg.Version,
		IsDev:          appCfg.IsDev,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	return startServer(serverConfig{
		logger:         logger,
		handler:        handler,
		addr:           appCfg.HTTP.Addr,
		maxConnections: appCfg.HTTP.MaxConnections,
		errCh:          cfg.ErrCh,
	})
}

type serverConfig struct {
	logger         *slog.Logger
	handler        http.Handler
	addr           string
	maxConnections int
	errCh          chan<- error
}

func startServer(cfg serverConfig) (*http.Server, error) {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.addr
	if addr == "" {
		addr = ":1555"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if cfg.maxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.maxConnections)
	}

	// Archive downloads and uploads can be large, so there is no overall
	// write timeout; ReadHeaderTimeout bounds slow clients instead.
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           cfg.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		cfg.logger.Info("starting HTTP server", "addr", server.Addr, "max_connections", cfg.maxConnections)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.logger.Error("HTTP server failed", "error", err)
			if cfg.errCh != nil {
				select {
				case cfg.errCh <- fmt.Errorf("http server: %w", err):
				default:
				}
			}
		}
	}()

	return server, nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
