// Package main runs the chat sync client with its debug server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fanloop/chatsync/internal/config"
	"github.com/fanloop/chatsync/internal/engine"
	"github.com/fanloop/chatsync/internal/handler"
	"github.com/fanloop/chatsync/internal/middleware"
	"github.com/fanloop/chatsync/internal/store"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/internal/transport/natstrans"
	"github.com/fanloop/chatsync/internal/transport/ws"
	"github.com/fanloop/chatsync/pkg/logger"
	"github.com/fanloop/chatsync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat sync client")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st := store.New()

	newTransport := func() transport.Transport {
		switch cfg.Transport {
		case "nats":
			return natstrans.New(natstrans.Config{
				URL:      cfg.NATSURL,
				CAFile:   cfg.NATSCAFile,
				CertFile: cfg.NATSCertFile,
				KeyFile:  cfg.NATSKeyFile,
				Token:    cfg.NATSToken,
			}, log)
		default:
			return ws.New(ws.Config{
				URL:            cfg.SocketURL,
				Token:          cfg.AuthToken,
				WriteWait:      cfg.WSWriteWait,
				PongWait:       cfg.WSPongWait,
				PingPeriod:     cfg.WSPingPeriod,
				ReconnectWait:  cfg.WSReconnectWait,
				MaxMessageSize: cfg.WSMaxMessageSize,
			}, log)
		}
	}

	client := engine.New(engine.Config{Token: cfg.AuthToken}, newTransport, st, log)
	if err := client.Open(ctx); err != nil {
		log.Error("failed to open client", zap.Error(err))
		os.Exit(1)
	}
	defer client.Close()

	// Debug/observability surface, read-only.
	healthHandler := handler.NewHealthHandler(st)
	stateHandler := handler.NewStateHandler(st)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/debug/state", func(r chi.Router) {
		r.Get("/connection", stateHandler.Connection)
		r.Get("/conversations", stateHandler.Conversations)
		r.Get("/messages", stateHandler.Messages)
	})

	server := &http.Server{
		Addr:         ":" + cfg.DebugPort,
		Handler:      r,
		ReadTimeout:  cfg.DebugReadTimeout,
		WriteTimeout: cfg.DebugWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("debug server listening", zap.String("port", cfg.DebugPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("debug server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("debug server forced to shutdown", zap.Error(err))
	}

	client.Close()
	log.Info("stopped")
}
