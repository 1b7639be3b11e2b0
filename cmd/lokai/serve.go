package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/config"
	"github.com/lukaszKielar/lokai-web/internal/handler"
	"github.com/lukaszKielar/lokai-web/internal/llm"
	"github.com/lukaszKielar/lokai-web/internal/middleware"
	natsclient "github.com/lukaszKielar/lokai-web/internal/nats"
	"github.com/lukaszKielar/lokai-web/internal/pipeline"
	"github.com/lukaszKielar/lokai-web/internal/service"
	"github.com/lukaszKielar/lokai-web/internal/storage"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
	"github.com/lukaszKielar/lokai-web/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting lokai server")

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "lokai", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.WithoutCancel(ctx), tp)
		}
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	log.Info("storage ready", zap.String("database", redactURL(cfg.DatabaseURL)))

	checks := map[string]handler.Pinger{"store": store}

	// Message events are optional
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		publisher := natsclient.NewPublisher(natsClient)
		if err := publisher.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		store = storage.WithEvents(store, publisher, log.Named("events"))
		checks["nats"] = natsClient
	}

	upstream, err := llm.NewClient(llm.Config{
		Provider:      llm.Provider(cfg.UpstreamProvider),
		OllamaURL:     cfg.OllamaURL,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}
	checks["upstream"] = upstream
	log.Info("upstream configured",
		zap.String("provider", upstream.Name()),
		zap.String("model", cfg.DefaultModel),
	)

	gateway := pipeline.NewGateway(store, upstream, pipeline.Options{
		Model:               cfg.DefaultModel,
		QueueCapacity:       cfg.QueueCapacity,
		ContinueOnTurnError: cfg.ContinueOnTurnError,
		TurnTimeout:         cfg.TurnTimeout,
		PersistTimeout:      cfg.PersistTimeout,
	}, log)

	// Initialize services
	conversationSvc := service.NewConversationService(store, log)
	messageSvc := service.NewMessageService(store, conversationSvc, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checks)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	streamHandler := handler.NewStreamHandler(gateway, log)

	r := newRouter(cfg, log, healthHandler, conversationHandler, messageHandler, streamHandler)

	// Sessions outlive Shutdown since hijacked connections are not tracked;
	// they end when sessionCtx is cancelled.
	sessionCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return sessionCtx },
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	cancelSessions()
	if err := streamHandler.Drain(shutdownCtx); err != nil {
		log.Warn("sessions still running at shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func newRouter(
	cfg *config.Config,
	log *logger.Logger,
	healthHandler *handler.HealthHandler,
	conversationHandler *handler.ConversationHandler,
	messageHandler *handler.MessageHandler,
	streamHandler *handler.StreamHandler,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket stream
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Get("/ws", streamHandler.Stream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/messages", messageHandler.List)
			})
		})
	})

	return r
}

// redactURL hides credentials in a database URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
