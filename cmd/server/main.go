package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/counselops/be-rate-negotiations/internal/client"
	"github.com/counselops/be-rate-negotiations/internal/config"
	"github.com/counselops/be-rate-negotiations/internal/database"
	"github.com/counselops/be-rate-negotiations/internal/handler"
	"github.com/counselops/be-rate-negotiations/internal/logger"
	"github.com/counselops/be-rate-negotiations/internal/middleware"
	"github.com/counselops/be-rate-negotiations/internal/repository"
	"github.com/counselops/be-rate-negotiations/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	log.Info().
		Str("environment", cfg.Service.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting rate negotiations service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
		LockTimeout: cfg.Database.LockTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("Connected to database")

	// NATS is optional; without it notifications and analytics fall back to
	// no-ops inside the publishers.
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, events disabled")
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
		}
	}

	negotiationRepo := repository.NewNegotiationRepository(db)
	rateRepo := repository.NewRateRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	stepRepo := repository.NewStepRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	notifier := client.NewNotificationPublisher(nc, log.Logger)
	analytics := client.NewAnalyticsPublisher(nc, log.Logger)
	var recommendations service.RecommendationClient
	if cfg.Recommendation.URL != "" {
		recommendations = client.NewRecommendationHTTPClient(cfg.Recommendation.URL, cfg.Recommendation.Timeout)
	}

	auditService := service.NewAuditService(auditRepo, analytics, log)
	counterService := service.NewCounterProposalService(rateRepo, negotiationRepo, auditService, recommendations, db, log)
	approvalService := service.NewApprovalService(workflowRepo, stepRepo, negotiationRepo, rateRepo, templateRepo, auditService, notifier, db, log)
	negotiationService := service.NewNegotiationService(negotiationRepo, rateRepo, templateRepo, auditService, notifier, db, log)
	negotiationService.SetCollaborators(counterService, approvalService)
	approvalService.SetTransitioner(negotiationService)

	h := handler.New(negotiationService, counterService, approvalService, auditService, log)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var root http.Handler = mux
	root = middleware.Timeout(cfg.Server.RequestTimeout)(root)
	root = middleware.CORS(cfg.Server.CORSOrigins)(root)
	root = middleware.Logger(&log.Logger)(root)
	root = middleware.Recovery(&log.Logger)(root)
	root = middleware.RequestID(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
