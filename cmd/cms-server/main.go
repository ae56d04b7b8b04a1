package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Itqan-community/cms-backend-sub002/pkg/api"
	"github.com/Itqan-community/cms-backend-sub002/pkg/apikeys"
	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
	"github.com/Itqan-community/cms-backend-sub002/pkg/config"
	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
	"github.com/Itqan-community/cms-backend-sub002/pkg/metering"
	"github.com/Itqan-community/cms-backend-sub002/pkg/middleware"
	"github.com/Itqan-community/cms-backend-sub002/pkg/notify"
	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
	"github.com/Itqan-community/cms-backend-sub002/pkg/ratelimit"
	"github.com/Itqan-community/cms-backend-sub002/pkg/scheduler"
	"github.com/Itqan-community/cms-backend-sub002/pkg/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cms-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := openRedis(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	queueClient := redisClient
	if cfg.Redis.QueueURL != cfg.Redis.URL {
		queueClient, err = openRedis(cfg.Redis.QueueURL)
		if err != nil {
			return err
		}
		defer queueClient.Close()
	}

	// Stores
	principals := identity.NewStore(db)
	catalogStore := catalog.NewStore(db)
	credentialStore := apikeys.NewStore(db)
	workflowStore := workflow.NewStore(db)
	violationStore := ratelimit.NewViolationStore(db)
	usageStore, err := metering.NewStore(db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for name, ensure := range map[string]func(context.Context) error{
		"identity":   principals.EnsureSchema,
		"catalog":    catalogStore.EnsureSchema,
		"apikeys":    credentialStore.EnsureSchema,
		"workflow":   workflowStore.EnsureSchema,
		"violations": violationStore.EnsureSchema,
		"usage":      usageStore.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			return fmt.Errorf("schema setup for %s failed: %w", name, err)
		}
	}
	roles := identity.DefaultRoles()
	if cfg.Notifications.RolesFile != "" {
		roles, err = identity.LoadRolesFile(cfg.Notifications.RolesFile)
		if err != nil {
			return fmt.Errorf("failed to load roles file: %w", err)
		}
		logger.WithField("file", cfg.Notifications.RolesFile).Info("using role definitions from file")
	}
	if err := identity.SeedRoles(ctx, principals, roles); err != nil {
		return fmt.Errorf("role seeding failed: %w", err)
	}

	// Services
	checker := identity.NewChecker(principals, 1024, 5*time.Minute)
	generator := apikeys.NewSecretGenerator(cfg.Auth.SecretHashKey)
	credentials := apikeys.NewService(credentialStore, principals, generator, logger)

	queue := notify.NewQueue(queueClient, "cms:notifications")
	workflowService := workflow.NewService(workflowStore, queue, logger, metrics)

	var sender notify.Sender
	if cfg.Notifications.SMTPAddr != "" {
		sender = notify.NewSMTPSender(cfg.Notifications.SMTPAddr, cfg.Notifications.FromAddress)
	} else {
		sender = notify.NewLogSender(logger)
	}
	dispatcher := notify.NewDispatcher(queue, workflowStore, principals, sender,
		notify.DefaultRetryConfig(), logger, metrics)

	limiter := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Window, "cms:ratelimit")

	// Middleware pipeline
	authMW := middleware.NewAuthMiddleware(credentials, logger, metrics, false)
	rateLimitMW := middleware.NewRateLimitMiddleware(limiter, violationStore,
		cfg.RateLimit.Window, cfg.RateLimit.AnonymousLimit, logger, metrics)
	meteringMW := metering.NewMiddleware(usageStore, credentials, logger, metrics)

	server := api.NewServer(api.Deps{
		Logger:          logger,
		Metrics:         metrics,
		Checker:         checker,
		Credentials:     credentials,
		CredentialStore: credentialStore,
		Workflow:        workflowService,
		WorkflowStore:   workflowStore,
		Catalog:         catalogStore,
		Usage:           usageStore,
		Violations:      violationStore,
		Auth:            authMW,
		RateLimit:       rateLimitMW,
		Metering:        meteringMW,
		Pages: api.PageConfig{
			DefaultSize: cfg.Pagination.DefaultPageSize,
			MaxSize:     cfg.Pagination.MaxPageSize,
		},
	})

	jobs := scheduler.New(workflowService, scheduler.Stores{
		Principals:  principals,
		Credentials: credentialStore,
		Requests:    workflowStore,
		Usage:       usageStore,
		Violations:  violationStore,
	}, sender, cfg.Notifications.AdminEmails, logger)

	return serve(cfg, logger, server, registry, dispatcher, jobs)
}

// serve runs the API server, the health/metrics server, the notification
// dispatcher, and the scheduler until a termination signal arrives.
func serve(cfg *config.Config, logger *observability.Logger, handler http.Handler, registry *prometheus.Registry, dispatcher *notify.Dispatcher, jobs *scheduler.Scheduler) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	dispatcher.Start(ctx)
	if err := jobs.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		jobs.Stop()
		dispatcher.Stop()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
