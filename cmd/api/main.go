package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dekuworks/runner-alerts/internal/audience"
	"github.com/dekuworks/runner-alerts/internal/channel"
	"github.com/dekuworks/runner-alerts/internal/config"
	"github.com/dekuworks/runner-alerts/internal/directory"
	"github.com/dekuworks/runner-alerts/internal/escalation"
	"github.com/dekuworks/runner-alerts/internal/handler"
	"github.com/dekuworks/runner-alerts/internal/infra/postgresql"
	"github.com/dekuworks/runner-alerts/internal/infra/postgresql/migrations"
	infraredis "github.com/dekuworks/runner-alerts/internal/infra/redis"
	"github.com/dekuworks/runner-alerts/internal/observability"
	"github.com/dekuworks/runner-alerts/internal/queue"
	"github.com/dekuworks/runner-alerts/internal/realtime"
	"github.com/dekuworks/runner-alerts/internal/repository"
	"github.com/dekuworks/runner-alerts/internal/service"
	"github.com/dekuworks/runner-alerts/internal/transport"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, cfg.ChannelRateLimits())
	if err != nil {
		return fmt.Errorf("rate limiter initialization: %w", err)
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization: %w", err)
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.IntakePrefetch, logger)

	deliveryRepo := repository.NewGormDeliveryRepo(db)
	subscriptionRepo := repository.NewGormSubscriptionRepo(db)
	endpointRepo := repository.NewGormEndpointRepo(db)

	hub := realtime.NewHub(logger)

	realtimeAdapter, err := channel.NewRealtimeAdapter(hub)
	if err != nil {
		return fmt.Errorf("realtime adapter: %w", err)
	}
	pushAdapter, err := channel.NewPushAdapter(cfg.PushGatewayURL)
	if err != nil {
		return fmt.Errorf("push adapter: %w", err)
	}
	smsAdapter, err := channel.NewSMSAdapter(cfg.SMSGatewayURL)
	if err != nil {
		return fmt.Errorf("sms adapter: %w", err)
	}
	emailAdapter, err := channel.NewEmailAdapter(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	if err != nil {
		return fmt.Errorf("email adapter: %w", err)
	}
	registry := channel.NewRegistry(realtimeAdapter, pushAdapter, smsAdapter, emailAdapter)

	dir, err := directory.NewHTTPDirectory(cfg.DirectoryBaseURL)
	if err != nil {
		return fmt.Errorf("directory client: %w", err)
	}

	resolver := audience.NewResolver(subscriptionRepo, dir, cfg.DefaultAlertRadiusKm, logger)
	policy := escalation.NewPolicy()

	metrics := observability.NewMetrics()

	fanout, err := service.NewFanoutService(
		policy,
		resolver,
		deliveryRepo,
		subscriptionRepo,
		endpointRepo,
		registry,
		rateLimiter,
		service.FanoutOptions{
			WorkersPerChannel: cfg.FanoutWorkers,
			DeliveryTimeout:   time.Duration(cfg.DeliveryTimeoutSec) * time.Second,
			MaxRetries:        cfg.MaxRetries,
			RecordTTL:         time.Duration(cfg.DeliveryTTLHours) * time.Hour,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("fanout service: %w", err)
	}
	fanout.SetMetrics(metrics)

	subscriptionSvc, err := service.NewSubscriptionService(subscriptionRepo, logger)
	if err != nil {
		return fmt.Errorf("subscription service: %w", err)
	}

	endpointSvc, err := service.NewEndpointService(endpointRepo, logger)
	if err != nil {
		return fmt.Errorf("endpoint service: %w", err)
	}

	scanner, err := service.NewRetryScanner(
		deliveryRepo,
		fanout,
		time.Duration(cfg.RetryScanIntervalSec)*time.Second,
		cfg.RetryScanLimit,
		logger,
	)
	if err != nil {
		return fmt.Errorf("retry scanner: %w", err)
	}

	worker, err := service.NewIntakeWorker(consumer, fanout, logger)
	if err != nil {
		return fmt.Errorf("intake worker: %w", err)
	}

	maintenance, err := service.NewMaintenanceService(
		deliveryRepo,
		subscriptionRepo,
		time.Duration(cfg.SubscriptionGCDays)*24*time.Hour,
		logger,
	)
	if err != nil {
		return fmt.Errorf("maintenance service: %w", err)
	}
	if err := maintenance.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		<-maintenance.Stop().Done()
	}()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterRealtimeRoutes(app, hub)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterAlertRoutes(app, fanout, publisher); err != nil {
		return fmt.Errorf("alert routes: %w", err)
	}
	if err := handler.RegisterDeliveryRoutes(app, deliveryRepo); err != nil {
		return fmt.Errorf("delivery routes: %w", err)
	}
	if err := handler.RegisterSubscriptionRoutes(app, subscriptionSvc); err != nil {
		return fmt.Errorf("subscription routes: %w", err)
	}
	if err := handler.RegisterEndpointRoutes(app, endpointSvc); err != nil {
		return fmt.Errorf("endpoint routes: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scanner.Start(gctx)
	})

	g.Go(func() error {
		return worker.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("runner-alerts api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("runner-alerts stopped gracefully")
	return nil
}
