package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/config"
	"github.com/Thenameisdebojit/farmora-sub001/controllers"
	"github.com/Thenameisdebojit/farmora-sub001/database"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/routes"
	"github.com/Thenameisdebojit/farmora-sub001/services"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/Thenameisdebojit/farmora-sub001/websocket"
	"github.com/Thenameisdebojit/farmora-sub001/workers"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}

	cfg := config.Load()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}
	defer database.Disconnect(context.Background())

	redisClient, err := config.InitRedis(cfg)
	if err != nil {
		logrus.Fatal("Invalid REDIS_URL: ", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := services.NewMetrics(registry)
	if err != nil {
		logrus.Fatal("Failed to register metrics: ", err)
	}

	store := repositories.NewNotificationRepository(db)
	if err := store.CreateIndexes(ctx); err != nil {
		logrus.Warnf("Failed to create notification indexes: %v", err)
	}
	directory := repositories.NewRecipientRepository(db)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(cfg.AllowedOrigins...)
	go hub.Run(hubCtx)

	channels, err := cfg.InitChannels(ctx, hub)
	if err != nil {
		logrus.Fatal("Failed to initialize delivery channels: ", err)
	}

	dispatcher := services.NewDispatcher(store, directory, cfg.RetryPolicy(), channels,
		services.WithDispatchMetrics(metrics))
	notificationService := services.NewNotificationService(store, dispatcher,
		services.WithDefaultTTL(cfg.NotificationTTL))

	var digests *services.DigestGenerator
	if cfg.DigestEnabled {
		digests = services.NewDigestGenerator(store, directory, dispatcher,
			services.WithDigestWindow(cfg.DigestWindow),
			services.WithDigestMetrics(metrics))
	}

	var (
		cache  services.AnalyticsCache = services.NewMemoryAnalyticsCache()
		locker services.Locker
	)
	if redisClient != nil {
		cache = services.NewRedisAnalyticsCache(redisClient)
		locker = services.NewRedisLocker(redisClient, "")
	}
	analytics := services.NewAnalyticsService(store, cache, cfg.AnalyticsCacheTTL)

	scheduler := workers.NewScheduler(
		workers.WithLocation(cfg.Location()),
		workers.WithLocker(locker, cfg.JobLockTTL),
		workers.WithSchedulerMetrics(metrics),
	)
	jobs := workers.NewNotificationJobs(store, dispatcher, digests,
		workers.WithBatchSize(cfg.DispatchBatchSize),
		workers.WithConcurrency(cfg.DispatchConcurrency),
		workers.WithJobsMetrics(metrics))
	err = jobs.RegisterWith(scheduler, workers.JobSpecs{
		ProcessDue: cfg.ProcessDueSchedule,
		Cleanup:    cfg.CleanupSchedule,
		Digest:     cfg.DigestSchedule,
	})
	if err != nil {
		logrus.Fatal("Failed to register jobs: ", err)
	}
	if err := scheduler.Init(); err != nil {
		logrus.Fatal("Failed to start scheduler: ", err)
	}

	router := routes.SetupRoutes(&routes.Controllers{
		Health:       controllers.NewHealthController(version, healthChecks(redisClient)),
		Notification: controllers.NewNotificationController(notificationService),
		Admin:        controllers.NewAdminController(scheduler, analytics),
		WebSocket:    controllers.NewWebSocketController(hub),
	}, utils.NewJWTService(cfg.JWTSecret), registry)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   2 * time.Minute,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("Farmora notification engine starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown: %v", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logrus.Errorf("Scheduler shutdown: %v", err)
	}
	if err := notificationService.Drain(shutdownCtx); err != nil {
		logrus.Errorf("Pending dispatches did not finish: %v", err)
	}
	stopHub()

	logrus.Info("Shutdown complete")
}

func healthChecks(redisClient *redis.Client) map[string]controllers.HealthCheck {
	checks := map[string]controllers.HealthCheck{
		"database": database.Ping,
		"redis":    nil,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
