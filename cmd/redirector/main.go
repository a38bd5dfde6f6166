package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ManuelReschke/Redirector/app/controllers"
	"github.com/ManuelReschke/Redirector/app/repository"
	"github.com/ManuelReschke/Redirector/internal/pkg/billing"
	"github.com/ManuelReschke/Redirector/internal/pkg/cache"
	"github.com/ManuelReschke/Redirector/internal/pkg/database"
	"github.com/ManuelReschke/Redirector/internal/pkg/env"
	"github.com/ManuelReschke/Redirector/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Redirector/internal/pkg/metrics"
	"github.com/ManuelReschke/Redirector/internal/pkg/router"
	"github.com/ManuelReschke/Redirector/internal/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Server] Shutdown: %v", err)
	}
	manager.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	billingCfg, err := billing.LoadConfig()
	if err != nil {
		log.Fatalf("[Billing] %v", err)
	}
	gateway := billing.NewStripeClient(billingCfg, collector)
	billingService := billing.NewService(gateway, repos.Application, billingCfg.Catalog, billing.WithMetrics(collector))

	storageCfg, err := storage.LoadConfig()
	if err != nil {
		log.Fatalf("[Storage] %v", err)
	}
	stager, err := storage.New(context.Background(), storageCfg)
	if err != nil {
		log.Fatalf("[Storage] %v", err)
	}

	queueCfg, err := jobqueue.LoadConfig()
	if err != nil {
		log.Fatalf("[JobQueue] %v", err)
	}
	manager := jobqueue.NewManager(cache.GetClient(), queueCfg, stager, repos.Redirect, jobqueue.WithMetrics(collector))

	app := fiber.New(fiber.Config{
		BodyLimit: env.GetEnvInt("APP_BODY_LIMIT", 32<<20),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	billingController := controllers.NewBillingController(billingService, controllers.WebhookConfig{
		Secret:    billingCfg.WebhookSecret,
		Tolerance: billingCfg.WebhookTolerance,
	})
	redirectController := controllers.NewRedirectController(repos.Redirect, manager, env.GetEnv("UPLOAD_TMP_DIR", os.TempDir()))

	checks := map[string]router.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := database.GetDB().DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return cache.GetClient().Ping(ctx).Err()
		},
		"storage": stager.Ping,
	}

	// ROUTER
	router.InstallRouter(app,
		router.NewSystemRouter(reg, checks),
		router.NewApiRouter(
			billingController,
			redirectController,
			strings.Split(env.GetEnv("API_KEYS", ""), ","),
			env.GetEnvInt("API_RATE_LIMIT", 120),
			cache.NewLimiterStorage(),
		),
	)

	return app, manager
}
