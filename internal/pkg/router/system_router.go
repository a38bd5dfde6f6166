package router

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/Redirector/internal/pkg/metrics"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// SystemRouter serves /healthz and /metrics
type SystemRouter struct {
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
}

func NewSystemRouter(gatherer prometheus.Gatherer, checks map[string]HealthCheck) *SystemRouter {
	return &SystemRouter{gatherer: gatherer, checks: checks}
}

func (h SystemRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.handleHealth)
	if h.gatherer != nil {
		app.Get("/metrics", metrics.Handler(h.gatherer))
	}
}

func (h SystemRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	results := make(fiber.Map, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			log.Warnf("[Health] %s check failed: %v", name, err)
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	status := fiber.StatusOK
	overall := "ok"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": overall, "checks": results})
}
