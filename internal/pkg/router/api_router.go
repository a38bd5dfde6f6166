package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/Redirector/app/controllers"
	"github.com/ManuelReschke/Redirector/internal/pkg/middleware"
)

type ApiRouter struct {
	billing   *controllers.BillingController
	redirects *controllers.RedirectController
	apiKeys   []string
	rateLimit int
	storage   fiber.Storage
}

// NewApiRouter creates the /v1 router. storage backs the rate limiter and
// may be nil for an in-memory limiter.
func NewApiRouter(billing *controllers.BillingController, redirects *controllers.RedirectController, apiKeys []string, rateLimit int, storage fiber.Storage) *ApiRouter {
	if rateLimit <= 0 {
		rateLimit = 120
	}
	return &ApiRouter{
		billing:   billing,
		redirects: redirects,
		apiKeys:   apiKeys,
		rateLimit: rateLimit,
		storage:   storage,
	}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	v1 := app.Group("/v1")

	// gateway callbacks are signed, not keyed; registered before the
	// group middleware so they never reach it
	v1.Post("/billing/webhook", h.billing.HandleWebhook)

	api := v1.Group("",
		limiter.New(limiter.Config{
			Max:        h.rateLimit,
			Expiration: time.Minute,
			Storage:    h.storage,
		}),
		middleware.APIKeyAuthMiddleware(h.apiKeys),
	)

	// applications
	api.Get("/billing/plans", h.billing.HandleListPlans)
	api.Post("/applications", h.billing.HandleCreateApplication)
	api.Delete("/applications/:applicationId", h.billing.HandleDeleteApplication)
	api.Delete("/users/:userId/applications", h.billing.HandleRemoveUser)

	// billing
	billing := api.Group("/billing/:applicationId")
	billing.Get("/profile", h.billing.HandleGetProfile)
	billing.Put("/creditCard/:token", h.billing.HandleUpdateCard)
	billing.Put("/plan/:planId", h.billing.HandleUpdatePlan)
	billing.Get("/plan/:planId/upcomingCost", h.billing.HandleUpcomingCost)
	billing.Post("/subscription/refresh", h.billing.HandleRefreshSubscription)

	// redirects and mapping jobs
	api.Post("/:applicationId/redirect", h.redirects.HandleCreateRedirect)
	api.Post("/:applicationId/redirect/:redirectId/fromTo", h.redirects.HandleSubmitMapping)
	api.Get("/:applicationId/redirect/:redirectId/fromTo", h.redirects.HandleGetMapping)
	api.Get("/:applicationId/redirect/:redirectId/job/:queue/:jobId", h.redirects.HandleGetJob)
}
