package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/billing"
	"github.com/ManuelReschke/Redirector/internal/pkg/cache"
)

// Stripe retries a failed delivery for up to three days.
const webhookEventTTL = 72 * time.Hour

var validate = validator.New()

// BillingService is the billing orchestrator as used by the HTTP layer
type BillingService interface {
	ListPlans() []billing.Plan
	Profile(ctx context.Context, applicationID string) (*billing.Profile, error)
	CreateApplication(ctx context.Context, userID, userEmail, planID string) (*models.Application, error)
	DeleteApplication(ctx context.Context, applicationID string) error
	RemoveUserFromApplications(ctx context.Context, userID string, deleteOrphans bool) error
	UpdateCard(ctx context.Context, applicationID, token string) (*models.Card, error)
	UpdateSubscription(ctx context.Context, applicationID, planID string) (*models.Subscription, error)
	UpcomingCost(ctx context.Context, applicationID, planID string) (float64, error)
	RefreshSubscription(ctx context.Context, applicationID string) (*models.Subscription, error)
}

// WebhookConfig holds the signing secret of gateway webhooks
type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
}

type BillingController struct {
	billing BillingService
	webhook WebhookConfig
}

func NewBillingController(svc BillingService, webhook WebhookConfig) *BillingController {
	return &BillingController{billing: svc, webhook: webhook}
}

type createApplicationRequest struct {
	UserID    string `json:"userId" validate:"required,max=191"`
	UserEmail string `json:"userEmail" validate:"required,email,max=200"`
	PlanID    string `json:"planId" validate:"required"`
}

func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plans": bc.billing.ListPlans()})
}

func (bc *BillingController) HandleCreateApplication(c *fiber.Ctx) error {
	var req createApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	req.PlanID = strings.TrimSpace(req.PlanID)
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	app, err := bc.billing.CreateApplication(ctx, req.UserID, req.UserEmail, req.PlanID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}

func (bc *BillingController) HandleDeleteApplication(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := bc.billing.DeleteApplication(ctx, c.Params("applicationId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRemoveUser drops a user from every application it belongs to. With
// deleteOrphans=true applications left without users are deleted.
func (bc *BillingController) HandleRemoveUser(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	deleteOrphans := c.QueryBool("deleteOrphans", false)
	if err := bc.billing.RemoveUserFromApplications(ctx, c.Params("userId"), deleteOrphans); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (bc *BillingController) HandleGetProfile(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	profile, err := bc.billing.Profile(ctx, c.Params("applicationId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

func (bc *BillingController) HandleUpdateCard(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	card, err := bc.billing.UpdateCard(ctx, c.Params("applicationId"), c.Params("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(card)
}

func (bc *BillingController) HandleUpdatePlan(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := bc.billing.UpdateSubscription(ctx, c.Params("applicationId"), c.Params("planId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

func (bc *BillingController) HandleUpcomingCost(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	cost, err := bc.billing.UpcomingCost(ctx, c.Params("applicationId"), c.Params("planId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"cost": cost})
}

func (bc *BillingController) HandleRefreshSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := bc.billing.RefreshSubscription(ctx, c.Params("applicationId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// HandleWebhook refreshes the cached subscription when the gateway reports
// a subscription change. Deliveries are deduplicated by event id.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	err := billing.VerifyStripeWebhookSignature(rawBody, signature, bc.webhook.Secret, bc.webhook.Tolerance, time.Now())
	if errors.Is(err, billing.ErrWebhookSecretMissing) {
		log.Error("[Billing] Webhook received but STRIPE_WEBHOOK_SECRET is not set")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook_not_configured"})
	}
	if err != nil {
		log.Warnf("[Billing] Rejected webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	event, err := billing.ParseWebhookEvent(rawBody)
	if err != nil || event.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	key := "billing:webhook:" + event.ID
	created, err := cache.SetOnce(ctx, key, webhookEventTTL)
	if err != nil {
		// refreshing twice is harmless
		log.Warnf("[Billing] Could not record webhook event %s: %v", event.ID, err)
		created = true
	}
	if !created {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	applicationID, ok := event.SubscriptionCustomer()
	if !ok {
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	if _, err := bc.billing.RefreshSubscription(ctx, applicationID); err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			log.Infof("[Billing] Webhook %s for unknown application %s ignored", event.ID, applicationID)
			return c.JSON(fiber.Map{"ok": true, "ignored": true})
		}
		// let the gateway redeliver
		if delErr := cache.Delete(ctx, key); delErr != nil {
			log.Warnf("[Billing] Could not release webhook event %s: %v", event.ID, delErr)
		}
		return respondError(c, err)
	}

	log.Infof("[Billing] Subscription of %s refreshed by webhook %s (%s)", applicationID, event.ID, event.Type)
	return c.JSON(fiber.Map{"ok": true})
}
