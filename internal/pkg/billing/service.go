package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/app/repository"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

// Service keeps the payment gateway and the application store consistent.
// The gateway is authoritative: the store only ever caches the projection of
// a successful gateway response, and is written after it.
type Service struct {
	gateway Gateway
	apps    repository.ApplicationRepository
	catalog *Catalog
	metrics metrics.Recorder
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the source of "now" used for proration previews.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// NewService creates a billing service from an injected gateway and store.
func NewService(gateway Gateway, apps repository.ApplicationRepository, catalog *Catalog, opts ...Option) *Service {
	s := &Service{
		gateway: gateway,
		apps:    apps,
		catalog: catalog,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPlans returns the configured plan catalog.
func (s *Service) ListPlans() []Plan {
	return s.catalog.Plans()
}

// GetApplication reads the cached application record.
func (s *Service) GetApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	return s.apps.Get(ctx, applicationID)
}

// Profile returns the public billing view of an application.
func (s *Service) Profile(ctx context.Context, applicationID string) (*Profile, error) {
	app, err := s.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	p := ProfileOf(app)
	return &p, nil
}

// CreateApplication creates the gateway customer subscribed to planID, then
// inserts the application record keyed by the customer id. A store failure
// after the customer exists is surfaced, never retried.
func (s *Service) CreateApplication(ctx context.Context, userID, userEmail, planID string) (*models.Application, error) {
	const op = "billing.create_application"

	userID = strings.TrimSpace(userID)
	userEmail = strings.TrimSpace(userEmail)
	if userID == "" || userEmail == "" {
		return nil, apperror.Validation(op, "userId and userEmail are required")
	}
	if _, ok := s.catalog.Lookup(planID); !ok {
		return nil, apperror.Validation(op, "unknown plan %q", planID)
	}
	// the store rejects what it cannot hold; check before a customer exists
	candidate := &models.Application{ID: "pending", BillingEmail: userEmail, Users: []string{userID}}
	if err := candidate.Validate(); err != nil {
		return nil, apperror.Validation(op, "invalid application: %v", err)
	}

	customer, err := s.gateway.CreateCustomer(ctx, userEmail, planID)
	if err != nil {
		s.metrics.RecordSagaFailure(op, "gateway_create_customer")
		log.Warnf("[Billing] create customer for user %s failed: %v", userID, err)
		return nil, err
	}
	sub, ok := customer.FirstSubscription()
	if !ok {
		s.metrics.RecordSagaFailure(op, "gateway_create_customer")
		log.Errorf("[Billing] customer %s was created without a subscription", customer.ID)
		return nil, &apperror.GatewayError{Code: "missing_subscription", Message: "customer " + customer.ID + " has no subscription"}
	}

	app := &models.Application{
		ID:           customer.ID,
		Users:        []string{userID},
		BillingEmail: userEmail,
		Subscription: projectSubscription(sub),
	}
	if err := s.apps.Insert(ctx, app); err != nil {
		s.metrics.RecordSagaFailure(op, "store_insert")
		log.Warnf("[Billing] customer %s exists at the gateway but the application record was not stored: %v", customer.ID, err)
		return nil, err
	}

	log.Infof("[Billing] application %s created for user %s on plan %s", app.ID, userID, planID)
	return app, nil
}

// DeleteApplication deletes the gateway customer and the store record
// concurrently. Both are always attempted; a missing customer or record
// counts as deleted so the call can be retried safely.
func (s *Service) DeleteApplication(ctx context.Context, applicationID string) error {
	const op = "billing.delete_application"

	var gatewayErr, storeErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := s.gateway.DeleteCustomer(ctx, applicationID)
		if err != nil && !IsMissingCustomer(err, applicationID) {
			gatewayErr = err
		}
	}()
	go func() {
		defer wg.Done()
		err := s.apps.Delete(ctx, applicationID)
		if err != nil && !apperror.Is(err, apperror.KindNotFound) {
			storeErr = err
		}
	}()
	wg.Wait()

	switch {
	case gatewayErr != nil && storeErr != nil:
		s.metrics.RecordSagaFailure(op, "both")
		log.Errorf("[Billing] delete of application %s failed at the store too: %v", applicationID, storeErr)
		return gatewayErr
	case gatewayErr != nil:
		s.metrics.RecordSagaFailure(op, "gateway_delete_customer")
		log.Warnf("[Billing] application %s removed from store but gateway delete failed: %v", applicationID, gatewayErr)
		return gatewayErr
	case storeErr != nil:
		s.metrics.RecordSagaFailure(op, "store_delete")
		log.Warnf("[Billing] customer %s deleted but the application record remains: %v", applicationID, storeErr)
		return storeErr
	}
	log.Infof("[Billing] application %s deleted", applicationID)
	return nil
}

// RemoveUserFromApplications detaches userID from every application that
// lists it. Applications left without users are deleted when deleteOrphans
// is set. Returns only after every dispatched change has settled.
func (s *Service) RemoveUserFromApplications(ctx context.Context, userID string, deleteOrphans bool) error {
	apps, err := s.apps.ListByUser(ctx, userID)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	removals := planUserRemovals(apps, userID, deleteOrphans)
	// no derived context: one failure must not cancel the other removals
	var g errgroup.Group
	for _, r := range removals {
		r := r
		g.Go(func() error {
			var err error
			if r.deleteApplication {
				err = s.DeleteApplication(ctx, r.applicationID)
			} else {
				err = s.apps.RemoveUsersByIndex(ctx, r.applicationID, r.positions)
			}
			if err != nil {
				log.Warnf("[Billing] removing user %s from application %s failed: %v", userID, r.applicationID, err)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("[Billing] user %s removed from %d application(s)", userID, len(removals))
	return nil
}

// UpdateCard attaches the card behind token at the gateway, then caches its
// public details on the application.
func (s *Service) UpdateCard(ctx context.Context, applicationID, token string) (*models.Card, error) {
	const op = "billing.update_card"

	if strings.TrimSpace(token) == "" {
		return nil, apperror.Validation(op, "card token is required")
	}
	if err := s.gateway.UpdateCard(ctx, applicationID, token); err != nil {
		s.metrics.RecordSagaFailure(op, "gateway_update_card")
		return nil, err
	}
	details, err := s.gateway.RetrieveCardToken(ctx, token)
	if err != nil {
		s.metrics.RecordSagaFailure(op, "gateway_retrieve_token")
		return nil, err
	}

	card := projectCard(details)
	if err := s.apps.Update(ctx, applicationID, models.ApplicationUpdate{Card: &card}); err != nil {
		s.metrics.RecordSagaFailure(op, "store_update")
		log.Warnf("[Billing] card of application %s changed at the gateway but not in the store: %v", applicationID, err)
		return nil, err
	}
	return &card, nil
}

// UpdateSubscription moves the application to planID. It requires a card on
// file and a plan different from the current one.
func (s *Service) UpdateSubscription(ctx context.Context, applicationID, planID string) (*models.Subscription, error) {
	const op = "billing.update_subscription"

	app, err := s.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	// same plan wins over a missing card
	if app.Subscription.Plan.ID != "" && app.Subscription.Plan.ID == planID {
		return nil, apperror.New(apperror.KindSamePlan, op, "The selected plan is the same as the current plan.")
	}
	if !app.HasCard() {
		return nil, apperror.New(apperror.KindCreditCardMissing, op, "Please add a card to your account before choosing a plan.")
	}
	if _, ok := s.catalog.Lookup(planID); !ok {
		return nil, apperror.Validation(op, "unknown plan %q", planID)
	}

	subscriptionID, err := s.subscriptionID(ctx, op, applicationID)
	if err != nil {
		return nil, err
	}
	updated, err := s.gateway.UpdateSubscription(ctx, subscriptionID, planID)
	if err != nil {
		s.metrics.RecordSagaFailure(op, "gateway_update_subscription")
		return nil, err
	}

	sub := projectSubscription(updated)
	if err := s.apps.Update(ctx, applicationID, models.ApplicationUpdate{Subscription: &sub}); err != nil {
		s.metrics.RecordSagaFailure(op, "store_update")
		log.Warnf("[Billing] plan of application %s changed at the gateway but not in the store: %v", applicationID, err)
		return nil, err
	}
	log.Infof("[Billing] application %s switched to plan %s", applicationID, planID)
	return &sub, nil
}

// UpcomingCost previews the prorated amount, in major currency units, of
// switching to planID right now. Only invoice lines starting at the
// proration instant are counted.
func (s *Service) UpcomingCost(ctx context.Context, applicationID, planID string) (float64, error) {
	const op = "billing.upcoming_cost"

	subscriptionID, err := s.subscriptionID(ctx, op, applicationID)
	if err != nil {
		return 0, err
	}

	prorationDate := s.now().Truncate(time.Second).Unix()
	lines, err := s.gateway.RetrieveUpcomingInvoiceLines(ctx, UpcomingInvoiceQuery{
		CustomerID:     applicationID,
		SubscriptionID: subscriptionID,
		PlanID:         planID,
		ProrationDate:  prorationDate,
	})
	if err != nil {
		return 0, err
	}

	var cents int64
	for _, line := range lines {
		if line.Period.Start == prorationDate {
			cents += line.Amount
		}
	}
	return float64(cents) / 100, nil
}

// RefreshSubscription rewrites the cached subscription from the gateway. It
// repairs a store left stale by a failed store step.
func (s *Service) RefreshSubscription(ctx context.Context, applicationID string) (*models.Subscription, error) {
	const op = "billing.refresh_subscription"

	customer, err := s.gateway.GetCustomer(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	current, ok := customer.FirstSubscription()
	if !ok {
		return nil, apperror.NotFound(op, "Application %s has no subscription.", applicationID)
	}
	sub := projectSubscription(current)
	if err := s.apps.Update(ctx, applicationID, models.ApplicationUpdate{Subscription: &sub}); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) subscriptionID(ctx context.Context, op, applicationID string) (string, error) {
	customer, err := s.gateway.GetCustomer(ctx, applicationID)
	if err != nil {
		s.metrics.RecordSagaFailure(op, "gateway_get_customer")
		return "", err
	}
	sub, ok := customer.FirstSubscription()
	if !ok || sub.ID == "" {
		return "", apperror.NotFound(op, "Application %s has no subscription.", applicationID)
	}
	return sub.ID, nil
}
