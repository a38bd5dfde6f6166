package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
)

// Gateway is the payment provider as seen by the orchestrator. The
// application id doubles as the gateway customer id.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, planID string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	UpdateCard(ctx context.Context, customerID, token string) error
	RetrieveCardToken(ctx context.Context, token string) (*CardToken, error)
	UpdateSubscription(ctx context.Context, subscriptionID, planID string) (*GatewaySubscription, error)
	RetrieveUpcomingInvoiceLines(ctx context.Context, q UpcomingInvoiceQuery) ([]InvoiceLine, error)
}

type Customer struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Subscriptions struct {
		Data []GatewaySubscription `json:"data"`
	} `json:"subscriptions"`
}

// FirstSubscription returns the customer's primary subscription. Customers
// are created with exactly one.
func (c *Customer) FirstSubscription() (*GatewaySubscription, bool) {
	if c == nil || len(c.Subscriptions.Data) == 0 {
		return nil, false
	}
	return &c.Subscriptions.Data[0], true
}

type GatewaySubscription struct {
	ID                 string      `json:"id"`
	Status             string      `json:"status"`
	CurrentPeriodStart int64       `json:"current_period_start"`
	CurrentPeriodEnd   int64       `json:"current_period_end"`
	TrialStart         *int64      `json:"trial_start"`
	TrialEnd           *int64      `json:"trial_end"`
	Plan               GatewayPlan `json:"plan"`
}

type GatewayPlan struct {
	ID       string  `json:"id"`
	Interval string  `json:"interval"`
	Upcoming *string `json:"upcoming"`
}

type CardToken struct {
	ID   string `json:"id"`
	Card struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

// UpcomingInvoiceQuery previews the invoice that switching SubscriptionID to
// PlanID at ProrationDate (unix seconds) would produce.
type UpcomingInvoiceQuery struct {
	CustomerID     string
	SubscriptionID string
	PlanID         string
	ProrationDate  int64
}

type InvoiceLine struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

// IsMissingCustomer reports whether err is the gateway telling us the
// customer does not exist.
func IsMissingCustomer(err error, customerID string) bool {
	var gwErr *apperror.GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	if gwErr.Code == "resource_missing" {
		return true
	}
	// "No such customer: cus_x", quoted in newer API versions
	msg := strings.TrimSpace(gwErr.Message)
	return strings.HasPrefix(msg, "No such customer") && strings.Contains(msg, customerID)
}
