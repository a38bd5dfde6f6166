package billing

import "github.com/ManuelReschke/Redirector/app/models"

// projectSubscription copies the fields the store caches from a gateway
// subscription. Nothing else from the gateway response is persisted.
func projectSubscription(sub *GatewaySubscription) models.Subscription {
	return models.Subscription{
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialStart:         sub.TrialStart,
		TrialEnd:           sub.TrialEnd,
		Plan: models.SubscriptionPlan{
			ID:       sub.Plan.ID,
			Interval: sub.Plan.Interval,
			Upcoming: sub.Plan.Upcoming,
		},
	}
}

func projectCard(token *CardToken) models.Card {
	return models.Card{
		Brand:    token.Card.Brand,
		Last4:    token.Card.Last4,
		ExpMonth: token.Card.ExpMonth,
		ExpYear:  token.Card.ExpYear,
	}
}

// Profile is the public billing view of an application.
type Profile struct {
	ID           string                   `json:"id"`
	BillingEmail string                   `json:"billingEmail"`
	Card         *models.Card             `json:"card"`
	Plan         *models.SubscriptionPlan `json:"plan"`
}

func ProfileOf(app *models.Application) Profile {
	p := Profile{
		ID:           app.ID,
		BillingEmail: app.BillingEmail,
		Card:         app.Card,
	}
	if app.Subscription.Plan.ID != "" {
		plan := app.Subscription.Plan
		p.Plan = &plan
	}
	return p
}
