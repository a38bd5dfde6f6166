package billing

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
)

type fakeGateway struct {
	mu sync.Mutex

	customers map[string]*Customer
	tokens    map[string]*CardToken
	lines     []InvoiceLine
	nextID    int

	createErr      error
	getErr         error
	deleteErr      error
	updateCardErr  error
	tokenErr       error
	updateSubErr   error
	upcomingErr    error
	lastUpcoming   UpcomingInvoiceQuery
	deleteCalls    int
	updateSubCalls int
	createCalls    int

	// onDelete runs before DeleteCustomer takes the lock
	onDelete func(id string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers: map[string]*Customer{},
		tokens:    map[string]*CardToken{},
	}
}

func (g *fakeGateway) addCustomer(id, subscriptionID, planID string) {
	c := &Customer{ID: id}
	c.Subscriptions.Data = []GatewaySubscription{{
		ID:                 subscriptionID,
		CurrentPeriodStart: 1700000000,
		CurrentPeriodEnd:   1702592000,
		Plan:               GatewayPlan{ID: planID, Interval: "month"},
	}}
	g.customers[id] = c
}

func (g *fakeGateway) CreateCustomer(_ context.Context, email, planID string) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	id := "cus_" + string(rune('A'+g.nextID-1))
	g.addCustomer(id, "sub_"+id, planID)
	g.customers[id].Email = email
	return g.customers[id], nil
}

func (g *fakeGateway) GetCustomer(_ context.Context, id string) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	c, ok := g.customers[id]
	if !ok {
		return nil, &apperror.GatewayError{Code: "resource_missing", Message: "No such customer: " + id, StatusCode: 404}
	}
	return c, nil
}

func (g *fakeGateway) DeleteCustomer(_ context.Context, id string) error {
	if g.onDelete != nil {
		g.onDelete(id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if g.deleteErr != nil {
		return g.deleteErr
	}
	if _, ok := g.customers[id]; !ok {
		return &apperror.GatewayError{Code: "resource_missing", Message: "No such customer: " + id, StatusCode: 404}
	}
	delete(g.customers, id)
	return nil
}

func (g *fakeGateway) UpdateCard(_ context.Context, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateCardErr
}

func (g *fakeGateway) RetrieveCardToken(_ context.Context, token string) (*CardToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokenErr != nil {
		return nil, g.tokenErr
	}
	t, ok := g.tokens[token]
	if !ok {
		return nil, &apperror.GatewayError{Code: "resource_missing", Message: "No such token: " + token}
	}
	return t, nil
}

func (g *fakeGateway) UpdateSubscription(_ context.Context, subscriptionID, planID string) (*GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateSubCalls++
	if g.updateSubErr != nil {
		return nil, g.updateSubErr
	}
	for _, c := range g.customers {
		for i := range c.Subscriptions.Data {
			if c.Subscriptions.Data[i].ID == subscriptionID {
				c.Subscriptions.Data[i].Plan.ID = planID
				sub := c.Subscriptions.Data[i]
				return &sub, nil
			}
		}
	}
	return nil, &apperror.GatewayError{Code: "resource_missing", Message: "No such subscription: " + subscriptionID}
}

func (g *fakeGateway) RetrieveUpcomingInvoiceLines(_ context.Context, q UpcomingInvoiceQuery) ([]InvoiceLine, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastUpcoming = q
	if g.upcomingErr != nil {
		return nil, g.upcomingErr
	}
	return g.lines, nil
}

type fakeStore struct {
	mu   sync.Mutex
	apps map[string]*models.Application

	insertErr error
	updateErr error
	deleteErr error
	removeErr error
	updates   int

	onDelete func(id string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{apps: map[string]*models.Application{}}
}

func (s *fakeStore) put(app models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := app
	cp.Users = append([]string(nil), app.Users...)
	s.apps[app.ID] = &cp
}

func (s *fakeStore) snapshot(id string) (models.Application, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return models.Application{}, false
	}
	cp := *app
	cp.Users = append([]string(nil), app.Users...)
	return cp, true
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Application, error) {
	app, ok := s.snapshot(id)
	if !ok {
		return nil, apperror.NotFound("applications.get", "Application does not exist.")
	}
	return &app, nil
}

func (s *fakeStore) Insert(_ context.Context, app *models.Application) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.put(*app)
	return nil
}

func (s *fakeStore) Update(_ context.Context, id string, upd models.ApplicationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return s.updateErr
	}
	app, ok := s.apps[id]
	if !ok {
		return apperror.NotFound("applications.update", "Application does not exist.")
	}
	if upd.Card != nil {
		card := *upd.Card
		app.Card = &card
	}
	if upd.Subscription != nil {
		app.Subscription = *upd.Subscription
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	if s.onDelete != nil {
		s.onDelete(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.apps[id]; !ok {
		return apperror.NotFound("applications.delete", "Application does not exist.")
	}
	delete(s.apps, id)
	return nil
}

func (s *fakeStore) RemoveUsersByIndex(_ context.Context, id string, positions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	app, ok := s.apps[id]
	if !ok {
		return apperror.NotFound("applications.remove_users", "Application does not exist.")
	}
	drop := map[int]bool{}
	for _, p := range positions {
		drop[p] = true
	}
	kept := make([]string, 0, len(app.Users))
	for i, u := range app.Users {
		if !drop[i] {
			kept = append(kept, u)
		}
	}
	app.Users = kept
	return nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID string) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Application
	for _, app := range s.apps {
		for _, u := range app.Users {
			if u == userID {
				cp := *app
				cp.Users = append([]string(nil), app.Users...)
				out = append(out, cp)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, apperror.NotFound("applications.list_by_user", "Applications do not exist.")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
