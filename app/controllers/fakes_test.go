package controllers

import (
	"context"
	"os"
	"sync"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/billing"
	"github.com/ManuelReschke/Redirector/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Redirector/internal/pkg/mapping"
)

type fakeBilling struct {
	mu        sync.Mutex
	err       error
	app       *models.Application
	sub       *models.Subscription
	card      *models.Card
	cost      float64
	refreshed []string
	removed   map[string]bool
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{removed: map[string]bool{}}
}

func (f *fakeBilling) ListPlans() []billing.Plan {
	return []billing.Plan{{ID: "free", Interval: "month"}, {ID: "pro", Interval: "month", Amount: 2900}}
}

func (f *fakeBilling) Profile(_ context.Context, applicationID string) (*billing.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := billing.ProfileOf(&models.Application{ID: applicationID, BillingEmail: "billing@example.com", Card: f.card})
	return &p, nil
}

func (f *fakeBilling) CreateApplication(_ context.Context, userID, userEmail, planID string) (*models.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Application{
		ID:           "cus_new",
		BillingEmail: userEmail,
		Users:        []string{userID},
		Subscription: models.Subscription{Plan: models.SubscriptionPlan{ID: planID, Interval: "month"}},
	}, nil
}

func (f *fakeBilling) DeleteApplication(context.Context, string) error {
	return f.err
}

func (f *fakeBilling) RemoveUserFromApplications(_ context.Context, userID string, deleteOrphans bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[userID] = deleteOrphans
	return f.err
}

func (f *fakeBilling) UpdateCard(context.Context, string, string) (*models.Card, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.card, nil
}

func (f *fakeBilling) UpdateSubscription(context.Context, string, string) (*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeBilling) UpcomingCost(context.Context, string, string) (float64, error) {
	return f.cost, f.err
}

func (f *fakeBilling) RefreshSubscription(_ context.Context, applicationID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, applicationID)
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeBilling) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshed)
}

type fakeJobs struct {
	err       error
	job       *jobqueue.Job
	pairs     []mapping.Pair
	gotFile   string
	gotPath   string
	gotDoc    *mapping.Document
	gotQueue  string
	gotJobID  int64
	gotParent [2]string
}

func (f *fakeJobs) SubmitFromFile(_ context.Context, applicationID, redirectID, filePath string) (*jobqueue.Job, error) {
	f.gotParent = [2]string{applicationID, redirectID}
	f.gotPath = filePath
	if data, err := os.ReadFile(filePath); err == nil {
		f.gotFile = string(data)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeJobs) SubmitFromPayload(_ context.Context, applicationID, redirectID string, doc mapping.Document) (*jobqueue.Job, error) {
	f.gotParent = [2]string{applicationID, redirectID}
	f.gotDoc = &doc
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeJobs) GetJob(_ context.Context, queue string, jobID int64, applicationID, redirectID string) (*jobqueue.Job, error) {
	f.gotQueue = queue
	f.gotJobID = jobID
	f.gotParent = [2]string{applicationID, redirectID}
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeJobs) GetCurrentMapping(context.Context, string, string) ([]mapping.Pair, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pairs, nil
}

type fakeRedirectRepo struct {
	created []*models.Redirect
}

func (f *fakeRedirectRepo) Get(context.Context, string, string) (*models.Redirect, error) {
	return nil, apperror.NotFound("redirects.get", "Redirect does not exist.")
}

func (f *fakeRedirectRepo) Create(_ context.Context, redirect *models.Redirect) error {
	if err := redirect.Validate(); err != nil {
		return apperror.Validation("redirects.create", "invalid redirect: %v", err)
	}
	if redirect.ID == "" {
		redirect.ID = "redir-new"
	}
	f.created = append(f.created, redirect)
	return nil
}

func (f *fakeRedirectRepo) ReplaceMappings(context.Context, string, []models.RedirectMapping) error {
	return nil
}

func (f *fakeRedirectRepo) ListMappings(context.Context, string) ([]models.RedirectMapping, error) {
	return nil, nil
}
