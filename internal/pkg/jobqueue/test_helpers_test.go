package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/storage"
)

const (
	testApp      = "cus_app1"
	testRedirect = "redir-1"
)

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRedirects is an in-memory RedirectRepository
type fakeRedirects struct {
	mu         sync.Mutex
	redirects  map[string]*models.Redirect
	mappings   map[string][]models.RedirectMapping
	replaceErr error
}

func newFakeRedirects() *fakeRedirects {
	return &fakeRedirects{
		redirects: map[string]*models.Redirect{},
		mappings:  map[string][]models.RedirectMapping{},
	}
}

func (f *fakeRedirects) Get(_ context.Context, applicationID, redirectID string) (*models.Redirect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.redirects[redirectID]
	if !ok || r.ApplicationID != applicationID {
		return nil, apperror.NotFound("redirects.get", "Redirect does not exist.")
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRedirects) Create(_ context.Context, redirect *models.Redirect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects[redirect.ID] = redirect
	return nil
}

func (f *fakeRedirects) ReplaceMappings(_ context.Context, redirectID string, mappings []models.RedirectMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return apperror.StoreWrite("redirects.replace_mappings", f.replaceErr)
	}
	f.mappings[redirectID] = append([]models.RedirectMapping(nil), mappings...)
	return nil
}

func (f *fakeRedirects) ListMappings(_ context.Context, redirectID string) ([]models.RedirectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RedirectMapping(nil), f.mappings[redirectID]...), nil
}

func (f *fakeRedirects) failReplace(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceErr = errors.New(msg)
}

type testEnv struct {
	manager   *Manager
	redis     *miniredis.Miniredis
	client    *redis.Client
	stager    *storage.LocalStager
	redirects *fakeRedirects
	clock     *testClock
}

func testConfig() *Config {
	return &Config{
		Queue:         DefaultQueue,
		Workers:       2,
		Retention:     48 * time.Hour,
		StuckAfter:    10 * time.Minute,
		SweepInterval: time.Minute,
		JobTimeout:    10 * time.Second,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	stager, err := storage.NewLocalStager(t.TempDir())
	require.NoError(t, err)

	redirects := newFakeRedirects()
	redirects.redirects[testRedirect] = &models.Redirect{
		ID:             testRedirect,
		ApplicationID:  testApp,
		HostSources:    []string{"old.example.com"},
		TargetHost:     "new.example.com",
		TargetProtocol: models.TargetProtocolHTTPS,
	}

	clock := newTestClock()
	m := NewManager(client, testConfig(), stager, redirects, WithClock(clock.Now))

	return &testEnv{
		manager:   m,
		redis:     mr,
		client:    client,
		stager:    stager,
		redirects: redirects,
		clock:     clock,
	}
}

// runNext processes exactly one queued job
func (e *testEnv) runNext(t *testing.T) {
	t.Helper()
	processed, err := e.manager.queue.processNext(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, processed, "expected a queued job")
}
