package api

import (
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLoginLimiter_BurstThenRefill(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: baseTime}
	l := newLoginLimiter(2, clock.Now)

	if !l.allow("10.0.0.1") || !l.allow("10.0.0.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.allow("10.0.0.1") {
		t.Error("third attempt within the window should be rejected")
	}
	if !l.allow("10.0.0.2") {
		t.Error("a different client has its own bucket")
	}

	clock.Advance(30 * time.Second)
	if !l.allow("10.0.0.1") {
		t.Error("one token should refill after 30s")
	}
	if l.allow("10.0.0.1") {
		t.Error("only one token should have refilled")
	}
}

func TestLoginLimiter_SweepsIdleClients(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: baseTime}
	l := newLoginLimiter(5, clock.Now)

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	if got := l.tracked(); got != 2 {
		t.Fatalf("tracked: got %d, want 2", got)
	}

	clock.Advance(limiterIdleTimeout + time.Minute)
	l.allow("10.0.0.3")
	if got := l.tracked(); got != 1 {
		t.Errorf("tracked after sweep: got %d, want 1", got)
	}
}

func TestLoginLimiter_Disabled(t *testing.T) {
	t.Parallel()

	if l := newLoginLimiter(0, time.Now); l != nil {
		t.Fatalf("expected nil limiter, got %+v", l)
	}
}

func TestLoginRoute_RateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	clock := &fakeClock{now: baseTime}
	env.server.limiter.now = clock.Now
	env.server.limiter.clients = make(map[string]*limitedClient)
	env.server.limiter.burst = 1
	env.server.limiter.every = time.Minute

	creds := map[string]string{"username": "admin", "password": "wrong"}
	resp := env.do(t, jsonRequest(t, http.MethodPost, "/login", creds), false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first attempt: got %d, want 401", resp.StatusCode)
	}

	resp = env.do(t, jsonRequest(t, http.MethodPost, "/login", creds), false)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second attempt: got %d, want 429", resp.StatusCode)
	}
	if body := decode[errorBody](t, resp); body.Error == "" {
		t.Error("expected an error message")
	}
}
