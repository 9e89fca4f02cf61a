package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

// loginLimiter keeps a token bucket per client IP. Idle buckets are swept
// during later calls.
type loginLimiter struct {
	mu        sync.Mutex
	clients   map[string]*limitedClient
	every     time.Duration
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newLoginLimiter allows perMinute attempts per IP per minute, with bursts
// of up to perMinute. It returns nil when perMinute is not positive.
func newLoginLimiter(perMinute int, now func() time.Time) *loginLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &loginLimiter{
		clients:   make(map[string]*limitedClient),
		every:     time.Minute / time.Duration(perMinute),
		burst:     perMinute,
		now:       now,
		lastSweep: now(),
	}
}

func (l *loginLimiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		for key, cl := range l.clients {
			if now.Sub(cl.lastSeen) > limiterIdleTimeout {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	cl, ok := l.clients[ip]
	if !ok {
		cl = &limitedClient{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = now
	l.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

func (l *loginLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// handler returns the limiting middleware. A nil limiter lets everything
// through.
func (l *loginLimiter) handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l == nil || l.allow(c.IP()) {
			return c.Next()
		}
		return fiber.NewError(fiber.StatusTooManyRequests, "too many login attempts, please try again later")
	}
}
