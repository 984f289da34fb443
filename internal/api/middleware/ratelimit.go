package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eventgate-io/eventgate/internal/config"
)

const (
	burstCapacityMultiplier = 2
	defaultGlobalRPS        = 500
	defaultClientRPS        = 100
	defaultMaxClients       = 1000

	defaultCleanupInterval = 5 * time.Minute
	defaultIdleTimeout     = time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node
	// deployment) or a distributed store when scaling out. The interface
	// keeps that migration invisible to the middleware.
	RateLimiter interface {
		// Allow checks if a request from clientKey should be allowed.
		// Returns true if allowed, false if rate limited.
		Allow(clientKey string) bool
	}

	// RateLimitConfig holds token bucket settings for both tiers.
	RateLimitConfig struct {
		Enabled         bool
		GlobalRPS       int
		ClientRPS       int
		GlobalBurst     int // 0 = 2 × rate
		ClientBurst     int // 0 = 2 × rate
		CleanupInterval time.Duration
		IdleTimeout     time.Duration
		MaxClients      int
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Two-tier token buckets: a global limit over all requests, plus a
	// per-client limit keyed by remote host. Idle client buckets are
	// evicted by a background cleanup goroutine so the map stays bounded.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}
		closeOnce     sync.Once

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
	}

	// clientLimiter tracks rate limit state for one remote client.
	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// LoadRateLimitConfig loads rate limiting configuration from environment
// variables. Disabled by default.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:         config.GetEnvBool("EVENTGATE_RATE_LIMIT_ENABLED", false),
		GlobalRPS:       config.GetEnvInt("EVENTGATE_RATE_LIMIT_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS:       config.GetEnvInt("EVENTGATE_RATE_LIMIT_CLIENT_RPS", defaultClientRPS),
		CleanupInterval: config.GetEnvDuration("EVENTGATE_RATE_LIMIT_CLEANUP_INTERVAL", defaultCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("EVENTGATE_RATE_LIMIT_IDLE_TIMEOUT", defaultIdleTimeout),
		MaxClients:      config.GetEnvInt("EVENTGATE_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}

// NewInMemoryRateLimiter creates a two-tier in-memory rate limiter.
// Burst capacity defaults to 2 × rate unless overridden in cfg.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(cfg.GlobalRPS), computeBurstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)),
		perClient:       make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPS:       cfg.ClientRPS,
		clientBurst:     computeBurstCapacity(cfg.ClientRPS, cfg.ClientBurst),
		cleanupInterval: cfg.CleanupInterval,
		idleTimeout:     cfg.IdleTimeout,
		maxClients:      cfg.MaxClients,
	}

	rl.cleanupTicker = time.NewTicker(rl.cleanupInterval)
	go rl.runCleanup()

	return rl
}

// Allow implements RateLimiter. The global bucket is consulted first so a
// flood from many clients still hits a ceiling.
func (rl *InMemoryRateLimiter) Allow(clientKey string) bool {
	if !rl.global.Allow() {
		return false
	}

	if clientKey == "" {
		return true
	}

	return rl.clientFor(clientKey).allow()
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) clientFor(clientKey string) *clientLimiter {
	rl.mu.RLock()
	limiter, ok := rl.perClient[clientKey]
	rl.mu.RUnlock()

	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok = rl.perClient[clientKey]; ok {
		return limiter
	}

	// At capacity, evict the least recently used bucket.
	if len(rl.perClient) >= rl.maxClients {
		rl.evictOldestLocked()
	}

	limiter = &clientLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
		lastAccess: time.Now(),
	}
	rl.perClient[clientKey] = limiter

	return limiter
}

func (rl *InMemoryRateLimiter) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
	)

	for key, limiter := range rl.perClient {
		if oldestKey == "" || limiter.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = limiter.lastAccess
		}
	}

	if oldestKey != "" {
		delete(rl.perClient, oldestKey)
	}
}

func (rl *InMemoryRateLimiter) runCleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanupTicker.C:
			rl.removeIdleClients()
		}
	}
}

func (rl *InMemoryRateLimiter) removeIdleClients() {
	cutoff := time.Now().Add(-rl.idleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, limiter := range rl.perClient {
		if limiter.lastAccess.Before(cutoff) {
			delete(rl.perClient, key)
		}
	}
}

func (cl *clientLimiter) allow() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.lastAccess = time.Now()

	return cl.limiter.Allow()
}

func computeBurstCapacity(rps, override int) int {
	if override > 0 {
		return override
	}

	return rps * burstCapacityMultiplier
}

// RateLimit creates a middleware that rejects rate-limited requests with
// 429. Clients are keyed by remote host so one noisy producer cannot starve
// the rest.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := clientKeyFromRequest(r)

			if !limiter.Allow(clientKey) {
				logger.Warn("Request rate limited",
					slog.String("client", clientKey),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests."})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKeyFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
