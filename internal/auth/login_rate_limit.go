package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"jobboard/internal/observability"
)

// LimiterStore decides whether one more hit for key fits in the window.
type LimiterStore interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	store  LimiterStore
	logger Logger
}

func NewLoginRateLimiter(store LimiterStore, logger Logger) *LoginRateLimiter {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LoginRateLimiter{store: store, logger: logger}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := l.store.Allow(r.Context(), "login:"+ip, time.Now().UTC())
		if err != nil {
			// The per-email lockout still applies when the limiter backend is down.
			l.logger.Warn("login_rate_limit_unavailable", map[string]any{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeMessage(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type memoryLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiterStore keeps a token bucket per key in process memory.
type MemoryLimiterStore struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	entries   map[string]*memoryLimiterEntry
	maxMemory int
}

func NewMemoryLimiterStore(maxHits int, window time.Duration) *MemoryLimiterStore {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &MemoryLimiterStore{
		maxHits:   maxHits,
		window:    window,
		entries:   make(map[string]*memoryLimiterEntry),
		maxMemory: 5000,
	}
}

func (s *MemoryLimiterStore) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryLimiterEntry{
			limiter: rate.NewLimiter(rate.Every(s.window/time.Duration(s.maxHits)), s.maxHits),
		}
		s.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, s.window, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		if delay < time.Second {
			delay = time.Second
		}
		return false, delay, nil
	}

	if len(s.entries) > s.maxMemory {
		threshold := now.Add(-s.window)
		for k, e := range s.entries {
			if e.lastSeen.Before(threshold) {
				delete(s.entries, k)
			}
		}
	}

	return true, 0, nil
}

// RedisLimiterStore counts hits in fixed windows shared by every instance.
type RedisLimiterStore struct {
	client  redis.Cmdable
	prefix  string
	maxHits int
	window  time.Duration
}

func NewRedisLimiterStore(client redis.Cmdable, maxHits int, window time.Duration) *RedisLimiterStore {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiterStore{client: client, prefix: "jobboard:ratelimit:", maxHits: maxHits, window: window}
}

func (s *RedisLimiterStore) Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	slot := now.UnixNano() / int64(s.window)
	windowKey := fmt.Sprintf("%s%s:%d", s.prefix, key, slot)

	var hits *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, s.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}

	if hits.Val() <= int64(s.maxHits) {
		return true, 0, nil
	}

	windowEnd := time.Unix(0, (slot+1)*int64(s.window))
	retryAfter := windowEnd.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
