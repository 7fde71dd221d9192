package ratelimiter

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter
type RateLimiter struct {
	tokens     float64
	capacity   float64
	rate       float64
	lastRefill time.Time
	mu         sync.Mutex
	timer      *time.Timer
	key        string
	parent     *KeyedRateLimiter
}

// KeyedRateLimiter keeps one bucket per key (session id, client ip) and
// forgets buckets that stay idle for expirationTime.
type KeyedRateLimiter struct {
	limiters       map[string]*RateLimiter
	mu             sync.RWMutex
	rate           float64
	capacity       float64
	expirationTime time.Duration
}

// New creates a limiter refilling rate tokens per second up to capacity.
func New(rate float64, capacity float64, expirationTime time.Duration) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters:       make(map[string]*RateLimiter),
		rate:           rate,
		capacity:       capacity,
		expirationTime: expirationTime,
	}
}

func (k *KeyedRateLimiter) cleanup(key string) {
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}

func (rl *RateLimiter) resetTimer() {
	if rl.timer != nil {
		rl.timer.Stop()
	}
	rl.timer = time.AfterFunc(rl.parent.expirationTime, func() {
		rl.parent.cleanup(rl.key)
	})
}

func (k *KeyedRateLimiter) getLimiter(key string) *RateLimiter {
	k.mu.RLock()
	limiter, exists := k.limiters[key]
	k.mu.RUnlock()

	if exists {
		limiter.mu.Lock()
		limiter.resetTimer()
		limiter.mu.Unlock()
		return limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Double-check after acquiring write lock
	limiter, exists = k.limiters[key]
	if exists {
		limiter.mu.Lock()
		limiter.resetTimer()
		limiter.mu.Unlock()
		return limiter
	}

	limiter = &RateLimiter{
		tokens:     k.capacity,
		capacity:   k.capacity,
		rate:       k.rate,
		lastRefill: time.Now(),
		key:        key,
		parent:     k,
	}
	k.limiters[key] = limiter
	limiter.resetTimer()

	return limiter
}

func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Allow checks if a request should be allowed for the given key
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.getLimiter(key).Allow()
}

// Stop cleans up all timers
func (k *KeyedRateLimiter) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, limiter := range k.limiters {
		if limiter.timer != nil {
			limiter.timer.Stop()
		}
	}
}

// PerMinute allows n requests per minute with a burst of n.
func PerMinute(n float64) *KeyedRateLimiter {
	return New(n/60, n, time.Hour)
}
