// Package ratelimit provides per-key token bucket rate limiting for MCP
// tools and the HTTP start endpoint.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Limiter is a set of token buckets sharing one rate and burst, one bucket
// per key (a tool name or a client address). Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // bucket capacity, and the tokens a new key starts with
	nowFunc func() time.Time
}

type bucket struct {
	tokens  float64
	updated time.Time
}

// NewLimiter returns a limiter refilling rate tokens per second up to burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow takes a token from key's bucket and reports whether one was there.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// Reserve is Allow that also reports, on rejection, how long until the
// bucket holds a whole token again. The wait is zero when ok, and negative
// when the bucket never refills.
func (l *Limiter) Reserve(key string) (ok bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key, l.nowFunc())
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, -1
	}
	secs := (1 - b.tokens) / l.rate
	return false, time.Duration(math.Ceil(secs * float64(time.Second)))
}

// refill tops key's bucket up for the time since it was last touched.
func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), updated: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.updated).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(l.burst), b.tokens+l.rate*elapsed)
		b.updated = now
	}
	return b
}

// ErrLimited is returned by CheckLimit when a request is rejected.
var ErrLimited = errors.New("rate limit exceeded")

// ToolLimiters maps MCP tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters returns the per-tool limits. Stepping and reads are
// cheap; starting or restoring a run rebuilds the engine.
func NewToolLimiters() ToolLimiters {
	perMinute := func(n float64, burst int) *Limiter { return NewLimiter(n/60.0, burst) }
	return ToolLimiters{
		"cura_start":      perMinute(10, 3),
		"cura_step":       perMinute(120, 20),
		"cura_seed":       perMinute(30, 5),
		"cura_stats":      perMinute(60, 10),
		"cura_tract":      perMinute(60, 10),
		"cura_history":    perMinute(30, 5),
		"cura_graph":      perMinute(10, 3),
		"cura_checkpoint": perMinute(5, 2),
		"cura_restore":    perMinute(5, 2),
	}
}

// CheckLimit takes a token for toolName. Tools without a limiter are never
// limited. A rejection wraps ErrLimited.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	ok, wait := limiter.Reserve(toolName)
	switch {
	case ok:
		return nil
	case wait > 0:
		return fmt.Errorf("%s: retry in %s: %w", toolName, wait.Round(time.Second), ErrLimited)
	default:
		return fmt.Errorf("%s: %w", toolName, ErrLimited)
	}
}
