// Package ratelimit throttles chatty websocket connections and code runs.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Keyed limits actions per key, e.g. per room
type Keyed interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Limiter is a token bucket refilled continuously at rate tokens per second
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiterAt(rate, burst, time.Now)
}

func newLimiterAt(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// Memory keeps one token bucket per key in process memory. Use it when a
// single server owns every room.
type Memory struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	now             func() time.Time
	mu              sync.RWMutex
	cleanupInterval time.Duration
	maxKeys         int
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewMemory allows perWindow actions per key in every window, with bursts
// up to perWindow.
func NewMemory(perWindow int, window time.Duration) *Memory {
	m := &Memory{
		limiters:        make(map[string]*Limiter),
		rate:            float64(perWindow) / window.Seconds(),
		burst:           perWindow,
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		maxKeys:         10000,
		stop:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) get(key string) *Limiter {
	m.mu.RLock()
	limiter, ok := m.limiters[key]
	m.mu.RUnlock()

	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, ok := m.limiters[key]; ok {
		return limiter
	}

	limiter = newLimiterAt(m.rate, m.burst, m.now)
	m.limiters[key] = limiter
	return limiter
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	return m.get(key).Allow(), nil
}

func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if len(m.limiters) > m.maxKeys {
				m.limiters = make(map[string]*Limiter)
			}
			m.mu.Unlock()
		}
	}
}
