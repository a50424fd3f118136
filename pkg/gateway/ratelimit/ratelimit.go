package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter is a cheap in-memory pre-filter keyed by hashed client identity.
// It bounds request rate and concurrent live relays per visitor before the
// durable admission check runs. Single-process only by design; the
// storage-backed usage limiter is the authoritative gate.
type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentLive int

	// Operational bounds for the in-memory map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	mu sync.Mutex

	tb      tokenBucket
	liveSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*entry),
	}
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest applies the RPS/burst token bucket for one request.
func (l *Limiter) AcquireRequest(identity string, now time.Time) Decision {
	if identity == "" {
		identity = "anonymous"
	}

	e := l.getOrCreate(identity, now)
	e.touch(now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := e.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireLive takes a concurrent live-relay slot for one identity.
func (l *Limiter) AcquireLive(identity string, now time.Time) Decision {
	if identity == "" {
		identity = "anonymous"
	}

	e := l.getOrCreate(identity, now)
	e.touch(now)

	if l.cfg.MaxConcurrentLive > 0 {
		select {
		case e.liveSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-e.liveSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(identity string, now time.Time) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if e, ok := l.m[identity]; ok {
		return e
	}
	e := &entry{
		liveSem:  make(chan struct{}, maxInt(1, l.cfg.MaxConcurrentLive)),
		lastSeen: now,
	}
	l.m[identity] = e
	return e
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > ttl {
			delete(l.m, k)
		}
	}
}

func (e *entry) touch(now time.Time) {
	e.lastSeen = now
}

func (e *entry) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if burst <= 0 || rps <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if e.tb.capacity == 0 {
		e.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	elapsed := now.Sub(e.tb.last).Seconds()
	if elapsed > 0 {
		e.tb.tokens = math.Min(e.tb.capacity, e.tb.tokens+(elapsed*rps))
		e.tb.last = now
	}

	if e.tb.tokens >= 1.0 {
		e.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - e.tb.tokens
	retryAfter := int(math.Ceil(needed / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
