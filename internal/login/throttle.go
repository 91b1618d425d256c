package login

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle tracks per-key login attempt budgets. Keys are client addresses
// or usernames. Throttling is per-process: each replica keeps its own
// counters, so with N replicas the effective budget per key is N * rate.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a throttle that allows r attempts per second per key
// with a maximum burst of b. A non-positive r disables throttling. Stale
// entries are cleaned up periodically until Close is called.
func NewThrottle(r rate.Limit, b int) *Throttle {
	t := &Throttle{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    b,
		idle:     3 * time.Minute,
		stop:     make(chan struct{}),
	}
	if t.enabled() {
		go t.cleanupLoop()
	}
	return t
}

func (t *Throttle) enabled() bool {
	return t != nil && t.rate > 0
}

// Allow reports whether one more attempt for key is allowed now.
func (t *Throttle) Allow(key string) bool {
	return t.AllowAt(key, time.Now())
}

// AllowAt reports whether one more attempt for key is allowed at ts.
func (t *Throttle) AllowAt(key string, ts time.Time) bool {
	if !t.enabled() {
		return true
	}
	t.mu.Lock()
	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = time.Now()
	t.mu.Unlock()
	return v.limiter.AllowN(ts, 1)
}

// Close stops the cleanup goroutine.
func (t *Throttle) Close() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() { close(t.stop) })
}

// cleanupLoop removes visitors that haven't been seen recently.
func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(t.idle)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

func (t *Throttle) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.idle {
			delete(t.visitors, key)
		}
	}
}
