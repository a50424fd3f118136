package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// Readiness requires startup to have completed (migrations applied, pool
// reachable) and the process not to be draining for shutdown.
type Lifecycle struct {
	started  atomic.Bool
	draining atomic.Bool
}

func (l *Lifecycle) SetStarted() {
	if l == nil {
		return
	}
	l.started.Store(true)
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Ready reports whether the process should accept traffic.
func (l *Lifecycle) Ready() bool {
	if l == nil {
		return false
	}
	return l.started.Load() && !l.draining.Load()
}
