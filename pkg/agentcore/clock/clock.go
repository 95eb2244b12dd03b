// Package clock wraps time.Now so the orchestrator's timestamps and
// TTL computations go through a single seam, swappable in tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type real struct{}

var (
	realMu   sync.Mutex
	realLast time.Time
)

// Now never returns a wall-clock time earlier than one it already
// returned: if the OS clock steps backwards, the previous value is
// returned until the clock catches up.
func (real) Now() time.Time {
	realMu.Lock()
	defer realMu.Unlock()
	now := time.Now()
	if now.Round(0).Before(realLast.Round(0)) {
		return realLast
	}
	realLast = now
	return now
}

// Real is the production clock.
var Real Clock = real{}

// NowMs returns the current time in Unix milliseconds, the unit every
// persisted timestamp in this package uses.
func NowMs(c Clock) int64 {
	return c.Now().UnixMilli()
}
