// Package budget tracks the process-wide execution deadline.
//
// Every long-running loop in the crawler consults the same Monitor and
// exits cooperatively when time runs out, so the cache and output are
// always written with a clean "incomplete" marker instead of being
// killed mid-write.
package budget

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Monitor is a process-wide deadline tracker. Construct one per run and
// pass it explicitly; loops call ShouldStop at every iteration head.
type Monitor struct {
	start  time.Time
	max    time.Duration
	buffer time.Duration

	mu       sync.Mutex
	timedOut bool
}

// NewMonitor starts the clock for a run allowed to spend max wall time,
// reserving buffer at the end for checkpointing and persistence. A
// non-positive max disables the deadline.
func NewMonitor(max, buffer time.Duration) *Monitor {
	return &Monitor{
		start:  time.Now(),
		max:    max,
		buffer: buffer,
	}
}

// ShouldStop reports whether remaining time has dropped to or below the
// safety buffer. The first trip is logged once; later calls are silent.
func (m *Monitor) ShouldStop() bool {
	if m.max <= 0 {
		return false
	}
	if m.Remaining() > m.buffer {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.timedOut {
		m.timedOut = true
		logrus.Warnf("execution budget exhausted after %s (max %s, buffer %s); checkpointing",
			m.Elapsed().Round(time.Second), m.max, m.buffer)
	}
	return true
}

// TimedOut reports whether the deadline tripped at any point.
func (m *Monitor) TimedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timedOut
}

// Elapsed returns wall time spent since the run began.
func (m *Monitor) Elapsed() time.Duration {
	return time.Since(m.start)
}

// Remaining returns wall time left before the hard maximum.
func (m *Monitor) Remaining() time.Duration {
	return m.max - m.Elapsed()
}
