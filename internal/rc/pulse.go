package rc

import (
	"sync"
	"time"
)

// pulseMeter turns rising/falling edge timestamps into a high-pulse width.
// Events arrive from the GPIO event goroutine; Take is called by the loop.
type pulseMeter struct {
	mu      sync.Mutex
	riseAt  time.Duration
	rising  bool
	widthUS int
	fresh   bool
}

func (m *pulseMeter) edge(rising bool, ts time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rising {
		m.riseAt = ts
		m.rising = true
		return
	}
	if !m.rising {
		return
	}
	m.rising = false
	if ts <= m.riseAt {
		return
	}
	m.widthUS = int((ts - m.riseAt) / time.Microsecond)
	m.fresh = true
}

// Take returns the last measured width and whether it is new since the
// previous call.
func (m *pulseMeter) take() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := m.fresh
	m.fresh = false
	return m.widthUS, fresh
}
