// Package netmon models transport connectivity as a two-state machine with
// edge-triggered subscriber notification. Signals come from whatever layer
// observes the transport (delivery results, health probes); the monitor only
// deduplicates them into transitions.
package netmon

import (
	"log/slog"
	"sync"

	"fieldsync/internal/domain"
)

var _ domain.Reachability = (*Monitor)(nil)

// Monitor holds the current reachability state and fans out transitions.
// Repeated same-state signals produce no events.
type Monitor struct {
	mu     sync.Mutex
	state  domain.ReachabilityState
	subs   map[int]chan domain.ReachabilityState
	nextID int
	logger *slog.Logger
}

// New creates a Monitor with the given initial state. The initial state is
// derived by the caller from the runtime's connectivity signal at startup.
func New(initial domain.ReachabilityState, logger *slog.Logger) *Monitor {
	return &Monitor{
		state:  initial,
		subs:   make(map[int]chan domain.ReachabilityState),
		logger: logger,
	}
}

// State returns the current reachability state.
func (m *Monitor) State() domain.ReachabilityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState feeds a connectivity signal into the machine. Only an actual
// transition notifies subscribers; steady-state signals are dropped here,
// which is what prevents duplicate flush triggers on redundant online events.
func (m *Monitor) SetState(s domain.ReachabilityState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s == m.state {
		return
	}
	m.state = s
	m.logger.Info("reachability transition", "state", s.String())

	for id, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// Subscriber is not draining its channel; it will observe the
			// current state on its next read of State().
			m.logger.Warn("dropping reachability event for slow subscriber", "subscriber", id)
		}
	}
}

// Subscribe registers for edge events. Events are delivered in transition
// order per subscriber; no ordering is guaranteed across subscribers. The
// returned cancel func closes the channel and releases the subscription.
func (m *Monitor) Subscribe(buffer int) (<-chan domain.ReachabilityState, func()) {
	if buffer < 1 {
		buffer = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan domain.ReachabilityState, buffer)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
