package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/agora/internal/bus"
)

// State is the lifecycle state of one realtime subscription.
type State string

const (
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Connecting:   {Live, Closed},
	Live:         {Reconnecting, Closed},
	Reconnecting: {Live, Closed},
}

// Machine tracks and enforces subscription state transitions and announces
// them on the bus under "feed.status_changed".
type Machine struct {
	mu      sync.RWMutex
	subject string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine for the named subject, starting in Connecting.
func NewMachine(subject string, b *bus.Bus) *Machine {
	return &Machine{
		subject: subject,
		current: Connecting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.NamespaceFeed + "status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				Subject: m.subject,
				From:    from,
				To:      to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Subject string
	From    State
	To      State
}
