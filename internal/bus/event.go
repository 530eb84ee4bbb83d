package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces used across the daemon.
const (
	NamespaceInsert = "insert:"
	NamespaceFeed   = "feed."
	NamespaceNotify = "notify."
)
