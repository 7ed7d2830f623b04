package seq

import (
	"context"
	"time"
)

// Notifier surfaces port-graph changes to the host: it drains the
// client's announce channel and rescans hardware on a slow tick so
// hot-plugged endpoints show up without host polling.
type Notifier struct {
	client   *SoftClient
	events   chan PortChange
	pollRate time.Duration
}

// NewNotifier creates a notifier for the given client.
func NewNotifier(client *SoftClient) *Notifier {
	return &Notifier{
		client:   client,
		events:   make(chan PortChange, 16),
		pollRate: time.Second,
	}
}

// Events returns the channel of port-graph change events.
func (n *Notifier) Events() <-chan PortChange {
	return n.events
}

// Run starts the notifier loop (blocking - run in goroutine).
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.pollRate)
	defer ticker.Stop()

	// Initial scan
	n.client.ScanHardware()

	for {
		select {
		case <-ctx.Done():
			close(n.events)
			return
		case pc := <-n.client.Announce():
			select {
			case n.events <- pc:
			default:
				// Drop if the host isn't draining
			}
		case <-ticker.C:
			n.client.ScanHardware()
		}
	}
}
