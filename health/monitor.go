package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/natsrpc/event"
)

// Monitor tracks the health of each namespace in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
	}
}

// Update stores the status for name.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Get retrieves the health status for a namespace
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// All returns a copy of every status
func (m *Monitor) All() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Aggregate returns the combined status of every tracked namespace, sorted
// by name.
func (m *Monitor) Aggregate(system string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(system, subStatuses)
}

// Observe applies one lifecycle event to the namespace it names.
func (m *Monitor) Observe(e event.Event) {
	if e.Namespace == "" {
		return
	}

	var status Status
	switch e.Type {
	case event.Connected, event.Reconnected:
		status = NewHealthy(e.Namespace, "connected")
	case event.Reconnecting:
		status = NewDegraded(e.Namespace, "reconnecting")
	case event.Error:
		status = NewDegraded(e.Namespace, errText(e.Err))
	case event.PermissionError:
		status = NewDegraded(e.Namespace, "permission denied: "+errText(e.Err))
	case event.SubscribeConnectionError:
		status = NewDegraded(e.Namespace, "subscription to "+e.Subject+" failed: "+errText(e.Err))
	case event.Close:
		status = NewUnhealthy(e.Namespace, "connection closed")
	default:
		return
	}
	if !e.Time.IsZero() {
		status.Timestamp = e.Time
	}
	m.Update(e.Namespace, status)
}

// Track applies events until the channel closes or ctx ends.
func (m *Monitor) Track(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
