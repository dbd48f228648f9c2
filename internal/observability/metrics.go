package observability

import (
	"fmt"
	"time"
)

// Metrics holds lock activity derived from the event log.
type Metrics struct {
	Resource     string         `json:"resource,omitempty"`
	Acquired     int            `json:"acquired"`
	Refreshed    int            `json:"refreshed"`
	Released     int            `json:"released"`
	Broken       int            `json:"broken"`
	Resolved     int            `json:"resolved"`
	Denied       int            `json:"denied"`
	Conflicts    int            `json:"conflicts"`
	BrokenByUser map[string]int `json:"broken_by_user"`
	LostByUser   map[string]int `json:"lost_by_user"`
	ByResource   map[string]int `json:"by_resource"`
	EventCount   int            `json:"event_count"`
	OldestEvent  *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent  *time.Time     `json:"newest_event,omitempty"`
}

// MetricsQuery selects the events metrics are derived from. An empty
// Resource covers the whole content tree; otherwise only events on that id
// or below it count.
type MetricsQuery struct {
	Since    time.Time
	Resource string
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(q MetricsQuery) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator that reads from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates the events selected by q.
func (mc *metricsCalculator) Calculate(q MetricsQuery) (*Metrics, error) {
	since := q.Since
	events, err := mc.eventLog.Read(EventFilter{Since: &since, Resource: q.Resource})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		Resource:     q.Resource,
		BrokenByUser: make(map[string]int),
		LostByUser:   make(map[string]int),
		ByResource:   make(map[string]int),
		EventCount:   len(events),
	}

	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t
		if id := event.Resource(); id != "" {
			m.ByResource[id]++
		}

		switch event.Type {
		case "lock.acquired":
			m.Acquired++
		case "lock.refreshed":
			m.Refreshed++
		case "lock.released":
			m.Released++
		case "lock.broken":
			m.Broken++
			if by, ok := event.Data["user"].(string); ok {
				m.BrokenByUser[by]++
			}
			if owner, ok := event.Data["owner"].(string); ok {
				m.LostByUser[owner]++
			}
		case "lock.resolved":
			m.Resolved++
		case "lock.denied":
			m.Denied++
		case "lock.conflict":
			m.Conflicts++
		}
	}

	return m, nil
}
