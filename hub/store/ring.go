package store

import "github.com/heaplane/heaplane/pkg/protocol"

// metricRing is a fixed-capacity, oldest-evicted sequence of metric samples.
// Samples are kept in arrival order; once the ring is full each append
// overwrites the oldest entry.
type metricRing struct {
	samples []protocol.Metrics
	head    int
	full    bool
}

func newMetricRing(capacity int) *metricRing {
	if capacity < 1 {
		capacity = 1
	}
	return &metricRing{samples: make([]protocol.Metrics, 0, capacity)}
}

func (r *metricRing) append(m protocol.Metrics) {
	if !r.full {
		r.samples = append(r.samples, m)
		if len(r.samples) == cap(r.samples) {
			r.full = true
		}
		return
	}
	r.samples[r.head] = m
	r.head = (r.head + 1) % len(r.samples)
}

func (r *metricRing) len() int {
	return len(r.samples)
}

// snapshot returns the samples oldest first.
func (r *metricRing) snapshot() []protocol.Metrics {
	out := make([]protocol.Metrics, 0, len(r.samples))
	out = append(out, r.samples[r.head:]...)
	out = append(out, r.samples[:r.head]...)
	return out
}

// alertRing is the global fixed-capacity alert sequence, oldest-evicted.
type alertRing struct {
	alerts []protocol.Alert
	head   int
	full   bool
}

func newAlertRing(capacity int) *alertRing {
	if capacity < 1 {
		capacity = 1
	}
	return &alertRing{alerts: make([]protocol.Alert, 0, capacity)}
}

func (r *alertRing) append(a protocol.Alert) {
	if !r.full {
		r.alerts = append(r.alerts, a)
		if len(r.alerts) == cap(r.alerts) {
			r.full = true
		}
		return
	}
	r.alerts[r.head] = a
	r.head = (r.head + 1) % len(r.alerts)
}

func (r *alertRing) len() int {
	return len(r.alerts)
}

// snapshot returns the alerts oldest first.
func (r *alertRing) snapshot() []protocol.Alert {
	out := make([]protocol.Alert, 0, len(r.alerts))
	out = append(out, r.alerts[r.head:]...)
	out = append(out, r.alerts[:r.head]...)
	return out
}
