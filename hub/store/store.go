// Package store holds the hub's canonical in-memory state: services with
// their bounded metric rings, the global alert ring, snapshot records, and
// comparison sessions. Mutations return the subscriber events they caused;
// callers publish them after the store lock is released.
package store

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/heaplane/heaplane/pkg/protocol"
)

var connectedServices = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "connected_services",
		Help: "Number of services with a live producer connection",
	},
)

var alertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alerts_total",
		Help: "Total number of alerts recorded",
	},
	[]string{"type", "severity"},
)

func init() {
	prometheus.MustRegister(connectedServices)
	prometheus.MustRegister(alertsTotal)
}

// Conn is the non-owning handle a service record keeps to its producer
// connection. The store compares handles for identity and never calls
// through them.
type Conn interface {
	RemoteAddr() net.Addr
}

// service is the internal record for one registered service. lastSeen runs
// on the server clock so the liveness sweep is immune to agent clock skew;
// the agent-declared registration timestamp is kept as-is.
type service struct {
	name         string
	registeredAt int64
	lastSeen     time.Time
	status       string
	totalAlerts  int
	conn         Conn
	ring         *metricRing
	lastMetrics  *protocol.Metrics
}

func (s *service) info() protocol.ServiceInfo {
	return protocol.ServiceInfo{
		Name:         s.name,
		Status:       s.status,
		RegisteredAt: s.registeredAt,
		LastSeen:     s.lastSeen.UnixMilli(),
		TotalAlerts:  s.totalAlerts,
		LastMetrics:  s.lastMetrics,
	}
}

// Store is the hub's session store. All access goes through its methods;
// none of them suspends, so the mutex is never held across I/O.
type Store struct {
	metricCap         int
	alertCap          int
	inactivityTimeout time.Duration
	startTime         time.Time

	services    map[string]*service
	alerts      *alertRing
	snapshots   map[string]*protocol.SnapshotInfo
	sessions    map[string]*ComparisonSession
	nextAlertID int64

	// This mutex protects every map and ring above. Lock sections never
	// perform socket or file I/O.
	mutex sync.RWMutex
}

// New creates an empty store. metricCap bounds each per-service metric ring,
// alertCap bounds the global alert ring, and inactivityTimeout is the
// deadline used by SweepInactive.
func New(metricCap, alertCap int, inactivityTimeout time.Duration) *Store {
	return &Store{
		metricCap:         metricCap,
		alertCap:          alertCap,
		inactivityTimeout: inactivityTimeout,
		startTime:         time.Now(),
		services:          make(map[string]*service),
		alerts:            newAlertRing(alertCap),
		snapshots:         make(map[string]*protocol.SnapshotInfo),
		sessions:          make(map[string]*ComparisonSession),
	}
}

// RegisterService creates or updates the record for name and associates conn
// as its single producer. A service that re-registers on a new connection
// supersedes the old one in place; the old connection no longer owns the
// record and its eventual close will not transition the service.
func (s *Store) RegisterService(name string, ts int64, conn Conn) []protocol.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	svc, ok := s.services[name]
	if !ok {
		svc = &service{
			name:         name,
			registeredAt: ts,
			ring:         newMetricRing(s.metricCap),
		}
		s.services[name] = svc
	}
	if svc.conn != nil && conn != nil && svc.conn != conn {
		log.Infof("Service %s superseded by new connection from %s", name, conn.RemoteAddr())
	}
	svc.conn = conn
	svc.status = protocol.StatusConnected
	svc.lastSeen = time.Now()

	s.updateConnectedGauge()
	return []protocol.Event{protocol.NewServiceRegisteredEvent(name, ts)}
}

// IngestMetric appends one sample to the service's ring, refreshing
// liveness. A sample for an unknown service creates the record on the fly.
// A sample flagged leakDetected additionally records a critical leak alert.
func (s *Store) IngestMetric(m protocol.Metrics) []protocol.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	svc, ok := s.services[m.Service]
	if !ok {
		svc = &service{
			name:         m.Service,
			registeredAt: m.Timestamp,
			ring:         newMetricRing(s.metricCap),
		}
		s.services[m.Service] = svc
	}
	svc.status = protocol.StatusConnected
	svc.lastSeen = time.Now()
	svc.ring.append(m)
	sample := m
	svc.lastMetrics = &sample
	s.updateConnectedGauge()

	events := []protocol.Event{protocol.NewMetricsUpdateEvent(m.Service, m)}

	if m.LeakDetected {
		alert := s.recordAlertLocked(protocol.Alert{
			Service:        m.Service,
			Kind:           protocol.AlertKindLeak,
			Severity:       protocol.SeverityCritical,
			Message:        fmt.Sprintf("Memory leak detected in %s: heap %.1fMB, growth %.1fMB", m.Service, m.HeapUsedMB, m.MemoryGrowthMB),
			Timestamp:      m.Timestamp,
			HeapUsedMB:     m.HeapUsedMB,
			MemoryGrowthMB: m.MemoryGrowthMB,
		})
		events = append(events, protocol.NewLeakAlertEvent(alert))
	}

	return events
}

// RecordAlert assigns the next alert id, pushes onto the global ring, and
// bumps the owning service's alert counter. The completed alert is returned
// for event construction.
func (s *Store) RecordAlert(a protocol.Alert) protocol.Alert {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.recordAlertLocked(a)
}

func (s *Store) recordAlertLocked(a protocol.Alert) protocol.Alert {
	s.nextAlertID++
	a.ID = s.nextAlertID
	s.alerts.append(a)
	if svc, ok := s.services[a.Service]; ok {
		svc.totalAlerts++
	}
	alertsTotal.With(prometheus.Labels{"type": a.Kind, "severity": a.Severity}).Inc()
	return a
}

// DisconnectOwned transitions every service whose producer is conn to
// disconnected. Services already re-registered on a newer connection are
// left alone.
func (s *Store) DisconnectOwned(conn Conn) []protocol.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UnixMilli()
	events := []protocol.Event{}
	for _, svc := range s.services {
		if svc.conn == nil || svc.conn != conn {
			continue
		}
		svc.conn = nil
		if svc.status != protocol.StatusDisconnected {
			svc.status = protocol.StatusDisconnected
			events = append(events, protocol.NewServiceUpdateEvent(svc.name, protocol.StatusDisconnected, now))
		}
	}
	s.updateConnectedGauge()
	return events
}

// SweepInactive transitions connected services whose last activity is older
// than the inactivity timeout, regardless of socket state. At most one
// serviceUpdate is emitted per transition.
func (s *Store) SweepInactive(now time.Time) []protocol.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	events := []protocol.Event{}
	for _, svc := range s.services {
		if svc.status != protocol.StatusConnected {
			continue
		}
		if now.Sub(svc.lastSeen) <= s.inactivityTimeout {
			continue
		}
		log.Infof("Service %s inactive for %s, marking disconnected", svc.name, now.Sub(svc.lastSeen))
		svc.status = protocol.StatusDisconnected
		svc.conn = nil
		events = append(events, protocol.NewServiceUpdateEvent(svc.name, protocol.StatusDisconnected, now.UnixMilli()))
	}
	s.updateConnectedGauge()
	return events
}

func (s *Store) updateConnectedGauge() {
	connected := 0
	for _, svc := range s.services {
		if svc.status == protocol.StatusConnected {
			connected++
		}
	}
	connectedServices.Set(float64(connected))
}

/// reads ///

// ConnectedServices returns the wire form of every connected service.
func (s *Store) ConnectedServices() []protocol.ServiceInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []protocol.ServiceInfo{}
	for _, svc := range s.services {
		if svc.status == protocol.StatusConnected {
			out = append(out, svc.info())
		}
	}
	return out
}

// ServiceCounts returns total and connected service counts.
func (s *Store) ServiceCounts() (int, int) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	connected := 0
	for _, svc := range s.services {
		if svc.status == protocol.StatusConnected {
			connected++
		}
	}
	return len(s.services), connected
}

// MetricsWindow returns the samples for one service filtered to
// from <= timestamp <= to (zero bounds are open), the number of samples in
// the window before limit was applied, and whether the service exists. A
// positive limit keeps the most recent samples.
func (s *Store) MetricsWindow(name string, from, to int64, limit int) ([]protocol.Metrics, int, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	svc, ok := s.services[name]
	if !ok {
		return nil, 0, false
	}

	window := []protocol.Metrics{}
	for _, m := range svc.ring.snapshot() {
		if from > 0 && m.Timestamp < from {
			continue
		}
		if to > 0 && m.Timestamp > to {
			continue
		}
		window = append(window, m)
	}

	total := len(window)
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, total, true
}

// Alerts returns recorded alerts newest first, optionally filtered by
// service and severity. A positive limit caps the result.
func (s *Store) Alerts(serviceFilter, severityFilter string, limit int) []protocol.Alert {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ordered := s.alerts.snapshot()
	out := []protocol.Alert{}
	for i := len(ordered) - 1; i >= 0; i-- {
		a := ordered[i]
		if serviceFilter != "" && a.Service != serviceFilter {
			continue
		}
		if severityFilter != "" && a.Severity != severityFilter {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// RecentAlerts returns the newest k alerts, newest first.
func (s *Store) RecentAlerts(k int) []protocol.Alert {
	return s.Alerts("", "", k)
}

// AlertCount returns the current alert ring length.
func (s *Store) AlertCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.alerts.len()
}

// StartTime is the instant the store was created, used for uptime reporting.
func (s *Store) StartTime() time.Time {
	return s.startTime
}
