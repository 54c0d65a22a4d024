package store

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/heaplane/heaplane/pkg/protocol"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct {
	addr string
}

func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr(c.addr) }

func newTestStore() *Store {
	return New(1000, 100, time.Minute)
}

func TestRegisterServiceEmitsEvent(t *testing.T) {
	s := newTestStore()
	events := s.RegisterService("svc-a", 1000000, &fakeConn{addr: "10.0.0.1:1234"})

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	registered, ok := events[0].(*protocol.ServiceRegisteredEvent)
	if !ok {
		t.Fatalf("Expected serviceRegistered event, got %T", events[0])
	}
	if registered.Service != "svc-a" || registered.Timestamp != 1000000 {
		t.Fatalf("Unexpected event payload: %+v", registered)
	}

	services := s.ConnectedServices()
	if len(services) != 1 || services[0].Name != "svc-a" {
		t.Fatalf("Expected svc-a connected, got %+v", services)
	}
	if services[0].Status != protocol.StatusConnected {
		t.Fatalf("Expected connected status, got %s", services[0].Status)
	}
}

func TestRegisterSupersedesPreviousConnection(t *testing.T) {
	s := newTestStore()
	first := &fakeConn{addr: "10.0.0.1:1"}
	second := &fakeConn{addr: "10.0.0.2:2"}

	s.RegisterService("svc-a", 1, first)
	s.RegisterService("svc-a", 2, second)

	// The superseded connection no longer owns the service, so its close
	// must not transition it.
	if events := s.DisconnectOwned(first); len(events) != 0 {
		t.Fatalf("Superseded connection should own nothing, got events %+v", events)
	}
	if len(s.ConnectedServices()) != 1 {
		t.Fatal("Service should still be connected")
	}

	events := s.DisconnectOwned(second)
	if len(events) != 1 {
		t.Fatalf("Expected 1 serviceUpdate, got %d", len(events))
	}
	update := events[0].(*protocol.ServiceUpdateEvent)
	if update.Service != "svc-a" || update.Status != protocol.StatusDisconnected {
		t.Fatalf("Unexpected update payload: %+v", update)
	}
	if len(s.ConnectedServices()) != 0 {
		t.Fatal("Service should be disconnected")
	}
}

func TestIngestMetricEmitsUpdate(t *testing.T) {
	s := newTestStore()
	s.RegisterService("svc-a", 1, &fakeConn{})

	events := s.IngestMetric(protocol.Metrics{
		Service:     "svc-a",
		HeapUsedMB:  120,
		HeapTotalMB: 200,
		Timestamp:   1000100,
	})

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	update, ok := events[0].(*protocol.MetricsUpdateEvent)
	if !ok {
		t.Fatalf("Expected metricsUpdate, got %T", events[0])
	}
	if update.Service != "svc-a" || update.Metrics.HeapUsedMB != 120 {
		t.Fatalf("Unexpected payload: %+v", update)
	}

	services := s.ConnectedServices()
	if services[0].LastMetrics == nil || services[0].LastMetrics.HeapUsedMB != 120 {
		t.Fatalf("Last metric not recorded: %+v", services[0])
	}
}

func TestIngestMetricForUnknownServiceCreatesRecord(t *testing.T) {
	s := newTestStore()
	s.IngestMetric(protocol.Metrics{Service: "svc-x", Timestamp: 5})

	samples, total, ok := s.MetricsWindow("svc-x", 0, 0, 0)
	if !ok {
		t.Fatal("Expected svc-x to exist")
	}
	if total != 1 || len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got total=%d len=%d", total, len(samples))
	}
}

func TestLeakDetectedRecordsCriticalAlert(t *testing.T) {
	s := newTestStore()
	s.RegisterService("svc-a", 1, &fakeConn{})

	events := s.IngestMetric(protocol.Metrics{
		Service:        "svc-a",
		HeapUsedMB:     800,
		MemoryGrowthMB: 50,
		Timestamp:      2000,
		LeakDetected:   true,
	})

	if len(events) != 2 {
		t.Fatalf("Expected metricsUpdate + leakAlert, got %d events", len(events))
	}
	leak, ok := events[1].(*protocol.LeakAlertEvent)
	if !ok {
		t.Fatalf("Expected leakAlert second, got %T", events[1])
	}
	if leak.Alert.Severity != protocol.SeverityCritical {
		t.Fatalf("Expected critical severity, got %s", leak.Alert.Severity)
	}
	if leak.Alert.Kind != protocol.AlertKindLeak {
		t.Fatalf("Expected leak kind, got %s", leak.Alert.Kind)
	}
	if leak.Alert.ID == 0 {
		t.Fatal("Alert id not assigned")
	}
	if leak.Alert.HeapUsedMB != 800 || leak.Alert.MemoryGrowthMB != 50 {
		t.Fatalf("Alert should carry the sample's fields: %+v", leak.Alert)
	}

	services := s.ConnectedServices()
	if services[0].TotalAlerts != 1 {
		t.Fatalf("Expected totalAlerts 1, got %d", services[0].TotalAlerts)
	}

	critical := s.Alerts("", protocol.SeverityCritical, 0)
	if len(critical) != 1 {
		t.Fatalf("Expected 1 critical alert, got %d", len(critical))
	}
}

func TestMetricRingCapEvictsOldest(t *testing.T) {
	s := newTestStore()
	for ts := int64(0); ts <= 1000; ts++ {
		s.IngestMetric(protocol.Metrics{Service: "svc-a", Timestamp: ts})
	}

	samples, total, _ := s.MetricsWindow("svc-a", 0, 0, 0)
	if total != 1000 {
		t.Fatalf("Expected ring capped at 1000, got %d", total)
	}
	if samples[0].Timestamp != 1 {
		t.Fatalf("Expected oldest sample evicted, first is ts=%d", samples[0].Timestamp)
	}
	if samples[len(samples)-1].Timestamp != 1000 {
		t.Fatalf("Expected newest sample kept, last is ts=%d", samples[len(samples)-1].Timestamp)
	}
}

func TestMetricsWindowFiltersAndLimits(t *testing.T) {
	s := newTestStore()
	for ts := int64(1); ts <= 10; ts++ {
		s.IngestMetric(protocol.Metrics{Service: "svc-a", Timestamp: ts})
	}

	expectations := []struct {
		from, to      int64
		limit         int
		expectedTotal int
		expectedFirst int64
		expectedLast  int64
	}{
		{0, 0, 0, 10, 1, 10},
		{3, 7, 0, 5, 3, 7},
		{0, 0, 4, 10, 7, 10},
		{2, 9, 3, 8, 7, 9},
	}

	for _, exp := range expectations {
		samples, total, ok := s.MetricsWindow("svc-a", exp.from, exp.to, exp.limit)
		if !ok {
			t.Fatal("Expected svc-a to exist")
		}
		if total != exp.expectedTotal {
			t.Errorf("Window [%d,%d] limit %d: expected total %d, got %d",
				exp.from, exp.to, exp.limit, exp.expectedTotal, total)
		}
		if samples[0].Timestamp != exp.expectedFirst || samples[len(samples)-1].Timestamp != exp.expectedLast {
			t.Errorf("Window [%d,%d] limit %d: expected [%d..%d], got [%d..%d]",
				exp.from, exp.to, exp.limit, exp.expectedFirst, exp.expectedLast,
				samples[0].Timestamp, samples[len(samples)-1].Timestamp)
		}
	}

	if _, _, ok := s.MetricsWindow("nope", 0, 0, 0); ok {
		t.Fatal("Expected unknown service to report not found")
	}
}

func TestAlertRingCap(t *testing.T) {
	s := New(10, 5, time.Minute)
	for i := 0; i < 8; i++ {
		s.RecordAlert(protocol.Alert{
			Service:  fmt.Sprintf("svc-%d", i),
			Kind:     protocol.AlertKindSnapshot,
			Severity: protocol.SeverityInfo,
		})
	}

	if s.AlertCount() != 5 {
		t.Fatalf("Expected alert ring capped at 5, got %d", s.AlertCount())
	}

	alerts := s.Alerts("", "", 0)
	if alerts[0].ID != 8 {
		t.Fatalf("Expected newest alert first, got id %d", alerts[0].ID)
	}
	if alerts[len(alerts)-1].ID != 4 {
		t.Fatalf("Expected ids 1-3 evicted, oldest kept is %d", alerts[len(alerts)-1].ID)
	}
}

func TestAlertsFilter(t *testing.T) {
	s := newTestStore()
	s.RecordAlert(protocol.Alert{Service: "svc-a", Kind: protocol.AlertKindLeak, Severity: protocol.SeverityCritical})
	s.RecordAlert(protocol.Alert{Service: "svc-b", Kind: protocol.AlertKindSnapshot, Severity: protocol.SeverityInfo})
	s.RecordAlert(protocol.Alert{Service: "svc-a", Kind: protocol.AlertKindLeak, Severity: protocol.SeverityWarning})

	if alerts := s.Alerts("svc-a", "", 0); len(alerts) != 2 {
		t.Fatalf("Expected 2 svc-a alerts, got %d", len(alerts))
	}
	if alerts := s.Alerts("", protocol.SeverityInfo, 0); len(alerts) != 1 || alerts[0].Service != "svc-b" {
		t.Fatalf("Unexpected info alerts: %+v", alerts)
	}
	if alerts := s.Alerts("", "", 1); len(alerts) != 1 || alerts[0].Severity != protocol.SeverityWarning {
		t.Fatalf("Expected only the newest alert, got %+v", alerts)
	}
}

func TestSweepInactiveTransitionsOnce(t *testing.T) {
	s := New(10, 10, time.Minute)
	s.RegisterService("svc-b", 1, &fakeConn{})

	// Within the deadline nothing happens.
	if events := s.SweepInactive(time.Now().Add(30 * time.Second)); len(events) != 0 {
		t.Fatalf("Expected no transition before deadline, got %+v", events)
	}

	deadline := time.Now().Add(2 * time.Minute)
	events := s.SweepInactive(deadline)
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 serviceUpdate, got %d", len(events))
	}
	update := events[0].(*protocol.ServiceUpdateEvent)
	if update.Service != "svc-b" || update.Status != protocol.StatusDisconnected {
		t.Fatalf("Unexpected update: %+v", update)
	}

	// A second sweep must not re-emit.
	if events := s.SweepInactive(deadline.Add(time.Minute)); len(events) != 0 {
		t.Fatalf("Expected no repeat transition, got %+v", events)
	}

	if len(s.ConnectedServices()) != 0 {
		t.Fatal("svc-b should no longer be listed as connected")
	}
}

func TestDisconnectPreservesMetricsAndAlerts(t *testing.T) {
	s := newTestStore()
	conn := &fakeConn{}
	s.RegisterService("svc-a", 1, conn)
	s.IngestMetric(protocol.Metrics{Service: "svc-a", Timestamp: 2, LeakDetected: true})
	s.DisconnectOwned(conn)

	_, total, ok := s.MetricsWindow("svc-a", 0, 0, 0)
	if !ok || total != 1 {
		t.Fatalf("Metrics should survive disconnect: ok=%t total=%d", ok, total)
	}
	if len(s.Alerts("svc-a", "", 0)) != 1 {
		t.Fatal("Alerts should survive disconnect")
	}
}

func TestStatsCounts(t *testing.T) {
	s := newTestStore()
	conn := &fakeConn{}
	s.RegisterService("svc-a", 1, conn)
	s.RegisterService("svc-b", 2, &fakeConn{})
	s.DisconnectOwned(conn)
	s.RecordAlert(protocol.Alert{Service: "svc-a"})

	stats := s.Stats()
	if stats.Services.Total != 2 || stats.Services.Connected != 1 {
		t.Fatalf("Unexpected service counts: %+v", stats.Services)
	}
	if stats.Alerts != 1 {
		t.Fatalf("Expected 1 alert, got %d", stats.Alerts)
	}
	if stats.Memory.HeapAllocMB <= 0 {
		t.Fatalf("Expected process memory usage, got %+v", stats.Memory)
	}
}
