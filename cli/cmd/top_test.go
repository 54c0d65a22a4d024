package cmd

import (
	"testing"

	"github.com/heaplane/heaplane/pkg/protocol"
)

func TestTopTableApply(t *testing.T) {
	table := newTopTable()

	table.apply(protocol.NewInitialEvent(
		[]protocol.ServiceInfo{
			{
				Name:        "svc-a",
				Status:      protocol.StatusConnected,
				TotalAlerts: 2,
				LastMetrics: &protocol.Metrics{HeapUsedMB: 120, RSSMB: 300},
			},
			{Name: "svc-b", Status: protocol.StatusConnected},
		},
		nil,
	))

	if len(table.rows) != 2 {
		t.Fatalf("Expected 2 rows after initial event, got %d", len(table.rows))
	}
	row := table.row("svc-a")
	if row.heapUsedMB != 120 || row.rssMB != 300 || row.alerts != 2 {
		t.Errorf("Initial event not folded into row: %+v", row)
	}

	table.apply(protocol.NewMetricsUpdateEvent("svc-a", protocol.Metrics{
		HeapUsedMB:     150,
		LeakDetected:   true,
		MemoryGrowthMB: 30,
	}))

	row = table.row("svc-a")
	if row.heapUsedMB != 150 || !row.leaking || row.growthMB != 30 {
		t.Errorf("Metrics update not folded into row: %+v", row)
	}
	if row.samples != 1 {
		t.Errorf("Expected 1 sample counted, got %d", row.samples)
	}

	table.apply(protocol.NewLeakAlertEvent(protocol.Alert{Service: "svc-a"}))
	if table.row("svc-a").alerts != 3 {
		t.Errorf("Expected alert counter at 3, got %d", table.row("svc-a").alerts)
	}

	// A metrics update for an unseen service appends a row on the fly.
	table.apply(protocol.NewMetricsUpdateEvent("svc-c", protocol.Metrics{HeapUsedMB: 10}))
	if len(table.rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(table.rows))
	}
}

func TestTopTableHidesDisconnected(t *testing.T) {
	table := newTopTable()
	table.hideDisconnected = true

	table.apply(protocol.NewServiceRegisteredEvent("svc-a", 1))
	table.apply(protocol.NewServiceRegisteredEvent("svc-b", 2))
	table.apply(protocol.NewServiceUpdateEvent("svc-b", protocol.StatusDisconnected, 3))

	visible := table.visibleRows()
	if len(visible) != 1 || visible[0].service != "svc-a" {
		t.Errorf("Expected only svc-a visible, got %+v", visible)
	}

	table.hideDisconnected = false
	if len(table.visibleRows()) != 2 {
		t.Errorf("Expected both rows visible, got %+v", table.visibleRows())
	}
}

func TestTopTableAdjustColumnWidths(t *testing.T) {
	table := newTopTable()

	longName := "a-service-with-a-rather-long-name"
	table.apply(protocol.NewServiceRegisteredEvent(longName, 1))
	table.adjustColumnWidths()

	if table.columns[serviceColumn].width != len(longName) {
		t.Errorf("Expected service column width %d, got %d",
			len(longName), table.columns[serviceColumn].width)
	}
}
