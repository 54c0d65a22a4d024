package protocol

import (
	"encoding/json"
	"fmt"
)

// Event tags sent to dashboard subscribers.
const (
	EventInitial                = "initial"
	EventServiceRegistered      = "serviceRegistered"
	EventServiceUpdate          = "serviceUpdate"
	EventMetricsUpdate          = "metricsUpdate"
	EventLeakAlert              = "leakAlert"
	EventSnapshotAlert          = "snapshotAlert"
	EventCaptureAgentRegistered = "captureAgentRegistered"
	EventSnapshotStarted        = "snapshotStarted"
	EventSnapshotProgress       = "snapshotProgress"
	EventSnapshotCompleted      = "snapshotCompleted"
	EventComparisonStarted      = "comparisonStarted"
	EventComparisonCompleted    = "comparisonCompleted"
	EventComparisonFailed       = "comparisonFailed"
	EventComparisonPending      = "comparisonPending"
)

// Event is a server-to-subscriber frame. EventType returns the wire tag,
// which every event also serializes as its "type" field.
type Event interface {
	EventType() string
}

// Alert and severity kinds.
const (
	AlertKindLeak     = "leak"
	AlertKindSnapshot = "snapshot"

	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Service status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Snapshot phases.
const (
	PhaseBefore = "before"
	PhaseAfter  = "after"
)

// Snapshot reassembly states.
const (
	SnapshotStatusAnnounced = "announced"
	SnapshotStatusReceiving = "receiving"
	SnapshotStatusComplete  = "complete"
)

type (
	// ServiceInfo is the wire form of a service record.
	ServiceInfo struct {
		Name         string   `json:"name"`
		Status       string   `json:"status"`
		RegisteredAt int64    `json:"registeredAt"`
		LastSeen     int64    `json:"lastSeen"`
		TotalAlerts  int      `json:"totalAlerts"`
		LastMetrics  *Metrics `json:"lastMetrics,omitempty"`
	}

	// Alert is the wire form of a recorded alert. Kind-specific fields are
	// optional and omitted when empty.
	Alert struct {
		ID             int64   `json:"id"`
		Service        string  `json:"service"`
		Kind           string  `json:"type"`
		Severity       string  `json:"severity"`
		Message        string  `json:"message"`
		Timestamp      int64   `json:"timestamp"`
		HeapUsedMB     float64 `json:"heapUsedMB,omitempty"`
		MemoryGrowthMB float64 `json:"memoryGrowthMB,omitempty"`
		Filename       string  `json:"filename,omitempty"`
		Filepath       string  `json:"filepath,omitempty"`
		SessionID      string  `json:"sessionId,omitempty"`
	}

	// SnapshotInfo is the wire form of a snapshot record. Chunk contents are
	// never carried on events, only counts. Filepath is set once the payload
	// is persisted.
	SnapshotInfo struct {
		ID             string `json:"id"`
		ServiceName    string `json:"serviceName"`
		ContainerID    string `json:"containerId,omitempty"`
		Phase          string `json:"phase"`
		Timestamp      int64  `json:"timestamp"`
		Size           int64  `json:"size"`
		Filename       string `json:"filename"`
		Filepath       string `json:"filepath,omitempty"`
		TotalChunks    int    `json:"totalChunks"`
		ReceivedChunks int    `json:"receivedChunks"`
		Status         string `json:"status"`
	}
)

type (
	// InitialEvent is the first frame every subscriber receives: the connected
	// services and the most recent alerts.
	InitialEvent struct {
		Type     string        `json:"type"`
		Services []ServiceInfo `json:"services"`
		Alerts   []Alert       `json:"alerts"`
	}

	ServiceRegisteredEvent struct {
		Type      string `json:"type"`
		Service   string `json:"service"`
		Timestamp int64  `json:"timestamp"`
	}

	ServiceUpdateEvent struct {
		Type      string `json:"type"`
		Service   string `json:"service"`
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}

	MetricsUpdateEvent struct {
		Type    string  `json:"type"`
		Service string  `json:"service"`
		Metrics Metrics `json:"metrics"`
	}

	LeakAlertEvent struct {
		Type  string `json:"type"`
		Alert Alert  `json:"alert"`
	}

	SnapshotAlertEvent struct {
		Type  string `json:"type"`
		Alert Alert  `json:"alert"`
	}

	CaptureAgentRegisteredEvent struct {
		Type        string `json:"type"`
		ServiceName string `json:"serviceName"`
		ContainerID string `json:"containerId"`
		Timestamp   int64  `json:"timestamp"`
	}

	SnapshotStartedEvent struct {
		Type     string       `json:"type"`
		Snapshot SnapshotInfo `json:"snapshot"`
	}

	SnapshotProgressEvent struct {
		Type           string  `json:"type"`
		SnapshotID     string  `json:"snapshotId"`
		ReceivedChunks int     `json:"receivedChunks"`
		TotalChunks    int     `json:"totalChunks"`
		Progress       float64 `json:"progress"`
	}

	SnapshotCompletedEvent struct {
		Type       string `json:"type"`
		SnapshotID string `json:"snapshotId"`
		Filename   string `json:"filename"`
		Size       int64  `json:"size"`
	}

	ComparisonStartedEvent struct {
		Type        string `json:"type"`
		SessionID   string `json:"sessionId"`
		ServiceName string `json:"serviceName"`
	}

	ComparisonCompletedEvent struct {
		Type      string          `json:"type"`
		SessionID string          `json:"sessionId"`
		Analysis  *AnalysisReport `json:"analysis"`
	}

	ComparisonFailedEvent struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
		Error     string `json:"error"`
	}

	// MissingSnapshots flags which half of a comparison pair is absent or
	// incomplete.
	MissingSnapshots struct {
		Before bool `json:"before"`
		After  bool `json:"after"`
	}

	ComparisonPendingEvent struct {
		Type             string           `json:"type"`
		SessionID        string           `json:"sessionId"`
		MissingSnapshots MissingSnapshots `json:"missingSnapshots"`
	}
)

func (e *InitialEvent) EventType() string { return e.Type }

func (e *ServiceRegisteredEvent) EventType() string { return e.Type }

func (e *ServiceUpdateEvent) EventType() string { return e.Type }

func (e *MetricsUpdateEvent) EventType() string { return e.Type }

func (e *LeakAlertEvent) EventType() string { return e.Type }

func (e *SnapshotAlertEvent) EventType() string { return e.Type }

func (e *CaptureAgentRegisteredEvent) EventType() string { return e.Type }

func (e *SnapshotStartedEvent) EventType() string { return e.Type }

func (e *SnapshotProgressEvent) EventType() string { return e.Type }

func (e *SnapshotCompletedEvent) EventType() string { return e.Type }

func (e *ComparisonStartedEvent) EventType() string { return e.Type }

func (e *ComparisonCompletedEvent) EventType() string { return e.Type }

func (e *ComparisonFailedEvent) EventType() string { return e.Type }

func (e *ComparisonPendingEvent) EventType() string { return e.Type }

func NewInitialEvent(services []ServiceInfo, alerts []Alert) *InitialEvent {
	return &InitialEvent{Type: EventInitial, Services: services, Alerts: alerts}
}

func NewServiceRegisteredEvent(service string, ts int64) *ServiceRegisteredEvent {
	return &ServiceRegisteredEvent{Type: EventServiceRegistered, Service: service, Timestamp: ts}
}

func NewServiceUpdateEvent(service, status string, ts int64) *ServiceUpdateEvent {
	return &ServiceUpdateEvent{Type: EventServiceUpdate, Service: service, Status: status, Timestamp: ts}
}

func NewMetricsUpdateEvent(service string, m Metrics) *MetricsUpdateEvent {
	return &MetricsUpdateEvent{Type: EventMetricsUpdate, Service: service, Metrics: m}
}

func NewLeakAlertEvent(alert Alert) *LeakAlertEvent {
	return &LeakAlertEvent{Type: EventLeakAlert, Alert: alert}
}

func NewSnapshotAlertEvent(alert Alert) *SnapshotAlertEvent {
	return &SnapshotAlertEvent{Type: EventSnapshotAlert, Alert: alert}
}

func NewCaptureAgentRegisteredEvent(serviceName, containerID string, ts int64) *CaptureAgentRegisteredEvent {
	return &CaptureAgentRegisteredEvent{
		Type:        EventCaptureAgentRegistered,
		ServiceName: serviceName,
		ContainerID: containerID,
		Timestamp:   ts,
	}
}

func NewSnapshotStartedEvent(info SnapshotInfo) *SnapshotStartedEvent {
	return &SnapshotStartedEvent{Type: EventSnapshotStarted, Snapshot: info}
}

func NewSnapshotProgressEvent(id string, received, total int) *SnapshotProgressEvent {
	progress := 0.0
	if total > 0 {
		progress = float64(received) / float64(total) * 100
	}
	return &SnapshotProgressEvent{
		Type:           EventSnapshotProgress,
		SnapshotID:     id,
		ReceivedChunks: received,
		TotalChunks:    total,
		Progress:       progress,
	}
}

func NewSnapshotCompletedEvent(id, filename string, size int64) *SnapshotCompletedEvent {
	return &SnapshotCompletedEvent{Type: EventSnapshotCompleted, SnapshotID: id, Filename: filename, Size: size}
}

func NewComparisonStartedEvent(sessionID, serviceName string) *ComparisonStartedEvent {
	return &ComparisonStartedEvent{Type: EventComparisonStarted, SessionID: sessionID, ServiceName: serviceName}
}

func NewComparisonCompletedEvent(sessionID string, analysis *AnalysisReport) *ComparisonCompletedEvent {
	return &ComparisonCompletedEvent{Type: EventComparisonCompleted, SessionID: sessionID, Analysis: analysis}
}

func NewComparisonFailedEvent(sessionID, errMsg string) *ComparisonFailedEvent {
	return &ComparisonFailedEvent{Type: EventComparisonFailed, SessionID: sessionID, Error: errMsg}
}

func NewComparisonPendingEvent(sessionID string, missing MissingSnapshots) *ComparisonPendingEvent {
	return &ComparisonPendingEvent{Type: EventComparisonPending, SessionID: sessionID, MissingSnapshots: missing}
}

// DecodeEvent parses a server-to-subscriber frame, the client-side mirror of
// the hub's event encoding. The returned event is one of the typed structs
// above. Frames without a usable tag yield ErrInvalidMessage; frames with an
// unrecognized tag are returned as nil with no error so stream consumers can
// skip event kinds newer than themselves.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidMessage
	}
	if env.Type == "" {
		return nil, ErrInvalidMessage
	}

	var event Event
	switch env.Type {
	case EventInitial:
		event = &InitialEvent{}
	case EventServiceRegistered:
		event = &ServiceRegisteredEvent{}
	case EventServiceUpdate:
		event = &ServiceUpdateEvent{}
	case EventMetricsUpdate:
		event = &MetricsUpdateEvent{}
	case EventLeakAlert:
		event = &LeakAlertEvent{}
	case EventSnapshotAlert:
		event = &SnapshotAlertEvent{}
	case EventCaptureAgentRegistered:
		event = &CaptureAgentRegisteredEvent{}
	case EventSnapshotStarted:
		event = &SnapshotStartedEvent{}
	case EventSnapshotProgress:
		event = &SnapshotProgressEvent{}
	case EventSnapshotCompleted:
		event = &SnapshotCompletedEvent{}
	case EventComparisonStarted:
		event = &ComparisonStartedEvent{}
	case EventComparisonCompleted:
		event = &ComparisonCompletedEvent{}
	case EventComparisonFailed:
		event = &ComparisonFailedEvent{}
	case EventComparisonPending:
		event = &ComparisonPendingEvent{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("malformed %s event: %w", env.Type, err)
	}
	return event, nil
}
