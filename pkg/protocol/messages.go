// Package protocol defines the wire format spoken between the hub and its
// peers: tagged JSON frames from agents (memory agents and capture agents)
// and tagged JSON events fanned out to dashboard subscribers. Every frame is
// a self-describing object whose "type" field selects the message kind.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message tags accepted from agent connections.
const (
	TagRegistration             = "registration"
	TagMetrics                  = "metrics"
	TagSnapshotNotice           = "snapshot"
	TagCaptureAgentRegistration = "capture-agent-registration"
	TagSnapshotMetadata         = "snapshot-metadata"
	TagSnapshotChunk            = "snapshot-chunk"
	TagSnapshotComplete         = "snapshot-complete"
	TagComparisonReady          = "comparison-ready"
)

// ErrInvalidMessage marks a frame that fails discriminator validation: not a
// JSON object, or missing a usable "type" field. The connection handler
// replies inline with an error frame and keeps the connection open.
var ErrInvalidMessage = errors.New("invalid JSON message")

type (
	// Registration announces a metrics producer for a service.
	Registration struct {
		Service   string `json:"service"`
		Timestamp int64  `json:"timestamp"`
	}

	// Metrics is one process-memory sample from an in-process agent.
	Metrics struct {
		Service          string  `json:"service"`
		HeapUsedMB       float64 `json:"heapUsedMB"`
		HeapTotalMB      float64 `json:"heapTotalMB"`
		RSSMB            float64 `json:"rssMB"`
		ExternalMB       float64 `json:"externalMB"`
		EventLoopDelayMs float64 `json:"eventLoopDelayMs"`
		Timestamp        int64   `json:"timestamp"`
		LeakDetected     bool    `json:"leakDetected"`
		MemoryGrowthMB   float64 `json:"memoryGrowthMB"`
	}

	// SnapshotNotice is the legacy notification-only snapshot message: the
	// blob already lives somewhere on disk, the agent is just telling us.
	SnapshotNotice struct {
		Service   string `json:"service"`
		Filename  string `json:"filename"`
		Filepath  string `json:"filepath"`
		Timestamp int64  `json:"timestamp"`
	}

	// CaptureAgentRegistration announces a capture agent for a container.
	CaptureAgentRegistration struct {
		ServiceName string `json:"serviceName"`
		ContainerID string `json:"containerId"`
		Timestamp   int64  `json:"timestamp"`
	}

	// SnapshotMeta describes a chunked snapshot about to be streamed.
	// TotalChunks is advisory here; the authoritative count rides on each
	// chunk message.
	SnapshotMeta struct {
		ID          string `json:"id"`
		ServiceName string `json:"serviceName"`
		ContainerID string `json:"containerId"`
		Phase       string `json:"phase"`
		Timestamp   int64  `json:"timestamp"`
		Size        int64  `json:"size"`
		Filename    string `json:"filename"`
		TotalChunks int    `json:"totalChunks,omitempty"`
	}

	// SnapshotMetadata wraps SnapshotMeta the way capture agents send it.
	SnapshotMetadata struct {
		Snapshot SnapshotMeta `json:"snapshot"`
	}

	// SnapshotChunk carries one base64-encoded slice of a snapshot blob.
	SnapshotChunk struct {
		SnapshotID  string `json:"snapshotId"`
		ChunkIndex  int    `json:"chunkIndex"`
		TotalChunks int    `json:"totalChunks"`
		Data        string `json:"data"`
	}

	// SnapshotComplete signals that every chunk has been sent.
	SnapshotComplete struct {
		SnapshotID string `json:"snapshotId"`
	}

	// ComparisonReady asks the hub to analyze a before/after snapshot pair.
	ComparisonReady struct {
		ServiceName      string `json:"serviceName"`
		ContainerID      string `json:"containerId"`
		BeforeSnapshotID string `json:"beforeSnapshotId"`
		AfterSnapshotID  string `json:"afterSnapshotId"`
		Timeframe        string `json:"timeframe"`
		Timestamp        int64  `json:"timestamp"`
	}

	// Unknown preserves the tag of a well-formed frame whose kind the hub
	// does not handle. Handlers log and ignore it.
	Unknown struct {
		Tag string
	}
)

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a single agent frame. The returned message is one of the
// typed structs above (pointer form), or *Unknown for a well-formed frame
// with an unhandled tag. Frames that are not JSON objects or carry no tag
// yield ErrInvalidMessage; decoders never panic past the frame boundary.
func Decode(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidMessage
	}
	if env.Type == "" {
		return nil, ErrInvalidMessage
	}

	var msg interface{}
	switch env.Type {
	case TagRegistration:
		msg = &Registration{}
	case TagMetrics:
		msg = &Metrics{}
	case TagSnapshotNotice:
		msg = &SnapshotNotice{}
	case TagCaptureAgentRegistration:
		msg = &CaptureAgentRegistration{}
	case TagSnapshotMetadata:
		msg = &SnapshotMetadata{}
	case TagSnapshotChunk:
		msg = &SnapshotChunk{}
	case TagSnapshotComplete:
		msg = &SnapshotComplete{}
	case TagComparisonReady:
		msg = &ComparisonReady{}
	default:
		return &Unknown{Tag: env.Type}, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s message: %w", env.Type, err)
	}
	return msg, nil
}

// ErrorFrame is the inline reply sent when a frame fails validation.
type ErrorFrame struct {
	Error string `json:"error"`
}

// EncodeError renders the protocol error reply for a rejected frame.
func EncodeError(msg string) []byte {
	out, _ := json.Marshal(ErrorFrame{Error: msg})
	return out
}
