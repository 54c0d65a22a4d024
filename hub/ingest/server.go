// Package ingest owns the hub's listening surface. One socket accepts both
// websocket upgrades and plain HTTP: upgraded connections are classified by
// request path into dashboard subscribers and telemetry agents, and anything
// else is handed to the REST router.
package ingest

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/heaplane/heaplane/hub/analysis"
	"github.com/heaplane/heaplane/hub/publish"
	"github.com/heaplane/heaplane/hub/reassembly"
	"github.com/heaplane/heaplane/hub/store"
	"github.com/heaplane/heaplane/pkg/protocol"
)

const (
	replyTimeout = 10 * time.Second

	// initialAlertCount is how many recent alerts ride on the initial
	// event sent to a fresh subscriber.
	initialAlertCount = 10
)

var framesReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "frames_received_total",
		Help: "Total number of frames received from agent connections",
	},
	[]string{"type"},
)

var invalidFrames = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "invalid_frames_total",
		Help: "Total number of agent frames rejected as malformed",
	},
)

var agentConnections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "agent_connections_total",
		Help: "Total number of agent connections accepted",
	},
)

var dashboardConnections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dashboard_connections_total",
		Help: "Total number of dashboard subscriber connections accepted",
	},
)

func init() {
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(invalidFrames)
	prometheus.MustRegister(agentConnections)
	prometheus.MustRegister(dashboardConnections)
}

// Server multiplexes the hub's single listening port. It upgrades websocket
// requests itself and delegates everything else to the REST handler.
type Server struct {
	store       *store.Store
	publisher   *publish.Publisher
	reassembler *reassembly.Reassembler
	coordinator *analysis.Coordinator
	api         http.Handler

	upgrader      websocket.Upgrader
	maxFrameBytes int64
}

// NewServer wires the connection handler to its collaborators. The caller
// mounts the returned handler on its http.Server.
func NewServer(
	maxFrameBytes int64,
	allowedOrigin string,
	st *store.Store,
	publisher *publish.Publisher,
	reassembler *reassembly.Reassembler,
	coordinator *analysis.Coordinator,
	api http.Handler,
) *Server {
	return &Server{
		store:         st,
		publisher:     publisher,
		reassembler:   reassembler,
		coordinator:   coordinator,
		api:           api,
		maxFrameBytes: maxFrameBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
	}
}

// this is called by the HTTP server to actually respond to a request
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if websocket.IsWebSocketUpgrade(req) {
		s.serveSocket(w, req)
		return
	}
	s.api.ServeHTTP(w, req)
}

// serveSocket upgrades the request and classifies the connection. A path
// matching "dashboard" is a subscriber; everything else is an agent whose
// frames identify it.
func (s *Server) serveSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Errorf("Websocket upgrade from %s failed: %s", req.RemoteAddr, err)
		return
	}

	if strings.Contains(req.URL.Path, "dashboard") {
		s.serveSubscriber(conn)
		return
	}
	s.serveAgent(conn)
}

func (s *Server) serveSubscriber(conn *websocket.Conn) {
	dashboardConnections.Inc()

	initial := protocol.NewInitialEvent(
		s.store.ConnectedServices(),
		s.store.RecentAlerts(initialAlertCount),
	)
	if err := s.publisher.Subscribe(conn, initial); err != nil {
		log.Errorf("Dashboard handshake with %s failed: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	log.Infof("Dashboard connected from %s", conn.RemoteAddr())

	// Subscribers only listen. Draining reads here surfaces the peer's
	// close frame so the membership table can forget the connection.
	conn.SetReadLimit(s.maxFrameBytes)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.publisher.Unsubscribe(conn)
	log.Infof("Dashboard disconnected from %s", conn.RemoteAddr())
}

func (s *Server) serveAgent(conn *websocket.Conn) {
	agentConnections.Inc()
	log.Infof("Agent connected from %s", conn.RemoteAddr())

	conn.SetReadLimit(s.maxFrameBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("Agent connection from %s closed: %s", conn.RemoteAddr(), err)
			}
			break
		}
		s.dispatch(conn, data)
	}

	// The closed connection may own service records; flip them to
	// disconnected before the dashboards hear anything else.
	events := s.store.DisconnectOwned(conn)
	s.publisher.PublishAll(events)
	log.Infof("Agent disconnected from %s", conn.RemoteAddr())
}

// dispatch applies one agent frame. Frames are handled in arrival order on
// the connection's read goroutine; nothing here blocks on analysis.
func (s *Server) dispatch(conn *websocket.Conn, data []byte) {
	decoded, err := protocol.Decode(data)
	if err != nil {
		invalidFrames.Inc()
		log.Warnf("Rejecting frame from %s: %s", conn.RemoteAddr(), err)
		s.replyError(conn, "Invalid JSON message")
		return
	}

	switch msg := decoded.(type) {
	case *protocol.Registration:
		framesReceived.With(prometheus.Labels{"type": protocol.TagRegistration}).Inc()
		s.publisher.PublishAll(s.store.RegisterService(msg.Service, msg.Timestamp, conn))

	case *protocol.Metrics:
		framesReceived.With(prometheus.Labels{"type": protocol.TagMetrics}).Inc()
		s.publisher.PublishAll(s.store.IngestMetric(*msg))

	case *protocol.SnapshotNotice:
		framesReceived.With(prometheus.Labels{"type": protocol.TagSnapshotNotice}).Inc()
		alert := s.store.RecordAlert(protocol.Alert{
			Service:   msg.Service,
			Kind:      protocol.AlertKindSnapshot,
			Severity:  protocol.SeverityInfo,
			Message:   fmt.Sprintf("Heap snapshot captured for %s: %s", msg.Service, msg.Filename),
			Timestamp: msg.Timestamp,
			Filename:  msg.Filename,
			Filepath:  msg.Filepath,
		})
		s.publisher.Publish(protocol.NewSnapshotAlertEvent(alert))

	case *protocol.CaptureAgentRegistration:
		framesReceived.With(prometheus.Labels{"type": protocol.TagCaptureAgentRegistration}).Inc()
		events := s.store.RegisterService("capture-"+msg.ServiceName, msg.Timestamp, conn)
		events = append(events, protocol.NewCaptureAgentRegisteredEvent(msg.ServiceName, msg.ContainerID, msg.Timestamp))
		s.publisher.PublishAll(events)

	case *protocol.SnapshotMetadata:
		framesReceived.With(prometheus.Labels{"type": protocol.TagSnapshotMetadata}).Inc()
		s.publisher.PublishAll(s.reassembler.Announce(msg.Snapshot))

	case *protocol.SnapshotChunk:
		framesReceived.With(prometheus.Labels{"type": protocol.TagSnapshotChunk}).Inc()
		s.publisher.PublishAll(s.reassembler.Chunk(msg))

	case *protocol.SnapshotComplete:
		framesReceived.With(prometheus.Labels{"type": protocol.TagSnapshotComplete}).Inc()
		s.publisher.PublishAll(s.reassembler.Complete(msg))

	case *protocol.ComparisonReady:
		framesReceived.With(prometheus.Labels{"type": protocol.TagComparisonReady}).Inc()
		s.coordinator.HandleComparisonReady(msg)

	case *protocol.Unknown:
		framesReceived.With(prometheus.Labels{"type": "unknown"}).Inc()
		log.Debugf("Ignoring unhandled message type %q from %s", msg.Tag, conn.RemoteAddr())
	}
}

// replyError answers a malformed frame inline and keeps the connection open.
func (s *Server) replyError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(replyTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, protocol.EncodeError(msg)); err != nil {
		log.Debugf("Error reply to %s failed: %s", conn.RemoteAddr(), err)
	}
}

func checkOrigin(allowed string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		if allowed == "" || allowed == "*" {
			return true
		}
		// Agents are not browsers and send no Origin header at all.
		origin := req.Header.Get("Origin")
		return origin == "" || origin == allowed
	}
}
