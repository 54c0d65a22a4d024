// Package publish fans subscriber events out to dashboard connections.
// Each event is serialized once; delivery is a synchronous write per
// subscriber, and a subscriber whose write fails is evicted immediately
// rather than buffered.
package publish

import (
	"errors"
	"sync"
	"time"

	"github.com/clarketm/json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/heaplane/heaplane/pkg/protocol"
)

var (
	subscriberGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscribers",
			Help: "Number of connected dashboard subscribers",
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "published_events_total",
			Help: "Total number of events fanned out, by event type",
		},
		[]string{"type"},
	)

	subscriberEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriber_evictions_total",
			Help: "Total number of subscribers evicted for write failures",
		},
	)
)

func init() {
	prometheus.MustRegister(subscriberGauge)
	prometheus.MustRegister(eventsPublished)
	prometheus.MustRegister(subscriberEvictions)
}

var errClosed = errors.New("subscriber closed")

// Conn is the transport a subscriber is reached over.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber wraps one dashboard connection.
type subscriber struct {
	conn Conn
	// This mutex serializes frames onto the socket so concurrent publishes
	// cannot interleave writes.
	mutex  sync.Mutex
	closed bool
}

func (s *subscriber) send(payload []byte, timeout time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return errClosed
	}
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *subscriber) close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}

// Publisher is the fan-out bus over the current subscriber set.
type Publisher struct {
	writeTimeout time.Duration

	// This mutex protects the membership map only; socket writes happen
	// against handles cloned after it is released.
	mutex       sync.Mutex
	subscribers map[Conn]*subscriber
}

// New creates a publisher. writeTimeout bounds each delivery attempt; a
// subscriber that cannot take a frame within it is evicted.
func New(writeTimeout time.Duration) *Publisher {
	return &Publisher{
		writeTimeout: writeTimeout,
		subscribers:  make(map[Conn]*subscriber),
	}
}

// Subscribe sends the initial event and, only if that write succeeds, adds
// the connection to the set. A subscriber therefore always sees initial as
// its first frame.
func (p *Publisher) Subscribe(conn Conn, initial protocol.Event) error {
	payload, err := json.Marshal(initial)
	if err != nil {
		return err
	}

	sub := &subscriber{conn: conn}
	if err := sub.send(payload, p.writeTimeout); err != nil {
		sub.close()
		return err
	}

	p.mutex.Lock()
	p.subscribers[conn] = sub
	count := len(p.subscribers)
	p.mutex.Unlock()

	subscriberGauge.Set(float64(count))
	log.Debugf("Subscriber added, %d connected", count)
	return nil
}

// Unsubscribe removes and closes the subscriber for conn, if present.
func (p *Publisher) Unsubscribe(conn Conn) {
	p.mutex.Lock()
	sub, ok := p.subscribers[conn]
	if ok {
		delete(p.subscribers, conn)
	}
	count := len(p.subscribers)
	p.mutex.Unlock()

	if !ok {
		return
	}
	sub.close()
	subscriberGauge.Set(float64(count))
	log.Debugf("Subscriber removed, %d connected", count)
}

// Publish serializes event once and delivers it to every subscriber.
// Subscribers whose write fails are evicted before Publish returns.
func (p *Publisher) Publish(event protocol.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to serialize %s event: %s", event.EventType(), err)
		return
	}
	eventsPublished.With(prometheus.Labels{"type": event.EventType()}).Inc()

	p.mutex.Lock()
	targets := make([]*subscriber, 0, len(p.subscribers))
	for _, sub := range p.subscribers {
		targets = append(targets, sub)
	}
	p.mutex.Unlock()

	for _, sub := range targets {
		if err := sub.send(payload, p.writeTimeout); err != nil {
			log.Debugf("Evicting subscriber after failed %s delivery: %s", event.EventType(), err)
			p.evict(sub)
		}
	}
}

// PublishAll publishes events in order.
func (p *Publisher) PublishAll(events []protocol.Event) {
	for _, event := range events {
		p.Publish(event)
	}
}

func (p *Publisher) evict(sub *subscriber) {
	p.mutex.Lock()
	delete(p.subscribers, sub.conn)
	count := len(p.subscribers)
	p.mutex.Unlock()

	sub.close()
	subscriberEvictions.Inc()
	subscriberGauge.Set(float64(count))
}

// Count returns the current subscriber count.
func (p *Publisher) Count() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.subscribers)
}

// CloseAll closes every subscriber, used at shutdown.
func (p *Publisher) CloseAll() {
	p.mutex.Lock()
	targets := make([]*subscriber, 0, len(p.subscribers))
	for _, sub := range p.subscribers {
		targets = append(targets, sub)
	}
	p.subscribers = make(map[Conn]*subscriber)
	p.mutex.Unlock()

	for _, sub := range targets {
		sub.close()
	}
	subscriberGauge.Set(0)
}
