package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/heaplane/heaplane/hub/store"
	"github.com/heaplane/heaplane/pkg/protocol"
)

// Growth beyond this is reported as a critical leak alert.
const criticalGrowthMB = 50

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of comparison analyses, by outcome",
		},
		[]string{"outcome"},
	)

	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Wall-clock duration of comparison analyses",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(analysesTotal)
	prometheus.MustRegister(analysisDuration)
}

// EventSink receives the events a coordinating operation produces.
type EventSink interface {
	Publish(event protocol.Event)
}

// Coordinator owns comparison sessions. It drives each one along
// waiting -> analyzing -> {completed, failed} and never re-enters a state.
type Coordinator struct {
	store          *store.Store
	sink           EventSink
	primary        Analyzer
	fallback       Analyzer
	thresholdBytes int64
	timeout        time.Duration
}

// NewCoordinator wires the coordinator to the session store and event sink.
// fallback may be nil; timeout of zero runs analyses unbounded.
func NewCoordinator(st *store.Store, sink EventSink, primary, fallback Analyzer, thresholdBytes int64, timeout time.Duration) *Coordinator {
	return &Coordinator{
		store:          st,
		sink:           sink,
		primary:        primary,
		fallback:       fallback,
		thresholdBytes: thresholdBytes,
		timeout:        timeout,
	}
}

// HandleComparisonReady creates a session for the trigger and, if both
// snapshots are complete, runs the analysis off the caller's goroutine.
func (c *Coordinator) HandleComparisonReady(msg *protocol.ComparisonReady) {
	sess, missing, ready := c.open(msg.ServiceName, msg.ContainerID, msg.BeforeSnapshotID, msg.AfterSnapshotID)
	if !ready {
		if missing.Before || missing.After {
			c.sink.Publish(protocol.NewComparisonPendingEvent(sess.ID, missing))
		}
		return
	}

	c.sink.Publish(protocol.NewComparisonStartedEvent(sess.ID, sess.ServiceName))
	go c.run(sess)
}

// RunSync is the inline variant used by the synchronous compare endpoint.
// The returned session is terminal when both snapshots were present, and
// waiting (with the missing flags set) otherwise.
func (c *Coordinator) RunSync(serviceName, containerID, beforeID, afterID string) (store.ComparisonSession, protocol.MissingSnapshots) {
	sess, missing, ready := c.open(serviceName, containerID, beforeID, afterID)
	if !ready {
		if missing.Before || missing.After {
			c.sink.Publish(protocol.NewComparisonPendingEvent(sess.ID, missing))
		}
		return sess, missing
	}

	c.sink.Publish(protocol.NewComparisonStartedEvent(sess.ID, sess.ServiceName))
	return c.run(sess), protocol.MissingSnapshots{}
}

// open persists a new waiting session and checks both snapshot references.
// ready is true when the session moved to analyzing.
func (c *Coordinator) open(serviceName, containerID, beforeID, afterID string) (store.ComparisonSession, protocol.MissingSnapshots, bool) {
	now := time.Now().UnixMilli()
	id := fmt.Sprintf("comparison_%s_%d", serviceName, now)
	for bump := int64(1); ; bump++ {
		if _, exists := c.store.SessionByID(id); !exists {
			break
		}
		id = fmt.Sprintf("comparison_%s_%d", serviceName, now+bump)
	}

	sess := c.store.CreateSession(store.ComparisonSession{
		ID:               id,
		ServiceName:      serviceName,
		ContainerID:      containerID,
		BeforeSnapshotID: beforeID,
		AfterSnapshotID:  afterID,
		CreatedAt:        now,
	})

	missing := protocol.MissingSnapshots{}
	if before, ok := c.store.SnapshotByID(beforeID); !ok || before.Status != protocol.SnapshotStatusComplete {
		missing.Before = true
	}
	if after, ok := c.store.SnapshotByID(afterID); !ok || after.Status != protocol.SnapshotStatusComplete {
		missing.After = true
	}
	if missing.Before || missing.After {
		log.Infof("Comparison %s waiting on snapshots (before missing: %t, after missing: %t)",
			id, missing.Before, missing.After)
		return sess, missing, false
	}

	if !c.store.MarkSessionAnalyzing(id) {
		log.Errorf("Session %s refused the analyzing transition", id)
		return sess, missing, false
	}
	sess.Status = store.SessionAnalyzing
	return sess, missing, true
}

// run executes the analysis for a session already in analyzing and records
// the terminal state.
func (c *Coordinator) run(sess store.ComparisonSession) store.ComparisonSession {
	started := time.Now()
	report, err := c.analyze(sess)
	if err != nil {
		analysesTotal.With(prometheus.Labels{"outcome": "failed"}).Inc()
		log.Errorf("Comparison %s failed: %s", sess.ID, err)
		failed, ok := c.store.FailSession(sess.ID, err.Error())
		if !ok {
			return sess
		}
		c.sink.Publish(protocol.NewComparisonFailedEvent(sess.ID, err.Error()))
		return failed
	}

	analysisDuration.Observe(time.Since(started).Seconds())
	analysesTotal.With(prometheus.Labels{"outcome": "completed"}).Inc()

	completed, ok := c.store.CompleteSession(sess.ID, report)
	if !ok {
		return sess
	}
	c.sink.Publish(protocol.NewComparisonCompletedEvent(sess.ID, report))
	log.Infof("Comparison %s completed: growth %.1fMB, suspicious %t",
		sess.ID, report.Summary.TotalGrowthMB, report.Summary.SuspiciousGrowth)

	if report.Summary.SuspiciousGrowth {
		severity := protocol.SeverityWarning
		if report.Summary.TotalGrowthMB > criticalGrowthMB {
			severity = protocol.SeverityCritical
		}
		alert := c.store.RecordAlert(protocol.Alert{
			Service:        sess.ServiceName,
			Kind:           protocol.AlertKindLeak,
			Severity:       severity,
			Message:        fmt.Sprintf("Suspicious memory growth in %s: %.1fMB between snapshots", sess.ServiceName, report.Summary.TotalGrowthMB),
			Timestamp:      time.Now().UnixMilli(),
			MemoryGrowthMB: report.Summary.TotalGrowthMB,
			SessionID:      sess.ID,
		})
		c.sink.Publish(protocol.NewLeakAlertEvent(alert))
	}

	return completed
}

// analyze stages both blobs to scratch files, invokes the primary analyzer,
// and falls back once on failure. Scratch files are removed on every exit
// path; when both analyzers fail, the fallback's error is surfaced.
func (c *Coordinator) analyze(sess store.ComparisonSession) (*protocol.AnalysisReport, error) {
	before, ok := c.store.SnapshotByID(sess.BeforeSnapshotID)
	if !ok {
		return nil, fmt.Errorf("before snapshot %s disappeared", sess.BeforeSnapshotID)
	}
	after, ok := c.store.SnapshotByID(sess.AfterSnapshotID)
	if !ok {
		return nil, fmt.Errorf("after snapshot %s disappeared", sess.AfterSnapshotID)
	}

	beforeScratch := filepath.Join(os.TempDir(), sess.ID+"-before.heapsnapshot")
	afterScratch := filepath.Join(os.TempDir(), sess.ID+"-after.heapsnapshot")
	defer func() {
		os.Remove(beforeScratch)
		os.Remove(afterScratch)
	}()

	if err := copyFile(before.Filepath, beforeScratch); err != nil {
		return nil, fmt.Errorf("staging before snapshot: %s", err)
	}
	if err := copyFile(after.Filepath, afterScratch); err != nil {
		return nil, fmt.Errorf("staging after snapshot: %s", err)
	}

	if c.primary == nil {
		return nil, errors.New("no analyzer configured")
	}

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	report, err := c.primary.Analyze(ctx, beforeScratch, afterScratch, c.thresholdBytes)
	if err == nil {
		return report, nil
	}
	log.Warnf("Primary analyzer failed for %s: %s", sess.ID, err)

	if c.fallback == nil {
		return nil, err
	}
	report, fallbackErr := c.fallback.Analyze(ctx, beforeScratch, afterScratch, c.thresholdBytes)
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	return report, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
