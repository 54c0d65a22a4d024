package store

import (
	"sort"

	"github.com/heaplane/heaplane/pkg/protocol"
)

// Comparison session states. The only legal path is
// waiting -> analyzing -> {completed, failed}; terminal states are immutable.
const (
	SessionWaiting   = "waiting"
	SessionAnalyzing = "analyzing"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// ComparisonSession is the coordination record for one before/after
// analysis. The store hands out copies; state only changes through the
// transition methods below.
type ComparisonSession struct {
	ID               string                   `json:"sessionId"`
	ServiceName      string                   `json:"serviceName"`
	ContainerID      string                   `json:"containerId,omitempty"`
	BeforeSnapshotID string                   `json:"beforeSnapshotId"`
	AfterSnapshotID  string                   `json:"afterSnapshotId"`
	CreatedAt        int64                    `json:"createdAt"`
	Status           string                   `json:"status"`
	Error            string                   `json:"error,omitempty"`
	Analysis         *protocol.AnalysisReport `json:"analysis,omitempty"`
}

// CreateSession persists a new session in the waiting state.
func (s *Store) CreateSession(sess ComparisonSession) ComparisonSession {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sess.Status = SessionWaiting
	stored := sess
	s.sessions[sess.ID] = &stored
	return sess
}

// MarkSessionAnalyzing attempts the waiting -> analyzing transition. It
// returns false if the session is unknown or has left waiting, which makes
// entry into analyzing at-most-once.
func (s *Store) MarkSessionAnalyzing(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != SessionWaiting {
		return false
	}
	sess.Status = SessionAnalyzing
	return true
}

// CompleteSession records the analyzer result and moves the session to its
// completed terminal state. Only an analyzing session can complete.
func (s *Store) CompleteSession(id string, report *protocol.AnalysisReport) (ComparisonSession, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != SessionAnalyzing {
		return ComparisonSession{}, false
	}
	sess.Status = SessionCompleted
	sess.Analysis = report
	return *sess, true
}

// FailSession moves an analyzing session to its failed terminal state with
// the surfaced error string.
func (s *Store) FailSession(id, errMsg string) (ComparisonSession, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != SessionAnalyzing {
		return ComparisonSession{}, false
	}
	sess.Status = SessionFailed
	sess.Error = errMsg
	return *sess, true
}

// SessionByID returns a copy of the session for id.
func (s *Store) SessionByID(id string) (ComparisonSession, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ComparisonSession{}, false
	}
	return *sess, true
}

// Sessions returns every comparison session, newest first.
func (s *Store) Sessions() []ComparisonSession {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]ComparisonSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SessionCount returns the number of comparison sessions.
func (s *Store) SessionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}
