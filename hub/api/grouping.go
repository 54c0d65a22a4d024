package api

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/heaplane/heaplane/pkg/protocol"
)

// SnapshotSession is a before/after pair grouped by the shared portion of
// the snapshot filenames. A session is complete once both phases are
// present.
type SnapshotSession struct {
	SessionID   string                  `json:"sessionId"`
	ServiceName string                  `json:"serviceName"`
	Snapshots   []protocol.SnapshotInfo `json:"snapshots"`
	Complete    bool                    `json:"complete"`
}

// sessionKey derives the grouping identifier from a snapshot filename: the
// extension is dropped, the name is split on '-' and '_', and phase tokens
// are removed. "before_checkout_17.heapsnapshot" and
// "after-checkout-17.heapsnapshot" both map to "checkout-17".
func sessionKey(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' })

	kept := []string{}
	for _, part := range parts {
		if part == protocol.PhaseBefore || part == protocol.PhaseAfter {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return base
	}
	return strings.Join(kept, "-")
}

// groupSessions buckets snapshots by sessionKey. The input is already in
// store order, so groups and their members come out deterministically.
func groupSessions(snapshots []protocol.SnapshotInfo) []SnapshotSession {
	groups := map[string]*SnapshotSession{}
	for _, info := range snapshots {
		key := sessionKey(info.Filename)
		group, ok := groups[key]
		if !ok {
			group = &SnapshotSession{
				SessionID:   key,
				ServiceName: info.ServiceName,
				Snapshots:   []protocol.SnapshotInfo{},
			}
			groups[key] = group
		}
		group.Snapshots = append(group.Snapshots, info)
	}

	out := []SnapshotSession{}
	for _, group := range groups {
		hasBefore, hasAfter := false, false
		for _, info := range group.Snapshots {
			switch info.Phase {
			case protocol.PhaseBefore:
				hasBefore = true
			case protocol.PhaseAfter:
				hasAfter = true
			}
		}
		group.Complete = hasBefore && hasAfter
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
