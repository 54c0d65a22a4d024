package store

import (
	"sort"

	"github.com/heaplane/heaplane/pkg/protocol"
)

// AnnounceSnapshot creates or replaces the record for a declared snapshot.
// Re-announcing an id discards the previous record; chunk staging is the
// reassembler's concern.
func (s *Store) AnnounceSnapshot(meta protocol.SnapshotMeta) protocol.SnapshotInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	info := protocol.SnapshotInfo{
		ID:          meta.ID,
		ServiceName: meta.ServiceName,
		ContainerID: meta.ContainerID,
		Phase:       meta.Phase,
		Timestamp:   meta.Timestamp,
		Size:        meta.Size,
		Filename:    meta.Filename,
		TotalChunks: meta.TotalChunks,
		Status:      protocol.SnapshotStatusAnnounced,
	}
	s.snapshots[meta.ID] = &info
	return info
}

// SetSnapshotProgress updates chunk counts for a known snapshot.
func (s *Store) SetSnapshotProgress(id string, received, total int) (protocol.SnapshotInfo, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	info, ok := s.snapshots[id]
	if !ok {
		return protocol.SnapshotInfo{}, false
	}
	info.ReceivedChunks = received
	info.TotalChunks = total
	info.Status = protocol.SnapshotStatusReceiving
	return *info, true
}

// CompleteSnapshot marks a snapshot complete, recording where its payload
// was persisted and the written byte count as its authoritative size.
func (s *Store) CompleteSnapshot(id string, size int64, path string) (protocol.SnapshotInfo, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	info, ok := s.snapshots[id]
	if !ok {
		return protocol.SnapshotInfo{}, false
	}
	info.Status = protocol.SnapshotStatusComplete
	info.Size = size
	info.Filepath = path
	return *info, true
}

// SnapshotByID returns a copy of the record for id.
func (s *Store) SnapshotByID(id string) (protocol.SnapshotInfo, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	info, ok := s.snapshots[id]
	if !ok {
		return protocol.SnapshotInfo{}, false
	}
	return *info, true
}

// Snapshots returns every snapshot record ordered by capture timestamp,
// oldest first, ties broken by id.
func (s *Store) Snapshots() []protocol.SnapshotInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]protocol.SnapshotInfo, 0, len(s.snapshots))
	for _, info := range s.snapshots {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SnapshotCount returns the number of snapshot records.
func (s *Store) SnapshotCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.snapshots)
}
