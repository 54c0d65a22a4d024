// Package reassembly rebuilds chunked heap snapshots streamed by capture
// agents. Snapshot records live in the session store; the in-flight chunk
// tables are staged here in a TTL cache so abandoned transfers release
// their memory instead of accumulating forever.
package reassembly

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/heaplane/heaplane/hub/store"
	"github.com/heaplane/heaplane/pkg/protocol"
)

var (
	chunksReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshot_chunks_total",
			Help: "Total number of snapshot chunks received",
		},
	)

	chunkBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshot_chunk_bytes_total",
			Help: "Total snapshot payload bytes received",
		},
	)

	snapshotsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshots_completed_total",
			Help: "Total number of snapshots fully reassembled and persisted",
		},
	)

	stagingExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reassembly_expirations_total",
			Help: "Total number of chunk tables dropped for inactivity",
		},
	)
)

func init() {
	prometheus.MustRegister(chunksReceived)
	prometheus.MustRegister(chunkBytes)
	prometheus.MustRegister(snapshotsCompleted)
	prometheus.MustRegister(stagingExpirations)
}

type chunkSlot struct {
	data string
	set  bool
}

// chunkTable is the staged state of one in-flight snapshot. The payload is
// the in-order concatenation of the chunk data fields, persisted verbatim;
// the hub never interprets snapshot contents.
type chunkTable struct {
	slots    []chunkSlot
	received int
	bytes    int64
	// complete records that the completion message was observed; an early
	// completion is reconciled when the last chunk lands.
	complete bool
	// subdir is the directory under the snapshot root the payload lands in;
	// empty for agent-streamed snapshots.
	subdir string
	done   bool
	// This mutex protects the fields above. Concatenation happens under it;
	// the file write does not.
	mutex sync.Mutex
}

// Reassembler accepts snapshot metadata, chunks, and completion signals and
// materializes finished snapshots under the configured directory.
type Reassembler struct {
	store           *store.Store
	dir             string
	maxPayloadBytes int64
	staging         *cache.Cache
}

// New creates a reassembler persisting into dir. Chunk tables idle longer
// than stagingTTL are dropped; maxPayloadBytes bounds the staged payload of
// a single snapshot (0 means unbounded).
func New(st *store.Store, dir string, maxPayloadBytes int64, stagingTTL time.Duration) *Reassembler {
	staging := cache.New(stagingTTL, stagingTTL)
	staging.OnEvicted(func(id string, v interface{}) {
		table, ok := v.(*chunkTable)
		if !ok {
			return
		}
		table.mutex.Lock()
		done, received, total := table.done, table.received, len(table.slots)
		table.mutex.Unlock()
		if done {
			return
		}
		stagingExpirations.Inc()
		log.Warnf("Dropping stale chunk table for snapshot %s: %d/%d chunks received",
			id, received, total)
	})

	return &Reassembler{
		store:           st,
		dir:             dir,
		maxPayloadBytes: maxPayloadBytes,
		staging:         staging,
	}
}

// Announce registers a declared snapshot. Re-announcing an id discards any
// previously staged chunks.
func (r *Reassembler) Announce(meta protocol.SnapshotMeta) []protocol.Event {
	return r.announce(meta, "")
}

func (r *Reassembler) announce(meta protocol.SnapshotMeta, subdir string) []protocol.Event {
	if meta.ID == "" {
		log.Warn("Ignoring snapshot metadata without an id")
		return nil
	}

	info := r.store.AnnounceSnapshot(meta)

	table := &chunkTable{subdir: subdir}
	if meta.TotalChunks > 0 {
		table.slots = make([]chunkSlot, meta.TotalChunks)
	}
	r.staging.SetDefault(meta.ID, table)

	log.Debugf("Snapshot %s announced for %s (%s, %d chunks declared)",
		meta.ID, meta.ServiceName, meta.Phase, meta.TotalChunks)
	return []protocol.Event{protocol.NewSnapshotStartedEvent(info)}
}

// Chunk stores one payload slice at its declared index. Duplicate indexes
// are overwritten without re-counting; chunks for unknown snapshots are
// dropped. If a completion signal already arrived, the last chunk finalizes
// the snapshot.
func (r *Reassembler) Chunk(msg *protocol.SnapshotChunk) []protocol.Event {
	info, ok := r.store.SnapshotByID(msg.SnapshotID)
	if !ok {
		log.Warnf("Dropping chunk %d for unknown snapshot %s", msg.ChunkIndex, msg.SnapshotID)
		return nil
	}
	if info.Status == protocol.SnapshotStatusComplete {
		log.Debugf("Ignoring chunk replay for completed snapshot %s", msg.SnapshotID)
		return nil
	}

	table := r.table(msg.SnapshotID)
	table.mutex.Lock()

	// The table is allocated from the first chunk when metadata did not
	// declare a count.
	if table.slots == nil {
		if msg.TotalChunks <= 0 {
			table.mutex.Unlock()
			log.Warnf("Dropping chunk for snapshot %s: no chunk count declared", msg.SnapshotID)
			return nil
		}
		table.slots = make([]chunkSlot, msg.TotalChunks)
	}
	if msg.ChunkIndex < 0 || msg.ChunkIndex >= len(table.slots) {
		table.mutex.Unlock()
		log.Warnf("Dropping chunk %d for snapshot %s: index out of range 0..%d",
			msg.ChunkIndex, msg.SnapshotID, len(table.slots)-1)
		return nil
	}
	if r.maxPayloadBytes > 0 && table.bytes+int64(len(msg.Data)) > r.maxPayloadBytes {
		table.mutex.Unlock()
		log.Warnf("Dropping chunk %d for snapshot %s: payload would exceed %d bytes",
			msg.ChunkIndex, msg.SnapshotID, r.maxPayloadBytes)
		return nil
	}

	slot := &table.slots[msg.ChunkIndex]
	if slot.set {
		// Last writer wins; the count stays put.
		table.bytes += int64(len(msg.Data)) - int64(len(slot.data))
		slot.data = msg.Data
	} else {
		slot.data = msg.Data
		slot.set = true
		table.received++
		table.bytes += int64(len(msg.Data))
	}
	received, total := table.received, len(table.slots)
	finalize := table.complete && received == total
	table.mutex.Unlock()

	chunksReceived.Inc()
	chunkBytes.Add(float64(len(msg.Data)))
	r.staging.SetDefault(msg.SnapshotID, table)

	events := []protocol.Event{}
	if info, ok := r.store.SetSnapshotProgress(msg.SnapshotID, received, total); ok {
		events = append(events, protocol.NewSnapshotProgressEvent(info.ID, received, total))
	}
	if finalize {
		events = append(events, r.finalize(msg.SnapshotID, table)...)
	}
	return events
}

// Complete marks the completion signal observed and finalizes the snapshot
// if every chunk is present. An early completion leaves the snapshot
// receiving until the last chunk arrives.
func (r *Reassembler) Complete(msg *protocol.SnapshotComplete) []protocol.Event {
	info, ok := r.store.SnapshotByID(msg.SnapshotID)
	if !ok {
		log.Warnf("Dropping completion for unknown snapshot %s", msg.SnapshotID)
		return nil
	}
	if info.Status == protocol.SnapshotStatusComplete {
		log.Debugf("Ignoring completion replay for snapshot %s", msg.SnapshotID)
		return nil
	}

	table := r.table(msg.SnapshotID)
	table.mutex.Lock()
	table.complete = true
	finalize := table.slots != nil && table.received == len(table.slots)
	received, total := table.received, len(table.slots)
	table.mutex.Unlock()

	if !finalize {
		log.Debugf("Completion for snapshot %s ahead of chunks (%d/%d), waiting",
			msg.SnapshotID, received, total)
		return nil
	}
	return r.finalize(msg.SnapshotID, table)
}

// IngestWhole is the single-shot path used by direct uploads: announce, one
// chunk, complete, through the same machinery as streamed snapshots. The
// payload lands under a per-service subdirectory.
func (r *Reassembler) IngestWhole(serviceName, containerID, phase, filename, data string, ts int64) (protocol.SnapshotInfo, []protocol.Event, error) {
	id := fmt.Sprintf("%s_%s_%d", phase, serviceName, ts)
	meta := protocol.SnapshotMeta{
		ID:          id,
		ServiceName: serviceName,
		ContainerID: containerID,
		Phase:       phase,
		Timestamp:   ts,
		Size:        int64(len(data)),
		Filename:    filename,
		TotalChunks: 1,
	}

	events := r.announce(meta, serviceName)
	events = append(events, r.Chunk(&protocol.SnapshotChunk{
		SnapshotID:  id,
		ChunkIndex:  0,
		TotalChunks: 1,
		Data:        data,
	})...)
	events = append(events, r.Complete(&protocol.SnapshotComplete{SnapshotID: id})...)

	info, ok := r.store.SnapshotByID(id)
	if !ok {
		return protocol.SnapshotInfo{}, events, fmt.Errorf("snapshot %s vanished during ingest", id)
	}
	if info.Status != protocol.SnapshotStatusComplete {
		return info, events, fmt.Errorf("snapshot %s not persisted", id)
	}
	return info, events, nil
}

// table returns the staged chunk table for id, allocating an empty one when
// the staging entry expired or metadata never arrived.
func (r *Reassembler) table(id string) *chunkTable {
	if v, ok := r.staging.Get(id); ok {
		return v.(*chunkTable)
	}
	table := &chunkTable{}
	r.staging.SetDefault(id, table)
	return table
}

// finalize concatenates the staged payload and persists it. The write
// happens outside the table mutex.
func (r *Reassembler) finalize(id string, table *chunkTable) []protocol.Event {
	info, ok := r.store.SnapshotByID(id)
	if !ok {
		return nil
	}

	table.mutex.Lock()
	if table.done {
		table.mutex.Unlock()
		return nil
	}
	var payload strings.Builder
	payload.Grow(int(table.bytes))
	for _, slot := range table.slots {
		payload.WriteString(slot.data)
	}
	table.done = true
	subdir := table.subdir
	table.mutex.Unlock()

	dir := r.dir
	if subdir != "" {
		dir = filepath.Join(r.dir, filepath.Base(subdir))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Errorf("Failed to create snapshot directory %s: %s", dir, err)
		r.reopen(table)
		return nil
	}
	path := filepath.Join(dir, filepath.Base(info.Filename))
	data := payload.String()
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		log.Errorf("Failed to persist snapshot %s to %s: %s", id, path, err)
		r.reopen(table)
		return nil
	}

	r.staging.Delete(id)
	snapshotsCompleted.Inc()
	log.Infof("Snapshot %s persisted to %s (%d bytes)", id, path, len(data))

	final, ok := r.store.CompleteSnapshot(id, int64(len(data)), path)
	if !ok {
		return nil
	}
	return []protocol.Event{protocol.NewSnapshotCompletedEvent(final.ID, final.Filename, final.Size)}
}

// reopen clears the done flag after a failed persist so a repeated
// completion signal can retry.
func (r *Reassembler) reopen(table *chunkTable) {
	table.mutex.Lock()
	table.done = false
	table.mutex.Unlock()
}
