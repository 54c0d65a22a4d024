package reassembly

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heaplane/heaplane/hub/store"
	"github.com/heaplane/heaplane/pkg/protocol"
)

func newTestReassembler(t *testing.T) (*Reassembler, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st := store.New(100, 100, time.Minute)
	return New(st, dir, 0, time.Minute), st, dir
}

func eventTypes(events []protocol.Event) []string {
	out := []string{}
	for _, e := range events {
		out = append(out, e.EventType())
	}
	return out
}

func TestOutOfOrderChunksReassemble(t *testing.T) {
	r, st, dir := newTestReassembler(t)

	events := r.Announce(protocol.SnapshotMeta{
		ID:          "before_svc-a_1",
		ServiceName: "svc-a",
		Phase:       protocol.PhaseBefore,
		Size:        9,
		Filename:    "b.heapsnapshot",
		TotalChunks: 3,
	})
	if len(events) != 1 || events[0].EventType() != protocol.EventSnapshotStarted {
		t.Fatalf("Expected snapshotStarted, got %v", eventTypes(events))
	}

	progress := 0
	for _, chunk := range []struct {
		index int
		data  string
	}{{0, "abc"}, {2, "ghi"}, {1, "def"}} {
		events = r.Chunk(&protocol.SnapshotChunk{
			SnapshotID:  "before_svc-a_1",
			ChunkIndex:  chunk.index,
			TotalChunks: 3,
			Data:        chunk.data,
		})
		for _, e := range events {
			if e.EventType() == protocol.EventSnapshotProgress {
				progress++
			}
		}
	}
	if progress != 3 {
		t.Fatalf("Expected 3 snapshotProgress events, got %d", progress)
	}

	events = r.Complete(&protocol.SnapshotComplete{SnapshotID: "before_svc-a_1"})
	if len(events) != 1 || events[0].EventType() != protocol.EventSnapshotCompleted {
		t.Fatalf("Expected snapshotCompleted, got %v", eventTypes(events))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "b.heapsnapshot"))
	if err != nil {
		t.Fatalf("Unexpected error reading persisted snapshot: %v", err)
	}
	if string(raw) != "abcdefghi" {
		t.Fatalf("Persisted bytes should be the in-order concatenation, got %q", raw)
	}

	info, _ := st.SnapshotByID("before_svc-a_1")
	if info.Status != protocol.SnapshotStatusComplete || info.Size != 9 {
		t.Fatalf("Unexpected final record: %+v", info)
	}
}

func TestEarlyCompletionReconciledOnLastChunk(t *testing.T) {
	r, st, dir := newTestReassembler(t)

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 2})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 2, Data: "aa"})

	// Completion ahead of the last chunk leaves the snapshot receiving.
	if events := r.Complete(&protocol.SnapshotComplete{SnapshotID: "s1"}); len(events) != 0 {
		t.Fatalf("Early completion should not finalize, got %v", eventTypes(events))
	}
	info, _ := st.SnapshotByID("s1")
	if info.Status == protocol.SnapshotStatusComplete {
		t.Fatal("Snapshot must not be complete before the last chunk")
	}

	events := r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 1, TotalChunks: 2, Data: "bb"})
	found := false
	for _, e := range events {
		if e.EventType() == protocol.EventSnapshotCompleted {
			found = true
		}
	}
	if !found {
		t.Fatalf("Last chunk should finalize, got %v", eventTypes(events))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "s1.heapsnapshot"))
	if err != nil || string(raw) != "aabb" {
		t.Fatalf("Unexpected persisted bytes %q (err %v)", raw, err)
	}
}

func TestDuplicateChunkLastWriterWins(t *testing.T) {
	r, st, dir := newTestReassembler(t)

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 2})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 2, Data: "xx"})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 2, Data: "yy"})

	info, _ := st.SnapshotByID("s1")
	if info.ReceivedChunks != 1 {
		t.Fatalf("Duplicate index must not re-increment, got %d", info.ReceivedChunks)
	}

	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 1, TotalChunks: 2, Data: "zz"})
	r.Complete(&protocol.SnapshotComplete{SnapshotID: "s1"})

	raw, _ := os.ReadFile(filepath.Join(dir, "s1.heapsnapshot"))
	if string(raw) != "yyzz" {
		t.Fatalf("Expected last writer to win, got %q", raw)
	}
}

func TestReplayAfterCompletionIsNoop(t *testing.T) {
	r, _, dir := newTestReassembler(t)

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 1})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 1, Data: "abc"})
	r.Complete(&protocol.SnapshotComplete{SnapshotID: "s1"})

	if events := r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 1, Data: "abc"}); len(events) != 0 {
		t.Fatalf("Chunk replay after completion should be ignored, got %v", eventTypes(events))
	}
	if events := r.Complete(&protocol.SnapshotComplete{SnapshotID: "s1"}); len(events) != 0 {
		t.Fatalf("Completion replay should be ignored, got %v", eventTypes(events))
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "s1.heapsnapshot"))
	if string(raw) != "abc" {
		t.Fatalf("Persisted bytes must be untouched by replays, got %q", raw)
	}
}

func TestUnknownSnapshotDropped(t *testing.T) {
	r, _, _ := newTestReassembler(t)

	if events := r.Chunk(&protocol.SnapshotChunk{SnapshotID: "ghost", ChunkIndex: 0, TotalChunks: 1, Data: "x"}); len(events) != 0 {
		t.Fatalf("Chunk for unknown snapshot should be dropped, got %v", eventTypes(events))
	}
	if events := r.Complete(&protocol.SnapshotComplete{SnapshotID: "ghost"}); len(events) != 0 {
		t.Fatalf("Completion for unknown snapshot should be dropped, got %v", eventTypes(events))
	}
}

func TestReannouncementReplacesChunks(t *testing.T) {
	r, _, dir := newTestReassembler(t)

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 2})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 2, Data: "old"})

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 1})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 1, Data: "new"})
	r.Complete(&protocol.SnapshotComplete{SnapshotID: "s1"})

	raw, _ := os.ReadFile(filepath.Join(dir, "s1.heapsnapshot"))
	if string(raw) != "new" {
		t.Fatalf("Re-announcement should discard old chunks, got %q", raw)
	}
}

func TestChunkIndexOutOfRange(t *testing.T) {
	r, st, _ := newTestReassembler(t)

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 2})
	if events := r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 5, TotalChunks: 2, Data: "x"}); len(events) != 0 {
		t.Fatalf("Out-of-range chunk should be dropped, got %v", eventTypes(events))
	}
	if events := r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: -1, TotalChunks: 2, Data: "x"}); len(events) != 0 {
		t.Fatalf("Negative index should be dropped, got %v", eventTypes(events))
	}

	info, _ := st.SnapshotByID("s1")
	if info.ReceivedChunks != 0 {
		t.Fatalf("Dropped chunks must not count, got %d", info.ReceivedChunks)
	}
}

func TestPayloadCapEnforced(t *testing.T) {
	dir := t.TempDir()
	st := store.New(100, 100, time.Minute)
	r := New(st, dir, 10, time.Minute)

	r.Announce(protocol.SnapshotMeta{ID: "s1", Filename: "s1.heapsnapshot", TotalChunks: 2})
	r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 0, TotalChunks: 2, Data: "12345"})
	if events := r.Chunk(&protocol.SnapshotChunk{SnapshotID: "s1", ChunkIndex: 1, TotalChunks: 2, Data: strings.Repeat("x", 6)}); len(events) != 0 {
		t.Fatalf("Chunk exceeding the payload cap should be dropped, got %v", eventTypes(events))
	}
}

func TestIngestWholePersistsUnderServiceDir(t *testing.T) {
	r, _, dir := newTestReassembler(t)

	info, events, err := r.IngestWhole("svc-a", "c1", protocol.PhaseBefore, "upload.heapsnapshot", "payload-bytes", 1700000000000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if info.ID != "before_svc-a_1700000000000" {
		t.Fatalf("Unexpected snapshot id %s", info.ID)
	}
	if info.Phase != protocol.PhaseBefore || info.Size != int64(len("payload-bytes")) {
		t.Fatalf("Phase and size must be preserved: %+v", info)
	}

	expected := []string{
		protocol.EventSnapshotStarted,
		protocol.EventSnapshotProgress,
		protocol.EventSnapshotCompleted,
	}
	actual := eventTypes(events)
	if len(actual) != len(expected) {
		t.Fatalf("Expected events %v, got %v", expected, actual)
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Fatalf("Expected events %v, got %v", expected, actual)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, "svc-a", "upload.heapsnapshot"))
	if err != nil {
		t.Fatalf("Unexpected error reading upload: %v", err)
	}
	if string(raw) != "payload-bytes" {
		t.Fatalf("Unexpected persisted bytes %q", raw)
	}
}
