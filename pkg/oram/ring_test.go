package oram

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/veiltree/veiltree/pkg/encrypt"
	"github.com/veiltree/veiltree/pkg/store"
)

// traceStore records every (position, op) the trusted region issues.
type traceStore struct {
	inner *store.MemoryStore
	trace []string
}

func newTraceStore() *traceStore {
	return &traceStore{inner: store.NewMemoryStore()}
}

func (s *traceStore) ReadBucket(ctx context.Context, position int) ([]byte, error) {
	s.trace = append(s.trace, fmt.Sprintf("r%d", position))
	return s.inner.ReadBucket(ctx, position)
}

func (s *traceStore) WriteBucket(ctx context.Context, position int, blob []byte) error {
	s.trace = append(s.trace, fmt.Sprintf("w%d", position))
	return s.inner.WriteBucket(ctx, position, blob)
}

func (s *traceStore) Close() error { return s.inner.Close() }

func newTestRing(t *testing.T, capacity int, seed string) (*Ring, *traceStore) {
	t.Helper()

	key := bytes.Repeat([]byte{0x42}, encrypt.KeySize)
	aead, err := encrypt.NewAESGCM(key)
	if err != nil {
		t.Fatalf("failed to create aead: %v", err)
	}
	src, err := NewSeededSource([]byte(seed))
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	host := newTraceStore()
	cfg := DefaultConfig(capacity)
	cfg.BlobSize = 4096
	ring, err := New(context.Background(), cfg, host, aead, src)
	if err != nil {
		t.Fatalf("failed to create ring: %v", err)
	}
	host.trace = nil // drop the formatting writes
	return ring, host
}

func TestRing_WriteThenRead(t *testing.T) {
	ring, _ := newTestRing(t, 16, "write-then-read")
	ctx := context.Background()

	payload := []byte("node payload for block three")
	if _, err := ring.Access(ctx, 3, Write, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ring.Access(ctx, 3, Read, nil)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read returned %q, want %q", got, payload)
	}
}

func TestRing_LastWriteWins(t *testing.T) {
	ring, _ := newTestRing(t, 8, "last-write-wins")
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		data := []byte(fmt.Sprintf("version-%d", round))
		if _, err := ring.Access(ctx, 5, Write, data); err != nil {
			t.Fatalf("write %d failed: %v", round, err)
		}
	}

	got, err := ring.Access(ctx, 5, Read, nil)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "version-9" {
		t.Errorf("read returned %q, want version-9", got)
	}
}

func TestRing_ManyBlocksSurviveEvictions(t *testing.T) {
	const capacity = 32
	ring, _ := newTestRing(t, capacity, "many-blocks")
	ctx := context.Background()

	want := make(map[int][]byte)
	for b := 0; b < capacity; b++ {
		data := []byte(fmt.Sprintf("block-%d-contents", b))
		want[b] = data
		if _, err := ring.Access(ctx, b, Write, data); err != nil {
			t.Fatalf("write block %d failed: %v", b, err)
		}
	}

	// Interleave rereads to force evictions and reshuffles.
	for pass := 0; pass < 3; pass++ {
		for b := 0; b < capacity; b++ {
			got, err := ring.Access(ctx, b, Read, nil)
			if err != nil {
				t.Fatalf("pass %d read block %d failed: %v", pass, b, err)
			}
			if !bytes.Equal(got, want[b]) {
				t.Errorf("pass %d block %d: got %q, want %q", pass, b, got, want[b])
			}
		}
	}
}

func TestRing_ReadUnwrittenReturnsEmpty(t *testing.T) {
	ring, _ := newTestRing(t, 8, "unwritten")

	got, err := ring.Access(context.Background(), 2, Read, nil)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("reading an unwritten block returned %d bytes, want 0", len(got))
	}
}

func TestRing_OutOfRange(t *testing.T) {
	ring, _ := newTestRing(t, 8, "out-of-range")
	ctx := context.Background()

	for _, idx := range []int{-1, 8, 100} {
		if _, err := ring.Access(ctx, idx, Read, nil); err == nil {
			t.Errorf("access to block %d should fail", idx)
		}
	}
}

// TestRing_PathInvariant verifies that after an arbitrary access
// sequence every written block is either in the stash or on the path
// to its mapped leaf.
func TestRing_PathInvariant(t *testing.T) {
	const capacity = 16
	ring, host := newTestRing(t, capacity, "path-invariant")
	ctx := context.Background()

	written := make(map[int]bool)
	for i := 0; i < 50; i++ {
		b := (i * 7) % capacity
		if i%3 == 0 {
			if _, err := ring.Access(ctx, b, Write, []byte(fmt.Sprintf("v%d", i))); err != nil {
				t.Fatalf("access %d failed: %v", i, err)
			}
			written[b] = true
		} else {
			if _, err := ring.Access(ctx, b, Read, nil); err != nil {
				t.Fatalf("access %d failed: %v", i, err)
			}
		}
	}

	for b := range written {
		if !blockOnPathOrStash(t, ring, host, b) {
			t.Errorf("block %d is neither in the stash nor on its mapped path", b)
		}
	}
}

func blockOnPathOrStash(t *testing.T, ring *Ring, host *traceStore, index int) bool {
	t.Helper()

	for _, blk := range ring.stash {
		if blk.Index == index {
			return true
		}
	}

	leaf := ring.positions[index]
	for lvl := 0; lvl <= ring.l; lvl++ {
		pos := ring.pathBucket(leaf, lvl)
		blob, err := host.inner.ReadBucket(context.Background(), pos)
		if err != nil {
			t.Fatalf("reading bucket %d: %v", pos, err)
		}
		bkt, err := UnmarshalBucket(blob)
		if err != nil {
			t.Fatalf("unmarshaling bucket %d: %v", pos, err)
		}
		if bkt.OffsetOf(index) >= 0 {
			return true
		}
	}
	return false
}

// TestRing_TraceDeterministicUnderSeed replays the same logical access
// sequence against two rings built from the same seed and asserts the
// host observes an identical (position, op) trace.
func TestRing_TraceDeterministicUnderSeed(t *testing.T) {
	run := func() []string {
		ring, host := newTestRing(t, 16, "trace-replay")
		ctx := context.Background()
		for i := 0; i < 24; i++ {
			b := (i * 5) % 16
			op := Read
			var data []byte
			if i%2 == 0 {
				op = Write
				data = []byte(fmt.Sprintf("d%d", i))
			}
			if _, err := ring.Access(ctx, b, op, data); err != nil {
				t.Fatalf("access %d failed: %v", i, err)
			}
		}
		return host.trace
	}

	t1 := run()
	t2 := run()
	if len(t1) != len(t2) {
		t.Fatalf("traces differ in length: %d vs %d", len(t1), len(t2))
	}
	for i := range t1 {
		if t1[i] != t2[i] {
			t.Fatalf("trace diverges at step %d: %s vs %s", i, t1[i], t2[i])
		}
	}
}

// TestRing_TraceCoversFullPaths asserts that a block access opens with
// a read-path traversal: one read/write pair on the same bucket for
// every tree level.
func TestRing_TraceCoversFullPaths(t *testing.T) {
	ring, host := newTestRing(t, 16, "full-paths")
	ctx := context.Background()

	host.trace = nil
	if _, err := ring.Access(ctx, 9, Write, []byte("x")); err != nil {
		t.Fatalf("access failed: %v", err)
	}

	// The read-path traversal alone must issue one read and one write
	// per level.
	levels := ring.l + 1
	if len(host.trace) < 2*levels {
		t.Fatalf("trace has %d host calls, want at least %d", len(host.trace), 2*levels)
	}
	for i := 0; i < levels; i++ {
		r, w := host.trace[2*i], host.trace[2*i+1]
		if r[0] != 'r' || w[0] != 'w' || r[1:] != w[1:] {
			t.Fatalf("traversal step %d is not a read/write pair: %s %s", i, r, w)
		}
	}
}

func TestRing_StashDrainsUnderEviction(t *testing.T) {
	ring, _ := newTestRing(t, 16, "stash-drain")
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		if _, err := ring.Access(ctx, i, Write, []byte("payload")); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	// With Z=4 per bucket and periodic evictions, the stash must stay
	// well below the total block count.
	if ring.StashSize() >= 16 {
		t.Errorf("stash holds %d blocks after evictions, expected fewer than 16", ring.StashSize())
	}
}
