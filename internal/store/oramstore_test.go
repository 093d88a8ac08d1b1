package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/veiltree/veiltree/pkg/encrypt"
	"github.com/veiltree/veiltree/pkg/oram"
	bstore "github.com/veiltree/veiltree/pkg/store"
)

func newTestStore(t *testing.T, capacity int) *OramStore {
	t.Helper()

	key := bytes.Repeat([]byte{7}, encrypt.KeySize)
	aead, err := encrypt.NewAESGCM(key)
	if err != nil {
		t.Fatalf("failed to create aead: %v", err)
	}
	src, err := oram.NewSeededSource([]byte("oramstore-test"))
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}

	cfg := oram.DefaultConfig(capacity)
	ring, err := oram.New(context.Background(), cfg, bstore.NewMemoryStore(), aead, src)
	if err != nil {
		t.Fatalf("failed to create ring: %v", err)
	}
	return New(ring)
}

func TestOramStore_StoreReadNode(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	data := []byte("serialized node bytes")
	if err := s.StoreNode(ctx, 3, data); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	got, err := s.ReadNode(ctx, 3)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read returned %q, want %q", got, data)
	}

	// Unmapped id is a soft miss.
	got, err = s.ReadNode(ctx, 99)
	if err != nil {
		t.Fatalf("read of unmapped id failed: %v", err)
	}
	if got != nil {
		t.Errorf("read of unmapped id returned %q, want nil", got)
	}
}

func TestOramStore_StoreReusesBlock(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	s.StoreNode(ctx, 1, []byte("v1"))
	before := s.AllocatedBlocks()
	s.StoreNode(ctx, 1, []byte("v2"))
	if s.AllocatedBlocks() != before {
		t.Error("re-storing a node allocated a second block")
	}

	got, _ := s.ReadNode(ctx, 1)
	if string(got) != "v2" {
		t.Errorf("read returned %q, want v2", got)
	}
}

func TestOramStore_ReadAfterSeal(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	s.StoreNode(ctx, 5, []byte("payload"))
	s.Seal()

	got, err := s.ReadNode(ctx, 5)
	if err != nil {
		t.Fatalf("read after seal failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("read returned %q, want payload", got)
	}
}

func TestOramStore_BindAndAccessByPath(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	if err := s.BindPath(4, 77); err == nil {
		t.Error("binding a path to an unstored node should fail")
	}

	s.StoreNode(ctx, 77, []byte("node 77"))
	if err := s.BindPath(4, 77); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	got, err := s.AccessByPath(ctx, 4)
	if err != nil {
		t.Fatalf("access by path failed: %v", err)
	}
	if string(got) != "node 77" {
		t.Errorf("access returned %q, want node 77", got)
	}
	if s.NodeIDByPath(4) != 77 {
		t.Errorf("NodeIDByPath(4) = %d, want 77", s.NodeIDByPath(4))
	}

	// Unbound path is a soft miss.
	got, err = s.AccessByPath(ctx, 9)
	if err != nil || got != nil {
		t.Errorf("unbound path returned (%q, %v), want (nil, nil)", got, err)
	}
}

func TestOramStore_RootPathPersistedInReservedBlock(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	// Before any seal the root path is unknown.
	path, err := s.RootPath(ctx)
	if err != nil {
		t.Fatalf("root path read failed: %v", err)
	}
	if path != -1 {
		t.Errorf("fresh store root path = %d, want -1", path)
	}

	if err := s.SetRootPath(ctx, 6); err != nil {
		t.Fatalf("set root path failed: %v", err)
	}

	// Drop the in-memory copy to force the reserved-block read.
	s.rootPath = -1
	path, err = s.RootPath(ctx)
	if err != nil {
		t.Fatalf("root path reload failed: %v", err)
	}
	if path != 6 {
		t.Errorf("reloaded root path = %d, want 6", path)
	}
}

func TestOramStore_DeleteNode(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	s.StoreNode(ctx, 2, []byte("doomed"))
	s.BindPath(1, 2)
	if err := s.DeleteNode(ctx, 2); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, err := s.ReadNode(ctx, 2)
	if err != nil || got != nil {
		t.Errorf("deleted node read returned (%q, %v), want (nil, nil)", got, err)
	}
	got, err = s.AccessByPath(ctx, 1)
	if err != nil || got != nil {
		t.Errorf("deleted node path returned (%q, %v), want (nil, nil)", got, err)
	}
}

func TestOramStore_AllocatePathDistinct(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	seen := make(map[int]bool)
	for id := 0; id < 8; id++ {
		if err := s.StoreNode(ctx, id, []byte("n")); err != nil {
			t.Fatalf("store %d failed: %v", id, err)
		}
		path, err := s.AllocatePath()
		if err != nil {
			t.Fatalf("allocate %d failed: %v", id, err)
		}
		if seen[path] {
			t.Fatalf("path %d allocated twice", path)
		}
		seen[path] = true
		if err := s.BindPath(path, id); err != nil {
			t.Fatalf("bind %d failed: %v", id, err)
		}
	}
}

func TestOramStore_CapacityExceeded(t *testing.T) {
	// Capacity 4: one reserved root-path block plus three nodes.
	s := newTestStore(t, 4)
	ctx := context.Background()

	for id := 0; id < 3; id++ {
		if err := s.StoreNode(ctx, id, []byte("x")); err != nil {
			t.Fatalf("store %d failed: %v", id, err)
		}
	}

	err := s.StoreNode(ctx, 3, []byte("x"))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("store beyond capacity: got %v, want ErrCapacityExceeded", err)
	}
}
