package store

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryStore_ReadWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.ReadBucket(ctx, 0); err != ErrBucketNotFound {
		t.Fatalf("reading unwritten position: got %v, want ErrBucketNotFound", err)
	}

	blob := []byte{1, 2, 3, 4}
	if err := s.WriteBucket(ctx, 0, blob); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := s.ReadBucket(ctx, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("read returned %v, want %v", got, blob)
	}

	// Mutating the returned slice must not affect the stored blob.
	got[0] = 99
	again, _ := s.ReadBucket(ctx, 0)
	if again[0] != 1 {
		t.Error("store returned an aliased slice")
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.WriteBucket(ctx, 7, []byte("old"))
	s.WriteBucket(ctx, 7, []byte("new"))

	got, err := s.ReadBucket(ctx, 7)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("read returned %q, want %q", got, "new")
	}
	if s.Len() != 1 {
		t.Errorf("store holds %d buckets, want 1", s.Len())
	}
}
