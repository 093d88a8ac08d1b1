package oram

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/veiltree/veiltree/pkg/encrypt"
	"github.com/veiltree/veiltree/pkg/metrics"
	"github.com/veiltree/veiltree/pkg/store"
)

// Op selects the access operation.
type Op int

const (
	// Read fetches the current contents of a block.
	Read Op = iota
	// Write replaces the contents of a block.
	Write
)

var (
	// ErrBlockOutOfRange is returned for logical block indices outside
	// [0, N).
	ErrBlockOutOfRange = errors.New("block index out of range")

	// ErrBucketOverflow is returned when a bucket has no dummy slot
	// left to burn; early reshuffle prevents this under correct
	// parameters.
	ErrBucketOverflow = errors.New("bucket has no valid dummy slot")
)

// Config holds the Ring-ORAM parameters, fixed at construction.
type Config struct {
	// Capacity is N, the number of logical blocks.
	Capacity int

	// RealSlots is Z, real blocks per bucket.
	RealSlots int

	// DummySlots is S, dummy blocks per bucket. A bucket is reshuffled
	// after S reads.
	DummySlots int

	// EvictRound is the number of accesses between path evictions.
	EvictRound int

	// CacheLevels is the number of upper tree levels whose accesses do
	// not count against oblivious bandwidth accounting.
	CacheLevels int

	// BlobSize is the fixed size of a serialized bucket in bytes.
	BlobSize int

	// Metrics optionally receives ORAM counters.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the standard Ring-ORAM parameters.
func DefaultConfig(capacity int) Config {
	return Config{
		Capacity:   capacity,
		RealSlots:  4,
		DummySlots: 6,
		EvictRound: 4,
		BlobSize:   4096,
	}
}

// Ring is the trusted-region state of the oblivious store: the position
// map, the stash, and the round counters. All methods are driven from a
// single logical thread; the observable host trace of any access
// depends only on public counters and in-region randomness.
type Ring struct {
	n         int
	l         int
	numBucket int
	numLeaves int

	z           int
	s           int
	evictRound  int
	cacheLevels int
	blobSize    int

	positions []int
	stash     []Block
	round     int
	g         int

	host    store.BucketStore
	aead    *encrypt.AESGCM
	src     *Source
	metrics *metrics.Metrics
}

// New creates a Ring over the given host store, initializing the
// position map with random leaves and formatting every host bucket
// with an all-dummy bucket.
func New(ctx context.Context, cfg Config, host store.BucketStore, aead *encrypt.AESGCM, src *Source) (*Ring, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.RealSlots <= 0 || cfg.DummySlots <= 0 {
		return nil, fmt.Errorf("slot counts must be positive, got Z=%d S=%d", cfg.RealSlots, cfg.DummySlots)
	}
	if cfg.EvictRound <= 0 {
		return nil, fmt.Errorf("evict round must be positive, got %d", cfg.EvictRound)
	}
	if cfg.BlobSize <= 0 {
		cfg.BlobSize = DefaultConfig(cfg.Capacity).BlobSize
	}

	l := bits.Len(uint(cfg.Capacity - 1))
	r := &Ring{
		n:           cfg.Capacity,
		l:           l,
		numBucket:   (1 << (l + 1)) - 1,
		numLeaves:   1 << l,
		z:           cfg.RealSlots,
		s:           cfg.DummySlots,
		evictRound:  cfg.EvictRound,
		cacheLevels: cfg.CacheLevels,
		blobSize:    cfg.BlobSize,
		positions:   make([]int, cfg.Capacity),
		host:        host,
		aead:        aead,
		src:         src,
		metrics:     cfg.Metrics,
	}

	for i := range r.positions {
		r.positions[i] = r.src.Intn(r.numLeaves)
	}

	empty := NewBucket(r.z, r.s)
	blob, err := empty.Marshal(r.blobSize)
	if err != nil {
		return nil, fmt.Errorf("bucket shape does not fit blob size: %w", err)
	}
	for pos := 0; pos < r.numBucket; pos++ {
		if err := r.writeHost(ctx, pos, blob); err != nil {
			return nil, fmt.Errorf("formatting bucket %d: %w", pos, err)
		}
	}

	return r, nil
}

// Capacity returns N, the logical block count.
func (r *Ring) Capacity() int { return r.n }

// NumLeaves returns the number of leaf paths.
func (r *Ring) NumLeaves() int { return r.numLeaves }

// NumBuckets returns the bucket count of the tree.
func (r *Ring) NumBuckets() int { return r.numBucket }

// StashSize returns the number of plaintext blocks in the stash.
func (r *Ring) StashSize() int { return len(r.stash) }

// ObliviousLevels returns the per-access bucket levels that count
// against oblivious bandwidth (tree height minus cached levels).
func (r *Ring) ObliviousLevels() int { return r.l + 1 - r.cacheLevels }

// RandomLeaf draws a uniform random leaf path.
func (r *Ring) RandomLeaf() int { return r.src.Intn(r.numLeaves) }

// pathBucket returns the bucket position at the given level on the
// path to leaf.
func (r *Ring) pathBucket(leaf, level int) int {
	return (1 << level) - 1 + (leaf >> (r.l - level))
}

// levelOf returns the tree level of a bucket position.
func (r *Ring) levelOf(pos int) int {
	return bits.Len(uint(pos+1)) - 1
}

// Access reads or writes logical block index. On every access the
// block is remapped to a fresh random leaf; the path read, the
// periodic eviction, and the early reshuffle together keep the host
// trace independent of index.
func (r *Ring) Access(ctx context.Context, index int, op Op, data []byte) ([]byte, error) {
	if index < 0 || index >= r.n {
		return nil, fmt.Errorf("%w: %d (capacity %d)", ErrBlockOutOfRange, index, r.n)
	}
	if r.metrics != nil {
		label := "read"
		if op == Write {
			label = "write"
		}
		r.metrics.OramAccessesTotal.WithLabelValues(label).Inc()
	}

	oldLeaf := r.positions[index]
	r.positions[index] = r.src.Intn(r.numLeaves)

	found, err := r.readPath(ctx, oldLeaf, index)
	if err != nil {
		return nil, err
	}

	var current []byte
	if !found.IsDummy() && found.Index == index {
		if len(found.Data) > 0 {
			current, err = r.aead.Decrypt(found.Data)
			if err != nil {
				return nil, fmt.Errorf("decrypting block %d: %w", index, err)
			}
		}
	} else {
		for i, blk := range r.stash {
			if blk.Index == index {
				current = blk.Data
				r.stash = append(r.stash[:i], r.stash[i+1:]...)
				break
			}
		}
	}

	if op == Write {
		current = data
	}

	r.stash = append(r.stash, Block{Leaf: r.positions[index], Index: index, Data: current})

	r.round = (r.round + 1) % r.evictRound
	if r.round == 0 {
		if err := r.evictPath(ctx); err != nil {
			return nil, err
		}
	}

	if err := r.earlyReshuffle(ctx, oldLeaf); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.OramStashSize.Set(float64(len(r.stash)))
	}
	return current, nil
}

// readPath walks every bucket on the path to leaf. In each bucket it
// consumes either the slot holding the wanted block or a random dummy
// slot, invalidates it, bumps the read counter, and writes the bucket
// back. All levels are traversed regardless of where the block is
// found.
func (r *Ring) readPath(ctx context.Context, leaf, index int) (Block, error) {
	found := DummyBlock()

	for i := 0; i <= r.l; i++ {
		pos := r.pathBucket(leaf, i)
		bkt, err := r.readHostBucket(ctx, pos)
		if err != nil {
			return DummyBlock(), err
		}

		off := bkt.OffsetOf(index)
		if off >= 0 && !bkt.Blocks[off].IsDummy() {
			found = bkt.Blocks[off]
		} else {
			if off = bkt.DummySlot(r.src); off < 0 {
				return DummyBlock(), fmt.Errorf("%w: bucket %d", ErrBucketOverflow, pos)
			}
		}

		bkt.Valids[off] = 0
		bkt.Count++

		blob, err := bkt.Marshal(r.blobSize)
		if err != nil {
			return DummyBlock(), err
		}
		if err := r.writeHost(ctx, pos, blob); err != nil {
			return DummyBlock(), err
		}
	}

	return found, nil
}

// readBucketToStash decrypts every valid real block in the bucket at
// pos into the stash.
func (r *Ring) readBucketToStash(ctx context.Context, pos int) error {
	bkt, err := r.readHostBucket(ctx, pos)
	if err != nil {
		return err
	}
	return r.absorb(bkt, pos)
}

func (r *Ring) absorb(bkt *Bucket, pos int) error {
	for j := 0; j < bkt.Slots(); j++ {
		if bkt.Ptrs[j] == DummyIndex || bkt.Valids[j] != 1 || bkt.Blocks[j].IsDummy() {
			continue
		}
		blk := bkt.Blocks[j]
		var plain []byte
		if len(blk.Data) > 0 {
			var err error
			plain, err = r.aead.Decrypt(blk.Data)
			if err != nil {
				return fmt.Errorf("decrypting block %d in bucket %d: %w", blk.Index, pos, err)
			}
		}
		r.stash = append(r.stash, Block{Leaf: blk.Leaf, Index: blk.Index, Data: plain})
	}
	return nil
}

// writeBucket drains up to Z stash blocks whose paths pass through pos
// into a freshly shuffled, re-encrypted bucket with S new dummies.
func (r *Ring) writeBucket(ctx context.Context, pos int) error {
	level := r.levelOf(pos)

	// Fixed framing overhead: bucket header, per-slot block headers,
	// and the ptrs/valids arrays.
	used := 16 + 12*(r.z+r.s) + 8*(r.z+r.s)

	var outgoing []Block
	remaining := r.stash[:0]
	for _, blk := range r.stash {
		ctSize := len(blk.Data) + encrypt.NonceSize + encrypt.TagSize
		if len(outgoing) < r.z &&
			r.pathBucket(blk.Leaf, level) == pos &&
			used+ctSize <= r.blobSize {
			ct, err := r.aead.Encrypt(blk.Data)
			if err != nil {
				return fmt.Errorf("encrypting block %d: %w", blk.Index, err)
			}
			outgoing = append(outgoing, Block{Leaf: blk.Leaf, Index: blk.Index, Data: ct})
			used += ctSize
		} else {
			remaining = append(remaining, blk)
		}
	}
	r.stash = remaining

	for len(outgoing) < r.z+r.s {
		outgoing = append(outgoing, DummyBlock())
	}
	r.src.Shuffle(len(outgoing), func(i, j int) {
		outgoing[i], outgoing[j] = outgoing[j], outgoing[i]
	})

	bkt := NewBucket(r.z, r.s)
	bkt.Blocks = outgoing
	for i := range outgoing {
		bkt.Ptrs[i] = outgoing[i].Index
		bkt.Valids[i] = 1
	}
	bkt.Count = 0

	blob, err := bkt.Marshal(r.blobSize)
	if err != nil {
		return err
	}
	return r.writeHost(ctx, pos, blob)
}

// evictPath drains the stash along the next path in sequential order
// (eviction counter modulo the leaf count): read every bucket on the
// path, then rewrite them leaf to root.
func (r *Ring) evictPath(ctx context.Context) error {
	leaf := r.g % r.numLeaves
	r.g++
	if r.metrics != nil {
		r.metrics.OramEvictionsTotal.Inc()
	}

	for i := 0; i <= r.l; i++ {
		if err := r.readBucketToStash(ctx, r.pathBucket(leaf, i)); err != nil {
			return err
		}
	}
	for i := r.l; i >= 0; i-- {
		if err := r.writeBucket(ctx, r.pathBucket(leaf, i)); err != nil {
			return err
		}
	}
	return nil
}

// earlyReshuffle rewrites every bucket on the path to leaf that has
// burned through its dummy budget.
func (r *Ring) earlyReshuffle(ctx context.Context, leaf int) error {
	for i := 0; i <= r.l; i++ {
		pos := r.pathBucket(leaf, i)
		bkt, err := r.readHostBucket(ctx, pos)
		if err != nil {
			return err
		}
		if bkt.Count < r.s {
			continue
		}
		if err := r.absorb(bkt, pos); err != nil {
			return err
		}
		if err := r.writeBucket(ctx, pos); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.OramReshufflesTotal.Inc()
		}
	}
	return nil
}

func (r *Ring) readHostBucket(ctx context.Context, pos int) (*Bucket, error) {
	if r.metrics != nil {
		r.metrics.BucketReadsTotal.Inc()
	}
	blob, err := r.host.ReadBucket(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("%w: read_bucket(%d): %v", store.ErrUnavailable, pos, err)
	}
	return UnmarshalBucket(blob)
}

func (r *Ring) writeHost(ctx context.Context, pos int, blob []byte) error {
	if r.metrics != nil {
		r.metrics.BucketWritesTotal.Inc()
	}
	if err := r.host.WriteBucket(ctx, pos, blob); err != nil {
		return fmt.Errorf("%w: write_bucket(%d): %v", store.ErrUnavailable, pos, err)
	}
	return nil
}
