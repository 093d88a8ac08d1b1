package oram

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorruptBucket is returned when a bucket blob fails structural
// validation.
var ErrCorruptBucket = errors.New("corrupt bucket blob")

// Bucket is one Ring-ORAM tree node: Z real slots plus S dummy slots,
// per-slot pointers to logical block indices, per-slot validity bits,
// and the number of reads since the bucket was last reshuffled.
type Bucket struct {
	Z      int
	S      int
	Blocks []Block
	Ptrs   []int
	Valids []int
	Count  int
}

// NewBucket creates a bucket of Z+S dummy slots, all valid.
func NewBucket(z, s int) *Bucket {
	n := z + s
	b := &Bucket{
		Z:      z,
		S:      s,
		Blocks: make([]Block, n),
		Ptrs:   make([]int, n),
		Valids: make([]int, n),
	}
	for i := 0; i < n; i++ {
		b.Blocks[i] = DummyBlock()
		b.Ptrs[i] = DummyIndex
		b.Valids[i] = 1
	}
	return b
}

// Slots returns the total slot count Z+S.
func (b *Bucket) Slots() int { return b.Z + b.S }

// OffsetOf returns the slot holding the valid block with the given
// logical index, or -1 when no such slot exists.
func (b *Bucket) OffsetOf(index int) int {
	for i := 0; i < b.Slots(); i++ {
		if b.Ptrs[i] == index && b.Valids[i] == 1 {
			return i
		}
	}
	return -1
}

// DummySlot picks a uniformly random valid dummy slot, or -1 when the
// bucket has none left.
func (b *Bucket) DummySlot(src *Source) int {
	var dummies []int
	for i := 0; i < b.Slots(); i++ {
		if b.Ptrs[i] == DummyIndex && b.Valids[i] == 1 {
			dummies = append(dummies, i)
		}
	}
	if len(dummies) == 0 {
		return -1
	}
	return dummies[src.Intn(len(dummies))]
}

// Marshal serializes the bucket into a fixed-size blob:
//
//	int32 Z; int32 S; int32 count; int32 num_blocks;
//	num_blocks x { int32 leaf; int32 index; int32 size; size bytes }
//	(Z+S) x int32 ptrs
//	(Z+S) x int32 valids
//	zero padding to blobSize
//
// The zero pad keeps blobs of the same shape indistinguishable.
func (b *Bucket) Marshal(blobSize int) ([]byte, error) {
	size := 16
	for _, blk := range b.Blocks {
		size += 12 + len(blk.Data)
	}
	size += 8 * b.Slots()
	if size > blobSize {
		return nil, fmt.Errorf("serialized bucket is %d bytes, exceeds blob size %d", size, blobSize)
	}

	blob := make([]byte, blobSize)
	off := 0
	putInt32 := func(v int) {
		binary.LittleEndian.PutUint32(blob[off:], uint32(int32(v)))
		off += 4
	}

	putInt32(b.Z)
	putInt32(b.S)
	putInt32(b.Count)
	putInt32(len(b.Blocks))
	for _, blk := range b.Blocks {
		putInt32(blk.Leaf)
		putInt32(blk.Index)
		putInt32(len(blk.Data))
		copy(blob[off:], blk.Data)
		off += len(blk.Data)
	}
	for _, p := range b.Ptrs {
		putInt32(p)
	}
	for _, v := range b.Valids {
		putInt32(v)
	}

	return blob, nil
}

// UnmarshalBucket parses a bucket blob produced by Marshal.
func UnmarshalBucket(blob []byte) (*Bucket, error) {
	off := 0
	getInt32 := func() (int, error) {
		if off+4 > len(blob) {
			return 0, ErrCorruptBucket
		}
		v := int(int32(binary.LittleEndian.Uint32(blob[off:])))
		off += 4
		return v, nil
	}

	z, err := getInt32()
	if err != nil {
		return nil, err
	}
	s, err := getInt32()
	if err != nil {
		return nil, err
	}
	count, err := getInt32()
	if err != nil {
		return nil, err
	}
	numBlocks, err := getInt32()
	if err != nil {
		return nil, err
	}
	if z < 0 || s < 0 || numBlocks < 0 || numBlocks != z+s {
		return nil, fmt.Errorf("%w: Z=%d S=%d num_blocks=%d", ErrCorruptBucket, z, s, numBlocks)
	}

	b := &Bucket{
		Z:      z,
		S:      s,
		Count:  count,
		Blocks: make([]Block, numBlocks),
		Ptrs:   make([]int, z+s),
		Valids: make([]int, z+s),
	}

	for i := 0; i < numBlocks; i++ {
		leaf, err := getInt32()
		if err != nil {
			return nil, err
		}
		index, err := getInt32()
		if err != nil {
			return nil, err
		}
		size, err := getInt32()
		if err != nil {
			return nil, err
		}
		if size < 0 || off+size > len(blob) {
			return nil, fmt.Errorf("%w: block %d data size %d", ErrCorruptBucket, i, size)
		}
		data := make([]byte, size)
		copy(data, blob[off:off+size])
		off += size
		b.Blocks[i] = Block{Leaf: leaf, Index: index, Data: data}
	}

	for i := range b.Ptrs {
		if b.Ptrs[i], err = getInt32(); err != nil {
			return nil, err
		}
	}
	for i := range b.Valids {
		if b.Valids[i], err = getInt32(); err != nil {
			return nil, err
		}
	}

	return b, nil
}
