// Package oram implements a Ring-ORAM block store: a binary tree of
// buckets held by an untrusted host, accessed so that the sequence of
// bucket positions the host observes is independent of which logical
// block the trusted region asked for.
package oram

// DummyIndex marks a block slot that carries no logical block.
const DummyIndex = -1

// Block is one ORAM block. Inside a bucket the data is ciphertext;
// inside the stash it is plaintext.
type Block struct {
	// Leaf is the path the block is mapped to, -1 for dummies.
	Leaf int

	// Index is the logical block index, DummyIndex for dummies.
	Index int

	// Data is the block payload.
	Data []byte
}

// DummyBlock returns a fresh dummy block.
func DummyBlock() Block {
	return Block{Leaf: -1, Index: DummyIndex}
}

// IsDummy reports whether the block carries no logical block.
func (b Block) IsDummy() bool { return b.Index == DummyIndex }
