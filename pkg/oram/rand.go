package oram

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

// Source draws the randomness consumed inside the trusted region:
// position-map remaps, dummy-slot selection, and bucket shuffles.
// It is backed by a keyed CSPRNG so that a run can be replayed from a
// seed, which is how the oblivious-trace property is exercised in tests.
type Source struct {
	prng io.Reader
}

// NewSource creates a source keyed with fresh system entropy.
func NewSource() (*Source, error) {
	prng, err := sampling.NewPRNG()
	if err != nil {
		return nil, fmt.Errorf("failed to create prng: %w", err)
	}
	return &Source{prng: prng}, nil
}

// NewSeededSource creates a deterministic source keyed with seed.
// Two sources built from the same seed produce identical streams.
func NewSeededSource(seed []byte) (*Source, error) {
	prng, err := sampling.NewKeyedPRNG(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyed prng: %w", err)
	}
	return &Source{prng: prng}, nil
}

// Uint32 returns the next 32 random bits.
func (s *Source) Uint32() uint32 {
	var buf [4]byte
	if _, err := io.ReadFull(s.prng, buf[:]); err != nil {
		// The PRNG is a pure keystream; reads cannot fail after setup.
		panic(fmt.Sprintf("oram: prng read failed: %v", err))
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Intn returns a random int in [0, n).
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Uint32() % uint32(n))
}

// Shuffle permutes n elements uniformly using the Fisher-Yates swap.
func (s *Source) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.Intn(i + 1)
		swap(i, j)
	}
}
