// Package store bridges the tree to the oblivious block store. It owns
// the trusted-region tables mapping logical node ids and logical tree
// paths to ORAM block indices, and persists the root path in a reserved
// block so the tree can be found after restart.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veiltree/veiltree/pkg/oram"
)

// ErrCapacityExceeded is returned when a block allocation would exceed
// the ORAM capacity.
var ErrCapacityExceeded = errors.New("oram block capacity exceeded")

// rootPathBlock is the reserved block index holding the persisted root
// path. It is the first allocation made by the store.
const rootPathBlock = 0

// OramStore maps node ids and tree paths onto ORAM blocks.
//
// During bulk build a write-through node cache short-circuits reads;
// Seal flushes it before the first query, because serving nodes from
// memory while answering queries would leak the access pattern.
type OramStore struct {
	ring *oram.Ring

	nodeToBlock   map[int]int
	pathToBlock   map[int]int
	blockToPath   map[int]int
	pathToNode    map[int]int
	reservedPaths map[int]struct{}

	nextBlock int
	rootPath  int

	cache   map[int][]byte
	caching bool

	mu  sync.Mutex
	log *slog.Logger
}

// New creates a store over the given ring and reserves block 0 for the
// root path. The build cache starts enabled.
func New(ring *oram.Ring) *OramStore {
	s := &OramStore{
		ring:          ring,
		nodeToBlock:   make(map[int]int),
		pathToBlock:   make(map[int]int),
		blockToPath:   make(map[int]int),
		pathToNode:    make(map[int]int),
		reservedPaths: make(map[int]struct{}),
		rootPath:      -1,
		cache:         make(map[int][]byte),
		caching:       true,
		log:           slog.Default().With("component", "oram-store"),
	}
	s.nextBlock = rootPathBlock + 1
	return s
}

func (s *OramStore) allocBlock() (int, error) {
	if s.nextBlock >= s.ring.Capacity() {
		return -1, fmt.Errorf("%w: %d blocks", ErrCapacityExceeded, s.ring.Capacity())
	}
	id := s.nextBlock
	s.nextBlock++
	return id, nil
}

// StoreNode writes the serialized node, allocating a block on first
// store and reusing it afterwards.
func (s *OramStore) StoreNode(ctx context.Context, nodeID int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.nodeToBlock[nodeID]
	if !ok {
		var err error
		if block, err = s.allocBlock(); err != nil {
			return err
		}
		s.nodeToBlock[nodeID] = block
	}

	if _, err := s.ring.Access(ctx, block, oram.Write, data); err != nil {
		return fmt.Errorf("storing node %d: %w", nodeID, err)
	}
	if s.caching {
		s.cache[nodeID] = data
	}
	return nil
}

// ReadNode returns the serialized node, or (nil, nil) when the id has
// no mapping yet.
func (s *OramStore) ReadNode(ctx context.Context, nodeID int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.caching {
		if data, ok := s.cache[nodeID]; ok {
			return data, nil
		}
	}

	block, ok := s.nodeToBlock[nodeID]
	if !ok {
		return nil, nil
	}
	data, err := s.ring.Access(ctx, block, oram.Read, nil)
	if err != nil {
		return nil, fmt.Errorf("reading node %d: %w", nodeID, err)
	}
	return data, nil
}

// DeleteNode detaches a node id from storage. The block stays in the
// tree with empty contents and drifts out during evictions.
func (s *OramStore) DeleteNode(ctx context.Context, nodeID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.nodeToBlock[nodeID]
	if !ok {
		return nil
	}
	if _, err := s.ring.Access(ctx, block, oram.Write, nil); err != nil {
		return fmt.Errorf("deleting node %d: %w", nodeID, err)
	}
	delete(s.nodeToBlock, nodeID)
	delete(s.cache, nodeID)
	if path, ok := s.blockToPath[block]; ok {
		delete(s.blockToPath, block)
		delete(s.pathToBlock, path)
		delete(s.pathToNode, path)
	}
	return nil
}

// BindPath records that the node stored for nodeID is reachable at the
// given tree path. The recursive position map embeds these paths into
// parent nodes; the store only keeps the path tables themselves.
func (s *OramStore) BindPath(path, nodeID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.nodeToBlock[nodeID]
	if !ok {
		return fmt.Errorf("cannot bind path %d: node %d has no block", path, nodeID)
	}
	s.pathToBlock[path] = block
	s.blockToPath[block] = path
	s.pathToNode[path] = nodeID
	delete(s.reservedPaths, path)
	return nil
}

// AccessByPath reads the node bound to path, or (nil, nil) when the
// path has no binding.
func (s *OramStore) AccessByPath(ctx context.Context, path int) ([]byte, error) {
	s.mu.Lock()
	block, ok := s.pathToBlock[path]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	data, err := s.ring.Access(ctx, block, oram.Read, nil)
	if err != nil {
		return nil, fmt.Errorf("reading path %d: %w", path, err)
	}
	return data, nil
}

// NodeIDByPath returns the node id bound to path, -1 when unbound.
// Used by verification and debugging.
func (s *OramStore) NodeIDByPath(path int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pathToNode[path]; ok {
		return id
	}
	return -1
}

// SetRootPath persists the root path into the reserved block.
func (s *OramStore) SetRootPath(ctx context.Context, path int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rootPath = path
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(path)))
	if _, err := s.ring.Access(ctx, rootPathBlock, oram.Write, buf); err != nil {
		return fmt.Errorf("persisting root path: %w", err)
	}
	return nil
}

// RootPath returns the persisted root path, -1 when no tree has been
// sealed yet.
func (s *OramStore) RootPath(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.rootPath != -1 {
		path := s.rootPath
		s.mu.Unlock()
		return path, nil
	}
	s.mu.Unlock()

	data, err := s.ring.Access(ctx, rootPathBlock, oram.Read, nil)
	if err != nil {
		return -1, fmt.Errorf("loading root path: %w", err)
	}
	if len(data) < 4 {
		return -1, nil
	}

	path := int(int32(binary.LittleEndian.Uint32(data)))
	s.mu.Lock()
	s.rootPath = path
	s.mu.Unlock()
	return path, nil
}

// AllocatePath draws a uniform random tree path that is not yet bound.
// Rejection sampling keeps the choice uniform over the free paths; the
// ring always has at least as many leaves as allocatable blocks, so a
// free path exists whenever a node can still be stored.
func (s *OramStore) AllocatePath() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pathToBlock)+len(s.reservedPaths) >= s.ring.NumLeaves() {
		return -1, fmt.Errorf("%w: all %d paths bound", ErrCapacityExceeded, s.ring.NumLeaves())
	}
	for {
		path := s.ring.RandomLeaf()
		_, bound := s.pathToBlock[path]
		_, pending := s.reservedPaths[path]
		if !bound && !pending {
			s.reservedPaths[path] = struct{}{}
			return path, nil
		}
	}
}

// BeginBuild enables the build-time node cache and drops stale path
// bindings so the recursive position map can be rebuilt.
func (s *OramStore) BeginBuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caching = true
	s.pathToBlock = make(map[int]int)
	s.blockToPath = make(map[int]int)
	s.pathToNode = make(map[int]int)
	s.reservedPaths = make(map[int]struct{})
}

// Seal flushes and disables the build cache. Must be called before the
// first query is served.
func (s *OramStore) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.caching {
		return
	}
	n := len(s.cache)
	s.cache = make(map[int][]byte)
	s.caching = false
	s.log.Info("build cache sealed", "cached_nodes", n)
}

// StoredNodes returns the number of node ids with a block mapping.
func (s *OramStore) StoredNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodeToBlock)
}

// AllocatedBlocks returns the allocation watermark.
func (s *OramStore) AllocatedBlocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextBlock
}

// ObliviousLevels exposes the per-access bucket levels that count
// against oblivious bandwidth, for search statistics.
func (s *OramStore) ObliviousLevels() int { return s.ring.ObliviousLevels() }
