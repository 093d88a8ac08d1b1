package irtree

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veiltree/veiltree/pkg/encrypt"
	"github.com/veiltree/veiltree/pkg/geo"
	"github.com/veiltree/veiltree/pkg/metrics"
	"github.com/veiltree/veiltree/pkg/oram"
	"github.com/veiltree/veiltree/pkg/textindex"
)

const (
	// DefaultAlpha is the default text/spatial weighting.
	DefaultAlpha = 0.5

	// DefaultTopK is the default result count.
	DefaultTopK = 10

	// pruneThreshold is the joint upper bound below which a child
	// subtree is skipped without being fetched.
	pruneThreshold = 0.1
)

var (
	// ErrInvalidQuery is returned for malformed search parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrInvalidConfig is returned for malformed tree parameters.
	ErrInvalidConfig = errors.New("invalid tree parameters")
)

// NodeStorage is the oblivious node store the tree runs on. Reads of
// unmapped ids or paths return (nil, nil); that is a soft miss, not an
// error.
type NodeStorage interface {
	StoreNode(ctx context.Context, nodeID int, data []byte) error
	ReadNode(ctx context.Context, nodeID int) ([]byte, error)
	DeleteNode(ctx context.Context, nodeID int) error

	AccessByPath(ctx context.Context, path int) ([]byte, error)
	BindPath(path, nodeID int) error
	SetRootPath(ctx context.Context, path int) error
	RootPath(ctx context.Context) (int, error)

	// AllocatePath draws a uniform random tree path not bound since
	// the last BeginBuild. Two nodes must never share a path.
	AllocatePath() (int, error)

	// BeginBuild enables the build-time node cache and clears stale
	// path bindings; Seal flushes the cache before queries are served.
	BeginBuild()
	Seal()
	ObliviousLevels() int
}

// Query is one top-k spatial-keyword search.
type Query struct {
	Keywords []string
	Scope    geo.MBR
	K        int
	Alpha    float64
}

// SearchResult is one ranked hit.
type SearchResult struct {
	DocID int
	Score float64
}

// Tree is the IR-tree over an oblivious node store. All public
// operations run on a single logical thread; the tree holds the
// vocabulary, the global inverted index, and the root id, which never
// leave the trusted region.
type Tree struct {
	storage NodeStorage

	dims        int
	minCapacity int
	maxCapacity int

	vocab *textindex.Vocabulary
	index *textindex.InvertedIndex

	rootID     int
	nextNodeID int
	nextDocID  int

	searchBlocks int

	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes tree construction.
type Option func(*Tree)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tree) { t.metrics = m }
}

// New creates a tree with an empty root leaf and seals its initial
// position map so an empty tree is immediately searchable.
func New(ctx context.Context, storage NodeStorage, dims, minCapacity, maxCapacity int, opts ...Option) (*Tree, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	if minCapacity <= 0 || maxCapacity < minCapacity {
		return nil, fmt.Errorf("%w: capacities %d/%d", ErrInvalidConfig, minCapacity, maxCapacity)
	}

	t := &Tree{
		storage:     storage,
		dims:        dims,
		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		vocab:       textindex.NewVocabulary(),
		index:       textindex.NewInvertedIndex(),
		rootID:      -1,
		log:         slog.Default().With("component", "irtree"),
	}
	for _, opt := range opts {
		opt(t)
	}

	rootID, err := t.createNode(ctx, Leaf, 0, geo.Zero(dims))
	if err != nil {
		return nil, err
	}
	t.rootID = rootID

	if err := t.initRecursivePositionMap(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Dims returns the spatial dimensionality of the tree.
func (t *Tree) Dims() int { return t.dims }

// RootID returns the current root node id.
func (t *Tree) RootID() int { return t.rootID }

// SearchBlocks returns the oblivious-bandwidth accounting of the last
// search: nodes visited times the uncached path length.
func (t *Tree) SearchBlocks() int { return t.searchBlocks }

// ---------------------------------------------------------------------
// Node management
// ---------------------------------------------------------------------

func (t *Tree) createNode(ctx context.Context, typ NodeType, level int, mbr geo.MBR) (int, error) {
	id := t.nextNodeID
	t.nextNodeID++

	node := NewNode(id, typ, level, mbr)
	if err := t.saveNode(ctx, node); err != nil {
		return -1, err
	}
	return id, nil
}

func (t *Tree) loadNode(ctx context.Context, nodeID int) (*Node, error) {
	data, err := t.storage.ReadNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return UnmarshalNode(data)
}

func (t *Tree) saveNode(ctx context.Context, node *Node) error {
	data, err := MarshalNode(node)
	if err != nil {
		return err
	}
	return t.storage.StoreNode(ctx, node.ID, data)
}

func (t *Tree) loadNodeByPath(ctx context.Context, path int) (*Node, error) {
	data, err := t.storage.AccessByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return UnmarshalNode(data)
}

// ---------------------------------------------------------------------
// Relevance scoring
// ---------------------------------------------------------------------

// spatialRelevance is the fraction of the document box covered by the
// query scope: overlap volume over box area, 1.0 for degenerate boxes,
// 0 for disjoint boxes.
func spatialRelevance(box, scope geo.MBR) float64 {
	if !box.Overlaps(scope) {
		return 0
	}
	area := box.Area()
	if area == 0 {
		return 1.0
	}
	return box.OverlapVolume(scope) / area
}

func jointRelevance(text, spatial, alpha float64) float64 {
	return alpha*text + (1-alpha)*spatial
}

// textRelevance sums TF-IDF weights over the query terms present in
// the document, normalized by query length and clamped to 1.
func (t *Tree) textRelevance(doc *Document, keywords []string) float64 {
	total := t.index.TotalDocuments()
	relevance := 0.0
	for _, kw := range keywords {
		termID := t.vocab.TermID(kw)
		if termID == -1 {
			continue
		}
		tf := doc.TermFrequency(kw)
		if tf == 0 {
			continue
		}
		df := t.index.DocumentFrequency(termID)
		if df == 0 {
			continue
		}
		relevance += textindex.TFIDFWeight(tf, df, total)
	}
	if relevance > 0 {
		relevance = math.Min(1.0, relevance/float64(len(keywords)))
	}
	return relevance
}

// nodeRelevance is the joint upper bound used to rank a node in the
// best-first queue: the alpha-weighted sum of the summed per-term
// maximum TF-IDF (normalized by query length, clamped to 1) and the
// spatial relevance of the node MBR.
func (t *Tree) nodeRelevance(node *Node, keywords []string, scope geo.MBR, alpha float64) float64 {
	spatial := spatialRelevance(node.MBR, scope)
	if spatial == 0 {
		return 0
	}

	total := t.index.TotalDocuments()
	textUpper := 0.0
	contributors := 0
	for _, kw := range keywords {
		tfMax := node.MaxTermFrequency(kw)
		if tfMax == 0 {
			continue
		}
		termID := t.vocab.TermID(kw)
		if termID == -1 {
			continue
		}
		df := t.index.DocumentFrequency(termID)
		if df == 0 {
			continue
		}
		textUpper += textindex.TFIDFWeight(tfMax, df, total)
		contributors++
	}
	if contributors == 0 {
		return 0
	}

	textUpper = math.Min(1.0, textUpper/float64(len(keywords)))
	return jointRelevance(textUpper, spatial, alpha)
}

// ---------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------

// Search runs a best-first top-k traversal by path. Results come back
// in descending score order; ties break on lower document id. A soft
// miss of the root yields an empty result; non-fatal storage errors
// mid-traversal yield the results gathered so far with a logged
// warning; crypto and serialization errors propagate.
func (t *Tree) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	if len(q.Keywords) == 0 || q.K <= 0 || q.Alpha < 0 || q.Alpha > 1 {
		return nil, fmt.Errorf("%w: keywords=%d k=%d alpha=%v", ErrInvalidQuery, len(q.Keywords), q.K, q.Alpha)
	}
	if q.Scope.Dims() != t.dims {
		return nil, fmt.Errorf("%w: scope has %d dimensions, tree has %d", ErrInvalidQuery, q.Scope.Dims(), t.dims)
	}

	start := time.Now()
	t.searchBlocks = 0

	rootPath, err := t.storage.RootPath(ctx)
	if err != nil {
		t.countQuery("error")
		return nil, err
	}
	if rootPath == -1 {
		t.countQuery("zero_result")
		return nil, nil
	}

	root, err := t.loadNodeByPath(ctx, rootPath)
	if err != nil {
		t.countQuery("error")
		return nil, err
	}
	if root == nil {
		t.countQuery("zero_result")
		return nil, nil
	}

	queue := &searchQueue{}
	seq := 0
	push := func(e queueEntry) {
		e.seq = seq
		seq++
		heap.Push(queue, e)
	}

	if score := t.nodeRelevance(root, q.Keywords, q.Scope, q.Alpha); score > 0 {
		push(queueEntry{node: root, path: rootPath, score: score})
	}

	var results []SearchResult
	nodesVisited := 0

	for queue.Len() > 0 && len(results) < q.K {
		entry := heap.Pop(queue).(queueEntry)

		if entry.isDocument() {
			results = append(results, SearchResult{DocID: entry.doc.ID, Score: entry.score})
			continue
		}
		nodesVisited++

		if entry.node.Type == Leaf {
			t.collectLeafMatches(entry.node, q, push)
			continue
		}

		if err := t.expandInternal(ctx, entry.node, q, push); err != nil {
			if isFatal(err) {
				t.countQuery("error")
				return nil, err
			}
			t.log.Warn("search truncated by storage error", "error", err)
			break
		}
	}

	t.searchBlocks = nodesVisited * t.storage.ObliviousLevels()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if len(results) > q.K {
		results = results[:q.K]
	}

	if t.metrics != nil {
		t.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		t.metrics.SearchNodesVisited.Observe(float64(nodesVisited))
	}
	if len(results) == 0 {
		t.countQuery("zero_result")
	} else {
		t.countQuery("hit")
	}

	return results, nil
}

func (t *Tree) countQuery(outcome string) {
	if t.metrics != nil {
		t.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

// collectLeafMatches pushes every owned document that overlaps the
// scope and contains all query terms.
func (t *Tree) collectLeafMatches(leaf *Node, q Query, push func(queueEntry)) {
	for _, doc := range leaf.Documents() {
		if !doc.Location.Overlaps(q.Scope) {
			continue
		}
		hasAll := true
		for _, kw := range q.Keywords {
			if doc.TermFrequency(kw) == 0 {
				hasAll = false
				break
			}
		}
		if !hasAll {
			continue
		}

		spatial := spatialRelevance(doc.Location, q.Scope)
		text := t.textRelevance(doc, q.Keywords)
		push(queueEntry{doc: doc, score: jointRelevance(text, spatial, q.Alpha)})
	}
}

// expandInternal walks the child path map of an internal node, prunes
// on the cached per-child summaries, and only fetches the children
// that survive all three checks. A child with no cached MBR is fetched
// first to read its MBR.
func (t *Tree) expandInternal(ctx context.Context, node *Node, q Query, push func(queueEntry)) error {
	for _, childID := range sortedChildIDs(node.ChildPaths()) {
		childPath := node.ChildPath(childID)

		childMBR, cached := node.ChildMBR(childID)
		if !cached {
			child, err := t.loadNodeByPath(ctx, childPath)
			if err != nil {
				return err
			}
			if child == nil {
				continue
			}
			childMBR = child.MBR
		}
		if !childMBR.Overlaps(q.Scope) {
			continue
		}

		if !node.ChildHasAllKeywords(childID, q.Keywords) {
			continue
		}

		textBound := node.ChildTextUpperBound(childID)
		spatialBound := spatialRelevance(childMBR, q.Scope)
		if jointRelevance(textBound, spatialBound, q.Alpha) < pruneThreshold {
			continue
		}

		child, err := t.loadNodeByPath(ctx, childPath)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}

		if score := t.nodeRelevance(child, q.Keywords, q.Scope, q.Alpha); score > 0 {
			push(queueEntry{node: child, path: childPath, score: score})
		}
	}
	return nil
}

// isFatal reports whether an error must abort the search instead of
// truncating it.
func isFatal(err error) bool {
	return errors.Is(err, encrypt.ErrDecryptionFailed) ||
		errors.Is(err, oram.ErrCorruptBucket) ||
		errors.Is(err, ErrCorruptNode) ||
		errors.Is(err, ErrUnsupportedVersion)
}

// ---------------------------------------------------------------------
// Insertion
// ---------------------------------------------------------------------

// InsertDocument tokenizes text, adds it to the global index, and
// inserts it at the leaf needing the least MBR growth. After an
// insert the recursive position map is stale; call Reseal before
// searching.
func (t *Tree) InsertDocument(ctx context.Context, text string, location geo.MBR) error {
	if location.Dims() != t.dims {
		return fmt.Errorf("%w: location has %d dimensions, tree has %d", ErrInvalidConfig, location.Dims(), t.dims)
	}

	doc := NewDocument(t.nextDocID, location, text)
	t.nextDocID++
	t.addToGlobalIndex(doc)

	leafID, err := t.chooseLeaf(ctx, location)
	if err != nil {
		return err
	}
	leaf, err := t.loadNode(ctx, leafID)
	if err != nil {
		return err
	}
	if leaf == nil {
		return fmt.Errorf("leaf %d not found", leafID)
	}

	if err := leaf.AddDocument(doc); err != nil {
		return err
	}
	if err := t.saveNode(ctx, leaf); err != nil {
		return err
	}

	if err := t.adjustTree(ctx, leafID); err != nil {
		return err
	}

	// Re-check the root: adjustTree does not ascend.
	root, err := t.loadNode(ctx, t.rootID)
	if err != nil {
		return err
	}
	if root != nil && t.overCapacity(root) {
		if err := t.splitNode(ctx, t.rootID); err != nil {
			return err
		}
	}

	if t.metrics != nil {
		t.metrics.DocsIndexedTotal.Inc()
	}
	return nil
}

func (t *Tree) addToGlobalIndex(doc *Document) {
	vec := textindex.NewVector(doc.ID)
	textindex.Vectorize(vec, doc.Text, t.vocab)
	t.index.AddDocument(doc.ID, vec)
}

func (t *Tree) overCapacity(n *Node) bool {
	if n.Type == Leaf {
		return len(n.Documents()) > t.maxCapacity
	}
	return len(n.Children()) > t.maxCapacity
}

// chooseLeaf descends from the root picking at each level the child
// whose MBR needs the least area expansion; ties break on smaller
// current area.
func (t *Tree) chooseLeaf(ctx context.Context, mbr geo.MBR) (int, error) {
	currentID := t.rootID
	current, err := t.loadNode(ctx, currentID)
	if err != nil {
		return -1, err
	}
	if current == nil {
		return -1, fmt.Errorf("root node %d not found", t.rootID)
	}

	for current.Type != Leaf {
		bestID := -1
		bestExpansion := math.MaxFloat64
		bestArea := math.MaxFloat64

		for _, childID := range current.ChildIDs() {
			child, err := t.loadNode(ctx, childID)
			if err != nil {
				return -1, err
			}
			if child == nil {
				continue
			}

			expanded := child.MBR.Clone()
			expanded.Expand(mbr)
			expansion := expanded.Area() - child.MBR.Area()
			area := child.MBR.Area()

			if bestID == -1 || expansion < bestExpansion ||
				(expansion == bestExpansion && area < bestArea) {
				bestID = childID
				bestExpansion = expansion
				bestArea = area
			}
		}

		if bestID == -1 {
			break
		}
		currentID = bestID
		if current, err = t.loadNode(ctx, currentID); err != nil {
			return -1, err
		}
		if current == nil {
			return -1, fmt.Errorf("node %d not found", currentID)
		}
	}

	return currentID, nil
}

// adjustTree refreshes the node summary and splits if the node is
// still over capacity. It does not ascend: bulk build is the mass
// path, and InsertDocument re-checks the root explicitly.
func (t *Tree) adjustTree(ctx context.Context, nodeID int) error {
	node, err := t.loadNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}

	node.UpdateSummary()
	if err := t.saveNode(ctx, node); err != nil {
		return err
	}

	if t.overCapacity(node) {
		return t.splitNode(ctx, nodeID)
	}
	return nil
}

// splitNode performs a linear split on the x-axis center: sort the
// entries, cut at the midpoint, move each half into a fresh node at
// the same level. A root split grows the tree by one level and
// detaches the old root block.
func (t *Tree) splitNode(ctx context.Context, nodeID int) error {
	node, err := t.loadNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node == nil || !t.overCapacity(node) {
		return nil
	}

	var leftID, rightID int
	if node.Type == Leaf {
		leftID, rightID, err = t.splitLeaf(ctx, node)
	} else {
		leftID, rightID, err = t.splitInternal(ctx, node)
	}
	if err != nil {
		return err
	}

	if nodeID != t.rootID {
		return nil
	}

	left, err := t.loadNode(ctx, leftID)
	if err != nil {
		return err
	}
	right, err := t.loadNode(ctx, rightID)
	if err != nil {
		return err
	}
	if left == nil || right == nil {
		return fmt.Errorf("split halves of root %d not found", nodeID)
	}

	rootMBR := left.MBR.Clone()
	rootMBR.Expand(right.MBR)
	newRootID, err := t.createNode(ctx, Internal, node.Level+1, rootMBR)
	if err != nil {
		return err
	}
	newRoot, err := t.loadNode(ctx, newRootID)
	if err != nil {
		return err
	}
	if err := newRoot.AddChild(left); err != nil {
		return err
	}
	if err := newRoot.AddChild(right); err != nil {
		return err
	}
	t.setChildUpperBounds(newRoot)
	if err := t.saveNode(ctx, newRoot); err != nil {
		return err
	}

	t.rootID = newRootID
	return t.storage.DeleteNode(ctx, nodeID)
}

func (t *Tree) splitLeaf(ctx context.Context, node *Node) (int, int, error) {
	docs := append([]*Document(nil), node.Documents()...)
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Location.Center()[0] < docs[j].Location.Center()[0]
	})
	cut := len(docs) / 2

	left, err := t.newNodeFrom(ctx, Leaf, node.Level, docLocations(docs[:cut]))
	if err != nil {
		return -1, -1, err
	}
	right, err := t.newNodeFrom(ctx, Leaf, node.Level, docLocations(docs[cut:]))
	if err != nil {
		return -1, -1, err
	}

	for _, doc := range docs[:cut] {
		if err := left.AddDocument(doc); err != nil {
			return -1, -1, err
		}
	}
	for _, doc := range docs[cut:] {
		if err := right.AddDocument(doc); err != nil {
			return -1, -1, err
		}
	}

	if err := t.saveNode(ctx, left); err != nil {
		return -1, -1, err
	}
	if err := t.saveNode(ctx, right); err != nil {
		return -1, -1, err
	}
	return left.ID, right.ID, nil
}

func (t *Tree) splitInternal(ctx context.Context, node *Node) (int, int, error) {
	children := make([]*Node, 0, len(node.ChildIDs()))
	for _, childID := range node.ChildIDs() {
		child, err := t.loadNode(ctx, childID)
		if err != nil {
			return -1, -1, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].MBR.Center()[0] < children[j].MBR.Center()[0]
	})
	cut := len(children) / 2

	left, err := t.newNodeFrom(ctx, Internal, node.Level, nodeMBRs(children[:cut]))
	if err != nil {
		return -1, -1, err
	}
	right, err := t.newNodeFrom(ctx, Internal, node.Level, nodeMBRs(children[cut:]))
	if err != nil {
		return -1, -1, err
	}

	for _, child := range children[:cut] {
		if err := left.AddChild(child); err != nil {
			return -1, -1, err
		}
	}
	for _, child := range children[cut:] {
		if err := right.AddChild(child); err != nil {
			return -1, -1, err
		}
	}
	t.setChildUpperBounds(left)
	t.setChildUpperBounds(right)

	if err := t.saveNode(ctx, left); err != nil {
		return -1, -1, err
	}
	if err := t.saveNode(ctx, right); err != nil {
		return -1, -1, err
	}
	return left.ID, right.ID, nil
}

// newNodeFrom creates a node whose MBR is the union of the given
// boxes, returning it loaded and ready for entries.
func (t *Tree) newNodeFrom(ctx context.Context, typ NodeType, level int, boxes []geo.MBR) (*Node, error) {
	if len(boxes) == 0 {
		return nil, fmt.Errorf("%w: split half is empty", ErrInvalidConfig)
	}
	mbr := boxes[0].Clone()
	for _, b := range boxes[1:] {
		mbr.Expand(b)
	}
	id, err := t.createNode(ctx, typ, level, mbr)
	if err != nil {
		return nil, err
	}
	return NewNode(id, typ, level, mbr), nil
}

func docLocations(docs []*Document) []geo.MBR {
	boxes := make([]geo.MBR, len(docs))
	for i, d := range docs {
		boxes[i] = d.Location
	}
	return boxes
}

func nodeMBRs(nodes []*Node) []geo.MBR {
	boxes := make([]geo.MBR, len(nodes))
	for i, n := range nodes {
		boxes[i] = n.MBR
	}
	return boxes
}

// setChildUpperBounds caches, for every child, the largest per-term
// maximum TF-IDF achievable in its subtree.
func (t *Tree) setChildUpperBounds(parent *Node) {
	if parent.Type != Internal {
		return
	}
	total := t.index.TotalDocuments()
	for _, child := range parent.Children() {
		bound := 0.0
		for term, tfMax := range child.TFMax() {
			termID := t.vocab.TermID(term)
			if termID == -1 {
				continue
			}
			df := t.index.DocumentFrequency(termID)
			if df == 0 {
				continue
			}
			if w := textindex.TFIDFWeight(tfMax, df, total); w > bound {
				bound = w
			}
		}
		parent.SetChildTextUpperBound(child.ID, bound)
	}
}

// ---------------------------------------------------------------------
// Bulk build
// ---------------------------------------------------------------------

// BulkInsertFromFile loads "text|lon|lat" records from a file and bulk
// builds the tree. Blank and malformed lines are skipped.
func (t *Tree) BulkInsertFromFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening bulk-load file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if rec, ok := ParseRecord(scanner.Text()); ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading bulk-load file: %w", err)
	}

	t.log.Info("bulk-load file parsed", "path", path, "records", len(records))
	return t.BulkInsertRecords(ctx, records)
}

// BulkInsertRecords builds the tree bottom-up: tokenize every record,
// build the global index, sort by x-center, pack leaves, form internal
// levels with their per-child caches, then seal the tree behind the
// recursive position map. Bottom-up packing avoids the cascade of
// per-insert splits and guarantees the per-child summaries exist
// before the tree is sealed into the oblivious store.
func (t *Tree) BulkInsertRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	t.storage.BeginBuild()

	// Tokenization has no trusted-region state, so it can fan out.
	docs := make([]*Document, len(records))
	firstID := t.nextDocID
	t.nextDocID += len(records)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range records {
		g.Go(func() error {
			docs[i] = NewDocument(firstID+i, records[i].MBR(), records[i].Text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, doc := range docs {
		t.addToGlobalIndex(doc)
	}

	sorted := append([]*Document(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Location.Center()[0] < sorted[j].Location.Center()[0]
	})

	// Pack leaves.
	var level []*Node
	for i := 0; i < len(sorted); i += t.maxCapacity {
		end := min(i+t.maxCapacity, len(sorted))
		leaf, err := t.newNodeFrom(ctx, Leaf, 0, docLocations(sorted[i:end]))
		if err != nil {
			return err
		}
		for _, doc := range sorted[i:end] {
			if err := leaf.AddDocument(doc); err != nil {
				return err
			}
		}
		if err := t.saveNode(ctx, leaf); err != nil {
			return err
		}
		level = append(level, leaf)
	}
	t.log.Info("leaf level packed", "leaves", len(level))

	// Form internal levels until one node remains.
	height := 1
	for len(level) > 1 {
		sort.SliceStable(level, func(i, j int) bool {
			return level[i].MBR.Center()[0] < level[j].MBR.Center()[0]
		})

		var next []*Node
		for i := 0; i < len(level); i += t.maxCapacity {
			end := min(i+t.maxCapacity, len(level))
			parent, err := t.newNodeFrom(ctx, Internal, height, nodeMBRs(level[i:end]))
			if err != nil {
				return err
			}
			for _, child := range level[i:end] {
				if err := parent.AddChild(child); err != nil {
					return err
				}
			}
			t.setChildUpperBounds(parent)
			if err := t.saveNode(ctx, parent); err != nil {
				return err
			}
			next = append(next, parent)
		}
		level = next
		height++
	}

	t.rootID = level[0].ID

	if t.metrics != nil {
		t.metrics.DocsIndexedTotal.Add(float64(len(records)))
	}
	return t.initRecursivePositionMap(ctx)
}

// Reseal rebuilds the recursive position map after per-document
// inserts changed the tree shape.
func (t *Tree) Reseal(ctx context.Context) error {
	return t.initRecursivePositionMap(ctx)
}

// initRecursivePositionMap assigns every node a random tree path,
// embeds each child's path into its parent, flushes the build cache,
// and persists the root path.
func (t *Tree) initRecursivePositionMap(ctx context.Context) error {
	t.storage.BeginBuild()
	rootPath, err := t.assignPath(ctx, t.rootID)
	if err != nil {
		return err
	}
	t.storage.Seal()
	return t.storage.SetRootPath(ctx, rootPath)
}

// assignPath recursively assigns paths bottom-up so a parent is saved
// with every child path already embedded. Recursion depth is bounded
// by tree height.
func (t *Tree) assignPath(ctx context.Context, nodeID int) (int, error) {
	node, err := t.loadNode(ctx, nodeID)
	if err != nil {
		return -1, err
	}
	if node == nil {
		return -1, fmt.Errorf("node %d not found during path assignment", nodeID)
	}

	path, err := t.storage.AllocatePath()
	if err != nil {
		return -1, err
	}

	if node.Type == Internal {
		for _, childID := range node.ChildIDs() {
			childPath, err := t.assignPath(ctx, childID)
			if err != nil {
				return -1, err
			}
			node.SetChildPath(childID, childPath)
		}
	}

	if err := t.saveNode(ctx, node); err != nil {
		return -1, err
	}
	return path, t.storage.BindPath(path, nodeID)
}
