package irtree

import (
	"errors"

	"github.com/veiltree/veiltree/pkg/geo"
)

// NodeType distinguishes leaf from internal nodes.
type NodeType int

const (
	// Leaf nodes own documents and sit at level 0.
	Leaf NodeType = iota
	// Internal nodes own child nodes.
	Internal
)

var (
	// ErrNotLeaf is returned when a document operation hits an
	// internal node.
	ErrNotLeaf = errors.New("node is not a leaf")

	// ErrNotInternal is returned when a child operation hits a leaf.
	ErrNotInternal = errors.New("node is not internal")
)

// Node is one IR-tree node. Leaves own documents; internal nodes own
// children plus four per-child caches that let the parent prune a
// subtree before fetching any of its blocks: the child's MBR, its
// keyword set, its textual upper bound, and the tree path it is stored
// at (the recursive position map entry).
//
// Children of a deserialized internal node are placeholders carrying
// only the child id; the real child lives in its own block and is
// fetched on demand by path.
type Node struct {
	ID    int
	Type  NodeType
	Level int
	MBR   geo.MBR

	documentCount int
	children      []*Node
	documents     []*Document

	df    map[string]int
	tfMax map[string]int

	childPaths      map[int]int
	childMBRs       map[int]geo.MBR
	childTextBounds map[int]float64
	childKeywords   map[int]map[string]struct{}
}

// NewNode creates an empty node of the given type and level.
func NewNode(id int, typ NodeType, level int, mbr geo.MBR) *Node {
	return &Node{
		ID:              id,
		Type:            typ,
		Level:           level,
		MBR:             mbr,
		df:              make(map[string]int),
		tfMax:           make(map[string]int),
		childPaths:      make(map[int]int),
		childMBRs:       make(map[int]geo.MBR),
		childTextBounds: make(map[int]float64),
		childKeywords:   make(map[int]map[string]struct{}),
	}
}

// placeholder creates the id-only child stub used after
// deserialization.
func placeholder(id, level, dims int) *Node {
	return NewNode(id, Leaf, level, geo.Zero(dims))
}

// AddDocument appends a document to a leaf, grows the node MBR to
// include its location, and recomputes the summary.
func (n *Node) AddDocument(doc *Document) error {
	if n.Type != Leaf {
		return ErrNotLeaf
	}
	n.documents = append(n.documents, doc)
	n.MBR.Expand(doc.Location)
	n.UpdateSummary()
	return nil
}

// AddChild appends a child to an internal node, grows the node MBR,
// seeds the child's MBR and keyword caches from the child's summary,
// and recomputes the node summary.
func (n *Node) AddChild(child *Node) error {
	if n.Type != Internal {
		return ErrNotInternal
	}
	n.children = append(n.children, child)
	n.MBR.Expand(child.MBR)

	n.SetChildMBR(child.ID, child.MBR)
	keywords := make(map[string]struct{}, len(child.tfMax))
	for term := range child.tfMax {
		keywords[term] = struct{}{}
	}
	n.SetChildKeywords(child.ID, keywords)

	n.UpdateSummary()
	return nil
}

// UpdateSummary recomputes documentCount, df, and tfMax: for a leaf
// from the owned documents, for an internal node from the children's
// summaries (sum df, max tfMax, sum document counts).
func (n *Node) UpdateSummary() {
	n.documentCount = 0
	n.df = make(map[string]int)
	n.tfMax = make(map[string]int)

	if n.Type == Leaf {
		for _, doc := range n.documents {
			n.documentCount++
			for term, freq := range doc.TermFreq() {
				n.df[term]++
				if n.tfMax[term] < freq {
					n.tfMax[term] = freq
				}
			}
		}
		return
	}

	for _, child := range n.children {
		n.documentCount += child.documentCount
		for term, count := range child.df {
			n.df[term] += count
		}
		for term, freq := range child.tfMax {
			if n.tfMax[term] < freq {
				n.tfMax[term] = freq
			}
		}
	}
}

// Documents returns the owned documents of a leaf.
func (n *Node) Documents() []*Document { return n.documents }

// Children returns the child nodes (placeholders after deserialize).
func (n *Node) Children() []*Node { return n.children }

// ChildIDs returns the ids of all children.
func (n *Node) ChildIDs() []int {
	ids := make([]int, len(n.children))
	for i, c := range n.children {
		ids[i] = c.ID
	}
	return ids
}

// DocumentCount returns the number of documents under the node.
func (n *Node) DocumentCount() int { return n.documentCount }

// DocumentFrequency returns the node-local document frequency of term.
func (n *Node) DocumentFrequency(term string) int { return n.df[term] }

// MaxTermFrequency returns the maximum per-document frequency of term
// in the subtree.
func (n *Node) MaxTermFrequency(term string) int { return n.tfMax[term] }

// DF exposes the document-frequency summary. Callers must not mutate.
func (n *Node) DF() map[string]int { return n.df }

// TFMax exposes the max-term-frequency summary. Callers must not
// mutate.
func (n *Node) TFMax() map[string]int { return n.tfMax }

// SetSummary overwrites df and tfMax directly, bypassing
// UpdateSummary. Deserialization uses this so placeholder children do
// not clobber the authoritative on-disk summaries.
func (n *Node) SetSummary(df, tfMax map[string]int) {
	n.df = df
	n.tfMax = tfMax
}

// setDocumentCount restores the persisted count during deserialization.
func (n *Node) setDocumentCount(count int) { n.documentCount = count }

// SetChildPath records the tree path a child is stored at.
func (n *Node) SetChildPath(childID, path int) { n.childPaths[childID] = path }

// ChildPath returns the stored path of a child, -1 when unknown.
func (n *Node) ChildPath(childID int) int {
	if p, ok := n.childPaths[childID]; ok {
		return p
	}
	return -1
}

// ChildPaths exposes the child path map. Callers must not mutate.
func (n *Node) ChildPaths() map[int]int { return n.childPaths }

// SetChildPaths overwrites the child path map (deserialization).
func (n *Node) SetChildPaths(paths map[int]int) { n.childPaths = paths }

// SetChildMBR caches a child's MBR in the parent.
func (n *Node) SetChildMBR(childID int, mbr geo.MBR) { n.childMBRs[childID] = mbr }

// ChildMBR returns the cached MBR of a child and whether it is cached.
func (n *Node) ChildMBR(childID int) (geo.MBR, bool) {
	mbr, ok := n.childMBRs[childID]
	return mbr, ok
}

// ChildMBRs exposes the child MBR map. Callers must not mutate.
func (n *Node) ChildMBRs() map[int]geo.MBR { return n.childMBRs }

// SetChildTextUpperBound caches the largest per-term maximum TF-IDF
// achievable in the child's subtree.
func (n *Node) SetChildTextUpperBound(childID int, bound float64) {
	n.childTextBounds[childID] = bound
}

// ChildTextUpperBound returns the cached text upper bound of a child,
// 0 when unknown.
func (n *Node) ChildTextUpperBound(childID int) float64 {
	return n.childTextBounds[childID]
}

// ChildTextUpperBounds exposes the bound map. Callers must not mutate.
func (n *Node) ChildTextUpperBounds() map[int]float64 { return n.childTextBounds }

// SetChildKeywords caches the set of terms present in a child's
// subtree.
func (n *Node) SetChildKeywords(childID int, keywords map[string]struct{}) {
	n.childKeywords[childID] = keywords
}

// ChildKeywords returns the cached keyword set of a child, nil when
// unknown.
func (n *Node) ChildKeywords(childID int) map[string]struct{} {
	return n.childKeywords[childID]
}

// ChildKeywordsMap exposes the keyword cache. Callers must not mutate.
func (n *Node) ChildKeywordsMap() map[int]map[string]struct{} { return n.childKeywords }

// ChildHasAllKeywords reports whether the child's cached keyword set
// contains every query keyword. An uncached child reports false.
func (n *Node) ChildHasAllKeywords(childID int, keywords []string) bool {
	set, ok := n.childKeywords[childID]
	if !ok {
		return false
	}
	for _, kw := range keywords {
		if _, ok := set[kw]; !ok {
			return false
		}
	}
	return true
}
