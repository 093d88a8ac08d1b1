package irtree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/veiltree/veiltree/pkg/geo"
)

// FormatVersion is the current node serialization version. The version
// field is written last; decoding accepts any version up to this one.
const FormatVersion = 7

var (
	// ErrCorruptNode is returned for truncated or structurally invalid
	// node buffers.
	ErrCorruptNode = errors.New("corrupt node buffer")

	// ErrUnsupportedVersion is returned for buffers written by a newer
	// format than this code understands.
	ErrUnsupportedVersion = errors.New("unsupported node format version")
)

// writer accumulates the little-endian, length-prefixed node layout.
type writer struct {
	buf []byte
}

func (w *writer) int32(v int) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) float64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) string(s string) {
	w.int32(len(s))
	w.buf = append(w.buf, s...)
}

func (w *writer) mbr(m geo.MBR) {
	w.int32(len(m.Min))
	for _, c := range m.Min {
		w.float64(c)
	}
	w.int32(len(m.Max))
	for _, c := range m.Max {
		w.float64(c)
	}
}

// reader walks a node buffer, failing on any truncation.
type reader struct {
	buf []byte
	off int
}

func (r *reader) int32() (int, error) {
	if r.off+4 > len(r.buf) {
		return 0, ErrCorruptNode
	}
	v := int(int32(binary.LittleEndian.Uint32(r.buf[r.off:])))
	r.off += 4
	return v, nil
}

func (r *reader) float64() (float64, error) {
	if r.off+8 > len(r.buf) {
		return 0, ErrCorruptNode
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	if n < 0 || r.off+n > len(r.buf) {
		return "", ErrCorruptNode
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s, nil
}

func (r *reader) mbr() (geo.MBR, error) {
	dmin, err := r.int32()
	if err != nil {
		return geo.MBR{}, err
	}
	if dmin < 0 || dmin > 64 {
		return geo.MBR{}, fmt.Errorf("%w: mbr dimension %d", ErrCorruptNode, dmin)
	}
	min := make([]float64, dmin)
	for i := range min {
		if min[i], err = r.float64(); err != nil {
			return geo.MBR{}, err
		}
	}
	dmax, err := r.int32()
	if err != nil {
		return geo.MBR{}, err
	}
	if dmax != dmin {
		return geo.MBR{}, fmt.Errorf("%w: mbr dimensions %d/%d", ErrCorruptNode, dmin, dmax)
	}
	max := make([]float64, dmax)
	for i := range max {
		if max[i], err = r.float64(); err != nil {
			return geo.MBR{}, err
		}
	}
	return geo.MBR{Min: min, Max: max}, nil
}

func sortedTerms(m map[string]int) []string {
	terms := make([]string, 0, len(m))
	for t := range m {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

func sortedChildIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MarshalDocument serializes a document payload: id, raw text, MBR,
// then (term, freq) pairs. The pairs are redundant with the raw text
// and are rebuilt from it on load.
func MarshalDocument(d *Document) []byte {
	w := &writer{}
	w.int32(d.ID)
	w.string(d.Text)
	w.mbr(d.Location)

	terms := sortedTerms(d.TermFreq())
	w.int32(len(terms))
	for _, t := range terms {
		w.string(t)
		w.int32(d.TermFreq()[t])
	}
	return w.buf
}

// UnmarshalDocument parses a document payload. Term frequencies are
// reconstructed from the raw text; the serialized pairs are skipped.
func UnmarshalDocument(buf []byte) (*Document, error) {
	r := &reader{buf: buf}

	id, err := r.int32()
	if err != nil {
		return nil, err
	}
	text, err := r.string()
	if err != nil {
		return nil, err
	}
	location, err := r.mbr()
	if err != nil {
		return nil, err
	}

	count, err := r.int32()
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		if _, err := r.string(); err != nil {
			return nil, err
		}
		if _, err := r.int32(); err != nil {
			return nil, err
		}
	}

	return NewDocument(id, location, text), nil
}

// MarshalNode serializes a node into the deterministic version-7
// layout. Map-valued fields are written in sorted key order so the
// same node always produces the same bytes.
func MarshalNode(n *Node) ([]byte, error) {
	w := &writer{}

	w.int32(n.ID)
	w.int32(int(n.Type))
	w.int32(n.Level)
	w.int32(n.DocumentCount())
	w.mbr(n.MBR)

	if n.Type == Internal {
		w.int32(len(n.children))
		for _, child := range n.children {
			w.int32(child.ID)
		}
	} else {
		w.int32(0)
	}

	if n.Type == Leaf {
		w.int32(len(n.documents))
		for _, doc := range n.documents {
			payload := MarshalDocument(doc)
			w.int32(len(payload))
			w.buf = append(w.buf, payload...)
		}
	} else {
		w.int32(0)
	}

	dfTerms := sortedTerms(n.df)
	w.int32(len(dfTerms))
	for _, t := range dfTerms {
		w.string(t)
		w.int32(n.df[t])
	}

	tfTerms := sortedTerms(n.tfMax)
	w.int32(len(tfTerms))
	for _, t := range tfTerms {
		w.string(t)
		w.int32(n.tfMax[t])
	}

	pathIDs := sortedChildIDs(n.childPaths)
	w.int32(len(pathIDs))
	for _, id := range pathIDs {
		w.int32(id)
		w.int32(n.childPaths[id])
	}

	if n.Type == Internal {
		mbrIDs := sortedChildIDs(n.childMBRs)
		w.int32(len(mbrIDs))
		for _, id := range mbrIDs {
			w.int32(id)
			w.mbr(n.childMBRs[id])
		}

		boundIDs := sortedChildIDs(n.childTextBounds)
		w.int32(len(boundIDs))
		for _, id := range boundIDs {
			w.int32(id)
			w.float64(n.childTextBounds[id])
		}

		kwIDs := sortedChildIDs(n.childKeywords)
		w.int32(len(kwIDs))
		for _, id := range kwIDs {
			w.int32(id)
			set := n.childKeywords[id]
			keywords := make([]string, 0, len(set))
			for kw := range set {
				keywords = append(keywords, kw)
			}
			sort.Strings(keywords)
			w.int32(len(keywords))
			for _, kw := range keywords {
				w.string(kw)
			}
		}
	} else {
		w.int32(0)
		w.int32(0)
		w.int32(0)
	}

	w.int32(FormatVersion)
	return w.buf, nil
}

// UnmarshalNode rebuilds a node from its serialized form. Children of
// internal nodes come back as id-only placeholders; the summary maps
// are applied directly so they stay authoritative.
func UnmarshalNode(buf []byte) (*Node, error) {
	if len(buf) == 0 {
		return nil, ErrCorruptNode
	}
	r := &reader{buf: buf}

	id, err := r.int32()
	if err != nil {
		return nil, err
	}
	typRaw, err := r.int32()
	if err != nil {
		return nil, err
	}
	if typRaw != int(Leaf) && typRaw != int(Internal) {
		return nil, fmt.Errorf("%w: node type %d", ErrCorruptNode, typRaw)
	}
	typ := NodeType(typRaw)
	level, err := r.int32()
	if err != nil {
		return nil, err
	}
	docCount, err := r.int32()
	if err != nil {
		return nil, err
	}
	mbr, err := r.mbr()
	if err != nil {
		return nil, err
	}

	node := NewNode(id, typ, level, mbr)

	numChildren, err := r.int32()
	if err != nil {
		return nil, err
	}
	if numChildren < 0 {
		return nil, fmt.Errorf("%w: child count %d", ErrCorruptNode, numChildren)
	}
	childIDs := make([]int, numChildren)
	for i := range childIDs {
		if childIDs[i], err = r.int32(); err != nil {
			return nil, err
		}
	}
	for _, cid := range childIDs {
		node.children = append(node.children, placeholder(cid, level-1, mbr.Dims()))
	}

	numDocs, err := r.int32()
	if err != nil {
		return nil, err
	}
	if numDocs < 0 {
		return nil, fmt.Errorf("%w: document count %d", ErrCorruptNode, numDocs)
	}
	for i := 0; i < numDocs; i++ {
		size, err := r.int32()
		if err != nil {
			return nil, err
		}
		if size < 0 || r.off+size > len(buf) {
			return nil, fmt.Errorf("%w: document payload size %d", ErrCorruptNode, size)
		}
		doc, err := UnmarshalDocument(buf[r.off : r.off+size])
		if err != nil {
			return nil, err
		}
		r.off += size
		node.documents = append(node.documents, doc)
	}

	df, err := readTermMap(r)
	if err != nil {
		return nil, err
	}
	tfMax, err := readTermMap(r)
	if err != nil {
		return nil, err
	}

	pathCount, err := r.int32()
	if err != nil {
		return nil, err
	}
	childPaths := make(map[int]int, pathCount)
	for i := 0; i < pathCount; i++ {
		cid, err := r.int32()
		if err != nil {
			return nil, err
		}
		path, err := r.int32()
		if err != nil {
			return nil, err
		}
		childPaths[cid] = path
	}
	node.SetChildPaths(childPaths)

	mbrCount, err := r.int32()
	if err != nil {
		return nil, err
	}
	for i := 0; i < mbrCount; i++ {
		cid, err := r.int32()
		if err != nil {
			return nil, err
		}
		childMBR, err := r.mbr()
		if err != nil {
			return nil, err
		}
		node.SetChildMBR(cid, childMBR)
	}

	boundCount, err := r.int32()
	if err != nil {
		return nil, err
	}
	for i := 0; i < boundCount; i++ {
		cid, err := r.int32()
		if err != nil {
			return nil, err
		}
		bound, err := r.float64()
		if err != nil {
			return nil, err
		}
		node.SetChildTextUpperBound(cid, bound)
	}

	kwCount, err := r.int32()
	if err != nil {
		return nil, err
	}
	for i := 0; i < kwCount; i++ {
		cid, err := r.int32()
		if err != nil {
			return nil, err
		}
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: keyword count %d", ErrCorruptNode, n)
		}
		set := make(map[string]struct{}, n)
		for j := 0; j < n; j++ {
			kw, err := r.string()
			if err != nil {
				return nil, err
			}
			set[kw] = struct{}{}
		}
		node.SetChildKeywords(cid, set)
	}

	version, err := r.int32()
	if err != nil {
		return nil, err
	}
	if version > FormatVersion {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, version, FormatVersion)
	}

	// Applied last so placeholder children cannot clobber the
	// authoritative summaries.
	node.SetSummary(df, tfMax)
	node.setDocumentCount(docCount)

	return node, nil
}

func readTermMap(r *reader) (map[string]int, error) {
	count, err := r.int32()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: term map count %d", ErrCorruptNode, count)
	}
	m := make(map[string]int, count)
	for i := 0; i < count; i++ {
		term, err := r.string()
		if err != nil {
			return nil, err
		}
		freq, err := r.int32()
		if err != nil {
			return nil, err
		}
		m[term] = freq
	}
	return m, nil
}
