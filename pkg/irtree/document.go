// Package irtree implements the IR-tree: an R-tree whose nodes carry
// textual summaries so a best-first top-k search can prune on both
// spatial and textual relevance, backed by an oblivious node store.
package irtree

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/veiltree/veiltree/pkg/geo"
	"github.com/veiltree/veiltree/pkg/textindex"
)

// Document is one indexed record: an id, a spatial footprint, the raw
// text, and the term-frequency map derived from it. Documents are
// immutable after creation.
type Document struct {
	ID       int
	Location geo.MBR
	Text     string

	termFreq map[string]int
}

// NewDocument creates a document and tokenizes its text.
func NewDocument(id int, location geo.MBR, text string) *Document {
	return &Document{
		ID:       id,
		Location: location,
		Text:     text,
		termFreq: textindex.TermFrequencies(text),
	}
}

// TermFrequency returns the count of term in the document, 0 for
// absent terms.
func (d *Document) TermFrequency(term string) int {
	return d.termFreq[term]
}

// TermFreq exposes the term-frequency map. Callers must not mutate it.
func (d *Document) TermFreq() map[string]int { return d.termFreq }

// String renders the document for logs and debugging.
func (d *Document) String() string {
	terms := make([]string, 0, len(d.termFreq))
	for t := range d.termFreq {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	if len(terms) > 5 {
		terms = append(terms[:5], "...")
	}
	return fmt.Sprintf("Document[id=%d, location=%s, terms=%v]", d.ID, d.Location, terms)
}

// Record is one bulk-load input: raw text plus a point location.
type Record struct {
	Text string
	Lon  float64
	Lat  float64
}

// locationEpsilon pads point records into a small non-degenerate box.
const locationEpsilon = 0.001

// MBR returns the record's location as a small box around the point.
func (r Record) MBR() geo.MBR {
	return geo.New(
		[]float64{r.Lon - locationEpsilon, r.Lat - locationEpsilon},
		[]float64{r.Lon + locationEpsilon, r.Lat + locationEpsilon},
	)
}

// ParseRecord parses one bulk-load line of the form "text|lon|lat".
// Returns false for blank or malformed lines.
func ParseRecord(line string) (Record, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, false
	}
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return Record{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Record{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Record{}, false
	}
	return Record{Text: parts[0], Lon: lon, Lat: lat}, true
}

// ParseKeywords splits a query keyword string on whitespace and commas
// and normalizes each keyword like document text.
func ParseKeywords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		keywords = append(keywords, textindex.Tokenize(f)...)
	}
	return keywords
}
