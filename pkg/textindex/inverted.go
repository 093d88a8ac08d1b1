package textindex

// Posting is one entry in a term's postings list.
type Posting struct {
	DocID  int
	Weight float64
}

// InvertedIndex maps term ids to postings lists and tracks the total
// document count for IDF computation. Postings are appended in
// insertion order with no dedup; callers must not add a document twice.
type InvertedIndex struct {
	postings  map[int][]Posting
	totalDocs int
}

// NewInvertedIndex creates an empty index.
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		postings: make(map[int][]Posting),
	}
}

// AddDocument appends the document's terms to the relevant postings
// lists and increments the document counter.
func (ix *InvertedIndex) AddDocument(docID int, vec *Vector) {
	ix.totalDocs++
	for termID, weight := range vec.TermWeights() {
		ix.postings[termID] = append(ix.postings[termID], Posting{DocID: docID, Weight: weight})
	}
}

// Postings returns the postings list for a term, nil for unknown terms.
func (ix *InvertedIndex) Postings(termID int) []Posting {
	return ix.postings[termID]
}

// DocumentsWithTerm returns the ids of documents containing the term.
func (ix *InvertedIndex) DocumentsWithTerm(termID int) []int {
	list := ix.postings[termID]
	ids := make([]int, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.DocID)
	}
	return ids
}

// DocumentFrequency returns the number of postings for a term.
func (ix *InvertedIndex) DocumentFrequency(termID int) int {
	return len(ix.postings[termID])
}

// TotalDocuments returns the number of documents added to the index.
func (ix *InvertedIndex) TotalDocuments() int { return ix.totalDocs }
