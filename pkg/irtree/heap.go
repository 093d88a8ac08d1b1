package irtree

import "container/heap"

// queueEntry is one candidate in the best-first queue: either a tree
// node (with the path it was fetched at) or a document. Consumers
// match on which of the two fields is set.
type queueEntry struct {
	node  *Node
	doc   *Document
	path  int
	score float64
	seq   int
}

func (e queueEntry) isDocument() bool { return e.doc != nil }

// searchQueue is a max-heap on score; ties break on push order.
type searchQueue []queueEntry

func (q searchQueue) Len() int { return len(q) }

func (q searchQueue) Less(i, j int) bool {
	if q[i].score != q[j].score {
		return q[i].score > q[j].score
	}
	return q[i].seq < q[j].seq
}

func (q searchQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *searchQueue) Push(x any) { *q = append(*q, x.(queueEntry)) }

func (q *searchQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

var _ heap.Interface = (*searchQueue)(nil)
