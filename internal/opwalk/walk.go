// Package opwalk traverses and rewrites the operation graph.
package opwalk

import (
	"container/heap"
	"iter"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opstore"
)

// Store is the part of the operation store the walker needs.
type Store interface {
	ReadOperation(id dag.OperationID) (*opstore.Operation, error)
	WriteOperation(op opstore.Operation) (*opstore.Operation, error)
	ResolvePrefix(prefix string) ([]dag.OperationID, error)
	Parents(id dag.OperationID) ([]dag.OperationID, error)
}

// byEndTime is a max-heap: latest end time first, ties broken by id.
type byEndTime []*opstore.Operation

func (h byEndTime) Len() int { return len(h) }
func (h byEndTime) Less(i, j int) bool {
	ei, ej := h[i].Metadata.End, h[j].Metadata.End
	if !ei.Equal(ej) {
		return ei.After(ej)
	}
	return h[i].ID > h[j].ID
}
func (h byEndTime) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *byEndTime) Push(x any)   { *h = append(*h, x.(*opstore.Operation)) }
func (h *byEndTime) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	*h = old[:n-1]
	return op
}

// WalkAncestors yields heads and all their ancestors, each once, most
// recently finished first. Reading stops at the first error, which is
// yielded with a nil operation. The sequence can be ranged over repeatedly.
func WalkAncestors(store Store, heads []*opstore.Operation) iter.Seq2[*opstore.Operation, error] {
	return func(yield func(*opstore.Operation, error) bool) {
		seen := make(map[dag.OperationID]bool)
		h := &byEndTime{}
		for _, op := range heads {
			if !seen[op.ID] {
				seen[op.ID] = true
				heap.Push(h, op)
			}
		}
		for h.Len() > 0 {
			op := heap.Pop(h).(*opstore.Operation)
			if !yield(op, nil) {
				return
			}
			for _, pid := range op.Parents {
				if seen[pid] {
					continue
				}
				seen[pid] = true
				parent, err := store.ReadOperation(pid)
				if err != nil {
					yield(nil, err)
					return
				}
				heap.Push(h, parent)
			}
		}
	}
}

// ClosestCommonAncestor returns the nearest operation reachable from both
// sets. ok is false when the sets share no history.
func ClosestCommonAncestor(store Store, set1, set2 []dag.OperationID) (id dag.OperationID, ok bool, err error) {
	return dag.ClosestCommonNode(set1, set2, store.Parents)
}

// IsAncestor reports whether ancestor is reachable from descendant. Every
// operation is its own ancestor.
func IsAncestor(store Store, ancestor, descendant dag.OperationID) (bool, error) {
	reach, err := dag.Reachable([]dag.OperationID{descendant}, store.Parents)
	if err != nil {
		return false, err
	}
	return reach[ancestor], nil
}

// HeadsOf drops every operation that is an ancestor of another one in ops.
// The input order is kept.
func HeadsOf(store Store, ops []*opstore.Operation) ([]*opstore.Operation, error) {
	var parents []dag.OperationID
	for _, op := range ops {
		parents = append(parents, op.Parents...)
	}
	covered, err := dag.Reachable(parents, store.Parents)
	if err != nil {
		return nil, err
	}
	var heads []*opstore.Operation
	seen := make(map[dag.OperationID]bool)
	for _, op := range ops {
		if covered[op.ID] || seen[op.ID] {
			continue
		}
		seen[op.ID] = true
		heads = append(heads, op)
	}
	return heads, nil
}
