package backend

import (
	"fmt"
	"sort"

	"github.com/systemshift/opdag/internal/dag"
)

// Index answers ancestry queries over the commit graph. It reads commits
// through a CommitReader and keeps no state of its own, so it sees every
// commit the reader can see.
type Index struct {
	store CommitReader
}

// NewIndex returns an Index over store.
func NewIndex(store CommitReader) *Index {
	return &Index{store: store}
}

// Parents returns the parent ids of id.
func (ix *Index) Parents(id dag.CommitID) ([]dag.CommitID, error) {
	c, err := ix.store.GetCommit(id)
	if err != nil {
		return nil, err
	}
	return c.Parents, nil
}

// IsAncestor reports whether ancestor is reachable from descendant through
// parent links. Every commit is its own ancestor.
func (ix *Index) IsAncestor(ancestor, descendant dag.CommitID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	seen := map[dag.CommitID]bool{descendant: true}
	queue := []dag.CommitID{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		parents, err := ix.Parents(id)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if p == ancestor {
				return true, nil
			}
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// Ancestors returns the set of commits reachable from heads, heads included.
func (ix *Index) Ancestors(heads []dag.CommitID) (map[dag.CommitID]bool, error) {
	return dag.Reachable(heads, ix.Parents)
}

// WalkRevs returns the commits reachable from wanted but not from unwanted,
// children before parents.
func (ix *Index) WalkRevs(wanted, unwanted []dag.CommitID) ([]*Commit, error) {
	excluded, err := ix.Ancestors(unwanted)
	if err != nil {
		return nil, fmt.Errorf("walk unwanted: %w", err)
	}
	var starts []dag.CommitID
	for _, id := range wanted {
		if !excluded[id] {
			starts = append(starts, id)
		}
	}
	ids, err := dag.TopoOrderReverse(starts, func(id dag.CommitID) ([]dag.CommitID, error) {
		parents, err := ix.Parents(id)
		if err != nil {
			return nil, err
		}
		var kept []dag.CommitID
		for _, p := range parents {
			if !excluded[p] {
				kept = append(kept, p)
			}
		}
		return kept, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk wanted: %w", err)
	}
	commits := make([]*Commit, 0, len(ids))
	for _, id := range ids {
		c, err := ix.store.GetCommit(id)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// TopoOrder returns the commits reachable from heads, parents before
// children.
func (ix *Index) TopoOrder(heads []dag.CommitID) ([]dag.CommitID, error) {
	return dag.TopoOrder(heads, ix.Parents)
}

// HeadsOf returns the members of ids that are not ancestors of another
// member, sorted.
func (ix *Index) HeadsOf(ids []dag.CommitID) ([]dag.CommitID, error) {
	candidates := make(map[dag.CommitID]bool, len(ids))
	var parents []dag.CommitID
	for _, id := range ids {
		if candidates[id] {
			continue
		}
		candidates[id] = true
		ps, err := ix.Parents(id)
		if err != nil {
			return nil, err
		}
		parents = append(parents, ps...)
	}
	covered, err := ix.Ancestors(parents)
	if err != nil {
		return nil, err
	}
	heads := make([]dag.CommitID, 0, len(candidates))
	for id := range candidates {
		if !covered[id] {
			heads = append(heads, id)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })
	return heads, nil
}
