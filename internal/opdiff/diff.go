// Package opdiff compares the repository views recorded by two operations.
//
// Commits are matched across the two views by change id, so a change that
// was rewritten shows up once with its old commits removed and its new
// commits added.
package opdiff

import (
	"fmt"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

// RevWalker enumerates the commits reachable from one set of heads and not
// another, children before parents.
type RevWalker interface {
	WalkRevs(wanted, unwanted []dag.CommitID) ([]*backend.Commit, error)
}

// ModifiedChange holds the commits of one change that became visible or
// hidden between two views.
type ModifiedChange struct {
	Added   []*backend.Commit
	Removed []*backend.Commit
}

// Change is one entry of a diff in display order.
type Change struct {
	ChangeID dag.ChangeID
	ModifiedChange
	// Changes of this diff that this change sits on. Parents outside the
	// diff are dropped.
	Parents []dag.ChangeID
}

// Result is everything that differs between two views.
type Result struct {
	Changes        []Change
	LocalBranches  []view.TargetDiff
	Tags           []view.TargetDiff
	RemoteBranches []view.RemoteRefDiff
}

// IsEmpty reports whether the two views were equivalent.
func (r *Result) IsEmpty() bool {
	return len(r.Changes) == 0 && len(r.LocalBranches) == 0 &&
		len(r.Tags) == 0 && len(r.RemoteBranches) == 0
}

// ComputeCommitsDiff groups the commits visible in to but not from (added)
// and visible in from but not to (removed) by change id. The returned
// order lists changes as they were first encountered, added commits first.
func ComputeCommitsDiff(walker RevWalker, from, to *view.View) ([]dag.ChangeID, map[dag.ChangeID]*ModifiedChange, error) {
	fromHeads, toHeads := from.Heads(), to.Heads()

	var order []dag.ChangeID
	changes := make(map[dag.ChangeID]*ModifiedChange)
	entry := func(id dag.ChangeID) *ModifiedChange {
		mc, ok := changes[id]
		if !ok {
			mc = &ModifiedChange{}
			changes[id] = mc
			order = append(order, id)
		}
		return mc
	}

	added, err := walker.WalkRevs(toHeads, fromHeads)
	if err != nil {
		return nil, nil, fmt.Errorf("walk added commits: %w", err)
	}
	for _, c := range added {
		mc := entry(c.ChangeID)
		mc.Added = append(mc.Added, c)
	}
	removed, err := walker.WalkRevs(fromHeads, toHeads)
	if err != nil {
		return nil, nil, fmt.Errorf("walk removed commits: %w", err)
	}
	for _, c := range removed {
		mc := entry(c.ChangeID)
		mc.Removed = append(mc.Removed, c)
	}
	return order, changes, nil
}

// ParentChanges derives the parents of a change from the parents of its
// added commits, or of its removed commits when none were added. Every
// parent of a merge commit counts. Parent commits are mapped to changes
// through byCommit; commits it does not know are dropped.
//
// A change with several added or removed commits gets the union of their
// parents. That is an approximation: the commits may not agree on where
// the change sits.
func ParentChanges(mc *ModifiedChange, byCommit map[dag.CommitID]dag.ChangeID) []dag.ChangeID {
	commits := mc.Added
	if len(commits) == 0 {
		commits = mc.Removed
	}
	var parents []dag.ChangeID
	seen := make(map[dag.ChangeID]bool)
	for _, c := range commits {
		for _, p := range c.Parents {
			change, ok := byCommit[p]
			if !ok || seen[change] {
				continue
			}
			seen[change] = true
			parents = append(parents, change)
		}
	}
	return parents
}

// Diff compares two views. Changes are ordered children first, with chains
// of parent and child changes kept together.
func Diff(walker RevWalker, from, to *view.View) (*Result, error) {
	order, changes, err := ComputeCommitsDiff(walker, from, to)
	if err != nil {
		return nil, err
	}

	byCommit := make(map[dag.CommitID]dag.ChangeID)
	for _, id := range order {
		for _, c := range changes[id].Added {
			byCommit[c.ID] = id
		}
		for _, c := range changes[id].Removed {
			byCommit[c.ID] = id
		}
	}
	parents := make(map[dag.ChangeID][]dag.ChangeID, len(order))
	for _, id := range order {
		parents[id] = ParentChanges(changes[id], byCommit)
	}
	parentsOf := func(id dag.ChangeID) ([]dag.ChangeID, error) { return parents[id], nil }

	sorted, err := dag.TopoOrderReverse(order, parentsOf)
	if err != nil {
		return nil, err
	}
	res := &Result{
		LocalBranches: view.DiffNamedRefTargets(from.LocalBranches, to.LocalBranches),
		Tags:          view.DiffNamedRefTargets(from.Tags, to.Tags),
	}
	for id := range TopoGrouped(sorted, func(id dag.ChangeID) []dag.ChangeID { return parents[id] }) {
		res.Changes = append(res.Changes, Change{
			ChangeID:       id,
			ModifiedChange: *changes[id],
			Parents:        parents[id],
		})
	}
	for _, d := range view.DiffNamedRemoteRefs(from.AllRemoteBranches(), to.AllRemoteBranches()) {
		// Moves of the colocated git repo's refs show up as local branches.
		if d.Key.Remote == view.GitRemote {
			continue
		}
		res.RemoteBranches = append(res.RemoteBranches, d)
	}
	return res, nil
}
