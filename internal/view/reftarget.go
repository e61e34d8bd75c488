// Package view models repository state snapshots and merges them.
package view

import (
	"sort"

	"github.com/systemshift/opdag/internal/dag"
)

// RefTarget is where a ref points: absent, a single commit, or a conflict.
//
// A conflict is kept as data: Added holds one more term than Removed. An
// empty CommitID inside either list stands for an absent side. The zero
// value is the absent target.
type RefTarget struct {
	Added   []dag.CommitID `json:"added,omitempty"`
	Removed []dag.CommitID `json:"removed,omitempty"`
}

// AbsentTarget returns the target of a ref that does not exist.
func AbsentTarget() RefTarget { return RefTarget{} }

// NormalTarget returns a target resolved to id. An empty id is absent.
func NormalTarget(id dag.CommitID) RefTarget {
	if id == "" {
		return RefTarget{}
	}
	return RefTarget{Added: []dag.CommitID{id}}
}

// ConflictedTarget builds a target from raw terms, cancelling matching
// add/remove pairs and collapsing to normal or absent when resolved.
func ConflictedTarget(added, removed []dag.CommitID) RefTarget {
	return fromTerms(added, removed)
}

// IsAbsent reports whether the ref does not exist.
func (t RefTarget) IsAbsent() bool {
	return len(t.Added) == 0
}

// IsPresent is the negation of IsAbsent.
func (t RefTarget) IsPresent() bool { return !t.IsAbsent() }

// HasConflict reports whether the target is unresolved.
func (t RefTarget) HasConflict() bool {
	return len(t.Added) > 1
}

// AsNormal returns the single commit of a resolved, present target.
func (t RefTarget) AsNormal() (dag.CommitID, bool) {
	if len(t.Added) == 1 && len(t.Removed) == 0 && t.Added[0] != "" {
		return t.Added[0], true
	}
	return "", false
}

// AddedIDs returns the present commits among the added terms.
func (t RefTarget) AddedIDs() []dag.CommitID {
	return present(t.Added)
}

// RemovedIDs returns the present commits among the removed terms.
func (t RefTarget) RemovedIDs() []dag.CommitID {
	return present(t.Removed)
}

// Equal compares two targets term by term.
func (t RefTarget) Equal(o RefTarget) bool {
	return equalIDs(t.Added, o.Added) && equalIDs(t.Removed, o.Removed)
}

func (t RefTarget) clone() RefTarget {
	return RefTarget{
		Added:   cloneIDs(t.Added),
		Removed: cloneIDs(t.Removed),
	}
}

// terms expands t into its add and remove lists. An absent target is a
// single absent add term.
func (t RefTarget) terms() (adds, removes []dag.CommitID) {
	if t.IsAbsent() {
		return []dag.CommitID{""}, nil
	}
	return cloneIDs(t.Added), cloneIDs(t.Removed)
}

// fromTerms simplifies raw terms into a RefTarget. Conflict terms are sorted
// so that the result does not depend on which side contributed them.
func fromTerms(adds, removes []dag.CommitID) RefTarget {
	adds, removes = cancelTerms(adds, removes)
	if len(adds) == 1 && len(removes) == 0 {
		return NormalTarget(adds[0])
	}
	if len(adds) == 0 {
		return RefTarget{}
	}
	sortIDs(adds)
	sortIDs(removes)
	return RefTarget{Added: adds, Removed: removes}
}

// cancelTerms drops each removed term that matches an added term.
func cancelTerms(adds, removes []dag.CommitID) ([]dag.CommitID, []dag.CommitID) {
	adds = cloneIDs(adds)
	var keptRemoves []dag.CommitID
	for _, r := range removes {
		matched := false
		for i, a := range adds {
			if a == r {
				adds = append(adds[:i], adds[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			keptRemoves = append(keptRemoves, r)
		}
	}
	return adds, keptRemoves
}

func present(ids []dag.CommitID) []dag.CommitID {
	var out []dag.CommitID
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func equalIDs(a, b []dag.CommitID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneIDs(ids []dag.CommitID) []dag.CommitID {
	if ids == nil {
		return nil
	}
	return append([]dag.CommitID(nil), ids...)
}

func sortIDs(ids []dag.CommitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
