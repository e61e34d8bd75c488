package view

import (
	"github.com/systemshift/opdag/internal/dag"
)

// AncestryIndex answers whether one commit is an ancestor of another. Every
// commit is its own ancestor.
type AncestryIndex interface {
	IsAncestor(ancestor, descendant dag.CommitID) (bool, error)
}

// MergeRefTargets merges two moves of a ref made from a common base.
//
// If either side left the ref where base had it, the other side wins. When
// both moved it differently, the result is a conflict with both new targets
// added and base removed, except that an added target which is an ancestor
// of another added target is cancelled against a removed ancestor of it,
// which resolves fast-forwards.
func MergeRefTargets(index AncestryIndex, left, base, right RefTarget) (RefTarget, error) {
	if left.Equal(right) {
		return left.clone(), nil
	}
	if base.Equal(left) {
		return right.clone(), nil
	}
	if base.Equal(right) {
		return left.clone(), nil
	}

	la, lr := left.terms()
	ba, br := base.terms()
	ra, rr := right.terms()
	adds := append(append(la, br...), ra...)
	removes := append(append(lr, ba...), rr...)
	adds, removes = cancelTerms(adds, removes)
	sortIDs(adds)
	sortIDs(removes)

	if len(adds) > 1 {
		for {
			ri, ai, ok, err := findPairToRemove(index, adds, removes)
			if err != nil {
				return RefTarget{}, err
			}
			if !ok {
				break
			}
			adds = append(adds[:ai:ai], adds[ai+1:]...)
			removes = append(removes[:ri:ri], removes[ri+1:]...)
		}
	}
	return fromTerms(adds, removes), nil
}

// findPairToRemove looks for two adds where one is an ancestor of the other,
// and a remove that is an ancestor of the older one. Removing that add with
// the remove moves the ref forward to the descendant. An absent remove
// counts as the ancestor of everything.
func findPairToRemove(index AncestryIndex, adds, removes []dag.CommitID) (removeIdx, addIdx int, ok bool, err error) {
	for i, add1 := range adds {
		for j := i + 1; j < len(adds); j++ {
			add2 := adds[j]
			if add1 == "" || add2 == "" {
				continue
			}
			var idx int
			var older dag.CommitID
			switch {
			case add1 == add2:
				idx, older = i, add1
			default:
				anc, err := index.IsAncestor(add1, add2)
				if err != nil {
					return 0, 0, false, err
				}
				if anc {
					idx, older = i, add1
					break
				}
				anc, err = index.IsAncestor(add2, add1)
				if err != nil {
					return 0, 0, false, err
				}
				if !anc {
					continue
				}
				idx, older = j, add2
			}
			for k, rm := range removes {
				if rm == "" {
					return k, idx, true, nil
				}
				anc, err := index.IsAncestor(rm, older)
				if err != nil {
					return 0, 0, false, err
				}
				if anc {
					return k, idx, true, nil
				}
			}
		}
	}
	return 0, 0, false, nil
}

// MergeRemoteRefs merges two moves of a remote-tracking branch. Targets merge
// like any ref. The state comes from the side whose target is present, and
// agreeing present targets are considered tracked.
func MergeRemoteRefs(index AncestryIndex, left, base, right RemoteRef) (RemoteRef, error) {
	target, err := MergeRefTargets(index, left.Target, base.Target, right.Target)
	if err != nil {
		return RemoteRef{}, err
	}
	return RemoteRef{Target: target, State: mergeRemoteState(left, base, right)}, nil
}

func mergeRemoteState(left, base, right RemoteRef) RemoteRefState {
	switch {
	case left.IsAbsent() && right.IsAbsent():
		return base.State
	case left.IsAbsent():
		return right.State
	case right.IsAbsent():
		return left.State
	case left.State == right.State:
		return left.State
	case left.Target.Equal(right.Target):
		return RemoteRefTracking
	case base.State == left.State:
		return right.State
	default:
		return left.State
	}
}

// mergeNamedTargets three-way merges one ref namespace: every name whose
// target differs between base and other is merged into the current value.
func mergeNamedTargets(index AncestryIndex, base, other map[string]RefTarget, get func(string) RefTarget, set func(string, RefTarget)) error {
	for name := range unionKeys(base, other) {
		b, o := base[name], other[name]
		if b.Equal(o) {
			continue
		}
		merged, err := MergeRefTargets(index, get(name), b, o)
		if err != nil {
			return err
		}
		set(name, merged)
	}
	return nil
}

// MergeRefs merges everything but heads and working copies from the change
// base -> other into v. Git refs are never merged; the caller re-imports them.
func (v *View) MergeRefs(index AncestryIndex, base, other *View) error {
	if err := mergeNamedTargets(index, base.LocalBranches, other.LocalBranches, v.LocalBranch, v.SetLocalBranch); err != nil {
		return err
	}
	if err := mergeNamedTargets(index, base.Tags, other.Tags, v.Tag, v.SetTag); err != nil {
		return err
	}

	baseRemote, otherRemote := base.AllRemoteBranches(), other.AllRemoteBranches()
	keys := make(map[RemoteBranchKey]bool)
	for k := range baseRemote {
		keys[k] = true
	}
	for k := range otherRemote {
		keys[k] = true
	}
	for k := range keys {
		b := lookupRemote(baseRemote, k)
		o := lookupRemote(otherRemote, k)
		if b.Equal(o) {
			continue
		}
		merged, err := MergeRemoteRefs(index, v.RemoteBranch(k.Name, k.Remote), b, o)
		if err != nil {
			return err
		}
		v.SetRemoteBranch(k.Name, k.Remote, merged)
	}
	return nil
}

func lookupRemote(m map[RemoteBranchKey]RemoteRef, k RemoteBranchKey) RemoteRef {
	if ref, ok := m[k]; ok {
		return ref
	}
	return AbsentRemoteRef()
}

func unionKeys(a, b map[string]RefTarget) map[string]bool {
	keys := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	return keys
}
