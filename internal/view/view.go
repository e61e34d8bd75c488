package view

import (
	"maps"
	"sort"

	"github.com/systemshift/opdag/internal/dag"
)

// WorkspaceID names a working copy attached to the repository.
type WorkspaceID string

// DefaultWorkspace is the workspace created by init.
const DefaultWorkspace WorkspaceID = "default"

// GitRemote is the pseudo remote that mirrors the colocated git repository.
const GitRemote = "git"

// View is the complete repository state recorded by one operation.
//
// Maps never hold absent targets; setting a ref to the absent target deletes
// it. Empty maps are stored as nil so that equal states serialize to equal
// bytes.
type View struct {
	HeadIDs       map[dag.CommitID]bool        `json:"head_ids,omitempty"`
	LocalBranches map[string]RefTarget         `json:"local_branches,omitempty"`
	Tags          map[string]RefTarget         `json:"tags,omitempty"`
	RemoteViews   map[string]RemoteView        `json:"remote_views,omitempty"`
	GitRefs       map[string]RefTarget         `json:"git_refs,omitempty"`
	GitHead       RefTarget                    `json:"git_head"`
	WCCommitIDs   map[WorkspaceID]dag.CommitID `json:"wc_commit_ids,omitempty"`
}

// New returns an empty view.
func New() *View {
	return &View{}
}

// Clone returns a deep copy.
func (v *View) Clone() *View {
	out := &View{
		HeadIDs:       maps.Clone(v.HeadIDs),
		LocalBranches: cloneTargets(v.LocalBranches),
		Tags:          cloneTargets(v.Tags),
		GitRefs:       cloneTargets(v.GitRefs),
		GitHead:       v.GitHead.clone(),
		WCCommitIDs:   maps.Clone(v.WCCommitIDs),
	}
	if v.RemoteViews != nil {
		out.RemoteViews = make(map[string]RemoteView, len(v.RemoteViews))
		for remote, rv := range v.RemoteViews {
			branches := make(map[string]RemoteRef, len(rv.Branches))
			for name, ref := range rv.Branches {
				branches[name] = ref.clone()
			}
			out.RemoteViews[remote] = RemoteView{Branches: branches}
		}
	}
	return out
}

// Normalize drops absent refs and empty containers in place.
func (v *View) Normalize() {
	for id, ok := range v.HeadIDs {
		if !ok || id == "" {
			delete(v.HeadIDs, id)
		}
	}
	v.LocalBranches = normalizeTargets(v.LocalBranches)
	v.Tags = normalizeTargets(v.Tags)
	v.GitRefs = normalizeTargets(v.GitRefs)
	for remote, rv := range v.RemoteViews {
		for name, ref := range rv.Branches {
			if ref.IsAbsent() {
				delete(rv.Branches, name)
			}
		}
		if len(rv.Branches) == 0 {
			delete(v.RemoteViews, remote)
		}
	}
	for ws, id := range v.WCCommitIDs {
		if id == "" {
			delete(v.WCCommitIDs, ws)
		}
	}
	if len(v.HeadIDs) == 0 {
		v.HeadIDs = nil
	}
	if len(v.RemoteViews) == 0 {
		v.RemoteViews = nil
	}
	if len(v.WCCommitIDs) == 0 {
		v.WCCommitIDs = nil
	}
}

// Heads returns the head commit ids, sorted.
func (v *View) Heads() []dag.CommitID {
	return sortedKeys(v.HeadIDs)
}

// HasHead reports whether id is a head.
func (v *View) HasHead(id dag.CommitID) bool { return v.HeadIDs[id] }

// AddHead adds id to the head set.
func (v *View) AddHead(id dag.CommitID) {
	if v.HeadIDs == nil {
		v.HeadIDs = make(map[dag.CommitID]bool)
	}
	v.HeadIDs[id] = true
}

// RemoveHead removes id from the head set.
func (v *View) RemoveHead(id dag.CommitID) {
	delete(v.HeadIDs, id)
}

// SetHeads replaces the head set.
func (v *View) SetHeads(ids []dag.CommitID) {
	v.HeadIDs = nil
	for _, id := range ids {
		v.AddHead(id)
	}
}

// LocalBranch returns the target of a local branch, absent if unknown.
func (v *View) LocalBranch(name string) RefTarget { return v.LocalBranches[name] }

// SetLocalBranch points a local branch at target, deleting it when absent.
func (v *View) SetLocalBranch(name string, target RefTarget) {
	v.LocalBranches = setTarget(v.LocalBranches, name, target)
}

// Tag returns the target of a tag, absent if unknown.
func (v *View) Tag(name string) RefTarget { return v.Tags[name] }

// SetTag points a tag at target, deleting it when absent.
func (v *View) SetTag(name string, target RefTarget) {
	v.Tags = setTarget(v.Tags, name, target)
}

// GitRef returns the target of a mirrored git ref, absent if unknown.
func (v *View) GitRef(name string) RefTarget { return v.GitRefs[name] }

// SetGitRef records a mirrored git ref, deleting it when absent.
func (v *View) SetGitRef(name string, target RefTarget) {
	v.GitRefs = setTarget(v.GitRefs, name, target)
}

// RemoteBranch returns the remote ref for name@remote.
func (v *View) RemoteBranch(name, remote string) RemoteRef {
	if ref, ok := v.RemoteViews[remote].Branches[name]; ok {
		return ref
	}
	return AbsentRemoteRef()
}

// SetRemoteBranch records name@remote, deleting it when its target is absent.
func (v *View) SetRemoteBranch(name, remote string, ref RemoteRef) {
	if ref.IsAbsent() {
		rv, ok := v.RemoteViews[remote]
		if !ok {
			return
		}
		delete(rv.Branches, name)
		if len(rv.Branches) == 0 {
			delete(v.RemoteViews, remote)
		}
		return
	}
	if v.RemoteViews == nil {
		v.RemoteViews = make(map[string]RemoteView)
	}
	rv := v.RemoteViews[remote]
	if rv.Branches == nil {
		rv.Branches = make(map[string]RemoteRef)
	}
	rv.Branches[name] = ref
	v.RemoteViews[remote] = rv
}

// RemoteBranchKey identifies a remote branch.
type RemoteBranchKey struct {
	Name   string
	Remote string
}

// AllRemoteBranches returns every remote branch keyed by (name, remote).
func (v *View) AllRemoteBranches() map[RemoteBranchKey]RemoteRef {
	out := make(map[RemoteBranchKey]RemoteRef)
	for remote, rv := range v.RemoteViews {
		for name, ref := range rv.Branches {
			out[RemoteBranchKey{Name: name, Remote: remote}] = ref
		}
	}
	return out
}

// WCCommitID returns the working-copy commit of a workspace.
func (v *View) WCCommitID(ws WorkspaceID) (dag.CommitID, bool) {
	id, ok := v.WCCommitIDs[ws]
	return id, ok
}

// SetWCCommit points a workspace at a commit.
func (v *View) SetWCCommit(ws WorkspaceID, id dag.CommitID) {
	if v.WCCommitIDs == nil {
		v.WCCommitIDs = make(map[WorkspaceID]dag.CommitID)
	}
	v.WCCommitIDs[ws] = id
}

// RemoveWCCommit detaches a workspace.
func (v *View) RemoveWCCommit(ws WorkspaceID) {
	delete(v.WCCommitIDs, ws)
}

// Workspaces returns the workspace ids, sorted.
func (v *View) Workspaces() []WorkspaceID {
	return sortedKeys(v.WCCommitIDs)
}

// Equal compares two views after normalization.
func (v *View) Equal(o *View) bool {
	a, b := v.Clone(), o.Clone()
	a.Normalize()
	b.Normalize()
	if !maps.Equal(a.HeadIDs, b.HeadIDs) || !maps.Equal(a.WCCommitIDs, b.WCCommitIDs) {
		return false
	}
	if !equalTargets(a.LocalBranches, b.LocalBranches) || !equalTargets(a.Tags, b.Tags) ||
		!equalTargets(a.GitRefs, b.GitRefs) || !a.GitHead.Equal(b.GitHead) {
		return false
	}
	return maps.EqualFunc(a.AllRemoteBranches(), b.AllRemoteBranches(), RemoteRef.Equal)
}

// AllReferencedCommits returns every commit named by a head, ref or working
// copy, including conflict terms.
func (v *View) AllReferencedCommits() []dag.CommitID {
	set := make(map[dag.CommitID]bool)
	add := func(t RefTarget) {
		for _, id := range t.AddedIDs() {
			set[id] = true
		}
		for _, id := range t.RemovedIDs() {
			set[id] = true
		}
	}
	for id := range v.HeadIDs {
		set[id] = true
	}
	for _, t := range v.LocalBranches {
		add(t)
	}
	for _, t := range v.Tags {
		add(t)
	}
	for _, ref := range v.AllRemoteBranches() {
		add(ref.Target)
	}
	for _, id := range v.WCCommitIDs {
		set[id] = true
	}
	return sortedKeys(set)
}

func setTarget(m map[string]RefTarget, name string, target RefTarget) map[string]RefTarget {
	if target.IsAbsent() {
		delete(m, name)
		if len(m) == 0 {
			return nil
		}
		return m
	}
	if m == nil {
		m = make(map[string]RefTarget)
	}
	m[name] = target
	return m
}

func cloneTargets(m map[string]RefTarget) map[string]RefTarget {
	if m == nil {
		return nil
	}
	out := make(map[string]RefTarget, len(m))
	for k, t := range m {
		out[k] = t.clone()
	}
	return out
}

func normalizeTargets(m map[string]RefTarget) map[string]RefTarget {
	for k, t := range m {
		if t.IsAbsent() {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func equalTargets(a, b map[string]RefTarget) bool {
	return maps.EqualFunc(a, b, RefTarget.Equal)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
