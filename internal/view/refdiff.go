package view

import "sort"

// TargetDiff is a ref whose target differs between two views.
type TargetDiff struct {
	Name string
	From RefTarget
	To   RefTarget
}

// DiffNamedRefTargets lists the names whose targets differ, sorted by name.
func DiffNamedRefTargets(from, to map[string]RefTarget) []TargetDiff {
	var out []TargetDiff
	for name := range unionKeys(from, to) {
		f, t := from[name], to[name]
		if !f.Equal(t) {
			out = append(out, TargetDiff{Name: name, From: f, To: t})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoteRefDiff is a remote branch whose target or state differs.
type RemoteRefDiff struct {
	Key  RemoteBranchKey
	From RemoteRef
	To   RemoteRef
}

// DiffNamedRemoteRefs lists the remote branches that differ, sorted by
// branch name then remote.
func DiffNamedRemoteRefs(from, to map[RemoteBranchKey]RemoteRef) []RemoteRefDiff {
	keys := make(map[RemoteBranchKey]bool)
	for k := range from {
		keys[k] = true
	}
	for k := range to {
		keys[k] = true
	}
	var out []RemoteRefDiff
	for k := range keys {
		f, t := lookupRemote(from, k), lookupRemote(to, k)
		if !f.Equal(t) {
			out = append(out, RemoteRefDiff{Key: k, From: f, To: t})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Name != out[j].Key.Name {
			return out[i].Key.Name < out[j].Key.Name
		}
		return out[i].Key.Remote < out[j].Key.Remote
	})
	return out
}
