package view

// RemoteRefState says whether a remote branch is tracked by a local one.
type RemoteRefState string

const (
	// RemoteRefNew is a remote branch not yet merged into a local branch.
	RemoteRefNew RemoteRefState = "new"
	// RemoteRefTracking is a remote branch whose moves update the local one.
	RemoteRefTracking RemoteRefState = "tracking"
)

// RemoteRef is a remote-tracking branch: its last known target and state.
type RemoteRef struct {
	Target RefTarget      `json:"target"`
	State  RemoteRefState `json:"state"`
}

// AbsentRemoteRef is the remote ref of a branch the remote does not have.
func AbsentRemoteRef() RemoteRef {
	return RemoteRef{State: RemoteRefNew}
}

// IsAbsent reports whether the remote does not have the branch.
func (r RemoteRef) IsAbsent() bool { return r.Target.IsAbsent() }

// IsTracking reports whether the remote ref is tracked.
func (r RemoteRef) IsTracking() bool { return r.State == RemoteRefTracking }

// Equal compares target and state.
func (r RemoteRef) Equal(o RemoteRef) bool {
	return r.State == o.State && r.Target.Equal(o.Target)
}

func (r RemoteRef) clone() RemoteRef {
	return RemoteRef{Target: r.Target.clone(), State: r.State}
}

// RemoteView holds the branches last seen on one remote.
type RemoteView struct {
	Branches map[string]RemoteRef `json:"branches,omitempty"`
}
