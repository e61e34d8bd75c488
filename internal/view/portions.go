package view

import "fmt"

// Portion is a part of the view that undo and restore can act on.
type Portion string

const (
	// PortionRepo covers heads, local branches, tags and working copies.
	PortionRepo Portion = "repo"
	// PortionRemoteTracking covers the remote-tracking branches.
	PortionRemoteTracking Portion = "remote-tracking"
)

// DefaultPortions is what undo and restore act on unless told otherwise.
func DefaultPortions() []Portion {
	return []Portion{PortionRepo, PortionRemoteTracking}
}

// ParsePortion validates a portion name.
func ParsePortion(s string) (Portion, error) {
	switch p := Portion(s); p {
	case PortionRepo, PortionRemoteTracking:
		return p, nil
	}
	return "", fmt.Errorf("unknown view portion %q (want %q or %q)", s, PortionRepo, PortionRemoteTracking)
}

func hasPortion(what []Portion, p Portion) bool {
	for _, w := range what {
		if w == p {
			return true
		}
	}
	return false
}

// WithPortionsRestored returns a view that takes the selected portions from
// restored and everything else from current. Git refs and the git HEAD
// always come from current.
func WithPortionsRestored(restored, current *View, what []Portion) *View {
	repoSrc, remoteSrc := current, current
	if hasPortion(what, PortionRepo) {
		repoSrc = restored
	}
	if hasPortion(what, PortionRemoteTracking) {
		remoteSrc = restored
	}
	repoSrc, remoteSrc, current = repoSrc.Clone(), remoteSrc.Clone(), current.Clone()
	out := &View{
		HeadIDs:       repoSrc.HeadIDs,
		LocalBranches: repoSrc.LocalBranches,
		Tags:          repoSrc.Tags,
		RemoteViews:   remoteSrc.RemoteViews,
		GitRefs:       current.GitRefs,
		GitHead:       current.GitHead,
		WCCommitIDs:   repoSrc.WCCommitIDs,
	}
	out.Normalize()
	return out
}
