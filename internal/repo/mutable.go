package repo

import (
	"fmt"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

type rewriteKind int

const (
	rewriteRewritten rewriteKind = iota
	rewriteDivergent
	rewriteAbandoned
)

// rewrite records what replaced an old commit. For an abandoned commit the
// targets are its parents.
type rewrite struct {
	kind    rewriteKind
	targets []dag.CommitID
}

// MutableRepo is a scratch copy of a view plus the commit rewrites made
// against it. Nothing is persisted until its transaction is written.
type MutableRepo struct {
	base     *ReadonlyRepo
	view     *view.View
	store    *backend.Store
	index    *backend.Index
	settings Settings
	dirty    bool

	// Old commit -> replacement, consumed by RebaseDescendants.
	parentMapping map[dag.CommitID]rewrite
}

func newMutableRepo(base *ReadonlyRepo) *MutableRepo {
	return &MutableRepo{
		base:          base,
		view:          base.View(),
		store:         base.Store(),
		index:         base.Index(),
		settings:      base.loader.opts.Settings,
		dirty:         true,
		parentMapping: make(map[dag.CommitID]rewrite),
	}
}

// BaseRepo returns the repository the transaction started from.
func (m *MutableRepo) BaseRepo() *ReadonlyRepo { return m.base }

// Store returns the commit store.
func (m *MutableRepo) Store() *backend.Store { return m.store }

// Index returns the commit index.
func (m *MutableRepo) Index() *backend.Index { return m.index }

// View returns a copy of the current view with head invariants applied.
func (m *MutableRepo) View() (*view.View, error) {
	if err := m.enforceViewInvariants(); err != nil {
		return nil, err
	}
	return m.view.Clone(), nil
}

// SetView replaces the whole view.
func (m *MutableRepo) SetView(v *view.View) {
	m.view = v.Clone()
	m.dirty = true
}

// enforceViewInvariants reduces the head set to its heads. An empty head
// set holds the root commit, which is never listed beside other heads.
func (m *MutableRepo) enforceViewInvariants() error {
	if !m.dirty {
		return nil
	}
	root := m.store.RootCommitID()
	heads := m.view.Heads()
	switch {
	case len(heads) == 0:
		heads = []dag.CommitID{root}
	case len(heads) > 1:
		var err error
		heads, err = m.index.HeadsOf(without(heads, root))
		if err != nil {
			return fmt.Errorf("compute heads: %w", err)
		}
	}
	m.view.SetHeads(heads)
	m.dirty = false
	return nil
}

// HasRewrites reports whether RebaseDescendants has work to do.
func (m *MutableRepo) HasRewrites() bool { return len(m.parentMapping) > 0 }

// AddHead makes id visible.
func (m *MutableRepo) AddHead(id dag.CommitID) {
	m.view.AddHead(id)
	m.dirty = true
}

// RemoveHead hides id unless a descendant keeps it visible.
func (m *MutableRepo) RemoveHead(id dag.CommitID) {
	m.view.RemoveHead(id)
	m.dirty = true
}

// SetLocalBranch points a local branch at target.
func (m *MutableRepo) SetLocalBranch(name string, target view.RefTarget) {
	m.view.SetLocalBranch(name, target)
}

// SetTag points a tag at target.
func (m *MutableRepo) SetTag(name string, target view.RefTarget) {
	m.view.SetTag(name, target)
}

// SetRemoteBranch records a remote-tracking branch.
func (m *MutableRepo) SetRemoteBranch(name, remote string, ref view.RemoteRef) {
	m.view.SetRemoteBranch(name, remote, ref)
}

// SetWCCommit checks a workspace out at id and makes id visible.
func (m *MutableRepo) SetWCCommit(ws view.WorkspaceID, id dag.CommitID) {
	m.view.SetWCCommit(ws, id)
	m.AddHead(id)
}

// RemoveWCCommit detaches a workspace.
func (m *MutableRepo) RemoveWCCommit(ws view.WorkspaceID) {
	m.view.RemoveWCCommit(ws)
}

// SetGitRefs replaces the mirrored git refs and git HEAD.
func (m *MutableRepo) SetGitRefs(refs map[string]view.RefTarget, head view.RefTarget) {
	m.view.GitRefs = nil
	for name, t := range refs {
		m.view.SetGitRef(name, t)
	}
	m.view.GitHead = head
}

// NewCommit writes a new empty-change commit on parents with a fresh change
// id and makes it visible.
func (m *MutableRepo) NewCommit(parents []dag.CommitID, description string) (*backend.Commit, error) {
	if len(parents) == 0 {
		parents = []dag.CommitID{m.store.RootCommitID()}
	}
	tree, err := m.firstParentTree(parents)
	if err != nil {
		return nil, err
	}
	sig := m.settings.signature()
	c, err := m.store.WriteCommit(backend.Commit{
		ChangeID:    dag.NewChangeID(),
		Parents:     parents,
		Tree:        tree,
		Description: description,
		Author:      sig,
		Committer:   sig,
	})
	if err != nil {
		return nil, err
	}
	m.AddHead(c.ID)
	return c, nil
}

func (m *MutableRepo) firstParentTree(parents []dag.CommitID) (dag.TreeID, error) {
	p, err := m.store.GetCommit(parents[0])
	if err != nil {
		return "", err
	}
	return p.Tree, nil
}

// RewriteCommit writes a copy of old changed by edit, keeping its change id,
// and records it as old's replacement.
func (m *MutableRepo) RewriteCommit(old *backend.Commit, edit func(c *backend.Commit)) (*backend.Commit, error) {
	next := *old
	next.Parents = append([]dag.CommitID(nil), old.Parents...)
	if edit != nil {
		edit(&next)
	}
	next.ChangeID = old.ChangeID
	next.Committer = m.settings.signature()
	c, err := m.store.WriteCommit(next)
	if err != nil {
		return nil, err
	}
	if c.ID != old.ID {
		m.SetRewrittenCommit(old.ID, c.ID)
	}
	m.AddHead(c.ID)
	return c, nil
}

// SetRewrittenCommit records that old was replaced by replacement.
func (m *MutableRepo) SetRewrittenCommit(old, replacement dag.CommitID) {
	m.parentMapping[old] = rewrite{kind: rewriteRewritten, targets: []dag.CommitID{replacement}}
}

// SetDivergentRewrite records that old was replaced by several commits.
// Descendants of old stay where they are; refs to old become conflicts.
func (m *MutableRepo) SetDivergentRewrite(old dag.CommitID, replacements []dag.CommitID) {
	m.parentMapping[old] = rewrite{kind: rewriteDivergent, targets: append([]dag.CommitID(nil), replacements...)}
}

// RecordAbandonedCommit records that id was dropped. Its descendants move
// onto its parents.
func (m *MutableRepo) RecordAbandonedCommit(id dag.CommitID) error {
	c, err := m.store.GetCommit(id)
	if err != nil {
		return err
	}
	m.recordAbandonedWithParents(id, c.Parents)
	return nil
}

func (m *MutableRepo) recordAbandonedWithParents(id dag.CommitID, parents []dag.CommitID) {
	m.parentMapping[id] = rewrite{kind: rewriteAbandoned, targets: append([]dag.CommitID(nil), parents...)}
}

// resolve follows the parent mapping transitively. Divergent rewrites are
// followed only when followDivergent is set.
func (m *MutableRepo) resolve(ids []dag.CommitID, followDivergent bool) []dag.CommitID {
	var out []dag.CommitID
	seen := make(map[dag.CommitID]bool)
	var visit func(id dag.CommitID)
	visit = func(id dag.CommitID) {
		if r, ok := m.parentMapping[id]; ok && (followDivergent || r.kind != rewriteDivergent) {
			for _, t := range r.targets {
				visit(t)
			}
			return
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		visit(id)
	}
	return out
}

// newParents maps old parent ids to the commits that replace them.
func (m *MutableRepo) newParents(old []dag.CommitID) []dag.CommitID {
	parents := m.resolve(old, false)
	if len(parents) == 0 {
		return []dag.CommitID{m.store.RootCommitID()}
	}
	return parents
}

func without(ids []dag.CommitID, drop dag.CommitID) []dag.CommitID {
	out := make([]dag.CommitID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
