package repo

import (
	"fmt"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

// Merge folds the change from base to other into the current view, as if
// other had been made concurrently. Commits that other rewrote or abandoned
// are recorded so that RebaseDescendants can move their descendants.
func (m *MutableRepo) Merge(base, other *ReadonlyRepo) error {
	if err := m.enforceViewInvariants(); err != nil {
		return err
	}
	if err := m.mergeView(base.view, other.view); err != nil {
		return err
	}
	m.dirty = true
	return nil
}

func (m *MutableRepo) mergeView(base, other *view.View) error {
	m.mergeWCCommits(base, other)

	baseHeads := base.Heads()
	ownHeads := m.view.Heads()
	otherHeads := other.Heads()
	if err := m.recordRewrites(baseHeads, ownHeads); err != nil {
		return fmt.Errorf("record own rewrites: %w", err)
	}
	if err := m.recordRewrites(baseHeads, otherHeads); err != nil {
		return fmt.Errorf("record other rewrites: %w", err)
	}
	for _, id := range otherHeads {
		if !base.HasHead(id) {
			m.view.AddHead(id)
		}
	}

	if err := m.view.MergeRefs(m.index, base, other); err != nil {
		return fmt.Errorf("merge refs: %w", err)
	}

	if src := m.base.loader.opts.GitRefs; src != nil {
		refs, head, err := src.Import()
		if err != nil {
			return fmt.Errorf("import git refs: %w", err)
		}
		m.SetGitRefs(refs, head)
	}
	return nil
}

// mergeWCCommits three-way merges workspace checkouts. When both sides moved
// a workspace, the current side is kept.
func (m *MutableRepo) mergeWCCommits(base, other *view.View) {
	for _, ws := range base.Workspaces() {
		baseWC, _ := base.WCCommitID(ws)
		selfWC, selfOK := m.view.WCCommitID(ws)
		otherWC, otherOK := other.WCCommitID(ws)
		switch {
		case otherOK && otherWC == baseWC:
		case otherOK && selfOK && otherWC == selfWC:
		case otherOK:
			if selfOK && selfWC == baseWC {
				m.view.SetWCCommit(ws, otherWC)
			}
		default:
			m.view.RemoveWCCommit(ws)
		}
	}
	for _, ws := range other.Workspaces() {
		_, selfOK := m.view.WCCommitID(ws)
		_, baseOK := base.WCCommitID(ws)
		if !selfOK && !baseOK {
			otherWC, _ := other.WCCommitID(ws)
			m.view.SetWCCommit(ws, otherWC)
		}
	}
}

// recordRewrites compares two head sets by change id. A change whose old
// commits are gone but which has new commits was rewritten (divergently if
// there are several); a change with no new commits was abandoned.
func (m *MutableRepo) recordRewrites(oldHeads, newHeads []dag.CommitID) error {
	removed, err := m.index.WalkRevs(oldHeads, newHeads)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	removedByChange := make(map[dag.ChangeID][]dag.CommitID)
	var changeOrder []dag.ChangeID
	for _, c := range removed {
		if _, ok := removedByChange[c.ChangeID]; !ok {
			changeOrder = append(changeOrder, c.ChangeID)
		}
		removedByChange[c.ChangeID] = append(removedByChange[c.ChangeID], c.ID)
	}

	added, err := m.index.WalkRevs(newHeads, oldHeads)
	if err != nil {
		return err
	}
	rewrittenChanges := make(map[dag.ChangeID]bool)
	replacements := make(map[dag.CommitID][]dag.CommitID)
	var oldOrder []dag.CommitID
	for _, c := range added {
		for _, old := range removedByChange[c.ChangeID] {
			if _, ok := replacements[old]; !ok {
				oldOrder = append(oldOrder, old)
			}
			replacements[old] = append(replacements[old], c.ID)
		}
		rewrittenChanges[c.ChangeID] = true
	}
	for _, old := range oldOrder {
		news := replacements[old]
		if len(news) == 1 {
			m.SetRewrittenCommit(old, news[0])
		} else {
			m.SetDivergentRewrite(old, news)
		}
	}

	for _, change := range changeOrder {
		if rewrittenChanges[change] {
			continue
		}
		for _, id := range removedByChange[change] {
			if err := m.RecordAbandonedCommit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
