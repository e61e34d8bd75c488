package repo

import (
	"fmt"
	"sort"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

// RebaseDescendants moves every visible descendant of a rewritten or
// abandoned commit onto the replacement, then updates heads, local branches
// and workspaces that pointed at replaced commits. It returns the number of
// commits rebased.
func (m *MutableRepo) RebaseDescendants() (int, error) {
	if !m.HasRewrites() {
		return 0, nil
	}
	if err := m.enforceViewInvariants(); err != nil {
		return 0, err
	}

	order, err := m.index.TopoOrder(m.view.Heads())
	if err != nil {
		return 0, fmt.Errorf("walk visible commits: %w", err)
	}
	rebased := 0
	for _, id := range order {
		if _, replaced := m.parentMapping[id]; replaced {
			continue
		}
		c, err := m.store.GetCommit(id)
		if err != nil {
			return rebased, err
		}
		parents := m.newParents(c.Parents)
		if equalIDs(parents, c.Parents) {
			continue
		}
		next, err := m.RewriteCommit(c, func(nc *backend.Commit) {
			nc.Parents = parents
		})
		if err != nil {
			return rebased, fmt.Errorf("rebase %s: %w", id.Short(), err)
		}
		m.base.loader.logger.Debug("rebased commit", "old", id.Short(), "new", next.ID.Short())
		rebased++
	}

	if err := m.updateReferences(); err != nil {
		return rebased, err
	}
	m.parentMapping = make(map[dag.CommitID]rewrite)
	return rebased, nil
}

func (m *MutableRepo) updateReferences() error {
	if err := m.updateLocalBranches(); err != nil {
		return err
	}
	if err := m.updateWCCommits(); err != nil {
		return err
	}
	return m.updateHeads()
}

// updateHeads hides replaced commits. Their parents that were not replaced
// themselves become heads, so abandoning a head exposes its parent.
func (m *MutableRepo) updateHeads() error {
	for old, r := range m.parentMapping {
		m.view.RemoveHead(old)
		parents := r.targets
		if r.kind != rewriteAbandoned {
			c, err := m.store.GetCommit(old)
			if err != nil {
				return err
			}
			parents = c.Parents
		}
		for _, p := range parents {
			if _, replaced := m.parentMapping[p]; !replaced {
				m.view.AddHead(p)
			}
		}
	}
	m.dirty = true
	return nil
}

// updateLocalBranches moves local branches off replaced commits. A commit
// replaced by several commits leaves the branch conflicted.
func (m *MutableRepo) updateLocalBranches() error {
	for _, name := range sortedBranchNames(m.view.LocalBranches) {
		for _, old := range m.view.LocalBranch(name).AddedIDs() {
			if _, ok := m.parentMapping[old]; !ok {
				continue
			}
			news := m.resolve([]dag.CommitID{old}, true)
			removes := make([]dag.CommitID, 0, len(news))
			for i := 1; i < len(news); i++ {
				removes = append(removes, old)
			}
			merged, err := view.MergeRefTargets(m.index,
				m.view.LocalBranch(name),
				view.NormalTarget(old),
				view.ConflictedTarget(news, removes))
			if err != nil {
				return fmt.Errorf("update branch %s: %w", name, err)
			}
			m.view.SetLocalBranch(name, merged)
		}
	}
	return nil
}

// updateWCCommits moves workspaces off replaced commits. A workspace whose
// commit ends up abandoned, possibly after being rewritten first, gets a new
// empty commit on the replacement parents.
func (m *MutableRepo) updateWCCommits() error {
	for _, ws := range m.view.Workspaces() {
		old, _ := m.view.WCCommitID(ws)
		if _, ok := m.parentMapping[old]; !ok {
			continue
		}
		last := m.lastRewrite(old)
		r, abandoned := m.parentMapping[last]
		if !abandoned || r.kind != rewriteAbandoned {
			m.view.SetWCCommit(ws, last)
			continue
		}
		wc, err := m.NewCommit(m.newParents(r.targets), "")
		if err != nil {
			return fmt.Errorf("replace working copy of %s: %w", ws, err)
		}
		m.view.SetWCCommit(ws, wc.ID)
	}
	return nil
}

// lastRewrite follows the rewrites of id, taking the first replacement of a
// divergent rewrite. It stops at a commit that was abandoned or not replaced.
func (m *MutableRepo) lastRewrite(id dag.CommitID) dag.CommitID {
	seen := make(map[dag.CommitID]bool)
	for !seen[id] {
		seen[id] = true
		r, ok := m.parentMapping[id]
		if !ok || r.kind == rewriteAbandoned || len(r.targets) == 0 {
			return id
		}
		id = r.targets[0]
	}
	return id
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

func sortedBranchNames(m map[string]view.RefTarget) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
