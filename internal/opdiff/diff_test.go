package opdiff

import (
	"bytes"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

type fixture struct {
	store *backend.Store
	index *backend.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := backend.Open(t.TempDir(), backend.Options{})
	require.NoError(t, err)
	return &fixture{store: s, index: backend.NewIndex(s)}
}

func (f *fixture) commit(t *testing.T, change dag.ChangeID, desc string, parents ...dag.CommitID) *backend.Commit {
	t.Helper()
	c, err := f.store.WriteCommit(backend.Commit{ChangeID: change, Parents: parents, Description: desc})
	require.NoError(t, err)
	return c
}

func viewWithHeads(ids ...dag.CommitID) *view.View {
	v := view.New()
	v.SetHeads(ids)
	return v
}

func changeOrder(r *Result) []dag.ChangeID {
	var out []dag.ChangeID
	for _, ch := range r.Changes {
		out = append(out, ch.ChangeID)
	}
	return out
}

func TestDiffWithItselfIsEmpty(t *testing.T) {
	f := newFixture(t)
	a := f.commit(t, "aaaa", "a", f.store.RootCommitID())
	v := viewWithHeads(a.ID)
	v.SetLocalBranch("main", view.NormalTarget(a.ID))

	r, err := Diff(f.index, v, v.Clone())
	require.NoError(t, err)
	assert.True(t, r.IsEmpty())
}

func TestDiffGroupsRewriteByChange(t *testing.T) {
	f := newFixture(t)
	root := f.store.RootCommitID()
	a := f.commit(t, "aaaa", "a", root)
	a2 := f.commit(t, "aaaa", "a, described", root)

	r, err := Diff(f.index, viewWithHeads(a.ID), viewWithHeads(a2.ID))
	require.NoError(t, err)
	require.Len(t, r.Changes, 1)
	ch := r.Changes[0]
	assert.Equal(t, dag.ChangeID("aaaa"), ch.ChangeID)
	require.Len(t, ch.Added, 1)
	require.Len(t, ch.Removed, 1)
	assert.Equal(t, a2.ID, ch.Added[0].ID)
	assert.Equal(t, a.ID, ch.Removed[0].ID)
	assert.Empty(t, ch.Parents)
}

func TestDiffDerivesParentsWithinDiff(t *testing.T) {
	f := newFixture(t)
	root := f.store.RootCommitID()
	base := f.commit(t, "0000", "base", root)
	a := f.commit(t, "aaaa", "a", base.ID)
	b := f.commit(t, "bbbb", "b", a.ID)

	r, err := Diff(f.index, viewWithHeads(base.ID), viewWithHeads(b.ID))
	require.NoError(t, err)
	assert.Equal(t, []dag.ChangeID{"bbbb", "aaaa"}, changeOrder(r))
	assert.Equal(t, []dag.ChangeID{"aaaa"}, r.Changes[0].Parents)
	// base is outside the diff, so a renders as a root.
	assert.Empty(t, r.Changes[1].Parents)
}

func TestDiffKeepsChainsContiguous(t *testing.T) {
	f := newFixture(t)
	root := f.store.RootCommitID()
	a := f.commit(t, "aaaa", "a", root)
	b := f.commit(t, "bbbb", "b", a.ID)
	c := f.commit(t, "cccc", "c", root)

	r, err := Diff(f.index, viewWithHeads(root), viewWithHeads(b.ID, c.ID))
	require.NoError(t, err)
	order := changeOrder(r)
	require.Len(t, order, 3)
	ia := slices.Index(order, dag.ChangeID("aaaa"))
	ib := slices.Index(order, dag.ChangeID("bbbb"))
	assert.Equal(t, ib+1, ia, "order %v", order)
}

func TestDiffRemovedOnlyUsesRemovedParents(t *testing.T) {
	f := newFixture(t)
	root := f.store.RootCommitID()
	a := f.commit(t, "aaaa", "a", root)
	b := f.commit(t, "bbbb", "b", a.ID)

	r, err := Diff(f.index, viewWithHeads(b.ID), viewWithHeads(root))
	require.NoError(t, err)
	assert.Equal(t, []dag.ChangeID{"bbbb", "aaaa"}, changeOrder(r))
	assert.Equal(t, []dag.ChangeID{"aaaa"}, r.Changes[0].Parents)
	assert.Empty(t, r.Changes[0].Added)
}

func TestParentChangesUsesEveryParent(t *testing.T) {
	byCommit := map[dag.CommitID]dag.ChangeID{"p1": "one", "p2": "two", "p3": "three"}
	mc := &ModifiedChange{
		Added: []*backend.Commit{
			{ID: "m", Parents: []dag.CommitID{"p1", "p2"}},
			{ID: "n", Parents: []dag.CommitID{"p2"}},
			{ID: "o", Parents: []dag.CommitID{"elsewhere"}},
		},
		Removed: []*backend.Commit{{ID: "r", Parents: []dag.CommitID{"p3"}}},
	}
	assert.Equal(t, []dag.ChangeID{"one", "two"}, ParentChanges(mc, byCommit))

	mc.Added = nil
	assert.Equal(t, []dag.ChangeID{"three"}, ParentChanges(mc, byCommit))
}

func TestDiffListsMergeBeforeAllItsParents(t *testing.T) {
	f := newFixture(t)
	root := f.store.RootCommitID()
	a := f.commit(t, "aaaa", "a", root)
	b := f.commit(t, "bbbb", "b", root)
	m := f.commit(t, "mmmm", "merge", a.ID, b.ID)

	r, err := Diff(f.index, view.New(), viewWithHeads(m.ID))
	require.NoError(t, err)
	order := changeOrder(r)
	im := slices.Index(order, dag.ChangeID("mmmm"))
	ia := slices.Index(order, dag.ChangeID("aaaa"))
	ib := slices.Index(order, dag.ChangeID("bbbb"))
	require.NotEqual(t, -1, im, "order %v", order)
	assert.Less(t, im, ia, "order %v", order)
	assert.Less(t, im, ib, "order %v", order)

	for _, ch := range r.Changes {
		if ch.ChangeID == "mmmm" {
			assert.ElementsMatch(t, []dag.ChangeID{"aaaa", "bbbb"}, ch.Parents)
		}
	}
}

func TestDiffRefs(t *testing.T) {
	f := newFixture(t)
	a := f.commit(t, "aaaa", "a", f.store.RootCommitID())
	from := viewWithHeads(a.ID)
	to := from.Clone()
	to.SetLocalBranch("main", view.NormalTarget(a.ID))
	to.SetTag("v1", view.NormalTarget(a.ID))
	tracked := view.RemoteRef{Target: view.NormalTarget(a.ID), State: view.RemoteRefTracking}
	to.SetRemoteBranch("main", "origin", tracked)
	to.SetRemoteBranch("main", view.GitRemote, tracked)

	r, err := Diff(f.index, from, to)
	require.NoError(t, err)
	assert.Empty(t, r.Changes)
	require.Len(t, r.LocalBranches, 1)
	assert.Equal(t, "main", r.LocalBranches[0].Name)
	assert.True(t, r.LocalBranches[0].From.IsAbsent())
	require.Len(t, r.Tags, 1)
	require.Len(t, r.RemoteBranches, 1)
	assert.Equal(t, "origin", r.RemoteBranches[0].Key.Remote)
}

func TestWriteSummary(t *testing.T) {
	f := newFixture(t)
	root := f.store.RootCommitID()
	a := f.commit(t, "aaaaaaaaaaaaaaaa", "first line\nmore", root)
	a2 := f.commit(t, "aaaaaaaaaaaaaaaa", "", root)
	b := f.commit(t, "bbbbbbbbbbbbbbbb", "b", root)

	from := viewWithHeads(a.ID)
	from.SetLocalBranch("main", view.NormalTarget(a.ID))
	from.SetRemoteBranch("main", "origin", view.RemoteRef{Target: view.NormalTarget(a.ID), State: view.RemoteRefNew})
	to := viewWithHeads(a2.ID, b.ID)
	to.SetLocalBranch("main", view.ConflictedTarget([]dag.CommitID{a2.ID, b.ID}, []dag.CommitID{a.ID}))
	to.SetRemoteBranch("main", "origin", view.RemoteRef{Target: view.NormalTarget(a.ID), State: view.RemoteRefTracking})

	r, err := Diff(f.index, from, to)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, f.store, r))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Changed commits:\n"), out)
	assert.Contains(t, out, "Modified change aaaaaaaaaaaa\n")
	assert.Contains(t, out, "+"+CommitSummary(a2)+"\n")
	assert.Contains(t, out, "-"+CommitSummary(a)+"\n")
	assert.Contains(t, out, "(no description set)")
	assert.Contains(t, out, "Changed local branches:\nmain:\n")
	assert.Contains(t, out, "+ (added) "+CommitSummary(b)+"\n")
	assert.Contains(t, out, "+ (removed) "+CommitSummary(a)+"\n")
	assert.Contains(t, out, "- "+CommitSummary(a)+"\n")
	assert.Contains(t, out, "Changed remote branches:\nmain@origin:\n")
	assert.Contains(t, out, "+ (tracked) "+CommitSummary(a)+"\n")
	assert.Contains(t, out, "- (untracked) "+CommitSummary(a)+"\n")
	assert.NotContains(t, out, "Changed tags:")
}

func TestCommitSummary(t *testing.T) {
	c := &backend.Commit{ID: "x", ChangeID: backend.RootChangeID}
	assert.Contains(t, CommitSummary(c), "(root)")
}
