package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/usererr"
	"github.com/systemshift/opdag/internal/view"
)

func testSettings() Settings {
	t0 := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var ticks int
	return Settings{
		UserName:  "Test User",
		UserEmail: "test@example.com",
		Hostname:  "host",
		Username:  "tester",
		Now: func() time.Time {
			ticks++
			return t0.Add(time.Duration(ticks) * time.Second)
		},
	}
}

func initRepo(t *testing.T) *ReadonlyRepo {
	t.Helper()
	r, err := Init(t.TempDir(), Options{Settings: testSettings()})
	require.NoError(t, err)
	return r
}

func finish(t *testing.T, tx *Transaction, description string) *ReadonlyRepo {
	t.Helper()
	r, err := tx.Finish(description)
	require.NoError(t, err)
	return r
}

func wcCommit(t *testing.T, r *ReadonlyRepo) *backend.Commit {
	t.Helper()
	id, ok := r.View().WCCommitID(view.DefaultWorkspace)
	require.True(t, ok)
	c, err := r.Store().GetCommit(id)
	require.NoError(t, err)
	return c
}

func TestInit(t *testing.T) {
	r := initRepo(t)
	l := r.Loader()

	op := r.Operation()
	assert.Equal(t, "add workspace 'default'", op.Metadata.Description)
	assert.Equal(t, "host", op.Metadata.Hostname)
	assert.Equal(t, "tester", op.Metadata.Username)
	require.Len(t, op.Parents, 1)
	assert.Equal(t, l.OpStore().RootOperationID(), op.Parents[0])

	heads, err := l.HeadSet().Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{op.ID}, heads)

	wc := wcCommit(t, r)
	assert.Equal(t, []dag.CommitID{l.Store().RootCommitID()}, wc.Parents)
	assert.Equal(t, []dag.CommitID{wc.ID}, r.View().Heads())

	_, err = Init(l.Root(), Options{Settings: testSettings()})
	assert.Error(t, err)
}

func TestOpenNotARepository(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	assert.True(t, errors.Is(err, ErrNotARepository))
}

func TestFindWalksUp(t *testing.T) {
	r := initRepo(t)
	sub := filepath.Join(r.Loader().Root(), "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0755))
	got, err := Find(sub)
	require.NoError(t, err)
	assert.Equal(t, r.Loader().Root(), got)
}

func TestLoadAtHeadReturnsPublishedOperation(t *testing.T) {
	r := initRepo(t)
	l, err := Open(r.Loader().Root(), Options{Settings: testSettings()})
	require.NoError(t, err)
	loaded, err := l.LoadAtHead()
	require.NoError(t, err)
	assert.Equal(t, r.Operation().ID, loaded.Operation().ID)
	assert.True(t, r.View().Equal(loaded.View()))
}

func TestFinishNothingChanged(t *testing.T) {
	r := initRepo(t)
	_, err := r.StartTransaction().Finish("noop")
	assert.ErrorIs(t, err, ErrNothingChanged)

	heads, err := r.Loader().HeadSet().Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{r.Operation().ID}, heads)
}

func TestRewriteRebasesDescendants(t *testing.T) {
	r := initRepo(t)
	tx := r.StartTransaction()
	a, err := tx.Repo().NewCommit(nil, "A")
	require.NoError(t, err)
	b, err := tx.Repo().NewCommit([]dag.CommitID{a.ID}, "B")
	require.NoError(t, err)
	tx.Repo().SetLocalBranch("feature", view.NormalTarget(b.ID))
	r = finish(t, tx, "create A and B")

	tx = r.StartTransaction()
	a2, err := tx.Repo().RewriteCommit(a, func(c *backend.Commit) { c.Description = "A, described" })
	require.NoError(t, err)
	r = finish(t, tx, "describe A")

	v := r.View()
	assert.False(t, v.HasHead(b.ID))
	branch, ok := v.LocalBranch("feature").AsNormal()
	require.True(t, ok)
	b2, err := r.Store().GetCommit(branch)
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, b2.ID)
	assert.Equal(t, b.ChangeID, b2.ChangeID)
	assert.Equal(t, []dag.CommitID{a2.ID}, b2.Parents)
	assert.True(t, v.HasHead(b2.ID))
}

func TestAbandonWorkingCopyGetsNewCommit(t *testing.T) {
	r := initRepo(t)
	old := wcCommit(t, r)

	tx := r.StartTransaction()
	require.NoError(t, tx.Repo().RecordAbandonedCommit(old.ID))
	r = finish(t, tx, "abandon commit")

	wc := wcCommit(t, r)
	assert.NotEqual(t, old.ID, wc.ID)
	assert.NotEqual(t, old.ChangeID, wc.ChangeID)
	assert.Equal(t, old.Parents, wc.Parents)
	assert.Equal(t, []dag.CommitID{wc.ID}, r.View().Heads())
}

func TestAbandonRewrittenWorkingCopyGetsNewCommit(t *testing.T) {
	r := initRepo(t)
	old := wcCommit(t, r)
	root := r.Store().RootCommitID()

	tx := r.StartTransaction()
	described, err := tx.Repo().RewriteCommit(old, func(c *backend.Commit) {
		c.Description = "described\n"
	})
	require.NoError(t, err)
	require.NoError(t, tx.Repo().RecordAbandonedCommit(described.ID))
	r = finish(t, tx, "describe and abandon")

	wc := wcCommit(t, r)
	assert.NotEqual(t, root, wc.ID)
	assert.NotEqual(t, old.ID, wc.ID)
	assert.NotEqual(t, described.ID, wc.ID)
	assert.Equal(t, []dag.CommitID{root}, wc.Parents)
	assert.Empty(t, wc.Description)
	assert.Equal(t, []dag.CommitID{wc.ID}, r.View().Heads())
}

func TestAbandonRebasesChildrenOntoParent(t *testing.T) {
	r := initRepo(t)
	tx := r.StartTransaction()
	a, err := tx.Repo().NewCommit(nil, "A")
	require.NoError(t, err)
	b, err := tx.Repo().NewCommit([]dag.CommitID{a.ID}, "B")
	require.NoError(t, err)
	c, err := tx.Repo().NewCommit([]dag.CommitID{b.ID}, "C")
	require.NoError(t, err)
	r = finish(t, tx, "create chain")

	tx = r.StartTransaction()
	require.NoError(t, tx.Repo().RecordAbandonedCommit(b.ID))
	r = finish(t, tx, "abandon B")

	v := r.View()
	assert.False(t, v.HasHead(c.ID))
	var rebased *backend.Commit
	for _, id := range v.Heads() {
		h, err := r.Store().GetCommit(id)
		require.NoError(t, err)
		if h.ChangeID == c.ChangeID {
			rebased = h
		}
	}
	require.NotNil(t, rebased)
	assert.Equal(t, []dag.CommitID{a.ID}, rebased.Parents)
}

func TestConcurrentBranchMovesConflict(t *testing.T) {
	r := initRepo(t)
	tx := r.StartTransaction()
	a, err := tx.Repo().NewCommit(nil, "A")
	require.NoError(t, err)
	tx.Repo().SetLocalBranch("main", view.NormalTarget(a.ID))
	base := finish(t, tx, "create A")

	tx1 := base.StartTransaction()
	b, err := tx1.Repo().NewCommit([]dag.CommitID{a.ID}, "B")
	require.NoError(t, err)
	tx1.Repo().SetLocalBranch("main", view.NormalTarget(b.ID))

	tx2 := base.StartTransaction()
	c, err := tx2.Repo().NewCommit([]dag.CommitID{a.ID}, "C")
	require.NoError(t, err)
	tx2.Repo().SetLocalBranch("main", view.NormalTarget(c.ID))

	r1 := finish(t, tx1, "move main to B")
	r2 := finish(t, tx2, "move main to C")

	assert.Equal(t, reconcileDescription, r2.Operation().Metadata.Description)
	assert.Len(t, r2.Operation().Parents, 2)
	assert.Contains(t, r2.Operation().Parents, r1.Operation().ID)

	want := view.ConflictedTarget([]dag.CommitID{b.ID, c.ID}, []dag.CommitID{a.ID})
	got := r2.View().LocalBranch("main")
	assert.True(t, want.Equal(got), "main = %+v", got)
	assert.True(t, r2.View().HasHead(b.ID))
	assert.True(t, r2.View().HasHead(c.ID))

	heads, err := r2.Loader().HeadSet().Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{r2.Operation().ID}, heads)
}

func TestLoadAtHeadReconcilesDivergentHeads(t *testing.T) {
	r := initRepo(t)
	l := r.Loader()

	tx1 := r.StartTransaction()
	_, err := tx1.Repo().NewCommit(nil, "one")
	require.NoError(t, err)
	w1, err := tx1.Write("one")
	require.NoError(t, err)

	tx2 := r.StartTransaction()
	_, err = tx2.Repo().NewCommit(nil, "two")
	require.NoError(t, err)
	w2, err := tx2.Write("two")
	require.NoError(t, err)

	require.NoError(t, l.HeadSet().UpdateHeads([]dag.OperationID{r.Operation().ID}, w1.Operation().ID))
	require.NoError(t, l.HeadSet().UpdateHeads(nil, w2.Operation().ID))

	merged, err := l.LoadAtHead()
	require.NoError(t, err)
	assert.Equal(t, reconcileDescription, merged.Operation().Metadata.Description)
	assert.ElementsMatch(t, []dag.OperationID{w1.Operation().ID, w2.Operation().ID}, merged.Operation().Parents)
	for _, id := range w1.View().Heads() {
		assert.True(t, merged.View().HasHead(id))
	}
	for _, id := range w2.View().Heads() {
		assert.True(t, merged.View().HasHead(id))
	}

	heads, err := l.HeadSet().Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{merged.Operation().ID}, heads)
}

func TestMergeOperationWithItselfKeepsView(t *testing.T) {
	r := initRepo(t)
	tx := r.StartTransaction()
	require.NoError(t, tx.MergeOperation(r.Operation()))
	written, err := tx.Write("self merge")
	require.NoError(t, err)
	assert.Equal(t, r.Operation().ViewID, written.Operation().ViewID)
}

func TestUndoTwiceRestoresView(t *testing.T) {
	r := initRepo(t)
	wc := wcCommit(t, r)

	tx := r.StartTransaction()
	_, err := tx.Repo().RewriteCommit(wc, func(c *backend.Commit) { c.Description = "described" })
	require.NoError(t, err)
	tx.Repo().SetLocalBranch("main", view.NormalTarget(wc.ID))
	described := finish(t, tx, "describe")

	tx = described.StartTransaction()
	require.NoError(t, Undo(tx, described.Operation(), view.DefaultPortions()))
	undone := finish(t, tx, UndoDescription(described.Operation()))
	assert.Equal(t, r.Operation().ViewID, undone.Operation().ViewID)

	tx = undone.StartTransaction()
	require.NoError(t, Undo(tx, undone.Operation(), view.DefaultPortions()))
	redone := finish(t, tx, UndoDescription(undone.Operation()))
	assert.Equal(t, described.Operation().ViewID, redone.Operation().ViewID)
}

func TestUndoKeepsLaterChanges(t *testing.T) {
	r := initRepo(t)
	wc := wcCommit(t, r)

	tx := r.StartTransaction()
	tx.Repo().SetLocalBranch("first", view.NormalTarget(wc.ID))
	first := finish(t, tx, "set first")

	tx = first.StartTransaction()
	tx.Repo().SetLocalBranch("second", view.NormalTarget(wc.ID))
	second := finish(t, tx, "set second")

	tx = second.StartTransaction()
	require.NoError(t, Undo(tx, first.Operation(), view.DefaultPortions()))
	undone := finish(t, tx, UndoDescription(first.Operation()))

	v := undone.View()
	assert.True(t, v.LocalBranch("first").IsAbsent())
	assert.True(t, v.LocalBranch("second").IsPresent())
}

func TestUndoRejectsRootAndMerge(t *testing.T) {
	r := initRepo(t)
	l := r.Loader()
	rootOp, err := l.LoadOperation(l.OpStore().RootOperationID())
	require.NoError(t, err)

	err = Undo(r.StartTransaction(), rootOp, view.DefaultPortions())
	ue, ok := usererr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Cannot undo repo initialization", ue.Message)

	tx := r.StartTransaction()
	require.NoError(t, tx.MergeOperation(rootOp))
	merge, err := tx.Write("merge with root")
	require.NoError(t, err)
	err = Undo(r.StartTransaction(), merge.Operation(), view.DefaultPortions())
	ue, ok = usererr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Cannot undo a merge operation", ue.Message)
}

func TestRestore(t *testing.T) {
	r := initRepo(t)
	wc := wcCommit(t, r)

	tx := r.StartTransaction()
	tx.Repo().SetLocalBranch("main", view.NormalTarget(wc.ID))
	tx.Repo().SetRemoteBranch("main", "origin", view.RemoteRef{Target: view.NormalTarget(wc.ID), State: view.RemoteRefTracking})
	later := finish(t, tx, "set branches")

	tx = later.StartTransaction()
	require.NoError(t, Restore(tx, r.Operation(), []view.Portion{view.PortionRepo}))
	restored := finish(t, tx, RestoreDescription(r.Operation()))

	v := restored.View()
	assert.True(t, v.LocalBranch("main").IsAbsent())
	assert.True(t, v.RemoteBranch("main", "origin").IsTracking())

	tx = restored.StartTransaction()
	require.NoError(t, Restore(tx, r.Operation(), view.DefaultPortions()))
	all := finish(t, tx, RestoreDescription(r.Operation()))
	assert.Equal(t, r.Operation().ViewID, all.Operation().ViewID)
}

func TestOperationTags(t *testing.T) {
	r := initRepo(t)
	tx := r.StartTransaction()
	tx.SetTag("args", "opdag new")
	_, err := tx.Repo().NewCommit(nil, "")
	require.NoError(t, err)
	written := finish(t, tx, "new empty commit")
	assert.Equal(t, map[string]string{"args": "opdag new"}, written.Operation().Metadata.Tags)
}

func TestHeadOperationDoesNotMerge(t *testing.T) {
	r := initRepo(t)
	l := r.Loader()

	op, err := l.HeadOperation()
	require.NoError(t, err)
	assert.Equal(t, r.Operation().ID, op.ID)

	one, err := r.StartTransaction().Write("one")
	require.NoError(t, err)
	two, err := r.StartTransaction().Write("two")
	require.NoError(t, err)
	require.NoError(t, l.HeadSet().UpdateHeads(nil, one.Operation().ID))
	require.NoError(t, l.HeadSet().UpdateHeads(nil, two.Operation().ID))

	heads, err := l.IndependentHeads()
	require.NoError(t, err)
	var ids []dag.OperationID
	for _, h := range heads {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []dag.OperationID{one.Operation().ID, two.Operation().ID}, ids)

	_, err = l.HeadOperation()
	assert.ErrorIs(t, err, ErrDivergentHeads)

	// The stale head and both concurrent heads are still recorded.
	stored, err := l.HeadSet().Heads()
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}
