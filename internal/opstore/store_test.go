package opstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{CacheSize: 4})
	require.NoError(t, err)
	return s
}

func TestOpen_RootOperationDeterministic(t *testing.T) {
	a := openTestStore(t)
	b := openTestStore(t)
	assert.Equal(t, a.RootOperationID(), b.RootOperationID())

	root, err := a.ReadOperation(a.RootOperationID())
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	v, err := a.ReadView(root.ViewID)
	require.NoError(t, err)
	assert.True(t, v.Equal(view.New()))
}

func TestWriteOperation_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	op, err := s.WriteOperation(Operation{
		ViewID:  s.RootViewID(),
		Parents: []dag.OperationID{s.RootOperationID()},
		Metadata: Metadata{
			Start:       start,
			End:         start.Add(time.Second),
			Description: "describe commit",
			Hostname:    "host",
			Username:    "user",
			Tags:        map[string]string{"args": "opdag describe"},
		},
	})
	require.NoError(t, err)

	got, err := s.ReadOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.Parents, got.Parents)
	assert.True(t, got.Metadata.Start.Equal(start))
	assert.Equal(t, "opdag describe", got.Metadata.Tags["args"])

	parents, err := s.Parents(op.ID)
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{s.RootOperationID()}, parents)
}

func TestReadOperation_RehashesToSameID(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	require.NoError(t, err)
	start := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("X", -7200))
	op, err := s.WriteOperation(Operation{
		ViewID:  s.RootViewID(),
		Parents: []dag.OperationID{s.RootOperationID()},
		Metadata: Metadata{
			Start:       start,
			End:         start.Add(1500 * time.Millisecond),
			Description: "point branch main to commit 00ff",
			Hostname:    "host",
			Username:    "user",
			IsSnapshot:  true,
			Tags:        map[string]string{"args": "opdag branch set main", "empty": ""},
		},
	})
	require.NoError(t, err)

	// A second store has a cold cache, so the operation comes from disk.
	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	got, err := reopened.ReadOperation(op.ID)
	require.NoError(t, err)

	again, err := reopened.WriteOperation(*got)
	require.NoError(t, err)
	assert.Equal(t, op.ID, again.ID)

	root, err := reopened.ReadOperation(reopened.RootOperationID())
	require.NoError(t, err)
	rootAgain, err := reopened.WriteOperation(*root)
	require.NoError(t, err)
	assert.Equal(t, reopened.RootOperationID(), rootAgain.ID)
}

func TestWriteView_SameContentSameID(t *testing.T) {
	s := openTestStore(t)

	a := view.New()
	a.AddHead("c1")
	a.AddHead("c2")
	a.SetLocalBranch("main", view.NormalTarget("c1"))
	a.SetLocalBranch("dev", view.NormalTarget("c2"))

	b := view.New()
	b.SetLocalBranch("dev", view.NormalTarget("c2"))
	b.AddHead("c2")
	b.SetLocalBranch("main", view.NormalTarget("c1"))
	b.AddHead("c1")
	b.SetTag("gone", view.AbsentTarget())

	idA, err := s.WriteView(a)
	require.NoError(t, err)
	idB, err := s.WriteView(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	got, err := s.ReadView(idA)
	require.NoError(t, err)
	assert.True(t, got.Equal(a))

	got.AddHead("c9")
	again, err := s.ReadView(idA)
	require.NoError(t, err)
	assert.False(t, again.HasHead("c9"), "ReadView must return a private copy")
}

func TestReadOperation_Missing(t *testing.T) {
	s := openTestStore(t)
	id, err := dag.ComputeID([]byte("missing"))
	require.NoError(t, err)
	_, err = s.ReadOperation(dag.OperationID(id))
	assert.True(t, errors.Is(err, dag.ErrObjectNotFound))
}

func TestResolvePrefix(t *testing.T) {
	s := openTestStore(t)
	op, err := s.WriteOperation(Operation{
		ViewID:   s.RootViewID(),
		Parents:  []dag.OperationID{s.RootOperationID()},
		Metadata: Metadata{Description: "one"},
	})
	require.NoError(t, err)

	matches, err := s.ResolvePrefix(op.ID.Hex()[:10])
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{op.ID}, matches)

	all, err := s.ResolvePrefix("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
