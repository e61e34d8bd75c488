package opheads

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/opdag/internal/dag"
)

func openTestHeads(t *testing.T) *HeadSet {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "heads"), nil)
	require.NoError(t, err)
	return h
}

func TestInitialize(t *testing.T) {
	h := openTestHeads(t)
	require.NoError(t, h.Initialize("root"))

	heads, err := h.Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{"root"}, heads)

	assert.Error(t, h.Initialize("root"))
}

func TestUpdateHeads_ReplacesOld(t *testing.T) {
	h := openTestHeads(t)
	require.NoError(t, h.Initialize("op0"))
	require.NoError(t, h.UpdateHeads([]dag.OperationID{"op0"}, "op1"))

	heads, err := h.Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{"op1"}, heads)
}

func TestUpdateHeads_StaleFailsWithoutChange(t *testing.T) {
	h := openTestHeads(t)
	require.NoError(t, h.Initialize("op0"))
	require.NoError(t, h.UpdateHeads([]dag.OperationID{"op0"}, "op1"))

	err := h.UpdateHeads([]dag.OperationID{"op0"}, "op2")
	assert.True(t, errors.Is(err, ErrStaleHeads))

	heads, err := h.Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{"op1"}, heads)
}

func TestUpdateHeads_MergesSeveralHeads(t *testing.T) {
	h := openTestHeads(t)
	require.NoError(t, h.Initialize("op0"))
	require.NoError(t, h.UpdateHeads(nil, "op1"))

	heads, err := h.Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{"op0", "op1"}, heads)

	require.NoError(t, h.UpdateHeads(heads, "merge"))
	heads, err = h.Heads()
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{"merge"}, heads)
}

func TestUpdateHeads_ConcurrentWritersOneWins(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "heads")
	first, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.Initialize("op0"))
	second, err := Open(dir, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, hs := range []*HeadSet{first, second} {
		wg.Add(1)
		go func(i int, hs *HeadSet) {
			defer wg.Done()
			errs[i] = hs.UpdateHeads([]dag.OperationID{"op0"}, dag.OperationID([]string{"a", "b"}[i]))
		}(i, hs)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, ErrStaleHeads))
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	heads, err := first.Heads()
	require.NoError(t, err)
	assert.Len(t, heads, 1)
}
