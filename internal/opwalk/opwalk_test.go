package opwalk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/usererr"
)

type testGraph struct {
	t     *testing.T
	store *opstore.Store
	clock time.Time
	ops   map[string]*opstore.Operation
}

func newTestGraph(t *testing.T) *testGraph {
	t.Helper()
	s, err := opstore.Open(t.TempDir(), opstore.Options{})
	require.NoError(t, err)
	root, err := s.ReadOperation(s.RootOperationID())
	require.NoError(t, err)
	return &testGraph{
		t:     t,
		store: s,
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ops:   map[string]*opstore.Operation{"root": root},
	}
}

// add writes an operation named name with the given parent names.
func (g *testGraph) add(name string, parents ...string) *opstore.Operation {
	g.t.Helper()
	g.clock = g.clock.Add(time.Minute)
	var ids []dag.OperationID
	for _, p := range parents {
		ids = append(ids, g.ops[p].ID)
	}
	op, err := g.store.WriteOperation(opstore.Operation{
		ViewID:  g.store.RootViewID(),
		Parents: ids,
		Metadata: opstore.Metadata{
			Start:       g.clock,
			End:         g.clock,
			Description: name,
		},
	})
	require.NoError(g.t, err)
	g.ops[name] = op
	return op
}

func (g *testGraph) id(name string) dag.OperationID { return g.ops[name].ID }

func (g *testGraph) chain(names ...string) {
	prev := "root"
	for _, n := range names {
		g.add(n, prev)
		prev = n
	}
}

func descriptions(t *testing.T, store Store, heads ...*opstore.Operation) []string {
	var out []string
	for op, err := range WalkAncestors(store, heads) {
		require.NoError(t, err)
		out = append(out, op.Metadata.Description)
	}
	return out
}

func TestWalkAncestors_ReverseChronologicalDeduplicated(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B")
	g.add("C", "A")
	g.add("M", "B", "C")

	got := descriptions(t, g.store, g.ops["M"], g.ops["B"])
	assert.Equal(t, []string{"M", "C", "B", "A", ""}, got)

	// Restartable: a second pass over the same sequence yields the same ops.
	seq := WalkAncestors(g.store, []*opstore.Operation{g.ops["M"]})
	var first, second int
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	assert.Equal(t, 5, first)
	assert.Equal(t, first, second)
}

func TestWalkAncestors_StopsEarly(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B", "C")
	var seen []string
	for op, err := range WalkAncestors(g.store, []*opstore.Operation{g.ops["C"]}) {
		require.NoError(t, err)
		seen = append(seen, op.Metadata.Description)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"C", "B"}, seen)
}

func TestReparentRange_DescendantMovesOntoNewRoot(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B", "C", "D", "E")

	stats, err := ReparentRange(g.store, []dag.OperationID{g.id("D")}, []dag.OperationID{g.id("E")}, g.id("A"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.UnreachableCount)
	assert.Equal(t, 1, stats.RewrittenCount)
	require.Len(t, stats.NewHeadIDs, 1)

	newE, err := g.store.ReadOperation(stats.NewHeadIDs[0])
	require.NoError(t, err)
	assert.Equal(t, []dag.OperationID{g.id("A")}, newE.Parents)
	assert.Equal(t, g.ops["E"].ViewID, newE.ViewID)
	assert.Equal(t, "E", newE.Metadata.Description)

	assert.Equal(t, []string{"E", "A", ""}, descriptions(t, g.store, newE))

	// The old operations are still readable.
	_, err = g.store.ReadOperation(g.id("C"))
	assert.NoError(t, err)
}

func TestReparentRange_RangeOutsideHeadHistory(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B", "C")
	g.add("X", "A")
	g.add("Y", "X")

	stats, err := ReparentRange(g.store, []dag.OperationID{g.id("Y")}, []dag.OperationID{g.id("C")}, g.id("A"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnreachableCount)
	assert.Equal(t, 0, stats.RewrittenCount)
	assert.Equal(t, []dag.OperationID{g.id("C")}, stats.NewHeadIDs)
}

func TestReparentRange_SingleHeadNeverReachesAbandoned(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B", "C")
	g.add("D", "A")
	g.add("M", "C", "D")
	g.add("N", "M")

	stats, err := ReparentRange(g.store, []dag.OperationID{g.id("C")}, []dag.OperationID{g.id("N")}, g.id("A"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnreachableCount)
	assert.Equal(t, 2, stats.RewrittenCount)
	require.Len(t, stats.NewHeadIDs, 1)

	history, err := dag.Reachable(stats.NewHeadIDs, g.store.Parents)
	require.NoError(t, err)
	assert.True(t, history[g.id("A")])
	assert.True(t, history[g.id("D")])
	assert.False(t, history[g.id("B")])
	assert.False(t, history[g.id("C")])

	newM, err := g.store.ReadOperation(stats.NewHeadIDs[0])
	require.NoError(t, err)
	newMParent, err := g.store.ReadOperation(newM.Parents[0])
	require.NoError(t, err)
	// B and C replaced by A; D is already a child of A but stays a parent.
	assert.Equal(t, []dag.OperationID{g.id("A"), g.id("D")}, newMParent.Parents)
}

func TestClosestCommonAncestor(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B")
	g.add("C", "A")

	id, ok, err := ClosestCommonAncestor(g.store, []dag.OperationID{g.id("B")}, []dag.OperationID{g.id("C")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.id("A"), id)
}

func TestHeadsOf(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B")
	g.add("C", "A")

	heads, err := HeadsOf(g.store, []*opstore.Operation{g.ops["A"], g.ops["B"], g.ops["C"]})
	require.NoError(t, err)
	require.Len(t, heads, 2)
	assert.Equal(t, g.id("B"), heads[0].ID)
	assert.Equal(t, g.id("C"), heads[1].ID)
}

func TestResolve(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A", "B", "C")
	current := g.ops["C"]

	cases := map[string]string{
		"@":                        "C",
		"@-":                       "B",
		"@--":                      "A",
		g.id("A").Hex()[:12]:       "A",
		g.id("A").Hex()[:12] + "+": "B",
		g.id("B").Hex() + "-+":     "B",
	}
	for expr, want := range cases {
		op, err := Resolve(g.store, current, expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, op.Metadata.Description, expr)
	}
}

func TestResolve_Errors(t *testing.T) {
	g := newTestGraph(t)
	g.chain("A")
	g.add("B", "A")
	g.add("C", "A")
	current := g.ops["B"]

	cases := map[string]string{
		"xyz":              `Operation ID "xyz" is not a valid hexadecimal prefix`,
		"0000000000000000": `No operation ID matching "0000000000000000"`,
		"@----":            `The "@---" expression resolved to no operations`,
		"@+":               `The "@+" expression resolved to no operations`,
	}
	for expr, want := range cases {
		_, err := Resolve(g.store, current, expr)
		ue, ok := usererr.As(err)
		require.True(t, ok, "%s: %v", expr, err)
		assert.Equal(t, want, ue.Message)
	}

	// A has two children in the history of a merge of B and C.
	g.add("M", "B", "C")
	_, err := Resolve(g.store, g.ops["M"], g.id("A").Hex()+"+")
	ue, ok := usererr.As(err)
	require.True(t, ok)
	assert.Contains(t, ue.Message, "resolved to more than one operation")
}

func TestResolve_AmbiguousPrefix(t *testing.T) {
	g := newTestGraph(t)
	byFirst := make(map[byte]int)
	for i := 0; i < 20; i++ {
		op := g.add(fmt.Sprintf("op%d", i), "root")
		byFirst[op.ID.Hex()[0]]++
	}
	var shared byte
	for c, n := range byFirst {
		if n > 1 {
			shared = c
			break
		}
	}
	require.NotZero(t, shared)

	_, err := Resolve(g.store, g.ops["op0"], string(shared))
	ue, ok := usererr.As(err)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("Operation ID prefix %q is ambiguous", string(shared)), ue.Message)
}
