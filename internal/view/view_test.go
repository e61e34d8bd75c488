package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/opdag/internal/dag"
)

func sampleView() *View {
	v := New()
	v.AddHead("c3")
	v.AddHead("c4")
	v.SetLocalBranch("main", NormalTarget("c3"))
	v.SetTag("v1", NormalTarget("c2"))
	v.SetRemoteBranch("main", "origin", RemoteRef{Target: NormalTarget("c2"), State: RemoteRefTracking})
	v.SetGitRef("refs/heads/main", NormalTarget("c3"))
	v.GitHead = NormalTarget("c3")
	v.SetWCCommit(DefaultWorkspace, "c4")
	return v
}

func TestClone_IsDeep(t *testing.T) {
	v := sampleView()
	c := v.Clone()
	c.SetLocalBranch("main", NormalTarget("c9"))
	c.SetRemoteBranch("main", "origin", RemoteRef{Target: NormalTarget("c9"), State: RemoteRefNew})
	c.RemoveHead("c3")

	id, _ := v.LocalBranch("main").AsNormal()
	assert.Equal(t, dag.CommitID("c3"), id)
	assert.True(t, v.RemoteBranch("main", "origin").IsTracking())
	assert.True(t, v.HasHead("c3"))
	assert.False(t, v.Equal(c))
}

func TestSetAbsentDeletes(t *testing.T) {
	v := sampleView()
	v.SetLocalBranch("main", AbsentTarget())
	v.SetRemoteBranch("main", "origin", AbsentRemoteRef())
	assert.Nil(t, v.LocalBranches)
	assert.Empty(t, v.RemoteViews)
	assert.True(t, v.RemoteBranch("main", "origin").IsAbsent())
}

func TestEqual_IgnoresEmptyContainers(t *testing.T) {
	a := New()
	b := &View{
		HeadIDs:       map[dag.CommitID]bool{},
		LocalBranches: map[string]RefTarget{"gone": AbsentTarget()},
		RemoteViews:   map[string]RemoteView{"origin": {}},
	}
	assert.True(t, a.Equal(b))
}

func TestAllReferencedCommits(t *testing.T) {
	v := sampleView()
	v.SetTag("conflict", ConflictedTarget([]dag.CommitID{"c5", ""}, []dag.CommitID{"c6"}))
	got := v.AllReferencedCommits()
	assert.Equal(t, []dag.CommitID{"c2", "c3", "c4", "c5", "c6"}, got)
}

func TestWithPortionsRestored(t *testing.T) {
	current := sampleView()
	restored := New()
	restored.AddHead("c1")
	restored.SetLocalBranch("old", NormalTarget("c1"))

	repoOnly := WithPortionsRestored(restored, current, []Portion{PortionRepo})
	assert.Equal(t, []dag.CommitID{"c1"}, repoOnly.Heads())
	assert.True(t, repoOnly.LocalBranch("main").IsAbsent())
	assert.True(t, repoOnly.RemoteBranch("main", "origin").IsTracking(), "remote refs kept from current")
	assert.False(t, repoOnly.GitRef("refs/heads/main").IsAbsent(), "git refs always kept")

	remoteOnly := WithPortionsRestored(restored, current, []Portion{PortionRemoteTracking})
	assert.Equal(t, current.Heads(), remoteOnly.Heads())
	assert.True(t, remoteOnly.RemoteBranch("main", "origin").IsAbsent())

	all := WithPortionsRestored(restored, current, DefaultPortions())
	assert.True(t, all.GitHead.Equal(current.GitHead))
	_, ok := all.WCCommitID(DefaultWorkspace)
	assert.False(t, ok)
}

func TestParsePortion(t *testing.T) {
	p, err := ParsePortion("remote-tracking")
	require.NoError(t, err)
	assert.Equal(t, PortionRemoteTracking, p)
	_, err = ParsePortion("everything")
	assert.Error(t, err)
}

func TestDiffNamedRefTargets(t *testing.T) {
	from := map[string]RefTarget{"a": NormalTarget("c1"), "b": NormalTarget("c1"), "same": NormalTarget("c2")}
	to := map[string]RefTarget{"b": NormalTarget("c2"), "c": NormalTarget("c3"), "same": NormalTarget("c2")}

	diffs := DiffNamedRefTargets(from, to)
	require.Len(t, diffs, 3)
	assert.Equal(t, "a", diffs[0].Name)
	assert.True(t, diffs[0].To.IsAbsent())
	assert.Equal(t, "b", diffs[1].Name)
	assert.Equal(t, "c", diffs[2].Name)
	assert.True(t, diffs[2].From.IsAbsent())

	assert.Empty(t, DiffNamedRefTargets(from, from))
}

func TestDiffNamedRemoteRefs_StateChangeCounts(t *testing.T) {
	k := RemoteBranchKey{Name: "main", Remote: "origin"}
	from := map[RemoteBranchKey]RemoteRef{k: {Target: NormalTarget("c1"), State: RemoteRefNew}}
	to := map[RemoteBranchKey]RemoteRef{k: {Target: NormalTarget("c1"), State: RemoteRefTracking}}

	diffs := DiffNamedRemoteRefs(from, to)
	require.Len(t, diffs, 1)
	assert.Equal(t, k, diffs[0].Key)
	assert.Empty(t, DiffNamedRemoteRefs(to, to))
}
