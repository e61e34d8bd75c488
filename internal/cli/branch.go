package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opdiff"
	"github.com/systemshift/opdag/internal/usererr"
	"github.com/systemshift/opdag/internal/view"
)

func newBranchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches",
	}
	cmd.AddCommand(newBranchSetCommand(a), newBranchDeleteCommand(a), newBranchListCommand(a))
	return cmd
}

func newBranchSetCommand(a *app) *cobra.Command {
	var revision string
	cmd := &cobra.Command{
		Use:   "set NAMES...",
		Short: "Create or update branches to point at a revision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			c, err := resolveCommit(r, revision)
			if err != nil {
				return err
			}
			tx := startTransaction(cmd, r, args)
			for _, name := range args {
				tx.Repo().SetLocalBranch(name, view.NormalTarget(c.ID))
			}
			_, err = finish(cmd, tx, fmt.Sprintf("point %s to commit %s", branchNoun(args), c.ID.Hex()))
			return err
		},
	}
	cmd.Flags().StringVarP(&revision, "revision", "r", "@", "The branch's target revision")
	return cmd
}

func newBranchDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAMES...",
		Short: "Delete local branches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			v := r.View()
			for _, name := range args {
				if v.LocalBranch(name).IsAbsent() {
					return usererr.New("No such branch: " + name)
				}
			}
			tx := startTransaction(cmd, r, args)
			for _, name := range args {
				tx.Repo().SetLocalBranch(name, view.AbsentTarget())
			}
			_, err = finish(cmd, tx, "delete "+branchNoun(args))
			return err
		},
	}
}

func newBranchListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List branches and their targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			return writeBranchList(cmd.OutOrStdout(), r.Store(), r.View())
		},
	}
}

func branchNoun(names []string) string {
	if len(names) == 1 {
		return "branch " + names[0]
	}
	return "branches " + strings.Join(names, ", ")
}

// writeBranchList prints each local branch followed by its remote branches.
// The git pseudo remote is not shown.
func writeBranchList(w io.Writer, commits backend.CommitReader, v *view.View) error {
	remotes := make(map[string][]view.RemoteBranchKey)
	names := make(map[string]bool)
	for name := range v.LocalBranches {
		names[name] = true
	}
	for key := range v.AllRemoteBranches() {
		if key.Remote == view.GitRemote {
			continue
		}
		names[key.Name] = true
		remotes[key.Name] = append(remotes[key.Name], key)
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	summary := func(id dag.CommitID) (string, error) {
		c, err := commits.GetCommit(id)
		if err != nil {
			return "", err
		}
		return opdiff.CommitSummary(c), nil
	}
	writeTarget := func(label string, t view.RefTarget) error {
		if id, ok := t.AsNormal(); ok {
			s, err := summary(id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s: %s\n", label, s)
			return err
		}
		if t.IsAbsent() {
			_, err := fmt.Fprintf(w, "%s (deleted)\n", label)
			return err
		}
		if _, err := fmt.Fprintf(w, "%s (conflicted):\n", label); err != nil {
			return err
		}
		for _, id := range t.RemovedIDs() {
			s, err := summary(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  - %s\n", s)
		}
		for _, id := range t.AddedIDs() {
			s, err := summary(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  + %s\n", s)
		}
		return nil
	}

	all := v.AllRemoteBranches()
	for _, name := range sorted {
		local := v.LocalBranch(name)
		if local.IsPresent() {
			if err := writeTarget(name, local); err != nil {
				return err
			}
		}
		keys := remotes[name]
		sort.Slice(keys, func(i, j int) bool { return keys[i].Remote < keys[j].Remote })
		for _, key := range keys {
			ref := all[key]
			label := fmt.Sprintf("  @%s", key.Remote)
			if local.IsAbsent() {
				label = fmt.Sprintf("%s@%s", key.Name, key.Remote)
			}
			if ref.IsTracking() && ref.Target.Equal(local) {
				continue
			}
			if err := writeTarget(label, ref.Target); err != nil {
				return err
			}
		}
	}
	return nil
}
