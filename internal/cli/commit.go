package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/describe"
	"github.com/systemshift/opdag/internal/opdiff"
	"github.com/systemshift/opdag/internal/repo"
	"github.com/systemshift/opdag/internal/usererr"
	"github.com/systemshift/opdag/internal/view"
)

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [DESTINATION]",
		Short: "Create a new repository",
		Long: `Create a new repository with a default workspace checked out on an
empty commit. DESTINATION defaults to -R, or the current directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := a.repository
			if len(args) == 1 {
				dest = args[0]
			}
			if dest == "" {
				dest = "."
			}
			abs, err := filepath.Abs(dest)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(abs, 0755); err != nil {
				return fmt.Errorf("create destination: %w", err)
			}
			if _, err := repo.Init(abs, a.repoOptions(abs)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Initialized repo in %q\n", dest)
			return nil
		},
	}
}

func newNewCommand(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "new [REVISIONS]...",
		Short: "Create a new, empty change and edit it in the working copy",
		Long: `Create a new, empty change on top of REVISIONS (the working-copy commit
by default) and check it out in the default workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			revs := args
			if len(revs) == 0 {
				revs = []string{"@"}
			}
			parents, err := resolveCommits(r, revs)
			if err != nil {
				return err
			}
			tx := startTransaction(cmd, r, args)
			c, err := tx.Repo().NewCommit(commitIDs(parents), describe.CleanupDescription(message))
			if err != nil {
				return err
			}
			tx.Repo().SetWCCommit(view.DefaultWorkspace, c.ID)
			if _, err := finish(cmd, tx, "new empty commit"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Working copy now at: %s\n", opdiff.CommitSummary(c))
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "The change description to use")
	return cmd
}

func newDescribeCommand(a *app) *cobra.Command {
	var messages []string
	cmd := &cobra.Command{
		Use:   "describe [REVISIONS]...",
		Short: "Update the change description",
		Long: `Update the description of REVISIONS (the working-copy commit by default).

Without -m, the descriptions are edited in the configured editor, all in
one file when there are several. Lines starting with "` + describe.CommentPrefix + `"
are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.loader()
			if err != nil {
				return err
			}
			r, err := a.loadRepo(l)
			if err != nil {
				return err
			}
			revs := args
			if len(revs) == 0 {
				revs = []string{"@"}
			}
			commits, err := resolveCommits(r, revs)
			if err != nil {
				return err
			}
			for _, c := range commits {
				if c.IsRoot() {
					return usererr.New(fmt.Sprintf("The root commit %s is immutable", c.ID.Short()))
				}
			}

			var descriptions map[dag.CommitID]string
			if cmd.Flags().Changed("message") {
				descriptions = make(map[dag.CommitID]string, len(commits))
				for _, c := range commits {
					descriptions[c.ID] = describe.JoinMessageParagraphs(messages)
				}
			} else {
				descriptions, err = a.editDescriptions(r, filepath.Join(l.Root(), repo.DirName), commits)
				if err != nil {
					return err
				}
			}

			tx := startTransaction(cmd, r, args)
			var changed []*backend.Commit
			for _, c := range commits {
				d := descriptions[c.ID]
				if d == c.Description {
					continue
				}
				if _, err := tx.Repo().RewriteCommit(c, func(nc *backend.Commit) {
					nc.Description = d
				}); err != nil {
					return err
				}
				changed = append(changed, c)
			}
			if len(changed) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "Nothing changed.")
				return nil
			}
			description := "describe commit " + changed[0].ID.Hex()
			if len(changed) > 1 {
				description = fmt.Sprintf("%s and %d more", description, len(changed)-1)
			}
			_, err = finish(cmd, tx, description)
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&messages, "message", "m", nil, "The change description to use (paragraphs are joined)")
	return cmd
}

// editDescriptions opens the editor on the descriptions of commits and
// returns the edited, cleaned descriptions by commit id.
func (a *app) editDescriptions(r *repo.ReadonlyRepo, tempDir string, commits []*backend.Commit) (map[dag.CommitID]string, error) {
	entries := make([]describe.BulkEntry, len(commits))
	keys := make(map[string]dag.CommitID, len(commits))
	for i, c := range commits {
		changes, err := commitChanges(r.Store(), c)
		if err != nil {
			return nil, err
		}
		key := c.ID.Short()
		entries[i] = describe.BulkEntry{
			Key:      key,
			Template: describe.DescribeTemplate(c.Description, a.cfg.UI.DefaultDescription, changes),
		}
		keys[key] = c.ID
	}

	edited, err := describe.Edit(a.cfg.UI.Editor, tempDir, describe.BulkEditMessage(entries))
	if err != nil {
		return nil, err
	}
	if len(commits) == 1 {
		return map[dag.CommitID]string{commits[0].ID: describe.CleanupDescription(edited)}, nil
	}

	res := describe.ParseBulkEditMessage(edited, keys)
	switch {
	case len(res.Missing) > 0:
		return nil, usererr.New("The description for the following commits were not found in the edited message: " +
			strings.Join(res.Missing, ", "))
	case len(res.Duplicates) > 0:
		return nil, usererr.New("The following commits were found in the edited message multiple times: " +
			strings.Join(res.Duplicates, ", "))
	case len(res.Unexpected) > 0:
		return nil, usererr.New("The following commits were not being edited, but were found in the edited message: " +
			strings.Join(res.Unexpected, ", "))
	}
	return res.Descriptions, nil
}

func newAbandonCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon [REVISIONS]...",
		Short: "Abandon a revision",
		Long: `Abandon REVISIONS (the working-copy commit by default). Their
descendants are rebased onto their parents, and branches pointing at
them move to the parents. An abandoned working-copy commit is replaced
by a new empty commit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			revs := args
			if len(revs) == 0 {
				revs = []string{"@"}
			}
			commits, err := resolveCommits(r, revs)
			if err != nil {
				return err
			}
			tx := startTransaction(cmd, r, args)
			for _, c := range commits {
				if c.IsRoot() {
					return usererr.New(fmt.Sprintf("The root commit %s is immutable", c.ID.Short()))
				}
				if err := tx.Repo().RecordAbandonedCommit(c.ID); err != nil {
					return err
				}
			}
			description := "abandon commit " + commits[0].ID.Hex()
			if len(commits) > 1 {
				description = fmt.Sprintf("%s and %d more", description, len(commits)-1)
			}
			if _, err := finish(cmd, tx, description); err != nil {
				return err
			}

			w := cmd.ErrOrStderr()
			if len(commits) == 1 {
				fmt.Fprintf(w, "Abandoned commit %s\n", opdiff.CommitSummary(commits[0]))
				return nil
			}
			fmt.Fprintln(w, "Abandoned the following commits:")
			for _, c := range commits {
				fmt.Fprintf(w, "  %s\n", opdiff.CommitSummary(c))
			}
			return nil
		},
	}
}

// commitChanges lists the paths c changed relative to its first parent.
func commitChanges(store *backend.Store, c *backend.Commit) ([]string, error) {
	parent, err := store.GetCommit(c.Parents[0])
	if err != nil {
		return nil, err
	}
	from, err := store.GetTree(parent.Tree)
	if err != nil {
		return nil, err
	}
	to, err := store.GetTree(c.Tree)
	if err != nil {
		return nil, err
	}
	return describe.TreeChanges(from, to), nil
}

func commitIDs(commits []*backend.Commit) []dag.CommitID {
	ids := make([]dag.CommitID, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}
	return ids
}
