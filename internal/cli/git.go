package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systemshift/opdag/internal/gitrefs"
)

func newGitCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Commands for working with the colocated git repository",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Record the refs of the colocated git repository",
		Long: `Record the branches, tags, remote-tracking refs and HEAD of the git
repository at git.path in the view, as git commit hashes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.loader()
			if err != nil {
				return err
			}
			r, err := a.loadRepo(l)
			if err != nil {
				return err
			}
			refs, head, err := gitrefs.New(a.cfg.GitPath(l.Root()), a.logger).Import()
			if err != nil {
				return err
			}
			tx := startTransaction(cmd, r, args)
			tx.Repo().SetGitRefs(refs, head)
			imported, err := finish(cmd, tx, "import git refs")
			if err != nil || imported == nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Imported %d git refs.\n", len(refs))
			return nil
		},
	})
	return cmd
}
