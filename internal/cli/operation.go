package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opdiff"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/opwalk"
	"github.com/systemshift/opdag/internal/repo"
	"github.com/systemshift/opdag/internal/usererr"
	"github.com/systemshift/opdag/internal/view"
)

func newOperationCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "operation",
		Aliases: []string{"op"},
		Short:   "Commands for working with the operation log",
	}
	cmd.AddCommand(
		newOpLogCommand(a),
		newOpShowCommand(a),
		newOpDiffCommand(a),
		newUndoCommand(a, "undo"),
		newOpRestoreCommand(a),
		newOpAbandonCommand(a),
	)
	return cmd
}

func newOpLogCommand(a *app) *cobra.Command {
	var (
		limit   int
		noGraph bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the operation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.loader()
			if err != nil {
				return err
			}
			heads, err := a.headOperations(l)
			if err != nil {
				return err
			}
			current := make(map[dag.OperationID]bool, len(heads))
			for _, op := range heads {
				current[op.ID] = true
			}
			rootID := l.OpStore().RootOperationID()
			w := cmd.OutOrStdout()

			n := 0
			for op, err := range opwalk.WalkAncestors(l.OpStore(), heads) {
				if err != nil {
					return err
				}
				if limit > 0 && n == limit {
					break
				}
				n++
				lines := operationLines(op, rootID)
				if noGraph {
					for _, line := range lines {
						fmt.Fprintln(w, line)
					}
					continue
				}
				node := "○"
				if current[op.ID] {
					node = "@"
				}
				fmt.Fprintf(w, "%s  %s\n", node, lines[0])
				for _, line := range lines[1:] {
					fmt.Fprintf(w, "│  %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Limit number of operations to show")
	cmd.Flags().BoolVar(&noGraph, "no-graph", false, "Don't show the graph, show a flat list of operations")
	return cmd
}

// operationLines renders an operation for op log and op show: a header
// line, the description and the command line that created it.
func operationLines(op *opstore.Operation, rootID dag.OperationID) []string {
	if op.ID == rootID {
		return []string{op.ID.Short() + " root()"}
	}
	md := op.Metadata
	lines := []string{fmt.Sprintf("%s %s@%s %s, lasted %s",
		op.ID.Short(), md.Username, md.Hostname,
		md.End.Local().Format(time.DateTime), md.End.Sub(md.Start).Round(time.Millisecond))}
	lines = append(lines, strings.Split(strings.TrimRight(md.Description, "\n"), "\n")...)
	if args, ok := md.Tags["args"]; ok {
		lines = append(lines, "args: "+args)
	}
	return lines
}

func newOpShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [OPERATION]",
		Short: "Show changes to the repository in an operation",
		Long:  `Show the changes OPERATION (default "@") made, compared to its parents.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			expr := "@"
			if len(args) == 1 {
				expr = args[0]
			}
			op, err := resolveOp(r, expr)
			if err != nil {
				return err
			}
			l := r.Loader()
			parent, err := mergedParents(l, op)
			if err != nil {
				return err
			}
			if parent == nil {
				return usererr.New("Cannot show the root operation")
			}
			to, err := l.LoadAt(op)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, line := range operationLines(op, l.OpStore().RootOperationID()) {
				fmt.Fprintln(w, line)
			}
			fmt.Fprintln(w)
			return writeOpDiff(w, parent, to)
		},
	}
}

func newOpDiffCommand(a *app) *cobra.Command {
	var operation, from, to string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare changes to the repository between two operations",
		Long: `Show the changes between --from and --to (both default to "@"), or
the changes --operation made compared to its parents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			l := r.Loader()

			var fromRepo, toRepo *repo.ReadonlyRepo
			if from != "" || to != "" {
				fromRepo, err = loadOpExpr(r, from)
				if err != nil {
					return err
				}
				toRepo, err = loadOpExpr(r, to)
				if err != nil {
					return err
				}
			} else {
				toRepo, err = loadOpExpr(r, operation)
				if err != nil {
					return err
				}
				fromRepo, err = mergedParents(l, toRepo.Operation())
				if err != nil {
					return err
				}
				if fromRepo == nil {
					return usererr.New("Cannot diff operation with no parents")
				}
			}

			w := cmd.OutOrStdout()
			fromOp, toOp := fromRepo.Operation(), toRepo.Operation()
			fmt.Fprintf(w, "From operation %s: %s\n", fromOp.ID.Short(), fromOp.Metadata.Description)
			fmt.Fprintf(w, "  To operation %s: %s\n", toOp.ID.Short(), toOp.Metadata.Description)
			fmt.Fprintln(w)
			return writeOpDiff(w, fromRepo, toRepo)
		},
	}
	cmd.Flags().StringVar(&operation, "operation", "", "Show repository changes in this operation, compared to its parents")
	cmd.Flags().StringVar(&from, "from", "", "Show repository changes from this operation")
	cmd.Flags().StringVar(&to, "to", "", "Show repository changes to this operation")
	cmd.MarkFlagsMutuallyExclusive("operation", "from")
	cmd.MarkFlagsMutuallyExclusive("operation", "to")
	return cmd
}

// loadOpExpr loads the repository at expr, resolved against r. An empty
// expr is r itself.
func loadOpExpr(r *repo.ReadonlyRepo, expr string) (*repo.ReadonlyRepo, error) {
	if expr == "" || expr == "@" {
		return r, nil
	}
	op, err := resolveOp(r, expr)
	if err != nil {
		return nil, err
	}
	return r.Loader().LoadAt(op)
}

// mergedParents loads the repository at the merge of op's parents. The
// merge is written but not published. Returns nil for the root operation.
func mergedParents(l *repo.Loader, op *opstore.Operation) (*repo.ReadonlyRepo, error) {
	if len(op.Parents) == 0 {
		return nil, nil
	}
	parents := make([]*opstore.Operation, len(op.Parents))
	for i, id := range op.Parents {
		p, err := l.LoadOperation(id)
		if err != nil {
			return nil, err
		}
		parents[i] = p
	}
	return repo.MergeOperations(l, parents, fmt.Sprintf("merge %d operations", len(parents)))
}

func writeOpDiff(w io.Writer, from, to *repo.ReadonlyRepo) error {
	res, err := opdiff.Diff(to.Index(), from.View(), to.View())
	if err != nil {
		return err
	}
	return opdiff.WriteSummary(w, to.Store(), res)
}

func parsePortions(names []string) ([]view.Portion, error) {
	what := make([]view.Portion, 0, len(names))
	for _, name := range names {
		p, err := view.ParsePortion(name)
		if err != nil {
			return nil, usererr.New(err.Error())
		}
		what = append(what, p)
	}
	return what, nil
}

func portionNames(portions []view.Portion) []string {
	names := make([]string, len(portions))
	for i, p := range portions {
		names[i] = string(p)
	}
	return names
}

// newUndoCommand builds both "opdag undo" and "opdag op undo".
func newUndoCommand(a *app, use string) *cobra.Command {
	var what []string
	cmd := &cobra.Command{
		Use:   use + " [OPERATION]",
		Short: "Create a new operation that undoes an earlier operation",
		Long: `Undo OPERATION (default "@") by applying its inverse on top of the
current state. Later operations are kept.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			portions, err := parsePortions(what)
			if err != nil {
				return err
			}
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			expr := "@"
			if len(args) == 1 {
				expr = args[0]
			}
			bad, err := resolveOp(r, expr)
			if err != nil {
				return err
			}
			tx := startTransaction(cmd, r, args)
			if err := repo.Undo(tx, bad, portions); err != nil {
				return err
			}
			_, err = finish(cmd, tx, repo.UndoDescription(bad))
			return err
		},
	}
	cmd.Flags().StringSliceVar(&what, "what", portionNames(view.DefaultPortions()),
		"What portions of the local state to restore (repo, remote-tracking)")
	return cmd
}

func newOpRestoreCommand(a *app) *cobra.Command {
	var what []string
	cmd := &cobra.Command{
		Use:   "restore OPERATION",
		Short: "Create a new operation that restores the repo to an earlier state",
		Long: `Restore the repository to the state recorded by OPERATION. The
operations in between stay in the log and can themselves be restored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			portions, err := parsePortions(what)
			if err != nil {
				return err
			}
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			target, err := resolveOp(r, args[0])
			if err != nil {
				return err
			}
			tx := startTransaction(cmd, r, args)
			if err := repo.Restore(tx, target, portions); err != nil {
				return err
			}
			_, err = finish(cmd, tx, repo.RestoreDescription(target))
			return err
		},
	}
	cmd.Flags().StringSliceVar(&what, "what", portionNames(view.DefaultPortions()),
		"What portions of the local state to restore (repo, remote-tracking)")
	return cmd
}

func newOpAbandonCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon OPERATION",
		Short: "Abandon operation history",
		Long: `Abandon OPERATION, or a range ROOT..HEAD of operations. Descendants of
the abandoned operations are reparented onto ROOT.

"..OP" abandons OP and all its ancestors, reparenting the rest onto the
root operation. To discard recent operations, use "opdag op restore OP"
followed by "opdag op abandon OP..@-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.atOp != "@" {
				return usererr.New("--at-op is not respected")
			}
			l, err := a.loader()
			if err != nil {
				return err
			}
			current, err := l.HeadOperation()
			if errors.Is(err, repo.ErrDivergentHeads) {
				return divergentHeadsError()
			}
			if err != nil {
				return err
			}

			root, abandonHead, err := abandonRange(l, current, args[0])
			if err != nil {
				return err
			}
			if abandonHead.ID == current.ID {
				return usererr.WithHint("Cannot abandon the current operation",
					"Run `opdag undo` to revert the current operation, then use `opdag op abandon`")
			}

			stats, err := opwalk.ReparentRange(l.OpStore(),
				[]dag.OperationID{abandonHead.ID}, []dag.OperationID{current.ID}, root.ID)
			if err != nil {
				return err
			}
			if len(stats.NewHeadIDs) != 1 {
				return fmt.Errorf("reparent produced %d heads, want 1", len(stats.NewHeadIDs))
			}
			newHead := stats.NewHeadIDs[0]
			if newHead == current.ID {
				fmt.Fprintln(cmd.ErrOrStderr(), "Nothing changed.")
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Abandoned %d operations and reparented %d descendant operations.\n",
				stats.UnreachableCount, stats.RewrittenCount)
			return l.HeadSet().UpdateHeads([]dag.OperationID{current.ID}, newHead)
		},
	}
}

// abandonRange resolves "ROOT..HEAD", "..HEAD", "ROOT.." or a single
// operation, whose range starts at its only parent.
func abandonRange(l *repo.Loader, current *opstore.Operation, expr string) (root, abandonHead *opstore.Operation, err error) {
	resolve := func(expr string) (*opstore.Operation, error) {
		return opwalk.Resolve(l.OpStore(), current, expr)
	}
	if rootExpr, headExpr, ok := strings.Cut(expr, ".."); ok {
		if rootExpr == "" {
			root, err = l.LoadOperation(l.OpStore().RootOperationID())
		} else {
			root, err = resolve(rootExpr)
		}
		if err != nil {
			return nil, nil, err
		}
		if headExpr == "" {
			return root, current, nil
		}
		abandonHead, err = resolve(headExpr)
		return root, abandonHead, err
	}

	op, err := resolve(expr)
	if err != nil {
		return nil, nil, err
	}
	switch len(op.Parents) {
	case 0:
		return nil, nil, usererr.New("Cannot abandon the root operation")
	case 1:
		root, err = l.LoadOperation(op.Parents[0])
		return root, op, err
	default:
		return nil, nil, usererr.New("Cannot abandon a merge operation")
	}
}
