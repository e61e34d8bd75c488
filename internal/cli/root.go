// Package cli implements the opdag command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systemshift/opdag/internal/config"
	"github.com/systemshift/opdag/internal/gitrefs"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/opwalk"
	"github.com/systemshift/opdag/internal/repo"
	"github.com/systemshift/opdag/internal/usererr"
)

// app holds the global flags and what is loaded from them before a
// subcommand runs.
type app struct {
	repository string
	atOp       string
	configPath string

	level  *slog.LevelVar
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the opdag command tree. level, when not nil, is set
// to the configured log level once the configuration is loaded.
func NewRootCommand(level *slog.LevelVar) *cobra.Command {
	a := &app{level: level}

	root := &cobra.Command{
		Use:   "opdag",
		Short: "A version control repository with an undoable operation log",
		Long: `opdag records every change to the repository as an operation in a DAG.

Concurrent operations are merged when they are next loaded, and any
operation can be shown, diffed, undone or restored.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.repository, "repository", "R", "", "Path to the repository to operate on")
	root.PersistentFlags().StringVar(&a.atOp, "at-op", "@", "Operation to load the repository at")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "User config file (default is $XDG_CONFIG_HOME/opdag/config.yaml)")

	root.AddCommand(
		newInitCommand(a),
		newNewCommand(a),
		newDescribeCommand(a),
		newAbandonCommand(a),
		newBranchCommand(a),
		newUndoCommand(a, "undo"),
		newGitCommand(a),
		newOperationCommand(a),
		newMountCommand(a),
	)
	return root
}

// Execute runs cmd and reports a failure on its error stream. Returns the
// process exit code.
func Execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		printError(cmd.ErrOrStderr(), err)
		return 1
	}
	return 0
}

func printError(w io.Writer, err error) {
	if ue, ok := usererr.As(err); ok {
		fmt.Fprintf(w, "Error: %s\n", ue.Message)
		if ue.Hint != "" {
			fmt.Fprintf(w, "Hint: %s\n", ue.Hint)
		}
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// setup loads the layered configuration. The repository layer is skipped
// when no repository is found.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	userPath := a.configPath
	if userPath == "" {
		userPath = config.UserPath()
	}
	var metaDir string
	if root, err := a.workspaceRoot(); err == nil {
		metaDir = filepath.Join(root, repo.DirName)
	}
	cfg, err := config.LoadForRepo(userPath, metaDir)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.level != nil {
		a.level.Set(cfg.LogLevel())
	}
	a.logger = slog.Default()
	return nil
}

// workspaceRoot returns the -R path, or the repository containing the
// working directory.
func (a *app) workspaceRoot() (string, error) {
	if a.repository != "" {
		return filepath.Abs(a.repository)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return repo.Find(cwd)
}

func (a *app) repoOptions(root string) repo.Options {
	opts := repo.Options{
		Settings: repo.Settings{
			UserName:  a.cfg.User.Name,
			UserEmail: a.cfg.User.Email,
			Hostname:  a.cfg.Operation.Hostname,
			Username:  a.cfg.Operation.Username,
		},
		CacheSize: a.cfg.Storage.CacheSize,
		Logger:    a.logger,
	}
	if a.cfg.Git.Colocate {
		opts.GitRefs = gitrefs.New(a.cfg.GitPath(root), a.logger)
	}
	return opts
}

func (a *app) loader() (*repo.Loader, error) {
	root, err := a.workspaceRoot()
	if errors.Is(err, repo.ErrNotARepository) {
		return nil, usererr.New(`There is no opdag repo in "."`)
	}
	if err != nil {
		return nil, err
	}
	l, err := repo.Open(root, a.repoOptions(root))
	if errors.Is(err, repo.ErrNotARepository) {
		return nil, usererr.New(fmt.Sprintf("There is no opdag repo in %q", a.repository))
	}
	return l, err
}

// headOperations returns the operations --at-op names, reading only the
// operation store: every independent head for "@", otherwise the single
// operation the expression resolves to. Views are never loaded, so this
// works on a repository whose view or commit data is damaged.
func (a *app) headOperations(l *repo.Loader) ([]*opstore.Operation, error) {
	heads, err := l.IndependentHeads()
	if err != nil {
		return nil, err
	}
	if a.atOp == "" || a.atOp == "@" {
		return heads, nil
	}
	if len(heads) > 1 {
		return nil, divergentHeadsError()
	}
	op, err := opwalk.Resolve(l.OpStore(), heads[0], a.atOp)
	if err != nil {
		return nil, err
	}
	return []*opstore.Operation{op}, nil
}

func divergentHeadsError() error {
	return usererr.WithHint(`The "@" expression resolved to more than one operation`,
		"Run `opdag op log` to see the concurrent operations; any other command merges them")
}

// loadRepo loads the repository at --at-op. The current head is loaded
// first, merging divergent heads, so that the expression can be resolved
// against it.
func (a *app) loadRepo(l *repo.Loader) (*repo.ReadonlyRepo, error) {
	head, err := l.LoadAtHead()
	if err != nil {
		return nil, err
	}
	if a.atOp == "" || a.atOp == "@" {
		return head, nil
	}
	op, err := opwalk.Resolve(l.OpStore(), head.Operation(), a.atOp)
	if err != nil {
		return nil, err
	}
	return l.LoadAt(op)
}

func (a *app) openRepo() (*repo.ReadonlyRepo, error) {
	l, err := a.loader()
	if err != nil {
		return nil, err
	}
	return a.loadRepo(l)
}

// resolveOp resolves an operation expression relative to r's operation.
func resolveOp(r *repo.ReadonlyRepo, expr string) (*opstore.Operation, error) {
	return opwalk.Resolve(r.Loader().OpStore(), r.Operation(), expr)
}

// startTransaction starts a transaction on r tagged with the command line
// that produced it.
func startTransaction(cmd *cobra.Command, r *repo.ReadonlyRepo, args []string) *repo.Transaction {
	tx := r.StartTransaction()
	tx.SetTag("args", strings.Join(append([]string{cmd.CommandPath()}, args...), " "))
	return tx
}

// finish commits tx. An unchanged view is reported, not treated as an error.
func finish(cmd *cobra.Command, tx *repo.Transaction, description string) (*repo.ReadonlyRepo, error) {
	r, err := tx.Finish(description)
	if errors.Is(err, repo.ErrNothingChanged) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Nothing changed.")
		return nil, nil
	}
	return r, err
}
