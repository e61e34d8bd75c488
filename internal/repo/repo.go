// Package repo loads repository state at an operation and commits new
// operations on top of it.
package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opheads"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/opwalk"
	"github.com/systemshift/opdag/internal/view"
)

// DirName is the metadata directory at the top of a repository.
const DirName = ".opdag"

const formatVersion = 1

var (
	// ErrNotARepository is returned when no repository directory is found.
	ErrNotARepository = errors.New("not an opdag repository")
	// ErrNothingChanged is returned by Finish when the transaction left the
	// view exactly as it found it.
	ErrNothingChanged = errors.New("nothing changed")
	// ErrDivergentHeads is returned by HeadOperation when concurrent
	// operations left more than one head.
	ErrDivergentHeads = errors.New("operation log has diverged")
)

// GitRefSource reads the refs of a colocated git repository.
type GitRefSource interface {
	Import() (refs map[string]view.RefTarget, head view.RefTarget, err error)
}

// Settings identifies the user and host recorded on commits and operations.
type Settings struct {
	UserName  string
	UserEmail string
	Hostname  string
	Username  string
	Now       func() time.Time // Optional, uses time.Now if nil
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Settings) signature() backend.Signature {
	return backend.Signature{Name: s.UserName, Email: s.UserEmail, Timestamp: s.now().UTC()}
}

// Options configures a Loader.
type Options struct {
	Settings  Settings
	GitRefs   GitRefSource // Optional, git refs are kept as they are if nil
	CacheSize int          // Optional, store defaults if zero
	Logger    *slog.Logger // Optional, uses slog.Default() if nil
}

type meta struct {
	Version int `json:"version"`
}

// Loader opens the stores of one repository and loads it at operations.
type Loader struct {
	root    string
	backend *backend.Store
	index   *backend.Index
	ops     *opstore.Store
	heads   *opheads.HeadSet
	opts    Options
	logger  *slog.Logger
}

// Init creates a repository in root with a default workspace checked out
// on an empty commit, and returns it loaded at the new head.
func Init(root string, opts Options) (*ReadonlyRepo, error) {
	dir := filepath.Join(root, DirName)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("repository already exists at %s", root)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	data, err := json.Marshal(meta{Version: formatVersion})
	if err != nil {
		return nil, err
	}
	if err := dag.SafeWrite(filepath.Join(dir, "meta.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("write meta: %w", err)
	}

	l, err := Open(root, opts)
	if err != nil {
		return nil, err
	}
	if err := l.heads.Initialize(l.ops.RootOperationID()); err != nil {
		return nil, err
	}
	rootOp, err := l.ops.ReadOperation(l.ops.RootOperationID())
	if err != nil {
		return nil, err
	}
	base, err := l.LoadAt(rootOp)
	if err != nil {
		return nil, err
	}
	tx := base.StartTransaction()
	wc, err := tx.Repo().NewCommit([]dag.CommitID{l.backend.RootCommitID()}, "")
	if err != nil {
		return nil, err
	}
	tx.Repo().SetWCCommit(view.DefaultWorkspace, wc.ID)
	return tx.Finish(fmt.Sprintf("add workspace '%s'", view.DefaultWorkspace))
}

// Open opens the repository whose top-level directory is root.
func Open(root string, opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dir := filepath.Join(root, DirName)
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", root, ErrNotARepository)
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	if m.Version != formatVersion {
		return nil, fmt.Errorf("unsupported repository format version %d", m.Version)
	}

	be, err := backend.Open(filepath.Join(dir, "objects"), backend.Options{CacheSize: opts.CacheSize, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	ops, err := opstore.Open(dir, opstore.Options{CacheSize: opts.CacheSize, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("open operation store: %w", err)
	}
	heads, err := opheads.Open(filepath.Join(dir, "heads"), opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("open operation heads: %w", err)
	}
	return &Loader{
		root:    root,
		backend: be,
		index:   backend.NewIndex(be),
		ops:     ops,
		heads:   heads,
		opts:    opts,
		logger:  opts.Logger,
	}, nil
}

// Find walks up from start to the nearest directory holding a repository.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s: %w", start, ErrNotARepository)
		}
		dir = parent
	}
}

// Root returns the repository's top-level directory.
func (l *Loader) Root() string { return l.root }

// OpStore returns the operation store.
func (l *Loader) OpStore() *opstore.Store { return l.ops }

// HeadSet returns the operation head set.
func (l *Loader) HeadSet() *opheads.HeadSet { return l.heads }

// Store returns the commit store.
func (l *Loader) Store() *backend.Store { return l.backend }

// Index returns the commit index.
func (l *Loader) Index() *backend.Index { return l.index }

// Settings returns the user settings.
func (l *Loader) Settings() Settings { return l.opts.Settings }

// HeadOperations reads every current head operation, oldest first.
func (l *Loader) HeadOperations() ([]*opstore.Operation, error) {
	ids, err := l.heads.Heads()
	if err != nil {
		return nil, err
	}
	ops := make([]*opstore.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := l.ops.ReadOperation(id)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	sortByEnd(ops)
	return ops, nil
}

// IndependentHeads returns the head operations that are not ancestors of
// another head, oldest first. Only operations are read; views are not
// loaded and divergent heads are not merged.
func (l *Loader) IndependentHeads() ([]*opstore.Operation, error) {
	ops, err := l.HeadOperations()
	if err != nil {
		return nil, err
	}
	switch len(ops) {
	case 0:
		return nil, fmt.Errorf("repository has no operation heads")
	case 1:
		return ops, nil
	}
	return opwalk.HeadsOf(l.ops, ops)
}

// HeadOperation returns the current head operation without loading its
// view. It fails with ErrDivergentHeads if there are several.
func (l *Loader) HeadOperation() (*opstore.Operation, error) {
	heads, err := l.IndependentHeads()
	if err != nil {
		return nil, err
	}
	if len(heads) > 1 {
		return nil, fmt.Errorf("%w: %d heads", ErrDivergentHeads, len(heads))
	}
	return heads[0], nil
}

func sortByEnd(ops []*opstore.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		ei, ej := ops[i].Metadata.End, ops[j].Metadata.End
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return ops[i].ID < ops[j].ID
	})
}

// LoadAt loads the repository as of op.
func (l *Loader) LoadAt(op *opstore.Operation) (*ReadonlyRepo, error) {
	v, err := l.ops.ReadView(op.ViewID)
	if err != nil {
		return nil, err
	}
	return &ReadonlyRepo{loader: l, op: op, view: v}, nil
}

// LoadOperation reads an operation by id.
func (l *Loader) LoadOperation(id dag.OperationID) (*opstore.Operation, error) {
	return l.ops.ReadOperation(id)
}

// LoadAtHead loads the repository at its current head. Divergent heads left
// by concurrent processes are merged into one operation, which is published.
func (l *Loader) LoadAtHead() (*ReadonlyRepo, error) {
	for {
		ops, err := l.HeadOperations()
		if err != nil {
			return nil, err
		}
		switch len(ops) {
		case 0:
			return nil, fmt.Errorf("repository has no operation heads")
		case 1:
			return l.LoadAt(ops[0])
		}

		heads, err := opwalk.HeadsOf(l.ops, ops)
		if err != nil {
			return nil, err
		}
		l.logger.Info("reconciling divergent operations", "heads", len(ops), "independent", len(heads))
		merged, err := MergeOperations(l, heads, reconcileDescription)
		if err != nil {
			return nil, err
		}
		err = l.heads.UpdateHeads(operationIDs(ops), merged.op.ID)
		if errors.Is(err, opheads.ErrStaleHeads) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return merged, nil
	}
}

// ReadonlyRepo is the repository as of one operation.
type ReadonlyRepo struct {
	loader *Loader
	op     *opstore.Operation
	view   *view.View
}

// Operation returns the operation the repository was loaded at.
func (r *ReadonlyRepo) Operation() *opstore.Operation { return r.op }

// View returns a copy of the repository's view.
func (r *ReadonlyRepo) View() *view.View { return r.view.Clone() }

// Loader returns the loader the repository came from.
func (r *ReadonlyRepo) Loader() *Loader { return r.loader }

// Store returns the commit store.
func (r *ReadonlyRepo) Store() *backend.Store { return r.loader.backend }

// Index returns the commit index.
func (r *ReadonlyRepo) Index() *backend.Index { return r.loader.index }

// StartTransaction begins a transaction on top of this repository.
func (r *ReadonlyRepo) StartTransaction() *Transaction {
	return &Transaction{
		base:      r,
		repo:      newMutableRepo(r),
		parentOps: []*opstore.Operation{r.op},
		start:     r.loader.opts.Settings.now(),
	}
}
