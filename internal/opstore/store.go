package opstore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

// DefaultCacheSize is the number of decoded operations and views kept in
// memory.
const DefaultCacheSize = 512

// Options configures a Store.
type Options struct {
	CacheSize int          // Optional, uses DefaultCacheSize if zero
	Logger    *slog.Logger // Optional, uses slog.Default() if nil
}

// Store keeps operations under <dir>/operations and views under <dir>/views.
// Both are immutable once written.
type Store struct {
	ops       *dag.ObjectStore
	views     *dag.ObjectStore
	opCache   *lru.Cache[dag.OperationID, *Operation]
	viewCache *lru.Cache[dag.ViewID, *view.View]
	logger    *slog.Logger

	rootOpID   dag.OperationID
	rootViewID dag.ViewID
}

// Open opens (creating if needed) a Store rooted at dir. The root operation
// and its empty view are written on every open; they hash the same
// everywhere, so this is idempotent.
func Open(dir string, opts Options) (*Store, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ops, err := dag.NewObjectStore(filepath.Join(dir, "operations"))
	if err != nil {
		return nil, err
	}
	views, err := dag.NewObjectStore(filepath.Join(dir, "views"))
	if err != nil {
		return nil, err
	}
	opCache, err := lru.New[dag.OperationID, *Operation](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("operation cache: %w", err)
	}
	viewCache, err := lru.New[dag.ViewID, *view.View](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("view cache: %w", err)
	}
	s := &Store{
		ops:       ops,
		views:     views,
		opCache:   opCache,
		viewCache: viewCache,
		logger:    opts.Logger,
	}

	s.rootViewID, err = s.WriteView(view.New())
	if err != nil {
		return nil, fmt.Errorf("write root view: %w", err)
	}
	root, err := s.WriteOperation(Operation{ViewID: s.rootViewID, Parents: []dag.OperationID{}})
	if err != nil {
		return nil, fmt.Errorf("write root operation: %w", err)
	}
	s.rootOpID = root.ID
	return s, nil
}

// RootOperationID returns the id of the parentless root operation.
func (s *Store) RootOperationID() dag.OperationID { return s.rootOpID }

// RootViewID returns the id of the empty view.
func (s *Store) RootViewID() dag.ViewID { return s.rootViewID }

// ReadOperation reads an operation. The returned value is a private copy.
func (s *Store) ReadOperation(id dag.OperationID) (*Operation, error) {
	if op, ok := s.opCache.Get(id); ok {
		return op.clone(), nil
	}
	var op Operation
	if err := s.ops.GetJSON(dag.ID(id), &op); err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id.Short(), err)
	}
	op.ID = id
	if op.Parents == nil {
		op.Parents = []dag.OperationID{}
	}
	s.opCache.Add(id, &op)
	return op.clone(), nil
}

// WriteOperation stores op and returns it with its id filled in.
func (s *Store) WriteOperation(op Operation) (*Operation, error) {
	if op.Parents == nil {
		op.Parents = []dag.OperationID{}
	}
	op.Metadata.Start = op.Metadata.Start.UTC()
	op.Metadata.End = op.Metadata.End.UTC()
	id, err := s.ops.PutJSON(&op)
	if err != nil {
		return nil, fmt.Errorf("write operation: %w", err)
	}
	op.ID = dag.OperationID(id)
	s.opCache.Add(op.ID, op.clone())
	s.logger.Debug("wrote operation", "id", op.ID.Short(), "parents", len(op.Parents), "description", op.Metadata.Description)
	return &op, nil
}

// ReadView reads a view. The returned value is a private copy.
func (s *Store) ReadView(id dag.ViewID) (*view.View, error) {
	if v, ok := s.viewCache.Get(id); ok {
		return v.Clone(), nil
	}
	v := view.New()
	if err := s.views.GetJSON(dag.ID(id), v); err != nil {
		return nil, fmt.Errorf("read view %s: %w", id.Short(), err)
	}
	v.Normalize()
	s.viewCache.Add(id, v)
	return v.Clone(), nil
}

// WriteView stores a normalized copy of v and returns its id.
func (s *Store) WriteView(v *view.View) (dag.ViewID, error) {
	v = v.Clone()
	v.Normalize()
	id, err := s.views.PutJSON(v)
	if err != nil {
		return "", fmt.Errorf("write view: %w", err)
	}
	s.viewCache.Add(dag.ViewID(id), v)
	return dag.ViewID(id), nil
}

// Parents returns the parent ids of an operation.
func (s *Store) Parents(id dag.OperationID) ([]dag.OperationID, error) {
	op, err := s.ReadOperation(id)
	if err != nil {
		return nil, err
	}
	return op.Parents, nil
}

// ResolvePrefix returns the ids of every stored operation whose hex digest
// starts with prefix.
func (s *Store) ResolvePrefix(prefix string) ([]dag.OperationID, error) {
	ids, err := s.ops.List()
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(prefix)
	var matches []dag.OperationID
	for _, id := range ids {
		if strings.HasPrefix(id.Hex(), prefix) {
			matches = append(matches, dag.OperationID(id))
		}
	}
	return matches, nil
}
