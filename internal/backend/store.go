package backend

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/systemshift/opdag/internal/dag"
)

// DefaultCacheSize is the number of decoded commits kept in memory.
const DefaultCacheSize = 1024

// ErrObjectNotFound is returned when a commit or tree id names nothing stored.
var ErrObjectNotFound = dag.ErrObjectNotFound

// CommitReader reads commits by id.
type CommitReader interface {
	GetCommit(id dag.CommitID) (*Commit, error)
}

// Options configures a Store.
type Options struct {
	CacheSize int          // Optional, uses DefaultCacheSize if zero
	Logger    *slog.Logger // Optional, uses slog.Default() if nil
}

// Store persists commits and trees as content-addressed objects under
// <dir>/commits and <dir>/trees.
type Store struct {
	commits *dag.ObjectStore
	trees   *dag.ObjectStore
	cache   *lru.Cache[dag.CommitID, *Commit]
	logger  *slog.Logger

	rootCommitID dag.CommitID
	emptyTreeID  dag.TreeID
}

// Open opens (creating if needed) a Store rooted at dir and makes sure the
// empty tree and the root commit exist.
func Open(dir string, opts Options) (*Store, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	commits, err := dag.NewObjectStore(filepath.Join(dir, "commits"))
	if err != nil {
		return nil, err
	}
	trees, err := dag.NewObjectStore(filepath.Join(dir, "trees"))
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[dag.CommitID, *Commit](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("commit cache: %w", err)
	}
	s := &Store{commits: commits, trees: trees, cache: cache, logger: opts.Logger}

	empty, err := s.WriteTree(Tree{Entries: []TreeEntry{}})
	if err != nil {
		return nil, fmt.Errorf("write empty tree: %w", err)
	}
	s.emptyTreeID = empty.ID

	root, err := s.WriteCommit(Commit{
		ChangeID: RootChangeID,
		Parents:  []dag.CommitID{},
		Tree:     s.emptyTreeID,
	})
	if err != nil {
		return nil, fmt.Errorf("write root commit: %w", err)
	}
	s.rootCommitID = root.ID
	return s, nil
}

// RootCommitID returns the id of the parentless root commit.
func (s *Store) RootCommitID() dag.CommitID { return s.rootCommitID }

// EmptyTreeID returns the id of the tree with no entries.
func (s *Store) EmptyTreeID() dag.TreeID { return s.emptyTreeID }

// GetCommit reads a commit. The returned value is a private copy.
func (s *Store) GetCommit(id dag.CommitID) (*Commit, error) {
	if c, ok := s.cache.Get(id); ok {
		return c.clone(), nil
	}
	var c Commit
	if err := s.commits.GetJSON(dag.ID(id), &c); err != nil {
		return nil, fmt.Errorf("get commit %s: %w", id.Short(), err)
	}
	c.ID = id
	if c.Parents == nil {
		c.Parents = []dag.CommitID{}
	}
	s.cache.Add(id, &c)
	return c.clone(), nil
}

// WriteCommit stores c and returns it with its id filled in. Writing a commit
// identical to an existing one returns the existing id.
func (s *Store) WriteCommit(c Commit) (*Commit, error) {
	if c.Parents == nil {
		c.Parents = []dag.CommitID{}
	}
	if c.Tree == "" {
		c.Tree = s.emptyTreeID
	}
	id, err := s.commits.PutJSON(&c)
	if err != nil {
		return nil, fmt.Errorf("write commit: %w", err)
	}
	c.ID = dag.CommitID(id)
	s.cache.Add(c.ID, c.clone())
	s.logger.Debug("wrote commit", "id", c.ID.Short(), "change", c.ChangeID.Short())
	return &c, nil
}

// GetTree reads a tree.
func (s *Store) GetTree(id dag.TreeID) (*Tree, error) {
	var t Tree
	if err := s.trees.GetJSON(dag.ID(id), &t); err != nil {
		return nil, fmt.Errorf("get tree %s: %w", id.Short(), err)
	}
	t.ID = id
	return &t, nil
}

// WriteTree stores t with its entries sorted by path.
func (s *Store) WriteTree(t Tree) (*Tree, error) {
	entries := append([]TreeEntry{}, t.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	for i := 1; i < len(entries); i++ {
		if entries[i].Path == entries[i-1].Path {
			return nil, fmt.Errorf("write tree: duplicate path %q", entries[i].Path)
		}
	}
	t.Entries = entries
	id, err := s.trees.PutJSON(&t)
	if err != nil {
		return nil, fmt.Errorf("write tree: %w", err)
	}
	t.ID = dag.TreeID(id)
	return &t, nil
}

// ListCommits returns every stored commit id.
func (s *Store) ListCommits() ([]dag.CommitID, error) {
	ids, err := s.commits.List()
	if err != nil {
		return nil, err
	}
	out := make([]dag.CommitID, len(ids))
	for i, id := range ids {
		out[i] = dag.CommitID(id)
	}
	return out, nil
}
