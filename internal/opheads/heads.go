// Package opheads tracks which operations are current heads of the
// operation log.
package opheads

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/systemshift/opdag/internal/dag"
)

// ErrStaleHeads is returned by UpdateHeads when one of the expected heads
// has been replaced by another process.
var ErrStaleHeads = errors.New("operation heads changed concurrently")

const lockName = ".lock"

// HeadSet stores one empty file per head operation id. A file lock makes
// updates atomic across processes; the mutex does the same within one.
type HeadSet struct {
	dir    string
	lock   *flock.Flock
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens (creating if needed) the head set stored in dir.
func Open(dir string, logger *slog.Logger) (*HeadSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create heads dir: %w", err)
	}
	return &HeadSet{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, lockName)),
		logger: logger,
	}, nil
}

// Heads returns the current head ids, sorted.
func (h *HeadSet) Heads() ([]dag.OperationID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock heads: %w", err)
	}
	defer h.lock.Unlock()
	return h.list()
}

func (h *HeadSet) list() ([]dag.OperationID, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, fmt.Errorf("list heads: %w", err)
	}
	var ids []dag.OperationID
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, dag.OperationID(e.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Initialize makes root the only head of an empty head set.
func (h *HeadSet) Initialize(root dag.OperationID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.lock.Lock(); err != nil {
		return fmt.Errorf("lock heads: %w", err)
	}
	defer h.lock.Unlock()

	current, err := h.list()
	if err != nil {
		return err
	}
	if len(current) > 0 {
		return fmt.Errorf("initialize heads: already initialized")
	}
	return h.add(root)
}

// UpdateHeads replaces old with newID. It fails with ErrStaleHeads, changing
// nothing, if any id in old is no longer a head.
func (h *HeadSet) UpdateHeads(old []dag.OperationID, newID dag.OperationID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.lock.Lock(); err != nil {
		return fmt.Errorf("lock heads: %w", err)
	}
	defer h.lock.Unlock()

	current, err := h.list()
	if err != nil {
		return err
	}
	present := make(map[dag.OperationID]bool, len(current))
	for _, id := range current {
		present[id] = true
	}
	for _, id := range old {
		if !present[id] {
			h.logger.Info("operation heads moved", "expected", id.Short())
			return ErrStaleHeads
		}
	}

	// Add before remove: an interrupted update leaves an extra head, which
	// the next load reconciles, rather than none.
	if err := h.add(newID); err != nil {
		return err
	}
	for _, id := range old {
		if id == newID {
			continue
		}
		if err := os.Remove(filepath.Join(h.dir, string(id))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove head %s: %w", id.Short(), err)
		}
	}
	h.logger.Debug("updated operation heads", "new", newID.Short(), "replaced", len(old))
	return nil
}

func (h *HeadSet) add(id dag.OperationID) error {
	if err := dag.SafeWrite(filepath.Join(h.dir, string(id)), nil, 0644); err != nil {
		return fmt.Errorf("add head %s: %w", id.Short(), err)
	}
	return nil
}
