package repo

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opheads"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/opwalk"
)

// reconcileDescription describes operations that merge divergent heads.
const reconcileDescription = "reconcile divergent operations"

// Transaction collects changes to a repository and records them as one
// operation. A transaction that is never finished leaves no trace in the
// head set.
type Transaction struct {
	base      *ReadonlyRepo
	repo      *MutableRepo
	parentOps []*opstore.Operation
	start     time.Time
	tags      map[string]string
}

// Repo returns the mutable repository the transaction edits.
func (t *Transaction) Repo() *MutableRepo { return t.repo }

// BaseRepo returns the repository the transaction started from.
func (t *Transaction) BaseRepo() *ReadonlyRepo { return t.base }

// ParentOperations returns the operations the new operation will follow.
func (t *Transaction) ParentOperations() []*opstore.Operation {
	return append([]*opstore.Operation(nil), t.parentOps...)
}

// SetTag attaches a key/value tag to the operation's metadata.
func (t *Transaction) SetTag(key, value string) {
	if t.tags == nil {
		t.tags = make(map[string]string)
	}
	t.tags[key] = value
}

// MergeOperation merges other into the transaction, using the closest
// common ancestor of other and the current parents as the merge base.
// other becomes an additional parent of the new operation.
func (t *Transaction) MergeOperation(other *opstore.Operation) error {
	l := t.base.loader
	ancestorID, ok, err := opwalk.ClosestCommonAncestor(l.ops, operationIDs(t.parentOps), []dag.OperationID{other.ID})
	if err != nil {
		return fmt.Errorf("find merge base: %w", err)
	}
	if !ok {
		return fmt.Errorf("operations %s and %s share no ancestor", t.base.op.ID.Short(), other.ID.Short())
	}
	ancestorOp, err := l.ops.ReadOperation(ancestorID)
	if err != nil {
		return err
	}
	baseRepo, err := l.LoadAt(ancestorOp)
	if err != nil {
		return err
	}
	otherRepo, err := l.LoadAt(other)
	if err != nil {
		return err
	}
	t.parentOps = append(t.parentOps, other)
	l.logger.Debug("merging operation", "other", other.ID.Short(), "base", ancestorID.Short())
	return t.repo.Merge(baseRepo, otherRepo)
}

// settle rebases descendants of rewritten commits.
func (t *Transaction) settle() error {
	if !t.repo.HasRewrites() {
		return nil
	}
	n, err := t.repo.RebaseDescendants()
	if err != nil {
		return err
	}
	if n > 0 {
		t.base.loader.logger.Debug("rebased descendants", "count", n)
	}
	return nil
}

// Write stores the view and a new operation, but does not publish the
// operation as a head.
func (t *Transaction) Write(description string) (*ReadonlyRepo, error) {
	if err := t.settle(); err != nil {
		return nil, err
	}
	v, err := t.repo.View()
	if err != nil {
		return nil, err
	}
	l := t.base.loader
	viewID, err := l.ops.WriteView(v)
	if err != nil {
		return nil, err
	}
	settings := l.opts.Settings
	op, err := l.ops.WriteOperation(opstore.Operation{
		ViewID:  viewID,
		Parents: operationIDs(t.parentOps),
		Metadata: opstore.Metadata{
			Start:       t.start,
			End:         settings.now(),
			Description: description,
			Hostname:    settings.Hostname,
			Username:    settings.Username,
			Tags:        maps.Clone(t.tags),
		},
	})
	if err != nil {
		return nil, err
	}
	stored, err := l.ops.ReadView(viewID)
	if err != nil {
		return nil, err
	}
	return &ReadonlyRepo{loader: l, op: op, view: stored}, nil
}

// Finish writes the operation and publishes it as the head that replaces
// its parents. If another process moved the heads in the meantime, the new
// heads are merged in and publishing is retried. A transaction with a single
// parent that left the view unchanged returns ErrNothingChanged and writes
// nothing.
func (t *Transaction) Finish(description string) (*ReadonlyRepo, error) {
	if len(t.parentOps) == 1 {
		if err := t.settle(); err != nil {
			return nil, err
		}
		v, err := t.repo.View()
		if err != nil {
			return nil, err
		}
		if v.Equal(t.base.view) {
			return nil, ErrNothingChanged
		}
	}

	written, err := t.Write(description)
	if err != nil {
		return nil, err
	}
	return publish(t.base.loader, written, operationIDs(t.parentOps))
}

// publish swaps observed for written in the head set, merging in any heads
// that appeared since observed was read.
func publish(l *Loader, written *ReadonlyRepo, observed []dag.OperationID) (*ReadonlyRepo, error) {
	for {
		err := l.heads.UpdateHeads(observed, written.op.ID)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, opheads.ErrStaleHeads) {
			return nil, err
		}

		heads, err := l.HeadOperations()
		if err != nil {
			return nil, err
		}
		var concurrent []*opstore.Operation
		for _, op := range heads {
			anc, err := opwalk.IsAncestor(l.ops, op.ID, written.op.ID)
			if err != nil {
				return nil, err
			}
			if !anc {
				concurrent = append(concurrent, op)
			}
		}
		l.logger.Info("operation heads changed, retrying", "concurrent", len(concurrent))
		if len(concurrent) > 0 {
			tx := written.StartTransaction()
			for _, op := range concurrent {
				if err := tx.MergeOperation(op); err != nil {
					return nil, err
				}
				if err := tx.settle(); err != nil {
					return nil, err
				}
			}
			written, err = tx.Write(reconcileDescription)
			if err != nil {
				return nil, err
			}
		}
		observed = operationIDs(heads)
	}
}

// MergeOperations loads the repository at the merge of ops, writing one
// operation with every op as a parent. Operations are merged pairwise in
// order, rebasing descendants after each step. The result is not published.
func MergeOperations(l *Loader, ops []*opstore.Operation, description string) (*ReadonlyRepo, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("merge operations: no operations given")
	}
	base, err := l.LoadAt(ops[0])
	if err != nil {
		return nil, err
	}
	if len(ops) == 1 {
		return base, nil
	}
	tx := base.StartTransaction()
	for _, op := range ops[1:] {
		if err := tx.MergeOperation(op); err != nil {
			return nil, err
		}
		if err := tx.settle(); err != nil {
			return nil, err
		}
	}
	return tx.Write(description)
}

func operationIDs(ops []*opstore.Operation) []dag.OperationID {
	ids := make([]dag.OperationID, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	return ids
}
