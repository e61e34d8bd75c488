package repo

import (
	"fmt"

	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/usererr"
	"github.com/systemshift/opdag/internal/view"
)

// UndoDescription is the description of an operation that undoes op.
func UndoDescription(op *opstore.Operation) string {
	return fmt.Sprintf("undo operation %s", op.ID.Hex())
}

// RestoreDescription is the description of an operation that restores the
// view of op.
func RestoreDescription(op *opstore.Operation) string {
	return fmt.Sprintf("restore to operation %s", op.ID.Hex())
}

// Undo reverts the changes made by badOp on top of the transaction's
// current view. Changes made after badOp are kept. Only the selected
// portions of the view are affected.
func Undo(tx *Transaction, badOp *opstore.Operation, what []view.Portion) error {
	switch len(badOp.Parents) {
	case 0:
		return usererr.New("Cannot undo repo initialization")
	case 1:
	default:
		return usererr.New("Cannot undo a merge operation")
	}

	l := tx.base.loader
	parentOp, err := l.ops.ReadOperation(badOp.Parents[0])
	if err != nil {
		return err
	}
	badRepo, err := l.LoadAt(badOp)
	if err != nil {
		return err
	}
	parentRepo, err := l.LoadAt(parentOp)
	if err != nil {
		return err
	}

	m := tx.Repo()
	current, err := m.View()
	if err != nil {
		return err
	}
	if err := m.Merge(badRepo, parentRepo); err != nil {
		return fmt.Errorf("undo operation %s: %w", badOp.ID.Short(), err)
	}
	if err := tx.settle(); err != nil {
		return err
	}
	merged, err := m.View()
	if err != nil {
		return err
	}
	m.SetView(view.WithPortionsRestored(merged, current, what))
	return nil
}

// Restore replaces the selected portions of the transaction's view with
// the view recorded by target.
func Restore(tx *Transaction, target *opstore.Operation, what []view.Portion) error {
	targetRepo, err := tx.base.loader.LoadAt(target)
	if err != nil {
		return err
	}
	m := tx.Repo()
	current, err := m.View()
	if err != nil {
		return err
	}
	m.SetView(view.WithPortionsRestored(targetRepo.view, current, what))
	return nil
}
