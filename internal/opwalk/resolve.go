package opwalk

import (
	"fmt"
	"strings"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/usererr"
)

// Resolve evaluates an operation expression relative to current: "@" or a
// hex prefix of an operation id, followed by any number of "-" (parent) and
// "+" (child) steps.
func Resolve(store Store, current *opstore.Operation, expr string) (*opstore.Operation, error) {
	symbol := strings.TrimRight(expr, "-+")
	postfix := expr[len(symbol):]

	var op *opstore.Operation
	if symbol == "@" {
		op = current
	} else {
		var err error
		op, err = resolvePrefix(store, symbol)
		if err != nil {
			return nil, err
		}
	}

	for i, c := range postfix {
		var neighbors []*opstore.Operation
		var err error
		switch c {
		case '-':
			neighbors, err = readAll(store, op.Parents)
		case '+':
			neighbors, err = findChildren(store, current, op.ID)
		}
		if err != nil {
			return nil, err
		}
		partial := expr[:len(symbol)+i+1]
		switch len(neighbors) {
		case 0:
			return nil, usererr.New(fmt.Sprintf("The %q expression resolved to no operations", partial))
		case 1:
			op = neighbors[0]
		default:
			return nil, usererr.New(fmt.Sprintf("The %q expression resolved to more than one operation", partial))
		}
	}
	return op, nil
}

func resolvePrefix(store Store, prefix string) (*opstore.Operation, error) {
	if !isHexPrefix(prefix) {
		return nil, usererr.New(fmt.Sprintf("Operation ID %q is not a valid hexadecimal prefix", prefix))
	}
	matches, err := store.ResolvePrefix(prefix)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, usererr.New(fmt.Sprintf("No operation ID matching %q", prefix))
	case 1:
		return store.ReadOperation(matches[0])
	default:
		return nil, usererr.New(fmt.Sprintf("Operation ID prefix %q is ambiguous", prefix))
	}
}

func isHexPrefix(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range strings.ToLower(s) {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func readAll(store Store, ids []dag.OperationID) ([]*opstore.Operation, error) {
	ops := make([]*opstore.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := store.ReadOperation(id)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// findChildren returns the operations in the history of head whose parents
// include id.
func findChildren(store Store, head *opstore.Operation, id dag.OperationID) ([]*opstore.Operation, error) {
	var children []*opstore.Operation
	for op, err := range WalkAncestors(store, []*opstore.Operation{head}) {
		if err != nil {
			return nil, err
		}
		for _, p := range op.Parents {
			if p == id {
				children = append(children, op)
				break
			}
		}
	}
	return children, nil
}
