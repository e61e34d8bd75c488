package opwalk

import (
	"fmt"

	"github.com/systemshift/opdag/internal/dag"
)

// ReparentStats reports the outcome of ReparentRange.
type ReparentStats struct {
	NewHeadIDs       []dag.OperationID
	UnreachableCount int
	RewrittenCount   int
}

// ReparentRange abandons the operations reachable from abandonHeads but not
// from newRoot. Every operation in the history of currentHeads that descends
// from an abandoned one is rewritten with abandoned parents replaced by
// newRoot; views and metadata are kept. Old operations are left in the store.
func ReparentRange(store Store, abandonHeads, currentHeads []dag.OperationID, newRoot dag.OperationID) (ReparentStats, error) {
	abandoned, err := dag.Reachable(abandonHeads, store.Parents)
	if err != nil {
		return ReparentStats{}, fmt.Errorf("walk abandoned range: %w", err)
	}
	kept, err := dag.Reachable([]dag.OperationID{newRoot}, store.Parents)
	if err != nil {
		return ReparentStats{}, fmt.Errorf("walk new root: %w", err)
	}
	unreachable := make(map[dag.OperationID]bool)
	for id := range abandoned {
		if !kept[id] {
			unreachable[id] = true
		}
	}

	order, err := dag.TopoOrder(currentHeads, func(id dag.OperationID) ([]dag.OperationID, error) {
		if unreachable[id] {
			return nil, nil
		}
		return store.Parents(id)
	})
	if err != nil {
		return ReparentStats{}, fmt.Errorf("walk current history: %w", err)
	}

	rewritten := make(map[dag.OperationID]dag.OperationID)
	for _, id := range order {
		if unreachable[id] {
			continue
		}
		op, err := store.ReadOperation(id)
		if err != nil {
			return ReparentStats{}, err
		}
		affected := false
		for _, p := range op.Parents {
			if unreachable[p] || rewritten[p] != "" {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}

		var parents []dag.OperationID
		seen := make(map[dag.OperationID]bool)
		for _, p := range op.Parents {
			np := p
			if r, ok := rewritten[p]; ok {
				np = r
			} else if unreachable[p] {
				np = newRoot
			}
			if !seen[np] {
				seen[np] = true
				parents = append(parents, np)
			}
		}
		data := *op
		data.Parents = parents
		written, err := store.WriteOperation(data)
		if err != nil {
			return ReparentStats{}, fmt.Errorf("rewrite operation %s: %w", id.Short(), err)
		}
		rewritten[id] = written.ID
	}

	var newHeads []dag.OperationID
	seen := make(map[dag.OperationID]bool)
	for _, h := range currentHeads {
		nh := h
		if r, ok := rewritten[h]; ok {
			nh = r
		} else if unreachable[h] {
			nh = newRoot
		}
		if !seen[nh] {
			seen[nh] = true
			newHeads = append(newHeads, nh)
		}
	}
	return ReparentStats{
		NewHeadIDs:       newHeads,
		UnreachableCount: len(unreachable),
		RewrittenCount:   len(rewritten),
	}, nil
}
