// Package opstore persists operations and the views they record.
package opstore

import (
	"time"

	"github.com/systemshift/opdag/internal/dag"
)

// Metadata describes who ran an operation, when and why.
type Metadata struct {
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Description string            `json:"description"`
	Hostname    string            `json:"hostname"`
	Username    string            `json:"username"`
	IsSnapshot  bool              `json:"is_snapshot,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Operation is one atomic transition of the repository. Its id is the hash
// of its canonical JSON form.
type Operation struct {
	ID       dag.OperationID   `json:"-"`
	ViewID   dag.ViewID        `json:"view_id"`
	Parents  []dag.OperationID `json:"parents"`
	Metadata Metadata          `json:"metadata"`
}

// IsRoot reports whether op has no parents.
func (op *Operation) IsRoot() bool { return len(op.Parents) == 0 }

func (op *Operation) clone() *Operation {
	cp := *op
	cp.Parents = append([]dag.OperationID{}, op.Parents...)
	if op.Metadata.Tags != nil {
		cp.Metadata.Tags = make(map[string]string, len(op.Metadata.Tags))
		for k, v := range op.Metadata.Tags {
			cp.Metadata.Tags[k] = v
		}
	}
	return &cp
}
