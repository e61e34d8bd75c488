package fuse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/opstore"
	"github.com/systemshift/opdag/internal/opwalk"
	"github.com/systemshift/opdag/internal/repo"
	"github.com/systemshift/opdag/internal/view"
)

const maxLogEntries = 64

// operationFile is the JSON shape of ops/<hex> and log/<n>.
type operationFile struct {
	ID          string            `json:"id"`
	View        string            `json:"view"`
	Parents     []string          `json:"parents"`
	Description string            `json:"description"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Hostname    string            `json:"hostname"`
	Username    string            `json:"username"`
	IsSnapshot  bool              `json:"is_snapshot,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// renderHeads lists the current operation heads, one hex id per line.
func renderHeads(l *repo.Loader) ([]byte, error) {
	ops, err := l.HeadOperations()
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, op := range ops {
		b.WriteString(op.ID.Hex())
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// recentOperations returns up to limit operations reachable from the heads,
// most recently finished first. The heads are not merged.
func recentOperations(l *repo.Loader, limit int) ([]*opstore.Operation, error) {
	heads, err := l.HeadOperations()
	if err != nil {
		return nil, err
	}
	var out []*opstore.Operation
	for op, err := range opwalk.WalkAncestors(l.OpStore(), heads) {
		if err != nil {
			return nil, err
		}
		if len(out) == limit {
			break
		}
		out = append(out, op)
	}
	return out, nil
}

// lookupOperation finds an operation by its full hex id.
func lookupOperation(l *repo.Loader, hexID string) (*opstore.Operation, error) {
	id, err := dag.IDFromHex(hexID)
	if err != nil {
		return nil, err
	}
	return l.LoadOperation(dag.OperationID(id))
}

// lookupView reads a view by its full hex id.
func lookupView(l *repo.Loader, hexID string) (*view.View, error) {
	id, err := dag.IDFromHex(hexID)
	if err != nil {
		return nil, err
	}
	return l.OpStore().ReadView(dag.ViewID(id))
}

func renderOperation(op *opstore.Operation) ([]byte, error) {
	f := operationFile{
		ID:          op.ID.Hex(),
		View:        dag.ID(op.ViewID).Hex(),
		Parents:     make([]string, len(op.Parents)),
		Description: op.Metadata.Description,
		Start:       op.Metadata.Start,
		End:         op.Metadata.End,
		Hostname:    op.Metadata.Hostname,
		Username:    op.Metadata.Username,
		IsSnapshot:  op.Metadata.IsSnapshot,
		Tags:        op.Metadata.Tags,
	}
	for i, p := range op.Parents {
		f.Parents[i] = p.Hex()
	}
	return marshalFile(f)
}

func renderView(v *view.View) ([]byte, error) {
	return marshalFile(v)
}

func marshalFile(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return append(data, '\n'), nil
}
