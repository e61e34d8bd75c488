package cli

import (
	"fmt"
	"strings"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/repo"
	"github.com/systemshift/opdag/internal/usererr"
	"github.com/systemshift/opdag/internal/view"
)

// resolveCommit finds the commit named by expr: "@" for the working-copy
// commit, "root()", a local branch, or a unique hex prefix of the commit id
// or change id of a visible commit.
func resolveCommit(r *repo.ReadonlyRepo, expr string) (*backend.Commit, error) {
	v := r.View()
	switch expr {
	case "":
		return nil, usererr.New("Revision must not be empty")
	case "@":
		id, ok := v.WCCommitID(view.DefaultWorkspace)
		if !ok {
			return nil, usererr.New("This workspace has no working-copy commit")
		}
		return r.Store().GetCommit(id)
	case "root()":
		return r.Store().GetCommit(r.Store().RootCommitID())
	}

	if t := v.LocalBranch(expr); t.IsPresent() {
		id, ok := t.AsNormal()
		if !ok {
			return nil, usererr.WithHint(
				fmt.Sprintf("Branch %q is conflicted", expr),
				"Use `opdag branch set` to point it at a single commit")
		}
		return r.Store().GetCommit(id)
	}

	visible, err := r.Index().WalkRevs(v.Heads(), nil)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToLower(expr)
	var matches []*backend.Commit
	for _, c := range visible {
		if strings.HasPrefix(c.ID.Hex(), prefix) || strings.HasPrefix(string(c.ChangeID), prefix) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, usererr.New(fmt.Sprintf("Revision %q doesn't exist", expr))
	case 1:
		return matches[0], nil
	default:
		return nil, usererr.New(fmt.Sprintf("Revision %q is ambiguous", expr))
	}
}

func resolveCommits(r *repo.ReadonlyRepo, exprs []string) ([]*backend.Commit, error) {
	seen := make(map[dag.CommitID]bool)
	var out []*backend.Commit
	for _, expr := range exprs {
		c, err := resolveCommit(r, expr)
		if err != nil {
			return nil, err
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}
