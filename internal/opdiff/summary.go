package opdiff

import (
	"fmt"
	"io"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

// CommitSummary renders a commit as a single line: its short change id,
// short commit id and the first line of its description.
func CommitSummary(c *backend.Commit) string {
	desc := c.FirstLine()
	switch {
	case c.IsRoot():
		desc = "(root)"
	case desc == "":
		desc = "(no description set)"
	}
	return fmt.Sprintf("%s %s %s", c.ChangeID.Short(), c.ID.Short(), desc)
}

// WriteSummary prints the changed commits and refs of r.
func WriteSummary(w io.Writer, commits backend.CommitReader, r *Result) error {
	p := &printer{w: w, commits: commits}

	if len(r.Changes) > 0 {
		p.line("Changed commits:")
		for _, ch := range r.Changes {
			p.line("Modified change %s", ch.ChangeID.Short())
			for _, c := range ch.Added {
				p.line("+%s", CommitSummary(c))
			}
			for _, c := range ch.Removed {
				p.line("-%s", CommitSummary(c))
			}
		}
		p.line("")
	}

	if len(r.LocalBranches) > 0 {
		p.line("Changed local branches:")
		p.targetDiffs(r.LocalBranches)
		p.line("")
	}

	if len(r.Tags) > 0 {
		p.line("Changed tags:")
		p.targetDiffs(r.Tags)
		p.line("")
	}

	if len(r.RemoteBranches) > 0 {
		p.line("Changed remote branches:")
		for _, d := range r.RemoteBranches {
			p.line("%s@%s:", d.Key.Name, d.Key.Remote)
			p.target(remotePrefix("+", d.To), d.To.Target)
			p.target(remotePrefix("-", d.From), d.From.Target)
		}
	}
	return p.err
}

func remotePrefix(sign string, ref view.RemoteRef) string {
	state := "untracked"
	if ref.IsTracking() {
		state = "tracked"
	}
	return fmt.Sprintf("%s (%s)", sign, state)
}

// printer remembers the first write or lookup error and skips the rest.
type printer struct {
	w       io.Writer
	commits backend.CommitReader
	err     error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) targetDiffs(diffs []view.TargetDiff) {
	for _, d := range diffs {
		p.line("%s:", d.Name)
		p.target("+", d.To)
		p.target("-", d.From)
	}
}

func (p *printer) target(prefix string, t view.RefTarget) {
	if p.err != nil {
		return
	}
	if t.IsAbsent() {
		p.line("%s (absent)", prefix)
		return
	}
	if id, ok := t.AsNormal(); ok {
		p.commit(prefix+" ", id)
		return
	}
	for _, id := range t.AddedIDs() {
		p.commit(prefix+" (added) ", id)
	}
	for _, id := range t.RemovedIDs() {
		p.commit(prefix+" (removed) ", id)
	}
}

func (p *printer) commit(prefix string, id dag.CommitID) {
	if p.err != nil {
		return
	}
	c, err := p.commits.GetCommit(id)
	if err != nil {
		p.err = fmt.Errorf("read commit %s: %w", id.Short(), err)
		return
	}
	p.line("%s%s", prefix, CommitSummary(c))
}
