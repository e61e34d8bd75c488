// Package gitrefs mirrors the refs of a colocated git repository into the
// view, so that operations record where git's branches and HEAD pointed.
//
// Git commit hashes are stored as commit ids as they are. They name
// commits of the git repository, not of the opdag object store.
package gitrefs

import (
	"errors"
	"fmt"
	"log/slog"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/view"
)

// Reader imports refs from the git repository at or above a path.
type Reader struct {
	path   string
	logger *slog.Logger
}

// New returns a Reader for the git repository containing path. A missing
// repository is not an error: Import then reports no refs.
func New(path string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{path: path, logger: logger}
}

// Import reads every branch, tag and remote-tracking ref by full name, and
// the commit HEAD resolves to. Annotated tags are peeled to their commit;
// tags of other objects are skipped.
func (r *Reader) Import() (map[string]view.RefTarget, view.RefTarget, error) {
	repo, err := gogit.PlainOpenWithOptions(r.path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		r.logger.Debug("no git repository", "path", r.path)
		return nil, view.AbsentTarget(), nil
	}
	if err != nil {
		return nil, view.AbsentTarget(), fmt.Errorf("open git repository: %w", err)
	}

	iter, err := repo.References()
	if err != nil {
		return nil, view.AbsentTarget(), fmt.Errorf("list git refs: %w", err)
	}
	refs := make(map[string]view.RefTarget)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if ref.Type() != plumbing.HashReference || !(name.IsBranch() || name.IsTag() || name.IsRemote()) {
			return nil
		}
		hash := ref.Hash()
		if name.IsTag() {
			peeled, ok, err := peelTag(repo, hash)
			if err != nil {
				return fmt.Errorf("peel %s: %w", name, err)
			}
			if !ok {
				return nil
			}
			hash = peeled
		}
		refs[name.String()] = view.NormalTarget(dag.CommitID(hash.String()))
		return nil
	})
	if err != nil {
		return nil, view.AbsentTarget(), err
	}

	head := view.AbsentTarget()
	ref, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	case err != nil:
		return nil, view.AbsentTarget(), fmt.Errorf("resolve git HEAD: %w", err)
	default:
		head = view.NormalTarget(dag.CommitID(ref.Hash().String()))
	}
	r.logger.Debug("imported git refs", "refs", len(refs), "head", head.IsPresent())
	return refs, head, nil
}

// peelTag resolves a tag ref's hash to a commit. Lightweight tags point at
// the commit directly.
func peelTag(repo *gogit.Repository, hash plumbing.Hash) (plumbing.Hash, bool, error) {
	tag, err := repo.TagObject(hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		if _, err := repo.CommitObject(hash); err != nil {
			return plumbing.ZeroHash, false, nil
		}
		return hash, true, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	c, err := tag.Commit()
	if err != nil {
		return plumbing.ZeroHash, false, nil
	}
	return c.Hash, true, nil
}
