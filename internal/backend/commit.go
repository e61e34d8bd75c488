// Package backend stores commits and trees and answers ancestry questions
// about them.
package backend

import (
	"time"

	"github.com/systemshift/opdag/internal/dag"
)

// RootChangeID is the change id of the root commit.
const RootChangeID dag.ChangeID = "00000000000000000000000000000000"

// Signature records who made a commit and when.
type Signature struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// Commit is an immutable snapshot. Its id is the hash of its canonical JSON
// form, so ID itself is not serialized.
type Commit struct {
	ID          dag.CommitID   `json:"-"`
	ChangeID    dag.ChangeID   `json:"change_id"`
	Parents     []dag.CommitID `json:"parents"`
	Tree        dag.TreeID     `json:"tree"`
	Description string         `json:"description"`
	Author      Signature      `json:"author"`
	Committer   Signature      `json:"committer"`
}

// IsRoot reports whether c is the parentless root commit.
func (c *Commit) IsRoot() bool {
	return len(c.Parents) == 0 && c.ChangeID == RootChangeID
}

// FirstLine returns the first line of the description, or "" when empty.
func (c *Commit) FirstLine() string {
	for i, r := range c.Description {
		if r == '\n' {
			return c.Description[:i]
		}
	}
	return c.Description
}

func (c *Commit) clone() *Commit {
	cp := *c
	cp.Parents = append([]dag.CommitID(nil), c.Parents...)
	return &cp
}

// TreeEntry maps a path to the id of its content.
type TreeEntry struct {
	Path string `json:"path"`
	Blob dag.ID `json:"blob"`
}

// Tree is a flat, path-sorted list of entries.
type Tree struct {
	ID      dag.TreeID  `json:"-"`
	Entries []TreeEntry `json:"entries"`
}
