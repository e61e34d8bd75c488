// Package describe builds and parses commit descriptions edited by users.
package describe

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/systemshift/opdag/internal/backend"
	"github.com/systemshift/opdag/internal/dag"
)

// CommentPrefix marks lines that are dropped from an edited description.
const CommentPrefix = "OPDAG: "

const instructions = CommentPrefix + "Lines starting with \"" + CommentPrefix + "\" (like this one) will be removed.\n"

// CompleteNewline appends a newline to a non-empty text lacking one.
func CompleteNewline(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

// CleanupDescription drops comment lines and leading and trailing blank
// lines, and ends a non-empty description with a newline.
func CleanupDescription(description string) string {
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(description, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, CommentPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	return CompleteNewline(strings.Trim(strings.Join(kept, "\n"), "\n"))
}

// JoinMessageParagraphs builds a description from -m style paragraphs,
// separating them with a blank line.
func JoinMessageParagraphs(paragraphs []string) string {
	parts := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		parts[i] = CompleteNewline(p)
	}
	return strings.Join(parts, "\n")
}

// TreeChanges lists the paths that differ between two trees as "A path",
// "M path" or "D path", sorted by path.
func TreeChanges(from, to *backend.Tree) []string {
	before := make(map[string]dag.ID, len(from.Entries))
	for _, e := range from.Entries {
		before[e.Path] = e.Blob
	}
	after := make(map[string]dag.ID, len(to.Entries))
	for _, e := range to.Entries {
		after[e.Path] = e.Blob
	}
	var paths []string
	for p := range before {
		paths = append(paths, p)
	}
	for p := range after {
		if _, ok := before[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var out []string
	for _, p := range paths {
		b, inBefore := before[p]
		a, inAfter := after[p]
		switch {
		case !inBefore:
			out = append(out, "A "+p)
		case !inAfter:
			out = append(out, "D "+p)
		case a != b:
			out = append(out, "M "+p)
		}
	}
	return out
}

// DescribeTemplate returns the text offered for editing when describing a
// commit: its description, or defaultDescription when it has none, followed
// by the commented list of changes.
func DescribeTemplate(description, defaultDescription string, changes []string) string {
	if description == "" {
		description = defaultDescription
	}
	if len(changes) == 0 {
		return description
	}
	var b strings.Builder
	b.WriteString(description)
	b.WriteString("\n")
	b.WriteString(CommentPrefix + "This commit contains the following changes:\n")
	for _, c := range changes {
		b.WriteString(CommentPrefix + "    " + c + "\n")
	}
	return b.String()
}

// CombineMessages merges the descriptions of commits being squashed into
// destination. If at most one of them is non-empty it is returned as is
// and needsEdit is false. Otherwise the result is a commented template the
// user should edit.
func CombineMessages(sources []string, destination string) (message string, needsEdit bool) {
	var nonEmpty []string
	for _, d := range append(append([]string(nil), sources...), destination) {
		if d != "" {
			nonEmpty = append(nonEmpty, d)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return "", false
	case 1:
		return nonEmpty[0], false
	}
	var b strings.Builder
	b.WriteString(CommentPrefix + "Enter a description for the combined commit.")
	b.WriteString("\n" + CommentPrefix + "Description from the destination commit:\n")
	b.WriteString(destination)
	for _, s := range sources {
		b.WriteString("\n" + CommentPrefix + "Description from source commit:\n")
		b.WriteString(s)
	}
	return b.String(), true
}

// BulkEntry is one commit offered in a bulk edit.
type BulkEntry struct {
	Key      string // short commit id written after "describe "
	Template string
}

// BulkEditMessage lays out several descriptions for editing in one file.
func BulkEditMessage(entries []BulkEntry) string {
	var b strings.Builder
	for _, e := range entries {
		if len(entries) > 1 {
			fmt.Fprintf(&b, "%sdescribe %s\n", CommentPrefix, e.Key)
		}
		b.WriteString(e.Template)
		b.WriteString("\n")
	}
	b.WriteString(instructions)
	return b.String()
}

// BulkEditResult is the outcome of parsing an edited bulk message.
type BulkEditResult struct {
	Descriptions map[dag.CommitID]string
	// Keys expected but not found in the message.
	Missing []string
	// Keys found more than once; the first occurrence wins.
	Duplicates []string
	// Keys found that were not being edited.
	Unexpected []string
}

// ParseBulkEditMessage splits an edited bulk message back into one cleaned
// description per commit. keys maps the key written for each commit to
// its id.
func ParseBulkEditMessage(message string, keys map[string]dag.CommitID) BulkEditResult {
	res := BulkEditResult{Descriptions: make(map[dag.CommitID]string)}

	type section struct {
		key   string
		lines []string
	}
	var sections []*section
	for _, line := range strings.Split(message, "\n") {
		if key, ok := strings.CutPrefix(line, CommentPrefix+"describe "); ok {
			sections = append(sections, &section{key: key})
			continue
		}
		if len(sections) > 0 {
			last := sections[len(sections)-1]
			last.lines = append(last.lines, line)
		}
	}

	for _, s := range sections {
		id, ok := keys[s.key]
		if !ok {
			res.Unexpected = append(res.Unexpected, s.key)
			continue
		}
		if _, seen := res.Descriptions[id]; seen {
			res.Duplicates = append(res.Duplicates, s.key)
			continue
		}
		res.Descriptions[id] = CleanupDescription(strings.Join(s.lines, "\n"))
	}
	for key, id := range keys {
		if _, ok := res.Descriptions[id]; !ok {
			res.Missing = append(res.Missing, key)
		}
	}
	sort.Strings(res.Missing)
	return res
}

// Edit writes text to a temporary file in dir, runs editor on it and
// returns the file as the editor left it. editor is split on spaces, so it
// may carry arguments.
func Edit(editor, dir, text string) (string, error) {
	f, err := os.CreateTemp(dir, "description-*.opdagdescription")
	if err != nil {
		return "", fmt.Errorf("create description file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if !strings.HasSuffix(text, instructions) {
		text += "\n" + instructions
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", fmt.Errorf("write description file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	args := strings.Fields(editor)
	if len(args) == 0 {
		return "", fmt.Errorf("no editor configured")
	}
	cmd := exec.Command(args[0], append(args[1:], filepath.Clean(path))...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run editor %q: %w", editor, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read description file: %w", err)
	}
	return string(data), nil
}
