// Package conflict resolves the ConflictEntry list left behind by a
// store.MergeTrees call, using one of two strategies: silently preferring
// one side (used when a marker commit is rebased onto a new base) or
// materializing git-style conflict markers into the blob content (used when
// flattening a jj-conflicted commit into a single reviewable tree).
package conflict

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Yuki-bun/kenjutu/store"
)

// ResolvePreferOurs resolves every conflict in idx by taking the Ours side,
// even when Ours is a deletion (in which case the path is dropped
// entirely). This is marker rebase semantics: the new base always wins,
// silently, since a marker's conflicts only ever arise from "catching up"
// to a new base and there is no reviewer present to adjudicate markers.
func ResolvePreferOurs(idx *store.MergeIndex) {
	for _, c := range append([]store.ConflictEntry(nil), idx.Conflicts...) {
		if c.Ours != nil {
			idx.Resolve(c.Path, *c.Ours)
		} else {
			idx.Remove(c.Path)
		}
	}
}

// oursLabel and theirsLabel are the conflict marker labels used throughout
// this module, matching the fixed "Side 1"/"Side 2" labels jj's own
// materialization uses.
const (
	oursLabel   = "Side 1"
	theirsLabel = "Side 2"
)

// ResolveWithMarkers resolves every conflict in idx by performing a
// three-way content merge (see MergeText), which writes conflict markers
// ("<<<<<<< Side 1\n...\n=======\n...\n>>>>>>> Side 2\n") where both sides
// inserted different lines. Two situations are handled before the merge:
//   - add/add (no ancestor): an empty ancestor is synthesized, so two
//     different added contents come out wrapped in markers.
//   - modify/delete (one side absent): the surviving side's content wins
//     with no markers at all, matching jj's own materialization.
func ResolveWithMarkers(s *store.Store, idx *store.MergeIndex) error {
	for _, c := range append([]store.ConflictEntry(nil), idx.Conflicts...) {
		switch {
		case c.Ours != nil && c.Theirs == nil:
			idx.Resolve(c.Path, *c.Ours)
			continue
		case c.Ours == nil && c.Theirs != nil:
			idx.Resolve(c.Path, *c.Theirs)
			continue
		case c.Ours == nil && c.Theirs == nil:
			idx.Remove(c.Path)
			continue
		}

		ancestorContent := []byte{}
		mode := c.Ours.Mode
		if c.Ancestor != nil {
			content, err := s.GetBlob(c.Ancestor.OID)
			if err != nil {
				return errors.Wrapf(err, "conflict: read ancestor blob for %s", c.Path)
			}
			ancestorContent = content
		}

		oursContent, err := s.GetBlob(c.Ours.OID)
		if err != nil {
			return errors.Wrapf(err, "conflict: read ours blob for %s", c.Path)
		}
		theirsContent, err := s.GetBlob(c.Theirs.OID)
		if err != nil {
			return errors.Wrapf(err, "conflict: read theirs blob for %s", c.Path)
		}

		merged := MergeText(string(ancestorContent), string(oursContent), string(theirsContent))

		blobOID, err := s.PutBlob([]byte(merged))
		if err != nil {
			return errors.Wrapf(err, "conflict: write merged blob for %s", c.Path)
		}
		idx.Resolve(c.Path, store.TreeEntry{Name: c.Path, Mode: mode, OID: blobOID})
	}
	return nil
}

// MergeText performs a line-based three-way merge of base/ours/theirs. A
// base line is kept only when both sides kept it; a base line that either
// side deleted or replaced is dropped without markers, even when the other
// side replaced it differently. Lines that only one side inserted at a base
// position are taken from that side; where both sides inserted different
// lines at the same base position, both are emitted between git-style
// conflict markers.
func MergeText(base, ours, theirs string) string {
	baseLines := splitLinesInclusive(base)

	oursInsBefore, oursKeep := lineEdits(base, ours)
	theirsInsBefore, theirsKeep := lineEdits(base, theirs)

	var out strings.Builder
	for k := 0; k <= len(baseLines); k++ {
		emitInsertions(&out, oursInsBefore[k], theirsInsBefore[k])
		if k == len(baseLines) {
			break
		}
		oKeep, tKeep := oursKeep[k], theirsKeep[k]
		if oKeep && tKeep {
			out.WriteString(baseLines[k])
		}
		// if either side dropped the line, the drop wins silently: nothing
		// is written for this base line in any other combination.
	}
	return out.String()
}

func emitInsertions(out *strings.Builder, oursIns, theirsIns []string) {
	if linesEqual(oursIns, theirsIns) {
		for _, l := range oursIns {
			out.WriteString(l)
		}
		return
	}
	if len(oursIns) == 0 {
		for _, l := range theirsIns {
			out.WriteString(l)
		}
		return
	}
	if len(theirsIns) == 0 {
		for _, l := range oursIns {
			out.WriteString(l)
		}
		return
	}

	out.WriteString("<<<<<<< " + oursLabel + "\n")
	for _, l := range oursIns {
		out.WriteString(l)
	}
	out.WriteString("=======\n")
	for _, l := range theirsIns {
		out.WriteString(l)
	}
	out.WriteString(">>>>>>> " + theirsLabel + "\n")
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lineEdits diffs base against other (line granularity, via go-diff's
// line-mode diffing) and returns, for every base line index k (plus one
// trailing index at len(baseLines)), the lines other inserted immediately
// before that index, and whether base line k survives unchanged into other.
func lineEdits(base, other string) (insBefore [][]string, keep []bool) {
	baseLines := splitLinesInclusive(base)
	insBefore = make([][]string, len(baseLines)+1)
	keep = make([]bool, len(baseLines))

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	baseIdx := 0
	for _, d := range diffs {
		lines := splitLinesInclusive(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for range lines {
				keep[baseIdx] = true
				baseIdx++
			}
		case diffmatchpatch.DiffDelete:
			for range lines {
				keep[baseIdx] = false
				baseIdx++
			}
		case diffmatchpatch.DiffInsert:
			insBefore[baseIdx] = append(insBefore[baseIdx], lines...)
		}
	}
	return insBefore, keep
}

func splitLinesInclusive(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
