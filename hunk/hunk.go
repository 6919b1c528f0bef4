// Package hunk applies and reverses unified-diff hunks against the marker
// tree's file content, letting a caller mark or unmark a single hunk as
// reviewed without touching the rest of the file.
package hunk

import "strings"

// ID identifies a hunk by its unified-diff header coordinates
// (@@ -OldStart,OldLines +NewStart,NewLines @@). Coordinates are 1-based.
type ID struct {
	OldStart uint32
	OldLines uint32
	NewStart uint32
	NewLines uint32
}

// Apply splices the target lines a hunk covers (from diff(m, target)) into
// m, replacing the corresponding m lines, and returns the result. hunk's
// coordinates are in m/target space.
func Apply(m, target string, h ID) string {
	mLines := splitLinesInclusive(m)
	targetLines := splitLinesInclusive(target)

	// When OldLines==0 the unified diff convention is that OldStart is the
	// line *after which* to insert, so we take OldStart lines from m before
	// the splice. Otherwise OldStart is 1-based, so we take OldStart-1.
	mBeforeEnd := int(h.OldStart)
	if h.OldLines != 0 {
		mBeforeEnd = int(h.OldStart) - 1
	}
	mAfterStart := mBeforeEnd + int(h.OldLines)

	targetStart := 0
	if h.NewLines != 0 {
		targetStart = int(h.NewStart) - 1
	}
	targetEnd := targetStart + int(h.NewLines)

	var b strings.Builder
	for _, line := range mLines[:mBeforeEnd] {
		b.WriteString(line)
	}
	for _, line := range targetLines[targetStart:targetEnd] {
		b.WriteString(line)
	}
	for _, line := range mLines[mAfterStart:] {
		b.WriteString(line)
	}
	return b.String()
}

// Unapply reverses a hunk (from diff(base, m)) out of m, splicing the base
// lines it covers back in, and returns the result. hunk's OldStart/OldLines
// are base coordinates; NewStart/NewLines are m coordinates.
func Unapply(m, base string, h ID) string {
	mLines := splitLinesInclusive(m)
	baseLines := splitLinesInclusive(base)

	mBeforeEnd := int(h.NewStart)
	if h.NewLines != 0 {
		mBeforeEnd = int(h.NewStart) - 1
	}
	mAfterStart := mBeforeEnd + int(h.NewLines)

	baseStart := 0
	if h.OldLines != 0 {
		baseStart = int(h.OldStart) - 1
	}
	baseEnd := baseStart + int(h.OldLines)

	var b strings.Builder
	for _, line := range mLines[:mBeforeEnd] {
		b.WriteString(line)
	}
	for _, line := range baseLines[baseStart:baseEnd] {
		b.WriteString(line)
	}
	for _, line := range mLines[mAfterStart:] {
		b.WriteString(line)
	}
	return b.String()
}

// splitLinesInclusive splits s into lines, each retaining its trailing \n.
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
