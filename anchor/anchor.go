// Package anchor ports a comment's anchored line across revisions of the
// same change. A comment created against an older revision's diff still
// needs a sensible line to render against once the change moves on; anchor
// re-locates it by matching the text it was anchored to, falling back to a
// file-level placement when that text can no longer be found.
package anchor

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Yuki-bun/kenjutu/comment"
	"github.com/Yuki-bun/kenjutu/commentlog"
	"github.com/Yuki-bun/kenjutu/hash"
	"github.com/Yuki-bun/kenjutu/materialize"
	"github.com/Yuki-bun/kenjutu/store"
)

// Ported is one comment thread ported (or not) onto a target revision.
// IsPorted is false only when Comment was already anchored to the target
// revision and needed no porting at all.
type Ported struct {
	Comment         commentlog.Comment
	PortedLine      *uint32
	PortedStartLine *uint32
	IsPorted        bool
}

// GetAllPortedComments enumerates every (change, revision) comment ref for
// changeID and ports each one's comments onto currentSHA: comments already
// anchored to currentSHA pass through unchanged, everything else is
// re-located by anchor text match (or degraded to file-level if the text
// is gone), keyed by file path.
func GetAllPortedComments(s *store.Store, gitDir, changeID string, currentSHA store.OID, logger *zap.Logger) (map[string][]Ported, error) {
	refs, err := s.ListRefs(comment.RefPrefix(changeID))
	if err != nil {
		return nil, err
	}

	currentTree, err := materialize.Materialize(s, currentSHA)
	if err != nil {
		return nil, errors.Wrap(err, "anchor: materialize current revision")
	}

	result := map[string][]Ported{}
	for _, ref := range refs {
		revisionSHA, err := refRevisionSHA(ref.Name, comment.RefPrefix(changeID))
		if err != nil {
			return nil, err
		}

		c, err := comment.Open(s, gitDir, changeID, revisionSHA, logger)
		if err != nil {
			return nil, err
		}
		allComments := c.GetAllComments()
		if err := c.Close(); err != nil {
			return nil, err
		}

		isCurrent := revisionSHA == currentSHA
		for filePath, comments := range allComments {
			var ported []Ported
			if isCurrent {
				for _, cm := range comments {
					ported = append(ported, passThrough(cm))
				}
			} else {
				content, hasFile, err := fileContent(s, currentTree, filePath)
				if err != nil {
					return nil, err
				}
				for _, cm := range comments {
					ported = append(ported, portComment(cm, content, hasFile))
				}
			}
			result[filePath] = append(result[filePath], ported...)
		}
	}
	return result, nil
}

func refRevisionSHA(refName, prefix string) (store.OID, error) {
	hex := strings.TrimPrefix(refName, prefix)
	oid, ok := hash.MaybeParse(hex)
	if !ok {
		return store.OID{}, errors.Errorf("anchor: malformed comment ref %q", refName)
	}
	return oid, nil
}

func fileContent(s *store.Store, tree store.OID, filePath string) (string, bool, error) {
	entry, ok, err := s.TreeEntry(tree, filePath)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	blob, err := s.GetBlob(entry.OID)
	if err != nil {
		return "", false, err
	}
	return string(blob), true, nil
}

func passThrough(c commentlog.Comment) Ported {
	line := c.Line
	return Ported{Comment: c, PortedLine: &line, PortedStartLine: c.StartLine, IsPorted: false}
}

// portComment re-locates c's anchor in fileContent (when hasFile is true),
// computing the ported single line or ported (start, end) pair, and
// degrades to a file-level placement (nil line) when the file is gone or
// its anchor text can no longer be found.
func portComment(c commentlog.Comment, fileContent string, hasFile bool) Ported {
	if !hasFile {
		return Ported{Comment: c, IsPorted: true}
	}

	anchorStart, ok := FindAnchorPosition(fileContent, c.Anchor)
	if !ok {
		return Ported{Comment: c, IsPorted: true}
	}

	if c.StartLine != nil {
		offset := saturatingSub(c.Line, *c.StartLine)
		line := anchorStart + offset
		return Ported{Comment: c, PortedLine: &line, PortedStartLine: &anchorStart, IsPorted: true}
	}
	return Ported{Comment: c, PortedLine: &anchorStart, IsPorted: true}
}

func saturatingSub(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}

// FindAnchorPosition searches fileContent for anchor.Target (a contiguous
// run of lines) and returns the 1-based line number where it starts. An
// exact match at a unique position wins outright; multiple matches are
// disambiguated by how much of anchor.Before/After also matches around each
// candidate, with the first-scanned candidate breaking ties. No match at
// all reports ok=false, signaling the caller to degrade to file-level.
func FindAnchorPosition(fileContent string, anchor commentlog.AnchorContext) (uint32, bool) {
	if len(anchor.Target) == 0 {
		return 0, false
	}
	lines := splitLines(fileContent)
	if len(lines) == 0 {
		return 0, false
	}
	targetLen := len(anchor.Target)
	if targetLen > len(lines) {
		return 0, false
	}

	var candidates []int
	for i := 0; i <= len(lines)-targetLen; i++ {
		if matchesTarget(lines[i:i+targetLen], anchor.Target) {
			candidates = append(candidates, i)
		}
	}

	switch len(candidates) {
	case 0:
		return 0, false
	case 1:
		return uint32(candidates[0]) + 1, true
	default:
		return disambiguate(lines, candidates, anchor), true
	}
}

func matchesTarget(fileSlice, target []string) bool {
	if len(fileSlice) != len(target) {
		return false
	}
	for i := range fileSlice {
		if fileSlice[i] != target[i] {
			return false
		}
	}
	return true
}

// disambiguate picks the candidate whose surrounding before/after context
// matches anchor's the most, breaking ties (including the all-zero-score
// case, when no context matches anywhere) in favor of the first candidate
// scanned.
func disambiguate(lines []string, candidates []int, anchor commentlog.AnchorContext) uint32 {
	targetLen := len(anchor.Target)
	bestIdx := candidates[0]
	bestScore := -1

	for _, candidate := range candidates {
		score := 0

		for i := 0; i < len(anchor.Before); i++ {
			beforeLine := anchor.Before[len(anchor.Before)-1-i]
			lineIdx := candidate - (i + 1)
			if lineIdx >= 0 && lineIdx < len(lines) && lines[lineIdx] == beforeLine {
				score++
			}
		}

		for i, afterLine := range anchor.After {
			lineIdx := candidate + targetLen + i
			if lineIdx < len(lines) && lines[lineIdx] == afterLine {
				score++
			}
		}

		if score > bestScore {
			bestScore = score
			bestIdx = candidate
		}
	}
	return uint32(bestIdx) + 1
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
