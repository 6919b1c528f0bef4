// Package materialize flattens a commit's effective tree: for an ordinary
// commit that's just its own tree, but for a jj-style conflicted commit
// (one carrying a "jj:trees" header) it folds the listed trees into one,
// resolving any remaining disagreement with conflict markers.
package materialize

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Yuki-bun/kenjutu/conflict"
	"github.com/Yuki-bun/kenjutu/hash"
	"github.com/Yuki-bun/kenjutu/store"
)

// TreesHeader is the commit header field jj stamps conflicted commits with:
// an odd, >=3-length, whitespace-separated sequence of tree OIDs.
const TreesHeader = "jj:trees"

// ErrMalformedConflictHeader is returned when a commit's jj:trees header is
// present but cannot be parsed as an odd-length OID sequence of at least 3.
var ErrMalformedConflictHeader = errors.New("materialize: malformed jj:trees header")

// Materialize returns the effective tree OID for commit: its own tree if
// it isn't conflicted, or the tree produced by folding its jj:trees
// sequence through pairwise three-way merges (resolving any remaining
// conflict with markers) otherwise.
func Materialize(s *store.Store, commit store.OID) (store.OID, error) {
	c, err := s.GetCommit(commit)
	if err != nil {
		return store.OID{}, err
	}

	header, ok := c.Headers[TreesHeader]
	if !ok {
		return c.Tree, nil
	}

	oids, err := parseTreesHeader(header)
	if err != nil {
		return store.OID{}, errors.Wrapf(err, "materialize: commit %s", commit)
	}

	result, err := mergeThree(s, oids[1], oids[0], oids[2])
	if err != nil {
		return store.OID{}, err
	}

	for i := 3; i+1 < len(oids); i += 2 {
		result, err = mergeThree(s, oids[i], result, oids[i+1])
		if err != nil {
			return store.OID{}, err
		}
	}

	return result, nil
}

func mergeThree(s *store.Store, base, ours, theirs store.OID) (store.OID, error) {
	idx, err := s.MergeTrees(base, ours, theirs)
	if err != nil {
		return store.OID{}, err
	}
	if idx.HasConflicts() {
		if err := conflict.ResolveWithMarkers(s, idx); err != nil {
			return store.OID{}, err
		}
	}
	return s.WriteIndexTree(idx)
}

func parseTreesHeader(header string) ([]store.OID, error) {
	fields := strings.Fields(header)
	if len(fields) < 3 || len(fields)%2 == 0 {
		return nil, errors.Wrapf(ErrMalformedConflictHeader, "expected odd count >= 3, got %d", len(fields))
	}

	oids := make([]store.OID, len(fields))
	for i, f := range fields {
		oid, ok := hash.MaybeParse(f)
		if !ok {
			return nil, errors.Wrapf(ErrMalformedConflictHeader, "invalid OID %q", f)
		}
		oids[i] = oid
	}
	return oids, nil
}
