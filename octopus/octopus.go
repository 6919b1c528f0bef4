// Package octopus merges more than two commit trees at once by folding
// them pairwise against a single shared merge base, the way a jj/git
// octopus merge combines several branches into one commit.
package octopus

import (
	"github.com/pkg/errors"

	"github.com/Yuki-bun/kenjutu/store"
)

// Merge folds the trees of commits into one. It returns (tree, true, nil)
// on success, (zero, false, nil) if any pairwise fold left a conflict (an
// octopus merge simply refuses to produce a result rather than trying to
// resolve it), and a non-nil error only for store failures or an empty
// input.
func Merge(s *store.Store, commits []store.OID) (store.OID, bool, error) {
	if len(commits) == 0 {
		return store.OID{}, false, errors.New("octopus: no commits provided")
	}
	if len(commits) == 1 {
		c, err := s.GetCommit(commits[0])
		if err != nil {
			return store.OID{}, false, err
		}
		return c.Tree, true, nil
	}

	base, err := s.MergeBase(commits...)
	if err != nil {
		return store.OID{}, false, err
	}
	baseCommit, err := s.GetCommit(base)
	if err != nil {
		return store.OID{}, false, err
	}
	ancestorTree := baseCommit.Tree

	first, err := s.GetCommit(commits[0])
	if err != nil {
		return store.OID{}, false, err
	}
	currentTree := first.Tree

	for _, commitOID := range commits[1:] {
		c, err := s.GetCommit(commitOID)
		if err != nil {
			return store.OID{}, false, err
		}

		idx, err := s.MergeTrees(ancestorTree, currentTree, c.Tree)
		if err != nil {
			return store.OID{}, false, err
		}
		if idx.HasConflicts() {
			return store.OID{}, false, nil
		}

		nextTree, err := s.WriteIndexTree(idx)
		if err != nil {
			return store.OID{}, false, err
		}
		currentTree = nextTree
	}

	return currentTree, true, nil
}
