// Package marker implements the marker commit: a synthetic, never-checked-out
// commit that tracks how much of a revision a reviewer has already worked
// through, one file or one hunk at a time. Its tree starts at the revision's
// base and is nudged toward the revision's target tree as the reviewer marks
// things reviewed; un-reviewed content is whatever in the marker tree still
// differs from the target.
package marker

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Yuki-bun/kenjutu/changelock"
	"github.com/Yuki-bun/kenjutu/conflict"
	"github.com/Yuki-bun/kenjutu/hunk"
	"github.com/Yuki-bun/kenjutu/materialize"
	"github.com/Yuki-bun/kenjutu/store"
	"github.com/Yuki-bun/kenjutu/treeedit"
)

// ErrPathNotInTarget is returned when an operation needs a revision's entry
// at a path that revision doesn't have: the target revision when marking a
// renamed file or a hunk, the base revision's old path when unmarking a
// renamed file.
var ErrPathNotInTarget = errors.New("marker: path not present in target revision")

// Commit tracks review state for one (change, revision) pair. It holds the
// change lock for its whole lifetime; call Close to release it.
type Commit struct {
	s        *store.Store
	lock     *changelock.Lock
	logger   *zap.Logger
	changeID string

	tree       store.OID // M: the current marker tree
	targetTree store.OID // T: the (materialized) tree of the revision under review
	base       *store.OID
	baseTree   store.OID // materialized tree of base, or the empty tree if base is nil
}

// RefName returns the well-known ref a change's marker commit lives at.
func RefName(changeID string) string {
	return "refs/kenjutu/" + changeID + "/marker"
}

// Open acquires the change lock and either loads or constructs the marker
// commit for (changeID, sha), performing a rebase merge if the revision's
// base has moved since the marker was last written.
func Open(s *store.Store, gitDir, changeID string, sha store.OID, logger *zap.Logger) (*Commit, error) {
	lock, err := changelock.Acquire(gitDir, changeID, logger)
	if err != nil {
		return nil, err
	}

	targetTree, err := materialize.Materialize(s, sha)
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "marker: materialize target")
	}

	target, err := s.GetCommit(sha)
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "marker: load target commit")
	}

	if len(target.Parents) == 0 {
		tree, err := openRootTree(s, changeID)
		if err != nil {
			lock.Release()
			return nil, err
		}
		emptyTree, err := s.EmptyTree()
		if err != nil {
			lock.Release()
			return nil, err
		}
		return &Commit{
			s: s, lock: lock, logger: logger, changeID: changeID,
			tree: tree, targetTree: targetTree, base: nil, baseTree: emptyTree,
		}, nil
	}

	baseOID := target.Parents[0]
	baseTree, err := materialize.Materialize(s, baseOID)
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "marker: materialize base")
	}

	tree, err := openNonRootTree(s, changeID, baseOID, baseTree, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	return &Commit{
		s: s, lock: lock, logger: logger, changeID: changeID,
		tree: tree, targetTree: targetTree, base: &baseOID, baseTree: baseTree,
	}, nil
}

func openRootTree(s *store.Store, changeID string) (store.OID, error) {
	ref, ok, err := s.Ref(RefName(changeID))
	if err != nil {
		return store.OID{}, err
	}
	if !ok {
		return s.EmptyTree()
	}
	markerCommit, err := s.GetCommit(ref)
	if err != nil {
		return store.OID{}, err
	}
	return markerCommit.Tree, nil
}

func openNonRootTree(s *store.Store, changeID string, baseOID, baseTree store.OID, logger *zap.Logger) (store.OID, error) {
	ref, ok, err := s.Ref(RefName(changeID))
	if err != nil {
		return store.OID{}, err
	}
	if !ok {
		return baseTree, nil
	}

	markerCommit, err := s.GetCommit(ref)
	if err != nil {
		return store.OID{}, err
	}
	if len(markerCommit.Parents) == 0 {
		return baseTree, nil
	}
	oldBaseOID := markerCommit.Parents[0]
	if oldBaseOID == baseOID {
		return markerCommit.Tree, nil
	}

	oldBaseTree, err := materialize.Materialize(s, oldBaseOID)
	if err != nil {
		return store.OID{}, errors.Wrap(err, "marker: materialize old base during rebase")
	}

	idx, err := s.MergeTrees(oldBaseTree, baseTree, markerCommit.Tree)
	if err != nil {
		return store.OID{}, err
	}
	if idx.HasConflicts() {
		if logger != nil {
			logger.Warn("marker commit conflicted while rebasing onto new base, preferring new base",
				zap.String("change_id", changeID), zap.String("old_base", oldBaseOID.String()), zap.String("new_base", baseOID.String()))
		}
		conflict.ResolvePreferOurs(idx)
	}
	return s.WriteIndexTree(idx)
}

// MarkFileReviewed marks filePath's whole content as reviewed: its entry in
// the marker tree comes to match the target revision's entry. oldPath, if
// non-nil, names the pre-rename path for a renamed file.
func (c *Commit) MarkFileReviewed(filePath string, oldPath *string) error {
	if oldPath != nil {
		newEntry, ok, err := c.s.TreeEntry(c.targetTree, filePath)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrPathNotInTarget, "mark_file_reviewed: %s", filePath)
		}
		afterRemove, err := treeedit.Remove(c.s, c.tree, *oldPath)
		if err != nil {
			return err
		}
		c.tree, err = treeedit.Insert(c.s, afterRemove, filePath, newEntry.OID, newEntry.Mode)
		return err
	}

	entry, ok, err := c.s.TreeEntry(c.targetTree, filePath)
	if err != nil {
		return err
	}
	if ok {
		c.tree, err = treeedit.Insert(c.s, c.tree, filePath, entry.OID, entry.Mode)
		return err
	}
	c.tree, err = treeedit.Remove(c.s, c.tree, filePath)
	return err
}

// UnmarkFileReviewed is the inverse of MarkFileReviewed, reverting filePath's
// marker-tree entry back to the base revision's.
func (c *Commit) UnmarkFileReviewed(filePath string, oldPath *string) error {
	if oldPath != nil {
		if c.base == nil {
			if c.logger != nil {
				c.logger.Warn("unmark_file_reviewed: rename on root revision, ignoring", zap.String("path", filePath))
			}
			return nil
		}
		oldEntry, ok, err := c.s.TreeEntry(c.baseTree, *oldPath)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrPathNotInTarget, "unmark_file_reviewed: %s", *oldPath)
		}
		afterInsert, err := treeedit.Insert(c.s, c.tree, *oldPath, oldEntry.OID, oldEntry.Mode)
		if err != nil {
			return err
		}
		c.tree, err = treeedit.Remove(c.s, afterInsert, filePath)
		return err
	}

	if c.base == nil {
		var err error
		c.tree, err = treeedit.Remove(c.s, c.tree, filePath)
		return err
	}

	entry, ok, err := c.s.TreeEntry(c.baseTree, filePath)
	if err != nil {
		return err
	}
	if ok {
		c.tree, err = treeedit.Insert(c.s, c.tree, filePath, entry.OID, entry.Mode)
		return err
	}
	c.tree, err = treeedit.Remove(c.s, c.tree, filePath)
	return err
}

// MarkHunkReviewed applies a single hunk (in M→T coordinates) of filePath's
// content onto the marker tree, bringing just that region in line with the
// target revision.
func (c *Commit) MarkHunkReviewed(filePath string, oldPath *string, h hunk.ID) error {
	path := filePath
	if oldPath != nil {
		path = *oldPath
	}

	targetEntry, ok, err := c.s.TreeEntry(c.targetTree, filePath)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrPathNotInTarget, "mark_hunk_reviewed: %s", filePath)
	}
	targetContent, err := c.s.GetBlob(targetEntry.OID)
	if err != nil {
		return err
	}

	currentContent, err := c.currentMContent(path)
	if err != nil {
		return err
	}

	merged := hunk.Apply(currentContent, string(targetContent), h)
	blobOID, err := c.s.PutBlob([]byte(merged))
	if err != nil {
		return err
	}

	c.tree, err = treeedit.Insert(c.s, c.tree, filePath, blobOID, targetEntry.Mode)
	if err != nil {
		return err
	}
	if oldPath != nil {
		c.tree, err = treeedit.Remove(c.s, c.tree, *oldPath)
	}
	return err
}

// UnmarkHunkReviewed reverses a single hunk (in B→M coordinates) out of the
// marker tree, splicing the base revision's content back into that region.
func (c *Commit) UnmarkHunkReviewed(filePath string, oldPath *string, h hunk.ID) error {
	path := filePath
	if oldPath != nil {
		path = *oldPath
	}

	baseContent, err := c.baseBlobContent(path)
	if err != nil {
		return err
	}

	currentContent, err := c.currentMContent(path)
	if err != nil {
		return err
	}

	reverted := hunk.Unapply(currentContent, baseContent, h)
	blobOID, err := c.s.PutBlob([]byte(reverted))
	if err != nil {
		return err
	}

	mode := store.ModeRegular
	if entry, ok, err := c.s.TreeEntry(c.baseTree, path); err != nil {
		return err
	} else if ok {
		mode = entry.Mode
	}

	c.tree, err = treeedit.Insert(c.s, c.tree, filePath, blobOID, mode)
	if err != nil {
		return err
	}
	if oldPath != nil {
		c.tree, err = treeedit.Remove(c.s, c.tree, *oldPath)
	}
	return err
}

// currentMContent returns the marker tree's content at path if present,
// falling back to the base revision's content (or empty, for a root
// revision with no base entry either) otherwise.
func (c *Commit) currentMContent(path string) (string, error) {
	if entry, ok, err := c.s.TreeEntry(c.tree, path); err != nil {
		return "", err
	} else if ok {
		blob, err := c.s.GetBlob(entry.OID)
		if err != nil {
			return "", err
		}
		return string(blob), nil
	}
	return c.baseBlobContent(path)
}

func (c *Commit) baseBlobContent(path string) (string, error) {
	entry, ok, err := c.s.TreeEntry(c.baseTree, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	blob, err := c.s.GetBlob(entry.OID)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// UnReviewedFiles diffs the marker tree against the target tree (with
// exact-content-match rename detection) and returns every path that still
// differs, keyed by whichever side of the delta the spec's status mapping
// says to surface: the new path for additions/modifications/renames, the
// old path for deletions.
func (c *Commit) UnReviewedFiles() (map[string]struct{}, error) {
	oldMap, err := c.s.FlattenTree(c.tree)
	if err != nil {
		return nil, err
	}
	newMap, err := c.s.FlattenTree(c.targetTree)
	if err != nil {
		return nil, err
	}

	added := map[string]store.TreeEntry{}
	result := map[string]struct{}{}

	for p, n := range newMap {
		if o, ok := oldMap[p]; ok {
			if o.OID != n.OID || o.Mode != n.Mode {
				result[p] = struct{}{}
			}
			continue
		}
		added[p] = n
	}

	deleted := map[string]store.TreeEntry{}
	for p, o := range oldMap {
		if _, ok := newMap[p]; !ok {
			deleted[p] = o
		}
	}

	matchedDeleted := map[string]bool{}
	for newPath, n := range added {
		for oldPath, o := range deleted {
			if matchedDeleted[oldPath] {
				continue
			}
			if o.OID == n.OID {
				matchedDeleted[oldPath] = true
				break
			}
		}
		result[newPath] = struct{}{}
	}
	for oldPath := range deleted {
		if !matchedDeleted[oldPath] {
			result[oldPath] = struct{}{}
		}
	}

	return result, nil
}

// Write commits the current marker tree, force-updates the marker ref to
// point at it, and returns the new commit's OID.
func (c *Commit) Write() (store.OID, error) {
	var parents []store.OID
	if c.base != nil {
		parents = []store.OID{*c.base}
	}
	oid, err := c.s.PutCommit(&store.Commit{
		Tree:      c.tree,
		Parents:   parents,
		Author:    store.DefaultSignature,
		Committer: store.DefaultSignature,
		Headers:   map[string]string{},
		Message:   fmt.Sprintf("update marker commit for change_id: %s", c.changeID),
	})
	if err != nil {
		return store.OID{}, err
	}
	if err := c.s.SetRef(RefName(c.changeID), oid); err != nil {
		return store.OID{}, err
	}
	if c.logger != nil {
		c.logger.Info("created marker commit", zap.String("change_id", c.changeID), zap.String("oid", oid.String()))
	}
	return oid, nil
}

// Close releases the change lock. It must be called exactly once, however
// the engine's lifetime ends.
func (c *Commit) Close() error {
	return c.lock.Release()
}
