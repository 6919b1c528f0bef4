package store

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Yuki-bun/kenjutu/hash"
)

// ConflictEntry describes one path where base/ours/theirs disagree. A nil
// pointer means the path was absent from that side.
type ConflictEntry struct {
	Path     string
	Ancestor *TreeEntry
	Ours     *TreeEntry
	Theirs   *TreeEntry
}

// MergeIndex is the (possibly still-conflicted) result of a three-way tree
// merge, mirroring git's merge index: automatically-resolved entries plus a
// list of conflicts a resolver (see package conflict) must settle before
// WriteIndexTree can run.
type MergeIndex struct {
	Entries   map[string]TreeEntry
	Conflicts []ConflictEntry
}

// HasConflicts reports whether any path is still unresolved.
func (idx *MergeIndex) HasConflicts() bool {
	return len(idx.Conflicts) > 0
}

// Resolve removes path from Conflicts (if present) and records entry as its
// resolved content.
func (idx *MergeIndex) Resolve(path string, entry TreeEntry) {
	idx.removeConflict(path)
	idx.Entries[path] = entry
}

// Remove removes path from Conflicts and ensures it has no resolved entry —
// used when a conflict resolves to "deleted" (e.g. a prefer-ours resolution
// where ours deleted the file that theirs modified).
func (idx *MergeIndex) Remove(path string) {
	idx.removeConflict(path)
	delete(idx.Entries, path)
}

func (idx *MergeIndex) removeConflict(path string) {
	for i, c := range idx.Conflicts {
		if c.Path == path {
			idx.Conflicts = append(idx.Conflicts[:i], idx.Conflicts[i+1:]...)
			return
		}
	}
}

// MergeTrees performs a three-way merge of base/ours/theirs, auto-resolving
// any path where only one side changed (or both sides agree) and leaving
// everything else in idx.Conflicts for a conflict resolver to settle.
func (s *Store) MergeTrees(base, ours, theirs OID) (*MergeIndex, error) {
	baseMap, oursMap, theirsMap := map[string]TreeEntry{}, map[string]TreeEntry{}, map[string]TreeEntry{}
	if !base.IsEmpty() {
		if err := s.flattenTree(base, "", baseMap); err != nil {
			return nil, err
		}
	}
	if !ours.IsEmpty() {
		if err := s.flattenTree(ours, "", oursMap); err != nil {
			return nil, err
		}
	}
	if !theirs.IsEmpty() {
		if err := s.flattenTree(theirs, "", theirsMap); err != nil {
			return nil, err
		}
	}

	paths := map[string]struct{}{}
	for p := range baseMap {
		paths[p] = struct{}{}
	}
	for p := range oursMap {
		paths[p] = struct{}{}
	}
	for p := range theirsMap {
		paths[p] = struct{}{}
	}

	idx := &MergeIndex{Entries: map[string]TreeEntry{}}
	for p := range paths {
		b, bOk := baseMap[p]
		o, oOk := oursMap[p]
		t, tOk := theirsMap[p]

		switch {
		case entriesEqual(o, t, oOk, tOk):
			if oOk {
				idx.Entries[p] = o
			}
		case entriesEqual(b, o, bOk, oOk):
			if tOk {
				idx.Entries[p] = t
			}
		case entriesEqual(b, t, bOk, tOk):
			if oOk {
				idx.Entries[p] = o
			}
		default:
			c := ConflictEntry{Path: p}
			if bOk {
				e := b
				c.Ancestor = &e
			}
			if oOk {
				e := o
				c.Ours = &e
			}
			if tOk {
				e := t
				c.Theirs = &e
			}
			idx.Conflicts = append(idx.Conflicts, c)
		}
	}
	sort.Slice(idx.Conflicts, func(i, j int) bool { return idx.Conflicts[i].Path < idx.Conflicts[j].Path })
	return idx, nil
}

func entriesEqual(a, b TreeEntry, aOk, bOk bool) bool {
	if aOk != bOk {
		return false
	}
	if !aOk {
		return true
	}
	return a.OID == b.OID && a.Mode == b.Mode
}

// FlattenTree returns every blob/symlink/submodule leaf reachable from root,
// keyed by its full "/"-separated path. A zero OID (empty tree) yields an
// empty map rather than an error.
func (s *Store) FlattenTree(root OID) (map[string]TreeEntry, error) {
	out := map[string]TreeEntry{}
	if root.IsEmpty() {
		return out, nil
	}
	if err := s.flattenTree(root, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

// flattenTree recursively collects every blob/symlink/submodule leaf of
// root into out, keyed by its full "/"-separated path.
func (s *Store) flattenTree(root OID, prefix string, out map[string]TreeEntry) error {
	t, err := s.GetTree(root)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		p := e.Name
		if prefix != "" {
			p = prefix + "/" + e.Name
		}
		if e.Mode == ModeDir {
			if err := s.flattenTree(e.OID, p, out); err != nil {
				return err
			}
			continue
		}
		out[p] = TreeEntry{Name: p, Mode: e.Mode, OID: e.OID}
	}
	return nil
}

// WriteIndexTree materializes a fully-resolved MergeIndex into a tree and
// returns its OID. It errors if any conflict remains unresolved.
func (s *Store) WriteIndexTree(idx *MergeIndex) (OID, error) {
	if idx.HasConflicts() {
		return hash.Empty, errors.New("store: cannot write tree with unresolved conflicts")
	}
	return s.buildTreeFromPaths(idx.Entries)
}

type pathNode struct {
	leaf     *TreeEntry
	children map[string]*pathNode
}

func (s *Store) buildTreeFromPaths(entries map[string]TreeEntry) (OID, error) {
	root := &pathNode{children: map[string]*pathNode{}}
	for path, e := range entries {
		parts := strings.Split(path, "/")
		cur := root
		for i, part := range parts {
			if cur.children[part] == nil {
				cur.children[part] = &pathNode{children: map[string]*pathNode{}}
			}
			cur = cur.children[part]
			if i == len(parts)-1 {
				leaf := e
				cur.leaf = &leaf
			}
		}
	}
	return s.buildTreeNode(root)
}

func (s *Store) buildTreeNode(n *pathNode) (OID, error) {
	t := &Tree{}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := n.children[name]
		if child.leaf != nil && len(child.children) == 0 {
			t.Entries = append(t.Entries, TreeEntry{Name: name, Mode: child.leaf.Mode, OID: child.leaf.OID})
			continue
		}
		oid, err := s.buildTreeNode(child)
		if err != nil {
			return hash.Empty, err
		}
		t.Entries = append(t.Entries, TreeEntry{Name: name, Mode: ModeDir, OID: oid})
	}
	return s.PutTree(t)
}
