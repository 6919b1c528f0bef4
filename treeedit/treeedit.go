// Package treeedit inserts and removes single files at nested paths inside a
// tree, recursively rebuilding intermediate subtrees as needed. This is kept
// deliberately separate from store's merge-index tree writer: that path
// rebuilds a whole tree from a flat set of resolved paths in one pass, while
// this one edits a single path against an existing tree without touching any
// of its siblings.
package treeedit

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Yuki-bun/kenjutu/store"
)

// Insert writes blobOID (with the given mode) at path inside root, creating
// any missing intermediate directories, and returns the OID of the resulting
// tree. root may be the empty tree OID.
func Insert(s *store.Store, root store.OID, path string, blobOID store.OID, mode store.FileMode) (store.OID, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return store.OID{}, errors.New("treeedit: empty path")
	}
	filename := components[len(components)-1]
	dirs := components[:len(components)-1]

	tree, err := s.GetTree(root)
	if err != nil {
		return store.OID{}, err
	}
	return upsertPath(s, tree, dirs, 0, filename, blobOID, mode)
}

// Remove deletes path from root and returns the OID of the resulting tree.
// If path is absent anywhere along the way, root is returned unchanged.
func Remove(s *store.Store, root store.OID, path string) (store.OID, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return store.OID{}, errors.New("treeedit: empty path")
	}

	tree, err := s.GetTree(root)
	if err != nil {
		return store.OID{}, err
	}
	return removeFromPath(s, tree, root, components, 0)
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func upsertPath(s *store.Store, tree *store.Tree, components []string, depth int, filename string, blobOID store.OID, mode store.FileMode) (store.OID, error) {
	entries := append([]store.TreeEntry(nil), tree.Entries...)

	if depth >= len(components) {
		entries = upsertEntry(entries, store.TreeEntry{Name: filename, Mode: mode, OID: blobOID})
		return s.PutTree(&store.Tree{Entries: entries})
	}

	component := components[depth]
	subtree := &store.Tree{}
	if existing, ok := tree.Get(component); ok {
		t, err := s.GetTree(existing.OID)
		if err != nil {
			return store.OID{}, err
		}
		subtree = t
	}

	newSubtreeOID, err := upsertPath(s, subtree, components, depth+1, filename, blobOID, mode)
	if err != nil {
		return store.OID{}, err
	}

	entries = upsertEntry(entries, store.TreeEntry{Name: component, Mode: store.ModeDir, OID: newSubtreeOID})
	return s.PutTree(&store.Tree{Entries: entries})
}

func removeFromPath(s *store.Store, tree *store.Tree, treeOID store.OID, components []string, depth int) (store.OID, error) {
	entries := append([]store.TreeEntry(nil), tree.Entries...)

	if depth >= len(components)-1 {
		target := components[depth]
		if _, ok := tree.Get(target); !ok {
			return treeOID, nil
		}
		entries = removeEntry(entries, target)
		return s.PutTree(&store.Tree{Entries: entries})
	}

	component := components[depth]
	existing, ok := tree.Get(component)
	if !ok {
		return treeOID, nil
	}
	subtree, err := s.GetTree(existing.OID)
	if err != nil {
		return store.OID{}, err
	}

	newSubtreeOID, err := removeFromPath(s, subtree, existing.OID, components, depth+1)
	if err != nil {
		return store.OID{}, err
	}
	if newSubtreeOID == existing.OID {
		return treeOID, nil
	}

	entries = upsertEntry(entries, store.TreeEntry{Name: component, Mode: store.ModeDir, OID: newSubtreeOID})
	return s.PutTree(&store.Tree{Entries: entries})
}

func upsertEntry(entries []store.TreeEntry, e store.TreeEntry) []store.TreeEntry {
	for i, existing := range entries {
		if existing.Name == e.Name {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

func removeEntry(entries []store.TreeEntry, name string) []store.TreeEntry {
	for i, e := range entries {
		if e.Name == name {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}
