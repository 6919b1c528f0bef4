// Package store implements the content-addressed object store every other
// package in this module is built on: blob/tree/commit storage, refs, and
// the three-way tree merge the marker and materialize engines rebase with.
// Objects and refs live on go-git's storage layer (storage/memory for tests,
// storage/filesystem for an on-disk repository), so loose-object framing,
// zlib compression, and SHA-1 addressing are go-git's problem, not ours.
package store

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pkg/errors"

	"github.com/Yuki-bun/kenjutu/hash"
)

// TreeEntry is one entry of a Tree: a name, its mode, and the OID of the
// blob or tree it points to.
type TreeEntry struct {
	Name string
	Mode FileMode
	OID  OID
}

// Tree is a flat, single-level directory listing. Nested paths are modeled
// as a tree entry whose mode is ModeDir and whose OID addresses another
// Tree.
type Tree struct {
	Entries []TreeEntry
}

// Get returns the entry named name, if present.
func (t *Tree) Get(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Signature is a commit's author/committer line.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// DefaultSignature is used by every engine that writes commits on this
// module's behalf (marker and comment commits are machine-authored).
var DefaultSignature = Signature{Name: "kenjutu", Email: "kenjutu@gmail.com"}

func unixSignatureTime(unix int64) time.Time {
	return time.Unix(unix, 0).UTC()
}

// Commit is a decoded commit object. Headers holds any non-standard header
// fields (e.g. jj's "jj:trees"), keyed without the trailing colon.
type Commit struct {
	Tree      OID
	Parents   []OID
	Author    Signature
	Committer Signature
	Headers   map[string]string
	Message   string
}

// RefEntry is one entry returned by ListRefs.
type RefEntry struct {
	Name   string
	Target OID
}

var errObjectNotFound = errors.New("store: object not found")

// Store is the content-addressed object store. The zero value is not
// usable; construct one with Open or OpenMemory.
type Store struct {
	storer    storage.Storer
	emptyTree OID
	haveEmpty bool
}

// Open opens (creating if necessary) an on-disk store rooted at path.
func Open(path string) (*Store, error) {
	fs := osfs.New(path)
	return &Store{storer: filesystem.NewStorage(fs, cache.NewObjectLRUDefault())}, nil
}

// OpenMemory returns an in-memory store, for tests.
func OpenMemory() *Store {
	return &Store{storer: memory.NewStorage()}
}

func mapNotFound(err error) error {
	if err == plumbing.ErrObjectNotFound {
		return errObjectNotFound
	}
	return err
}

// GetBlob returns the raw bytes of the blob at oid.
func (s *Store) GetBlob(oid OID) ([]byte, error) {
	obj, err := s.storer.EncodedObject(plumbing.BlobObject, plumbing.Hash(oid))
	if err != nil {
		return nil, errors.Wrapf(mapNotFound(err), "store: get blob %s", oid)
	}
	blob := &object.Blob{}
	if err := blob.Decode(obj); err != nil {
		return nil, errors.Wrapf(err, "store: decode blob %s", oid)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, errors.Wrapf(err, "store: read blob %s", oid)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return data, errors.Wrapf(err, "store: read blob %s", oid)
}

// PutBlob stores data as a blob and returns its OID.
func (s *Store) PutBlob(data []byte) (OID, error) {
	obj := s.storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return hash.Empty, errors.Wrap(err, "store: put blob")
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return hash.Empty, errors.Wrap(err, "store: put blob")
	}
	if err := w.Close(); err != nil {
		return hash.Empty, errors.Wrap(err, "store: put blob")
	}
	h, err := s.storer.SetEncodedObject(obj)
	return OID(h), errors.Wrap(err, "store: put blob")
}

// GetTree decodes the tree at oid.
func (s *Store) GetTree(oid OID) (*Tree, error) {
	obj, err := s.storer.EncodedObject(plumbing.TreeObject, plumbing.Hash(oid))
	if err != nil {
		return nil, errors.Wrapf(mapNotFound(err), "store: get tree %s", oid)
	}
	gt := &object.Tree{}
	if err := gt.Decode(obj); err != nil {
		return nil, errors.Wrapf(err, "store: decode tree %s", oid)
	}
	t := &Tree{Entries: make([]TreeEntry, len(gt.Entries))}
	for i, e := range gt.Entries {
		t.Entries[i] = TreeEntry{Name: e.Name, Mode: e.Mode, OID: OID(e.Hash)}
	}
	return t, nil
}

// PutTree encodes and stores t, returning its OID.
func (s *Store) PutTree(t *Tree) (OID, error) {
	entries := append([]TreeEntry(nil), t.Entries...)
	sort.Slice(entries, func(i, j int) bool { return treeEntryLess(entries[i], entries[j]) })

	gt := &object.Tree{Entries: make([]object.TreeEntry, len(entries))}
	for i, e := range entries {
		gt.Entries[i] = object.TreeEntry{Name: e.Name, Mode: e.Mode, Hash: plumbing.Hash(e.OID)}
	}

	obj := s.storer.NewEncodedObject()
	if err := gt.Encode(obj); err != nil {
		return hash.Empty, errors.Wrap(err, "store: put tree")
	}
	h, err := s.storer.SetEncodedObject(obj)
	return OID(h), errors.Wrap(err, "store: put tree")
}

func treeEntryLess(a, b TreeEntry) bool {
	return treeSortKey(a) < treeSortKey(b)
}

// treeSortKey mirrors git's tree entry ordering: directories compare as if
// their name carried a trailing '/'.
func treeSortKey(e TreeEntry) string {
	if e.Mode == ModeDir {
		return e.Name + "/"
	}
	return e.Name
}

// GetCommit decodes the commit at oid.
func (s *Store) GetCommit(oid OID) (*Commit, error) {
	obj, err := s.storer.EncodedObject(plumbing.CommitObject, plumbing.Hash(oid))
	if err != nil {
		return nil, errors.Wrapf(mapNotFound(err), "store: get commit %s", oid)
	}
	r, err := obj.Reader()
	if err != nil {
		return nil, errors.Wrapf(err, "store: read commit %s", oid)
	}
	defer r.Close()
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "store: read commit %s", oid)
	}
	return decodeCommit(payload)
}

// PutCommit encodes and stores c, returning its OID.
func (s *Store) PutCommit(c *Commit) (OID, error) {
	payload := encodeCommit(c)
	obj := s.storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	obj.SetSize(int64(len(payload)))
	w, err := obj.Writer()
	if err != nil {
		return hash.Empty, errors.Wrap(err, "store: put commit")
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return hash.Empty, errors.Wrap(err, "store: put commit")
	}
	if err := w.Close(); err != nil {
		return hash.Empty, errors.Wrap(err, "store: put commit")
	}
	h, err := s.storer.SetEncodedObject(obj)
	return OID(h), errors.Wrap(err, "store: put commit")
}

// EmptyTree returns the OID of the tree with no entries, writing it once
// and caching the result.
func (s *Store) EmptyTree() (OID, error) {
	if s.haveEmpty {
		return s.emptyTree, nil
	}
	oid, err := s.PutTree(&Tree{})
	if err != nil {
		return hash.Empty, err
	}
	s.emptyTree = oid
	s.haveEmpty = true
	return oid, nil
}

// TreeEntry walks root by the "/"-separated path and returns the entry at
// its end, or ok=false if any component along the way is absent.
func (s *Store) TreeEntry(root OID, path string) (TreeEntry, bool, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return TreeEntry{}, false, errors.New("store: empty path")
	}
	components := strings.Split(path, "/")

	tree, err := s.GetTree(root)
	if err != nil {
		return TreeEntry{}, false, err
	}

	for i, component := range components {
		entry, ok := tree.Get(component)
		if !ok {
			return TreeEntry{}, false, nil
		}
		if i == len(components)-1 {
			return entry, true, nil
		}
		if entry.Mode != ModeDir {
			return TreeEntry{}, false, nil
		}
		tree, err = s.GetTree(entry.OID)
		if err != nil {
			return TreeEntry{}, false, err
		}
	}
	return TreeEntry{}, false, nil
}

// HeaderField returns a non-standard commit header field's value (e.g.
// jj's "jj:trees"), if present.
func (s *Store) HeaderField(commit OID, key string) (string, bool, error) {
	c, err := s.GetCommit(commit)
	if err != nil {
		return "", false, err
	}
	v, ok := c.Headers[key]
	return v, ok, nil
}

// Ref returns the OID a ref currently points to.
func (s *Store) Ref(name string) (OID, bool, error) {
	ref, err := s.storer.Reference(plumbing.ReferenceName(name))
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return hash.Empty, false, nil
		}
		return hash.Empty, false, errors.Wrap(err, "store: get ref")
	}
	return OID(ref.Hash()), true, nil
}

// SetRef force-updates a ref to point at target.
func (s *Store) SetRef(name string, target OID) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), plumbing.Hash(target))
	return errors.Wrap(s.storer.SetReference(ref), "store: set ref")
}

// DeleteRef removes a ref, if present.
func (s *Store) DeleteRef(name string) error {
	err := s.storer.RemoveReference(plumbing.ReferenceName(name))
	if err != nil && err != plumbing.ErrReferenceNotFound {
		return errors.Wrap(err, "store: delete ref")
	}
	return nil
}

// ListRefs returns every ref whose name starts with prefix.
func (s *Store) ListRefs(prefix string) ([]RefEntry, error) {
	iter, err := s.storer.IterReferences()
	if err != nil {
		return nil, errors.Wrap(err, "store: list refs")
	}
	defer iter.Close()

	var out []RefEntry
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name().String()
		if strings.HasPrefix(name, prefix) {
			out = append(out, RefEntry{Name: name, Target: OID(ref.Hash())})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: list refs")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MergeBase returns the best common ancestor of the given commits, folding
// pairwise through go-git's Commit.MergeBase for more than two inputs. This
// module's callers only ever feed it change histories and octopus-merge
// tips, so the pairwise fold (rather than git's full criss-cross n-way
// merge-base) is sufficient.
func (s *Store) MergeBase(commits ...OID) (OID, error) {
	if len(commits) == 0 {
		return hash.Empty, errors.New("store: MergeBase requires at least one commit")
	}
	if len(commits) == 1 {
		return commits[0], nil
	}

	base, err := object.GetCommit(s.storer, plumbing.Hash(commits[0]))
	if err != nil {
		return hash.Empty, errors.Wrap(mapNotFound(err), "store: MergeBase")
	}
	for _, other := range commits[1:] {
		oc, err := object.GetCommit(s.storer, plumbing.Hash(other))
		if err != nil {
			return hash.Empty, errors.Wrap(mapNotFound(err), "store: MergeBase")
		}
		bases, err := base.MergeBase(oc)
		if err != nil {
			return hash.Empty, errors.Wrap(err, "store: MergeBase")
		}
		if len(bases) == 0 {
			return hash.Empty, errors.New("store: no common ancestor")
		}
		base = bases[0]
	}
	return OID(base.Hash), nil
}
