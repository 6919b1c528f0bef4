package store

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/Yuki-bun/kenjutu/hash"
)

// OID is the content address of a blob, tree or commit object.
type OID = hash.OID

// FileMode is a tree entry's file mode, shared with go-git's plumbing
// representation so callers crossing the go-git boundary (e.g. a future
// on-disk checkout) don't need a second conversion.
type FileMode = filemode.FileMode

const (
	ModeDir        = filemode.Dir
	ModeRegular    = filemode.Regular
	ModeExecutable = filemode.Executable
	ModeSymlink    = filemode.Symlink
	ModeSubmodule  = filemode.Submodule
)

// ToPlumbing converts an OID to go-git's plumbing.Hash, which shares the
// same 20-byte layout.
func ToPlumbing(o OID) plumbing.Hash {
	return plumbing.Hash(o)
}

// FromPlumbing converts a go-git plumbing.Hash back to an OID.
func FromPlumbing(h plumbing.Hash) OID {
	return OID(h)
}
