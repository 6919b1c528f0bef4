package materialize_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yuki-bun/kenjutu/materialize"
	"github.com/Yuki-bun/kenjutu/store"
)

func putFileTree(t *testing.T, s *store.Store, name, content string) store.OID {
	t.Helper()
	blob, err := s.PutBlob([]byte(content))
	require.NoError(t, err)
	oid, err := s.PutTree(&store.Tree{Entries: []store.TreeEntry{{Name: name, Mode: store.ModeRegular, OID: blob}}})
	require.NoError(t, err)
	return oid
}

func TestMaterializeNormalCommitReturnsItsOwnTree(t *testing.T) {
	s := store.OpenMemory()
	tree := putFileTree(t, s, "file.txt", "hello")
	commit, err := s.PutCommit(&store.Commit{Tree: tree, Author: store.DefaultSignature, Committer: store.DefaultSignature, Headers: map[string]string{}, Message: "A"})
	require.NoError(t, err)

	got, err := materialize.Materialize(s, commit)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestMaterializeConflictedCommitProducesMarkers(t *testing.T) {
	s := store.OpenMemory()
	baseTree := putFileTree(t, s, "file.txt", "base\n")
	side1Tree := putFileTree(t, s, "file.txt", "side1\n")
	side2Tree := putFileTree(t, s, "file.txt", "side2\n")

	header := side1Tree.String() + " " + baseTree.String() + " " + side2Tree.String()
	commit, err := s.PutCommit(&store.Commit{
		Tree:      side1Tree,
		Author:    store.DefaultSignature,
		Committer: store.DefaultSignature,
		Headers:   map[string]string{"jj:trees": header},
		Message:   "merge",
	})
	require.NoError(t, err)

	resultTree, err := materialize.Materialize(s, commit)
	require.NoError(t, err)

	entry, ok, err := s.TreeEntry(resultTree, "file.txt")
	require.NoError(t, err)
	require.True(t, ok)

	content, err := s.GetBlob(entry.OID)
	require.NoError(t, err)
	assert.Equal(t, "<<<<<<< Side 1\nside1\n=======\nside2\n>>>>>>> Side 2\n", string(content))
}

func TestMaterializeMalformedHeaderErrors(t *testing.T) {
	s := store.OpenMemory()
	tree := putFileTree(t, s, "file.txt", "x")
	commit, err := s.PutCommit(&store.Commit{
		Tree:      tree,
		Author:    store.DefaultSignature,
		Committer: store.DefaultSignature,
		Headers:   map[string]string{"jj:trees": "not-an-oid"},
		Message:   "bad",
	})
	require.NoError(t, err)

	_, err = materialize.Materialize(s, commit)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "malformed jj:trees header"))
}
