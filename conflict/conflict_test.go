package conflict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yuki-bun/kenjutu/conflict"
	"github.com/Yuki-bun/kenjutu/store"
)

func TestMergeTextBothSidesDifferProducesMarkers(t *testing.T) {
	got := conflict.MergeText("base\n", "side1\n", "side2\n")
	assert.Equal(t, "<<<<<<< Side 1\nside1\n=======\nside2\n>>>>>>> Side 2\n", got)
}

func TestMergeTextAddAddConflict(t *testing.T) {
	got := conflict.MergeText("", "a1\n", "a2\n")
	assert.Equal(t, "<<<<<<< Side 1\na1\n=======\na2\n>>>>>>> Side 2\n", got)
}

func TestMergeTextOneSideUnchangedTakesOtherSide(t *testing.T) {
	got := conflict.MergeText("a\nb\nc\n", "a\nchanged\nc\n", "a\nb\nc\n")
	assert.Equal(t, "a\nchanged\nc\n", got)
}

func TestMergeTextBothSidesAgreeNoMarkers(t *testing.T) {
	got := conflict.MergeText("a\nb\nc\n", "a\nsame\nc\n", "a\nsame\nc\n")
	assert.Equal(t, "a\nsame\nc\n", got)
}

func TestResolvePreferOursTakesOursEvenOnDeletion(t *testing.T) {
	oursEntry := store.TreeEntry{Name: "file.txt", Mode: store.ModeRegular}
	idx := &store.MergeIndex{
		Entries: map[string]store.TreeEntry{},
		Conflicts: []store.ConflictEntry{
			{Path: "file.txt", Ours: &oursEntry, Theirs: &store.TreeEntry{Name: "file.txt"}},
			{Path: "deleted.txt", Ours: nil, Theirs: &store.TreeEntry{Name: "deleted.txt"}},
		},
	}

	conflict.ResolvePreferOurs(idx)

	require.False(t, idx.HasConflicts())
	got, ok := idx.Entries["file.txt"]
	require.True(t, ok)
	assert.Equal(t, oursEntry, got)
	_, ok = idx.Entries["deleted.txt"]
	assert.False(t, ok)
}

func TestResolveWithMarkersModifyDeleteTakesSurvivor(t *testing.T) {
	s := store.OpenMemory()
	blob, err := s.PutBlob([]byte("kept content"))
	require.NoError(t, err)
	survivor := store.TreeEntry{Name: "f.txt", Mode: store.ModeRegular, OID: blob}

	idx := &store.MergeIndex{
		Entries:   map[string]store.TreeEntry{},
		Conflicts: []store.ConflictEntry{{Path: "f.txt", Ours: &survivor, Theirs: nil}},
	}

	require.NoError(t, conflict.ResolveWithMarkers(s, idx))
	require.False(t, idx.HasConflicts())
	got := idx.Entries["f.txt"]
	assert.Equal(t, blob, got.OID)
}

func TestResolveWithMarkersProducesMergedBlob(t *testing.T) {
	s := store.OpenMemory()
	baseBlob, _ := s.PutBlob([]byte("base\n"))
	oursBlob, _ := s.PutBlob([]byte("side1\n"))
	theirsBlob, _ := s.PutBlob([]byte("side2\n"))

	ancestor := store.TreeEntry{Name: "file.txt", Mode: store.ModeRegular, OID: baseBlob}
	ours := store.TreeEntry{Name: "file.txt", Mode: store.ModeRegular, OID: oursBlob}
	theirs := store.TreeEntry{Name: "file.txt", Mode: store.ModeRegular, OID: theirsBlob}

	idx := &store.MergeIndex{
		Entries:   map[string]store.TreeEntry{},
		Conflicts: []store.ConflictEntry{{Path: "file.txt", Ancestor: &ancestor, Ours: &ours, Theirs: &theirs}},
	}

	require.NoError(t, conflict.ResolveWithMarkers(s, idx))
	require.False(t, idx.HasConflicts())

	merged := idx.Entries["file.txt"]
	content, err := s.GetBlob(merged.OID)
	require.NoError(t, err)
	assert.Equal(t, "<<<<<<< Side 1\nside1\n=======\nside2\n>>>>>>> Side 2\n", string(content))
}
