package anchor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yuki-bun/kenjutu/anchor"
	"github.com/Yuki-bun/kenjutu/comment"
	"github.com/Yuki-bun/kenjutu/commentlog"
	"github.com/Yuki-bun/kenjutu/store"
)

func makeAnchor(before, target, after []string) commentlog.AnchorContext {
	return commentlog.AnchorContext{Before: before, Target: target, After: after}
}

func TestFindAnchorPositionExactMatch(t *testing.T) {
	content := "line 1\nline 2\nline 3\nline 4\nline 5"
	a := makeAnchor([]string{"line 2"}, []string{"line 3"}, []string{"line 4"})

	line, ok := anchor.FindAnchorPosition(content, a)

	require.True(t, ok)
	assert.EqualValues(t, 3, line)
}

func TestFindAnchorPositionNoMatch(t *testing.T) {
	content := "line 1\nline 2\nline 3"
	a := makeAnchor(nil, []string{"nonexistent"}, nil)

	_, ok := anchor.FindAnchorPosition(content, a)

	assert.False(t, ok)
}

func TestFindAnchorPositionDisambiguatesWithContext(t *testing.T) {
	content := "aaa\ntarget\nbbb\nccc\ntarget\nddd"
	a := makeAnchor([]string{"ccc"}, []string{"target"}, []string{"ddd"})

	line, ok := anchor.FindAnchorPosition(content, a)

	require.True(t, ok)
	assert.EqualValues(t, 5, line)
}

func TestFindAnchorPositionMultilineTarget(t *testing.T) {
	content := "a\nb\nc\nd\ne"
	a := makeAnchor([]string{"a"}, []string{"b", "c"}, []string{"d"})

	line, ok := anchor.FindAnchorPosition(content, a)

	require.True(t, ok)
	assert.EqualValues(t, 2, line)
}

func TestFindAnchorPositionEmptyTargetIsNoMatch(t *testing.T) {
	content := "line 1\nline 2"
	a := makeAnchor(nil, nil, nil)

	_, ok := anchor.FindAnchorPosition(content, a)

	assert.False(t, ok)
}

func TestFindAnchorPositionAtStartOfFile(t *testing.T) {
	content := "target\nline 2\nline 3"
	a := makeAnchor(nil, []string{"target"}, []string{"line 2"})

	line, ok := anchor.FindAnchorPosition(content, a)

	require.True(t, ok)
	assert.EqualValues(t, 1, line)
}

func TestFindAnchorPositionAtEndOfFile(t *testing.T) {
	content := "line 1\nline 2\ntarget"
	a := makeAnchor([]string{"line 2"}, []string{"target"}, nil)

	line, ok := anchor.FindAnchorPosition(content, a)

	require.True(t, ok)
	assert.EqualValues(t, 3, line)
}

func commitFile(t *testing.T, s *store.Store, parents []store.OID, files map[string]string) store.OID {
	t.Helper()
	var entries []store.TreeEntry
	for name, content := range files {
		blob, err := s.PutBlob([]byte(content))
		require.NoError(t, err)
		entries = append(entries, store.TreeEntry{Name: name, Mode: store.ModeRegular, OID: blob})
	}
	tree, err := s.PutTree(&store.Tree{Entries: entries})
	require.NoError(t, err)
	commit, err := s.PutCommit(&store.Commit{
		Tree: tree, Parents: parents,
		Author: store.DefaultSignature, Committer: store.DefaultSignature,
		Headers: map[string]string{}, Message: "c",
	})
	require.NoError(t, err)
	return commit
}

func writeComment(t *testing.T, s *store.Store, gitDir, changeID string, sha store.OID, filePath, body string, line uint32, startLine *uint32) {
	t.Helper()
	c, err := comment.Open(s, gitDir, changeID, sha, nil)
	require.NoError(t, err)
	require.NoError(t, c.CreateComment(filePath, commentlog.SideNew, line, startLine, body))
	_, err = c.Write()
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestGetAllPortedCommentsSameSHAPassesThrough(t *testing.T) {
	s := store.OpenMemory()
	gitDir := t.TempDir()
	sha := commitFile(t, s, nil, map[string]string{"main.rs": "fn main() {\n    println!(\"hello\");\n}\n"})

	writeComment(t, s, gitDir, "change-1", sha, "main.rs", "nice print", 2, nil)

	ported, err := anchor.GetAllPortedComments(s, gitDir, "change-1", sha, nil)
	require.NoError(t, err)

	comments := ported["main.rs"]
	require.Len(t, comments, 1)
	assert.False(t, comments[0].IsPorted)
	require.NotNil(t, comments[0].PortedLine)
	assert.EqualValues(t, 2, *comments[0].PortedLine)
}

func TestGetAllPortedCommentsShiftedLines(t *testing.T) {
	s := store.OpenMemory()
	gitDir := t.TempDir()
	oldSHA := commitFile(t, s, nil, map[string]string{"main.rs": "fn main() {\n    println!(\"hello\");\n}\n"})
	writeComment(t, s, gitDir, "change-1", oldSHA, "main.rs", "nice print", 2, nil)

	newSHA := commitFile(t, s, []store.OID{oldSHA}, map[string]string{
		"main.rs": "fn main() {\n    let x = 1;\n    let y = 2;\n    println!(\"hello\");\n}\n",
	})

	ported, err := anchor.GetAllPortedComments(s, gitDir, "change-1", newSHA, nil)
	require.NoError(t, err)

	comments := ported["main.rs"]
	require.Len(t, comments, 1)
	assert.True(t, comments[0].IsPorted)
	require.NotNil(t, comments[0].PortedLine)
	assert.EqualValues(t, 4, *comments[0].PortedLine)
}

func TestGetAllPortedCommentsDegradesToFileLevelWhenFileGone(t *testing.T) {
	s := store.OpenMemory()
	gitDir := t.TempDir()
	oldSHA := commitFile(t, s, nil, map[string]string{"temp.rs": "fn temp() {}\n"})
	writeComment(t, s, gitDir, "change-1", oldSHA, "temp.rs", "remove this", 1, nil)

	newSHA := commitFile(t, s, []store.OID{oldSHA}, map[string]string{})

	ported, err := anchor.GetAllPortedComments(s, gitDir, "change-1", newSHA, nil)
	require.NoError(t, err)

	comments := ported["temp.rs"]
	require.Len(t, comments, 1)
	assert.True(t, comments[0].IsPorted)
	assert.Nil(t, comments[0].PortedLine)
}

func TestGetAllPortedCommentsDegradesWhenAnchorTextIsGone(t *testing.T) {
	s := store.OpenMemory()
	gitDir := t.TempDir()
	oldSHA := commitFile(t, s, nil, map[string]string{"main.rs": "fn main() {\n    println!(\"hello\");\n}\n"})
	writeComment(t, s, gitDir, "change-1", oldSHA, "main.rs", "comment", 2, nil)

	newSHA := commitFile(t, s, []store.OID{oldSHA}, map[string]string{
		"main.rs": "fn something_else() {\n    // totally different\n}\n",
	})

	ported, err := anchor.GetAllPortedComments(s, gitDir, "change-1", newSHA, nil)
	require.NoError(t, err)

	comments := ported["main.rs"]
	require.Len(t, comments, 1)
	assert.True(t, comments[0].IsPorted)
	assert.Nil(t, comments[0].PortedLine)
}

func TestGetAllPortedCommentsMultilineComment(t *testing.T) {
	s := store.OpenMemory()
	gitDir := t.TempDir()
	oldSHA := commitFile(t, s, nil, map[string]string{
		"main.rs": "fn main() {\n    let a = 1;\n    let b = 2;\n    let c = 3;\n}\n",
	})
	startLine := uint32(2)
	writeComment(t, s, gitDir, "change-1", oldSHA, "main.rs", "this block", 4, &startLine)

	newSHA := commitFile(t, s, []store.OID{oldSHA}, map[string]string{
		"main.rs": "fn main() {\n    // comment\n    let a = 1;\n    let b = 2;\n    let c = 3;\n}\n",
	})

	ported, err := anchor.GetAllPortedComments(s, gitDir, "change-1", newSHA, nil)
	require.NoError(t, err)

	comments := ported["main.rs"]
	require.Len(t, comments, 1)
	assert.True(t, comments[0].IsPorted)
	require.NotNil(t, comments[0].PortedLine)
	require.NotNil(t, comments[0].PortedStartLine)
	assert.EqualValues(t, 5, *comments[0].PortedLine)
	assert.EqualValues(t, 3, *comments[0].PortedStartLine)
}

func TestGetAllPortedCommentsFromMultipleOldRevisions(t *testing.T) {
	s := store.OpenMemory()
	gitDir := t.TempDir()

	shaV1 := commitFile(t, s, nil, map[string]string{"main.rs": "line 1\nline 2\nline 3\n"})
	writeComment(t, s, gitDir, "change-1", shaV1, "main.rs", "from v1", 2, nil)

	shaV2 := commitFile(t, s, []store.OID{shaV1}, map[string]string{"main.rs": "line 1\nline 2\nline 3\nline 4\n"})
	writeComment(t, s, gitDir, "change-1", shaV2, "main.rs", "from v2", 4, nil)

	shaV3 := commitFile(t, s, []store.OID{shaV2}, map[string]string{"main.rs": "line 0\nline 1\nline 2\nline 3\nline 4\nline 5\n"})

	ported, err := anchor.GetAllPortedComments(s, gitDir, "change-1", shaV3, nil)
	require.NoError(t, err)

	comments := ported["main.rs"]
	require.Len(t, comments, 2)

	byBody := map[string]anchor.Ported{}
	for _, c := range comments {
		byBody[c.Comment.Body] = c
	}

	c1 := byBody["from v1"]
	require.NotNil(t, c1.PortedLine)
	assert.True(t, c1.IsPorted)
	assert.EqualValues(t, 3, *c1.PortedLine)

	c2 := byBody["from v2"]
	require.NotNil(t, c2.PortedLine)
	assert.True(t, c2.IsPorted)
	assert.EqualValues(t, 5, *c2.PortedLine)
}
