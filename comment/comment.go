// Package comment implements the comment commit: an append-only log of
// inline-diff comment actions for one (change, revision) pair, replayed
// into threads on read by package commentlog. Writing a comment never
// mutates history — it appends an action and recommits the whole log.
package comment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	goccyjson "github.com/goccy/go-json"

	"github.com/Yuki-bun/kenjutu/changelock"
	"github.com/Yuki-bun/kenjutu/commentlog"
	"github.com/Yuki-bun/kenjutu/hash"
	"github.com/Yuki-bun/kenjutu/materialize"
	"github.com/Yuki-bun/kenjutu/store"
	"github.com/Yuki-bun/kenjutu/treeedit"
)

// anchorContextLines is how many lines of surrounding context are captured
// on each side of a new comment's target range.
const anchorContextLines = 3

// ErrCannotCommentOldSideOfRoot is returned when a comment targets the old
// side of a diff against a revision that has no parent to diff against.
var ErrCannotCommentOldSideOfRoot = errors.New("comment: cannot comment on old side of root revision")

// ErrLineRangeOutOfBounds is returned when a comment's line range falls
// outside the target file's line count.
var ErrLineRangeOutOfBounds = errors.New("comment: line range out of bounds")

// ErrFileNotFound is returned when the target revision has no file at the
// requested path.
var ErrFileNotFound = errors.New("comment: file not found in revision")

// ErrInvalidAction is returned when an action references a comment id that
// doesn't satisfy its prerequisite (a Reply's parent, an Edit's target, a
// Resolve/Unresolve's thread root).
var ErrInvalidAction = errors.New("comment: invalid action")

// Commit tracks the comment log for one (change, revision) pair. It holds
// the comment lock for its whole lifetime; call Close to release it.
type Commit struct {
	s           *store.Store
	lock        *changelock.Lock
	logger      *zap.Logger
	changeID    string
	revisionSHA store.OID

	actions map[string][]commentlog.Entry // file path -> action log
}

// RefName returns the ref a (changeID, revisionSHA) comment commit lives
// at. Comment refs are namespaced per revision, not just per change, so a
// reviewer's comments on an older revision of a change stay addressable
// even after the change moves on to a newer one.
func RefName(changeID string, revisionSHA store.OID) string {
	return "refs/kenjutu/" + changeID + "/comments/" + revisionSHA.String()
}

// RefPrefix returns the prefix under which every revision's comment ref
// for changeID lives, for use with store.ListRefs.
func RefPrefix(changeID string) string {
	return "refs/kenjutu/" + changeID + "/comments/"
}

// Open acquires the comment lock and loads the existing action log for
// (changeID, revisionSHA), if any.
func Open(s *store.Store, gitDir, changeID string, revisionSHA store.OID, logger *zap.Logger) (*Commit, error) {
	lock, err := changelock.AcquireComment(gitDir, changeID, revisionSHA.String(), logger)
	if err != nil {
		return nil, err
	}

	actions, err := loadActions(s, RefName(changeID, revisionSHA))
	if err != nil {
		lock.Release()
		return nil, err
	}

	return &Commit{
		s: s, lock: lock, logger: logger,
		changeID: changeID, revisionSHA: revisionSHA,
		actions: actions,
	}, nil
}

func loadActions(s *store.Store, refName string) (map[string][]commentlog.Entry, error) {
	ref, ok, err := s.Ref(refName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string][]commentlog.Entry{}, nil
	}
	commit, err := s.GetCommit(ref)
	if err != nil {
		return nil, errors.Wrap(err, "comment: load existing comment commit")
	}
	leaves, err := s.FlattenTree(commit.Tree)
	if err != nil {
		return nil, err
	}

	actions := map[string][]commentlog.Entry{}
	for path, entry := range leaves {
		blob, err := s.GetBlob(entry.OID)
		if err != nil {
			return nil, err
		}
		var fileActions []commentlog.Entry
		if err := goccyjson.Unmarshal(blob, &fileActions); err != nil {
			return nil, errors.Wrapf(err, "comment: decode action log for %s", path)
		}
		actions[path] = fileActions
	}
	return actions, nil
}

// GetFileActions returns the raw action log for filePath.
func (c *Commit) GetFileActions(filePath string) []commentlog.Entry {
	return append([]commentlog.Entry(nil), c.actions[filePath]...)
}

// GetFileComments replays filePath's action log into its materialized
// threads.
func (c *Commit) GetFileComments(filePath string) []commentlog.Comment {
	return commentlog.Materialize(c.actions[filePath])
}

// GetAllComments replays every file's action log.
func (c *Commit) GetAllComments() map[string][]commentlog.Comment {
	out := make(map[string][]commentlog.Comment, len(c.actions))
	for path, entries := range c.actions {
		out[path] = commentlog.Materialize(entries)
	}
	return out
}

// CreateComment starts a new top-level comment thread on filePath, anchored
// to this commit's revision. Its anchor context is built automatically from
// the revision's (or, for side==Old, its parent's) tree content.
func (c *Commit) CreateComment(filePath string, side commentlog.DiffSide, line uint32, startLine *uint32, body string) error {
	anchor, err := c.buildAnchor(filePath, side, line, startLine)
	if err != nil {
		return err
	}
	return c.appendAction(filePath, commentlog.Action{
		Type:      commentlog.ActionCreate,
		CommentID: uuid.NewString(),
		TargetSHA: c.revisionSHA.String(),
		Side:      side,
		Line:      line,
		StartLine: startLine,
		Body:      body,
		Anchor:    anchor,
	})
}

// ReplyToComment appends a flat (non-nested) reply to an existing thread.
func (c *Commit) ReplyToComment(filePath, parentCommentID, body string) error {
	return c.appendAction(filePath, commentlog.Action{
		Type:            commentlog.ActionReply,
		CommentID:       uuid.NewString(),
		ParentCommentID: parentCommentID,
		Body:            body,
	})
}

// EditComment edits the body of an existing comment or reply.
func (c *Commit) EditComment(filePath, commentID, body string) error {
	return c.appendAction(filePath, commentlog.Action{
		Type: commentlog.ActionEdit, CommentID: commentID, Body: body,
	})
}

// ResolveComment marks a thread (by its root comment id) resolved.
func (c *Commit) ResolveComment(filePath, commentID string) error {
	return c.appendAction(filePath, commentlog.Action{Type: commentlog.ActionResolve, CommentID: commentID})
}

// UnresolveComment reopens a previously resolved thread.
func (c *Commit) UnresolveComment(filePath, commentID string) error {
	return c.appendAction(filePath, commentlog.Action{Type: commentlog.ActionUnresolve, CommentID: commentID})
}

func (c *Commit) buildAnchor(filePath string, side commentlog.DiffSide, line uint32, startLine *uint32) (commentlog.AnchorContext, error) {
	treeOID := c.revisionSHA
	if side == commentlog.SideOld {
		commit, err := c.s.GetCommit(c.revisionSHA)
		if err != nil {
			return commentlog.AnchorContext{}, err
		}
		if len(commit.Parents) == 0 {
			return commentlog.AnchorContext{}, ErrCannotCommentOldSideOfRoot
		}
		treeOID = commit.Parents[0]
	}

	tree, err := materialize.Materialize(c.s, treeOID)
	if err != nil {
		return commentlog.AnchorContext{}, errors.Wrap(err, "comment: materialize anchor revision")
	}

	entry, ok, err := c.s.TreeEntry(tree, filePath)
	if err != nil {
		return commentlog.AnchorContext{}, err
	}
	if !ok {
		return commentlog.AnchorContext{}, errors.Wrapf(ErrFileNotFound, "%s", filePath)
	}
	blob, err := c.s.GetBlob(entry.OID)
	if err != nil {
		return commentlog.AnchorContext{}, err
	}

	lines := splitLines(string(blob))
	total := len(lines)

	start := line
	if startLine != nil {
		start = *startLine
	}
	start0 := saturatingSub(start, 1)
	end0 := saturatingSub(line, 1)

	if int(start0) >= total || int(end0) >= total || start0 > end0 {
		return commentlog.AnchorContext{}, errors.Wrapf(ErrLineRangeOutOfBounds, "start=%d end=%d total=%d", start0+1, end0+1, total)
	}

	beforeStart := saturatingSub(start0, anchorContextLines)
	afterEnd := min(int(end0)+1+anchorContextLines, total)

	return commentlog.AnchorContext{
		Before: append([]string(nil), lines[beforeStart:start0]...),
		Target: append([]string(nil), lines[start0:end0+1]...),
		After:  append([]string(nil), lines[end0+1:afterEnd]...),
	}, nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func saturatingSub(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}

// appendAction validates action against the existing log for filePath,
// stamps it with a fresh id and timestamp, and appends it. Validation runs
// before any mutation so a rejected action leaves the in-memory log
// untouched.
func (c *Commit) appendAction(filePath string, action commentlog.Action) error {
	existing := c.actions[filePath]
	if err := validateAction(existing, action); err != nil {
		return err
	}

	c.actions[filePath] = append(existing, commentlog.Entry{
		ActionID:  uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Action:    action,
	})
	return nil
}

func validateAction(existing []commentlog.Entry, action commentlog.Action) error {
	switch action.Type {
	case commentlog.ActionCreate:
		return nil
	case commentlog.ActionReply:
		if !hasAction(existing, commentlog.ActionCreate, action.ParentCommentID) {
			return errors.Wrapf(ErrInvalidAction, "reply targets non-existent comment: %s", action.ParentCommentID)
		}
		return nil
	case commentlog.ActionEdit:
		if !hasAction(existing, commentlog.ActionCreate, action.CommentID) && !hasAction(existing, commentlog.ActionReply, action.CommentID) {
			return errors.Wrapf(ErrInvalidAction, "edit targets non-existent comment or reply: %s", action.CommentID)
		}
		return nil
	case commentlog.ActionResolve:
		if !hasAction(existing, commentlog.ActionCreate, action.CommentID) {
			return errors.Wrapf(ErrInvalidAction, "resolve targets non-existent thread root: %s", action.CommentID)
		}
		return nil
	case commentlog.ActionUnresolve:
		if !hasAction(existing, commentlog.ActionCreate, action.CommentID) {
			return errors.Wrapf(ErrInvalidAction, "unresolve targets non-existent thread root: %s", action.CommentID)
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidAction, "unknown action type: %s", action.Type)
	}
}

func hasAction(existing []commentlog.Entry, actionType, commentID string) bool {
	for _, e := range existing {
		if e.Action.Type == actionType && e.Action.CommentID == commentID {
			return true
		}
	}
	return false
}

// Write commits the current action log to a tree (one JSON blob per
// commented file), parents it on every distinct target SHA referenced by a
// Create action (pinning them against GC), and force-updates the comment
// ref. It returns the new commit's OID.
func (c *Commit) Write() (store.OID, error) {
	tree, err := c.buildTree()
	if err != nil {
		return store.OID{}, err
	}
	parents, err := c.collectParents()
	if err != nil {
		return store.OID{}, err
	}

	oid, err := c.s.PutCommit(&store.Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    store.DefaultSignature,
		Committer: store.DefaultSignature,
		Headers:   map[string]string{},
		Message:   "update comments for change_id: " + c.changeID,
	})
	if err != nil {
		return store.OID{}, err
	}

	refName := RefName(c.changeID, c.revisionSHA)
	if err := c.s.SetRef(refName, oid); err != nil {
		return store.OID{}, err
	}
	if c.logger != nil {
		c.logger.Info("created comment commit",
			zap.String("change_id", c.changeID), zap.String("revision", c.revisionSHA.String()),
			zap.String("oid", oid.String()), zap.Int("parents", len(parents)))
	}
	return oid, nil
}

func (c *Commit) buildTree() (store.OID, error) {
	tree, err := c.s.EmptyTree()
	if err != nil {
		return store.OID{}, err
	}
	for path, actions := range c.actions {
		if len(actions) == 0 {
			continue
		}
		data, err := goccyjson.MarshalIndent(actions, "", "  ")
		if err != nil {
			return store.OID{}, errors.Wrapf(err, "comment: encode action log for %s", path)
		}
		blobOID, err := c.s.PutBlob(data)
		if err != nil {
			return store.OID{}, err
		}
		tree, err = treeedit.Insert(c.s, tree, path, blobOID, store.ModeRegular)
		if err != nil {
			return store.OID{}, err
		}
	}
	return tree, nil
}

// collectParents returns the distinct target SHAs referenced by every
// Create action across every file's log, in first-seen order.
func (c *Commit) collectParents() ([]store.OID, error) {
	seen := map[store.OID]bool{}
	var parents []store.OID
	for _, actions := range c.actions {
		for _, entry := range actions {
			if entry.Action.Type != commentlog.ActionCreate {
				continue
			}
			oid, ok := hash.MaybeParse(entry.Action.TargetSHA)
			if !ok {
				return nil, errors.Errorf("comment: malformed target_sha %q", entry.Action.TargetSHA)
			}
			if seen[oid] {
				continue
			}
			seen[oid] = true
			parents = append(parents, oid)
		}
	}
	return parents, nil
}

// Close releases the comment lock. It must be called exactly once, however
// the engine's lifetime ends.
func (c *Commit) Close() error {
	return c.lock.Release()
}
