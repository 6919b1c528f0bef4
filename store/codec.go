package store

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Yuki-bun/kenjutu/hash"
)

// Trees go through go-git's plumbing/object Encode/Decode (see
// Store.GetTree/PutTree), blobs are decoded with object.Blob and written as
// raw bytes straight to the storer (see Store.GetBlob/PutBlob), so their on-disk
// byte layout and hashing live in go-git, not here. Commits are the one
// exception: jj's non-standard "jj:trees" header field (see package
// materialize) has to round-trip byte-for-byte, and go-git's object.Commit
// decoder silently discards any header key it doesn't recognize (tree,
// parent, author, committer, gpgsig), so it can't carry that field back out.
// encodeCommit/decodeCommit below write and parse the same canonical
// "tree/parent/author/committer/<headers>/blank-line/message" layout git
// itself uses; the result still passes straight through go-git's storer
// (SetEncodedObject/EncodedObject), which hashes whatever payload bytes it's
// given without interpreting them, so the two compose cleanly.
var errMalformedObject = errors.New("store: malformed object payload")

func encodeCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree.String())
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p.String())
	}
	fmt.Fprintf(&buf, "author %s\n", formatSignature(c.Author))
	fmt.Fprintf(&buf, "committer %s\n", formatSignature(c.Committer))

	keys := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s %s\n", k, c.Headers[k])
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func decodeCommit(payload []byte) (*Commit, error) {
	text := string(payload)
	headerPart, message, found := strings.Cut(text, "\n\n")
	if !found {
		headerPart, message = text, ""
	}

	c := &Commit{Headers: map[string]string{}}
	for _, line := range strings.Split(headerPart, "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, errMalformedObject
		}
		switch key {
		case "tree":
			c.Tree = hash.Parse(value)
		case "parent":
			c.Parents = append(c.Parents, hash.Parse(value))
		case "author":
			sig, err := parseSignature(value)
			if err != nil {
				return nil, err
			}
			c.Author = sig
		case "committer":
			sig, err := parseSignature(value)
			if err != nil {
				return nil, err
			}
			c.Committer = sig
		default:
			c.Headers[key] = value
		}
	}
	c.Message = message
	return c, nil
}

func formatSignature(s Signature) string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

func parseSignature(s string) (Signature, error) {
	lt := strings.LastIndexByte(s, '<')
	gt := strings.LastIndexByte(s, '>')
	if lt < 0 || gt < 0 || gt < lt {
		return Signature{}, errMalformedObject
	}
	name := strings.TrimSpace(s[:lt])
	email := s[lt+1 : gt]
	rest := strings.Fields(s[gt+1:])
	if len(rest) < 1 {
		return Signature{}, errMalformedObject
	}
	unix, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return Signature{}, errors.Wrap(err, "store: malformed signature timestamp")
	}
	return Signature{Name: name, Email: email, When: unixSignatureTime(unix)}, nil
}
