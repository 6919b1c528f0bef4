// Package hash implements the 20-byte content address used throughout the
// review substrate to name blobs, trees and commits.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// ByteLen is the length in bytes of an OID.
const ByteLen = 20

// StringLen is the length of an OID's hex string representation.
const StringLen = ByteLen * 2

// OID is a content address: the sha1 digest of an object's canonical byte
// encoding. It is binary-compatible with go-git's plumbing.Hash.
type OID [ByteLen]byte

// Empty is the zero-valued OID.
var Empty OID

// Of returns the OID of data, with no type framing.
func Of(data []byte) OID {
	return OID(sha1.Sum(data))
}

// New wraps b as an OID, panicking if b is not exactly ByteLen bytes.
func New(b []byte) OID {
	if len(b) != ByteLen {
		panic(fmt.Sprintf("hash: New() needs %d bytes, got %d", ByteLen, len(b)))
	}
	var h OID
	copy(h[:], b)
	return h
}

// Parse decodes a hex string into an OID. It panics on malformed input; use
// MaybeParse when the input is not already known to be well-formed.
func Parse(s string) OID {
	h, ok := MaybeParse(s)
	if !ok {
		panic(fmt.Sprintf("hash: invalid OID %q", s))
	}
	return h
}

// MaybeParse decodes a hex string into an OID, reporting false on malformed
// input instead of panicking.
func MaybeParse(s string) (OID, bool) {
	if len(s) != StringLen {
		return Empty, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Empty, false
	}
	return New(b), true
}

// String returns the lowercase hex encoding of h.
func (h OID) String() string {
	return hex.EncodeToString(h[:])
}

// IsEmpty reports whether h is the zero OID.
func (h OID) IsEmpty() bool {
	return h == Empty
}

// Less reports whether h sorts before other, byte-wise.
func (h OID) Less(other OID) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// Greater reports whether h sorts after other, byte-wise.
func (h OID) Greater(other OID) bool {
	return other.Less(h)
}

// Digest returns a copy of h's underlying bytes.
func (h OID) Digest() [ByteLen]byte {
	return [ByteLen]byte(h)
}

// DigestSlice returns a freshly allocated copy of h's bytes.
func (h OID) DigestSlice() []byte {
	out := make([]byte, ByteLen)
	copy(out, h[:])
	return out
}

// FromData is an alias for Of, named to match the hex-digest convenience
// constructors this package's sibling OID helpers expose.
func FromData(data []byte) OID {
	return Of(data)
}
