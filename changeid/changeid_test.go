package changeid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Yuki-bun/kenjutu/changeid"
)

func TestDeriveLength(t *testing.T) {
	var h [20]byte
	got := changeid.Derive(h)
	assert.Len(t, got, 32)
}

func TestDeriveIsDeterministic(t *testing.T) {
	var h [20]byte
	for i := range h {
		h[i] = byte(i * 7)
	}
	assert.Equal(t, changeid.Derive(h), changeid.Derive(h))
}

func TestDeriveAllZeroTailEncodesAllZ(t *testing.T) {
	var h [20]byte
	got := changeid.Derive(h)
	for _, c := range got {
		assert.Equal(t, byte('z'), byte(c))
	}
}

func TestDeriveAllOnesTailEncodesAllK(t *testing.T) {
	var h [20]byte
	for i := 4; i < 20; i++ {
		h[i] = 0xff
	}
	got := changeid.Derive(h)
	for _, c := range got {
		assert.Equal(t, byte('k'), byte(c))
	}
}

func TestDeriveSingleBitProducesExpectedSymbol(t *testing.T) {
	var h [20]byte
	h[19] = 0x01 // last tail byte, low bit set; reverse-bits(0x01) = 0x80
	got := changeid.Derive(h)
	// reversed byte order puts commitHash[19] first; reverse-bits(0x01)=0x80 -> nibbles (8,0)
	assert.Equal(t, byte(alphabetAt(8)), got[0])
	assert.Equal(t, byte(alphabetAt(0)), got[1])
}

func alphabetAt(nibble int) byte {
	const alphabet = "zyxwvutsrqponmlk"
	return alphabet[nibble]
}
