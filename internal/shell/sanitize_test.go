package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePreservesPrintableText(t *testing.T) {
	in := []byte("hello world\n")
	assert.Equal(t, in, sanitize(in))
}

func TestSanitizeStripsControlBytes(t *testing.T) {
	in := []byte("a\x00b\x07c\x7fd")
	assert.Equal(t, []byte("abcd"), sanitize(in))
}

func TestSanitizeKeepsNewlineCarriageReturnTab(t *testing.T) {
	in := []byte("a\nb\rc\td")
	assert.Equal(t, in, sanitize(in))
}

func TestSanitizePreservesCSISequence(t *testing.T) {
	in := []byte("\x1b[31mred\x1b[0m")
	assert.Equal(t, in, sanitize(in))
}

func TestSanitizeDropsBareEscape(t *testing.T) {
	// Only the ESC byte is unrecognized/dropped; "Z" and "b" aren't part
	// of any escape sequence, so they pass through as ordinary text.
	in := []byte("a\x1bZb")
	assert.Equal(t, []byte("aZb"), sanitize(in))
}

func TestSanitizeDropsInvalidUTF8(t *testing.T) {
	in := []byte{'a', 0xff, 'b'}
	assert.Equal(t, []byte("ab"), sanitize(in))
}

func TestSanitizeKeepsValidMultibyteUTF8(t *testing.T) {
	in := []byte("héllo")
	assert.Equal(t, in, sanitize(in))
}

func TestCSISequenceLenIncompleteSequence(t *testing.T) {
	n, status := csiSequenceLen([]byte("\x1b[31"))
	assert.Equal(t, csiIncomplete, status)
	assert.Equal(t, 0, n)
}

func TestCSISequenceLenRejectsNonCSI(t *testing.T) {
	n, status := csiSequenceLen([]byte("\x1bZ"))
	assert.Equal(t, csiInvalid, status)
	assert.Equal(t, 0, n)
}

func TestSanitizerCarriesPartialCSIAcrossChunks(t *testing.T) {
	z := &sanitizer{}

	first := z.Sanitize([]byte("a\x1b[31"))
	assert.Equal(t, []byte("a"), first)

	second := z.Sanitize([]byte("mred\x1b[0m"))
	assert.Equal(t, []byte("\x1b[31mred\x1b[0m"), second)
}

func TestSanitizerCarriesBareEscapeAtChunkBoundary(t *testing.T) {
	z := &sanitizer{}

	first := z.Sanitize([]byte("a\x1b"))
	assert.Equal(t, []byte("a"), first)

	// The ESC turns out not to start a CSI sequence once "Z" arrives;
	// only the ESC is dropped, "Zb" passes through as text.
	second := z.Sanitize([]byte("Zb"))
	assert.Equal(t, []byte("Zb"), second)
}

func TestSanitizerIndependentPerInstance(t *testing.T) {
	z1 := &sanitizer{}
	z2 := &sanitizer{}

	out1 := z1.Sanitize([]byte("\x1b[31"))
	assert.Empty(t, out1)

	// z2 starts fresh: a complete, unrelated CSI sequence passes through
	// in one call, unaffected by z1's pending partial sequence.
	out2 := z2.Sanitize([]byte("\x1b[0m"))
	assert.Equal(t, []byte("\x1b[0m"), out2)
}
