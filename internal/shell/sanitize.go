package shell

import "unicode/utf8"

// sanitizer strips control bytes from a stream of Read() chunks, carrying
// a possibly-incomplete ANSI CSI escape sequence across chunk boundaries.
// Output is read in fixed-size slices (readChunkSize in executor.go), so
// a sequence can straddle two reads; without this, the trailing half
// would be misread as a bare escape and its param/final bytes would leak
// through as literal text. One sanitizer belongs to one stream for its
// whole lifetime.
type sanitizer struct {
	pending []byte
}

// Sanitize processes one chunk, prepending any escape bytes held over
// from a previous call.
func (z *sanitizer) Sanitize(in []byte) []byte {
	buf := in
	if len(z.pending) > 0 {
		buf = make([]byte, 0, len(z.pending)+len(in))
		buf = append(buf, z.pending...)
		buf = append(buf, in...)
	}
	out, pending := sanitizeChunk(buf)
	z.pending = pending
	return out
}

// sanitize strips control bytes from a single, complete chunk. Streaming
// callers should use a *sanitizer instead, so a sequence split across
// reads isn't mistaken for a bare escape.
func sanitize(in []byte) []byte {
	out, _ := sanitizeChunk(in)
	return out
}

// sanitizeChunk strips control bytes that would corrupt downstream text
// handling (e.g. embedding raw output in a JSON string), while preserving
// visually-meaningful formatting: newline, carriage return, tab, valid
// UTF-8 text, and ANSI CSI escape sequences (used by PTY sessions for
// cursor movement and color). It returns the sanitized bytes plus any
// trailing incomplete CSI sequence, to be retried once more bytes arrive.
func sanitizeChunk(in []byte) (out, pending []byte) {
	out = make([]byte, 0, len(in))
	i := 0
	for i < len(in) {
		b := in[i]

		switch {
		case b == '\n' || b == '\r' || b == '\t':
			out = append(out, b)
			i++

		case b == 0x1b: // ESC
			seqLen, status := csiSequenceLen(in[i:])
			switch status {
			case csiComplete:
				out = append(out, in[i:i+seqLen]...)
				i += seqLen
			case csiIncomplete:
				return out, append([]byte(nil), in[i:]...)
			default: // csiInvalid
				i++ // bare/unrecognized escape: drop it
			}

		case b < 0x20 || b == 0x7f:
			// Other C0 control bytes and DEL: strip.
			i++

		case b < 0x80:
			// Printable ASCII.
			out = append(out, b)
			i++

		default:
			r, size := utf8.DecodeRune(in[i:])
			if r == utf8.RuneError && size <= 1 {
				i++ // invalid byte: drop it
				continue
			}
			out = append(out, in[i:i+size]...)
			i += size
		}
	}
	return out, nil
}

// csiStatus classifies an attempted CSI-sequence scan.
type csiStatus int

const (
	csiInvalid csiStatus = iota
	csiComplete
	csiIncomplete
)

// csiSequenceLen recognizes "ESC [ <params/intermediates> <final>" and
// returns its total byte length. params/intermediates are 0x20-0x3f, the
// final byte is 0x40-0x7e. Returns csiIncomplete when in doesn't yet hold
// enough bytes to decide (the sequence may still be completed by the next
// chunk), and csiInvalid when in definitely isn't a CSI sequence.
func csiSequenceLen(in []byte) (int, csiStatus) {
	if len(in) == 0 || in[0] != 0x1b {
		return 0, csiInvalid
	}
	if len(in) < 2 {
		return 0, csiIncomplete
	}
	if in[1] != '[' {
		return 0, csiInvalid
	}
	if len(in) < 3 {
		return 0, csiIncomplete
	}
	for i := 2; i < len(in); i++ {
		b := in[i]
		if b >= 0x40 && b <= 0x7e {
			return i + 1, csiComplete
		}
		if b < 0x20 || b > 0x3f {
			return 0, csiInvalid // not a valid intermediate/param byte
		}
	}
	return 0, csiIncomplete // sequence not yet complete in this chunk
}
