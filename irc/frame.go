package irc

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// terminator delimits frames on the wire.
const terminator = "\r\n"

// FrameReader accumulates raw bytes from the socket and yields complete
// CRLF-delimited frames. Bytes after the last terminator are retained for the
// next read, so a terminator split across two reads is still detected.
type FrameReader struct {
	rem []byte
}

// Feed appends a chunk of newly read bytes and returns every complete frame
// now available, in arrival order. Invalid UTF-8 inside a frame is repaired
// with the replacement rune rather than failing; the retained remainder stays
// raw bytes so a rune split across reads is not corrupted.
func (r *FrameReader) Feed(chunk []byte) []string {
	r.rem = append(r.rem, chunk...)
	var frames []string
	for {
		i := bytes.Index(r.rem, []byte(terminator))
		if i < 0 {
			break
		}
		frames = append(frames, decodeLossy(r.rem[:i]))
		r.rem = r.rem[i+len(terminator):]
	}
	if len(r.rem) == 0 {
		r.rem = nil
	}
	return frames
}

// Pending reports how many bytes are buffered awaiting a terminator.
func (r *FrameReader) Pending() int { return len(r.rem) }

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
