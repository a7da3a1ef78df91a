package irc

import (
	"errors"
	"strings"
)

// hostMarker separates the tag header from the command in tmi frames. Both
// user-sourced PRIVMSGs and server-sourced USERNOTICEs carry it immediately
// before the message verb.
const hostMarker = "tmi.twitch.tv "

// pongReply answers the server keep-alive.
const pongReply = "PONG :tmi.twitch.tv\r\n"

// ErrNoSeparator marks a frame with no recognizable header/command boundary.
// Such frames are non-actionable but never fatal to the session.
var ErrNoSeparator = errors.New("irc: frame has no header separator")

// Message is one classified inbound frame.
type Message struct {
	Raw  string
	Type string
	Body string
	Tags Tags
	Meta Metadata
}

// IsKeepAlive reports whether a raw frame is the server PING. The check runs
// on the raw frame before classification so the reply is never delayed by
// parsing.
func IsKeepAlive(frame string) bool {
	return frame == "PING" || strings.HasPrefix(frame, "PING ")
}

// Classify splits a frame into tag header and command, extracts the message
// type (the token after the host marker), the body (everything after the
// first colon past the type token), and the derived metadata. Frames without
// the marker return ErrNoSeparator and an otherwise empty message.
func Classify(frame string) (Message, error) {
	m := Message{Raw: frame}
	i := strings.Index(frame, hostMarker)
	if i < 0 {
		return m, ErrNoSeparator
	}
	header := frame[:i]
	rest := frame[i+len(hostMarker):]

	typ, after, _ := strings.Cut(rest, " ")
	m.Type = typ
	if _, body, ok := strings.Cut(after, ":"); ok {
		m.Body = body
	}

	m.Tags = ParseTags(header)
	m.Meta = MetadataFrom(m.Tags)
	return m, nil
}
