// Package irc implements the persistent Twitch chat connection: CRLF frame
// extraction from the raw TCP stream, tag-header classification of inbound
// messages, and a reconnecting session with a rate-limited outbound queue.
//
// The session never terminates on its own: transport errors close the
// connection, the session sleeps a fixed cool-down, and reconnects. Malformed
// frames are logged and dropped; they never abort the session.
package irc
