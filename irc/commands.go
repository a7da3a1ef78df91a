package irc

import "strings"

// Router maps '!'-prefixed chat commands to reply text. A message body maps
// to at most one outbound action; anything that isn't a registered command
// routes to nothing.
type Router struct {
	commands map[string]func(Message) string
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{commands: make(map[string]func(Message) string)}
}

// Command registers a handler for "!name". The handler's return value is the
// reply text; an empty return suppresses the reply.
func (r *Router) Command(name string, fn func(Message) string) {
	r.commands[strings.ToLower(name)] = fn
}

// Route returns the reply for a classified chat message, or "" when the body
// is not a registered command.
func (r *Router) Route(msg Message) string {
	body := strings.TrimSpace(msg.Body)
	if !strings.HasPrefix(body, "!") {
		return ""
	}
	name, _, _ := strings.Cut(body[1:], " ")
	fn, ok := r.commands[strings.ToLower(name)]
	if !ok {
		return ""
	}
	return fn(msg)
}
