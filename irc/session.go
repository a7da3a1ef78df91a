package irc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/onnwee/stream-herald/telemetry"
)

// State is the chat session connection state, exported for /status.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
)

// TokenFunc supplies the current chat OAuth token (without the "oauth:"
// prefix). It is consulted on every connect attempt so a refreshed token is
// picked up at the next reconnect.
type TokenFunc func(ctx context.Context) string

// HandlerFunc consumes one classified message.
type HandlerFunc func(msg Message)

// Options configures a Session. Zero durations fall back to the protocol
// defaults (100ms send interval, 2s reconnect delay).
type Options struct {
	Addr    string
	Channel string
	Nick    string
	Token   TokenFunc

	SendInterval   time.Duration
	ReconnectDelay time.Duration

	// Dial overrides the transport, used by tests. Defaults to TCP.
	Dial func(ctx context.Context) (net.Conn, error)
}

// Session owns one chat connection lifecycle: connect, authenticate, join,
// keep-alive, inbound dispatch, and a rate-limited outbound queue. Producers
// append to the queue from any goroutine; the session alone drains it, one
// message per send interval, so the server-side flood limit is never tripped.
type Session struct {
	opts Options

	mu             sync.Mutex
	sendq          []string
	handlers       map[string]HandlerFunc
	defaultHandler HandlerFunc
	state          State
}

// NewSession builds a session; Run must be called to connect.
func NewSession(opts Options) *Session {
	if opts.SendInterval <= 0 {
		opts.SendInterval = 100 * time.Millisecond
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Dial == nil {
		d := &net.Dialer{Timeout: 10 * time.Second}
		addr := opts.Addr
		opts.Dial = func(ctx context.Context) (net.Conn, error) { return d.DialContext(ctx, "tcp", addr) }
	}
	return &Session{
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		state:    StateDisconnected,
	}
}

// Handle registers the handler for a message type (e.g. "PRIVMSG").
func (s *Session) Handle(msgType string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = fn
}

// HandleDefault registers the fallback for unrecognized message types.
func (s *Session) HandleDefault(fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultHandler = fn
}

// Say queues a chat message to the configured channel.
func (s *Session) Say(text string) {
	s.enqueue("PRIVMSG #" + s.opts.Channel + " :" + text + terminator)
}

// Reply queues a threaded reply to the given parent message id.
func (s *Session) Reply(parentID, text string) {
	if parentID == "" {
		s.Say(text)
		return
	}
	s.enqueue("@reply-parent-msg-id=" + parentID + " PRIVMSG #" + s.opts.Channel + " :" + text + terminator)
}

func (s *Session) enqueue(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendq = append(s.sendq, line)
}

// QueueLen reports the outbound queue depth.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sendq)
}

// State reports the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run connects and streams until ctx is cancelled. Connect failures and
// transport errors are never fatal: the session sleeps a fixed delay and
// retries, unbounded.
func (s *Session) Run(ctx context.Context) {
	for ctx.Err() == nil {
		s.setState(StateConnecting)
		conn, err := s.opts.Dial(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			slog.Error("chat connect error", slog.Any("err", err), slog.String("component", "chat"))
			if !sleepCtx(ctx, s.opts.ReconnectDelay) {
				return
			}
			continue
		}
		telemetry.ChatConnects.Inc()
		slog.Info("chat connected", slog.String("addr", s.opts.Addr), slog.String("channel", s.opts.Channel), slog.String("component", "chat"))

		if err := s.authenticate(ctx, conn); err != nil {
			slog.Error("chat auth write error", slog.Any("err", err), slog.String("component", "chat"))
		} else {
			s.setState(StateStreaming)
			s.stream(ctx, conn)
		}

		_ = conn.Close()
		s.setState(StateDisconnected)
		if !sleepCtx(ctx, s.opts.ReconnectDelay) {
			return
		}
	}
}

// authenticate sends the login sequence. The protocol is fire-and-forget
// here: no acknowledgement is awaited before streaming.
func (s *Session) authenticate(ctx context.Context, conn net.Conn) error {
	token := ""
	if s.opts.Token != nil {
		token = s.opts.Token(ctx)
	}
	lines := []string{
		"PASS oauth:" + token + terminator,
		"NICK " + s.opts.Nick + terminator,
		"JOIN #" + s.opts.Channel + terminator,
		"CAP REQ :twitch.tv/commands twitch.tv/tags" + terminator,
	}
	for _, line := range lines {
		if _, err := conn.Write([]byte(line)); err != nil {
			return err
		}
	}
	return nil
}

// stream is the per-connection loop: timed read attempts feed the frame
// reader, and at most one outbound message drains per send interval.
// Returns when the connection errors or closes.
func (s *Session) stream(ctx context.Context, conn net.Conn) {
	fr := &FrameReader{}
	buf := make([]byte, 16384)
	lastSend := time.Now()

	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.SendInterval))
		n, err := conn.Read(buf)
		switch {
		case err == nil && n == 0:
			// zero-length read: remote closed, not an empty frame
			slog.Warn("chat connection closed by remote", slog.String("component", "chat"))
			return
		case errors.Is(err, io.EOF):
			slog.Warn("chat connection closed by remote", slog.String("component", "chat"))
			return
		case err != nil && !isTimeout(err):
			slog.Error("chat read error", slog.Any("err", err), slog.String("component", "chat"))
			return
		case err == nil:
			for _, frame := range fr.Feed(buf[:n]) {
				s.dispatch(conn, frame)
			}
		}

		if time.Since(lastSend) >= s.opts.SendInterval {
			lastSend = time.Now()
			if line, ok := s.popOutbound(); ok {
				if _, err := conn.Write([]byte(line)); err != nil {
					slog.Error("chat send error", slog.Any("err", err), slog.String("component", "chat"))
					return
				}
				telemetry.ChatMessagesSent.Inc()
			}
		}
	}
}

func (s *Session) popOutbound() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendq) == 0 {
		return "", false
	}
	line := s.sendq[0]
	s.sendq = s.sendq[1:]
	return line, true
}

// dispatch answers keep-alives first, then classifies and routes the frame
// to its type handler. Malformed frames are logged and dropped.
func (s *Session) dispatch(conn net.Conn, frame string) {
	telemetry.ChatFramesTotal.Inc()

	if IsKeepAlive(frame) {
		if _, err := conn.Write([]byte(pongReply)); err != nil {
			slog.Error("chat pong write error", slog.Any("err", err), slog.String("component", "chat"))
		}
		return
	}

	msg, err := Classify(frame)
	if err != nil {
		telemetry.ChatFramesMalformed.Inc()
		slog.Warn("unparseable chat frame", slog.String("frame", frame), slog.String("component", "chat"))
		return
	}

	s.mu.Lock()
	fn := s.handlers[msg.Type]
	if fn == nil {
		fn = s.defaultHandler
	}
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// sleepCtx sleeps for d or until ctx is done; reports whether the full sleep
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
