package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/stream-herald/telemetry"
)

// historySize bounds the diagnostics ring of played notifications.
const historySize = 20

// defaultTick is the scheduler polling interval.
const defaultTick = 100 * time.Millisecond

// Sink receives dispatched notifications. Dispatch reports whether anyone
// will display the notification; false means nobody is connected and the
// event is vacuous.
type Sink interface {
	Dispatch(n Notification) bool
}

// Queue is the FIFO of pending display events. At most one notification is
// active system-wide: the scheduler dispatches the head only when idle, and
// returns to idle only after the sink signals that every consumer finished.
type Queue struct {
	sink     Sink
	tick     time.Duration
	chatEcho func(text string)
	override Override

	mu       sync.Mutex
	pending  []Notification
	history  []Notification
	active   bool
	finished bool
	started  time.Time
}

// NewQueue builds a queue draining into sink.
func NewQueue(sink Sink) *Queue {
	return &Queue{sink: sink, tick: defaultTick}
}

// SetChatEcho installs the function used to echo a notification's chat text.
func (q *Queue) SetChatEcho(fn func(text string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chatEcho = fn
}

// SetOverride installs the override applied to each notification before
// dispatch.
func (q *Queue) SetOverride(fn Override) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.override = fn
}

// Push appends a notification. Never blocks.
func (q *Queue) Push(n Notification) {
	q.mu.Lock()
	q.pending = append(q.pending, n)
	depth := len(q.pending)
	q.mu.Unlock()
	telemetry.NotificationsQueued.Inc()
	telemetry.SetNotificationQueueDepth(depth)
	slog.Debug("notification queued", slog.String("type", n.Type.String()), slog.Int("depth", depth), slog.String("component", "notify"))
}

// SignalFinished marks the active notification globally finished. Called by
// the sink once every consumer acknowledged completion (or none remain).
func (q *Queue) SignalFinished() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
}

// Depth reports the number of pending notifications.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active reports whether a notification is dispatched but not yet finished.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// History returns a copy of the bounded ring of played notifications,
// oldest first.
func (q *Queue) History() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.history))
	copy(out, q.history)
	return out
}

// Run polls the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()
	slog.Info("notification scheduler started", slog.Duration("tick", q.tick), slog.String("component", "notify"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.step()
		}
	}
}

// step advances the scheduler by one tick: finish the active notification if
// everyone acked, otherwise dispatch the next pending one.
func (q *Queue) step() {
	q.mu.Lock()
	if q.active {
		if q.finished {
			q.active = false
			telemetry.ObserveNotificationDuration(time.Since(q.started))
		}
		q.mu.Unlock()
		return
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	n := q.pending[0]
	q.pending = q.pending[1:]
	depth := len(q.pending)
	echo := q.chatEcho
	override := q.override
	// clear the finished flag before dispatch so an ack racing the dispatch
	// is never lost
	q.finished = false
	q.mu.Unlock()
	telemetry.SetNotificationQueueDepth(depth)

	if override != nil {
		n = override(n)
	}
	if n.ChatText != "" && echo != nil {
		echo(n.ChatText)
	}

	delivered := q.sink.Dispatch(n)

	q.mu.Lock()
	q.appendHistoryLocked(n)
	if delivered {
		q.active = true
		q.started = time.Now()
		telemetry.NotificationsDispatched.Inc()
	} else {
		// vacuous dispatch: nobody connected, the event is dropped rather
		// than deferred
		telemetry.NotificationsVacuous.Inc()
		slog.Info("notification dispatched to empty registry, dropped", slog.String("type", n.Type.String()), slog.String("component", "notify"))
	}
	q.mu.Unlock()
}

func (q *Queue) appendHistoryLocked(n Notification) {
	q.history = append(q.history, n)
	if len(q.history) > historySize {
		q.history = q.history[len(q.history)-historySize:]
	}
}
