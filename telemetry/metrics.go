// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	ChatConnects            = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_chat_connects_total", Help: "Number of IRC connection attempts"})
	ChatFramesTotal         = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_chat_frames_total", Help: "Number of IRC frames received"})
	ChatFramesMalformed     = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_chat_frames_malformed_total", Help: "Number of IRC frames that could not be classified"})
	ChatMessagesSent        = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_chat_messages_sent_total", Help: "Number of outbound IRC messages written"})
	EventSubNotifications   = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_eventsub_notifications_total", Help: "Number of EventSub notification envelopes received"})
	NotificationsQueued     = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_queued_total", Help: "Number of notifications pushed onto the queue"})
	NotificationsDispatched = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_dispatched_total", Help: "Number of notifications delivered to at least one overlay client"})
	NotificationsVacuous    = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_vacuous_total", Help: "Number of notifications dispatched with no overlay clients connected"})

	// Histograms (seconds)
	NotificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_notification_duration_seconds", Help: "Time from dispatch to all clients finished", Buckets: prometheus.DefBuckets})

	// Gauges
	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_notification_queue_depth", Help: "Current number of pending notifications"})
	OverlayClientsGauge    = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_overlay_clients", Help: "Current number of connected overlay clients"})
)

// SetNotificationQueueDepth records current pending notification count.
func SetNotificationQueueDepth(n int) {
	NotificationQueueDepth.Set(float64(n))
}

// SetOverlayClients records current overlay registry size.
func SetOverlayClients(n int) {
	OverlayClientsGauge.Set(float64(n))
}

// ObserveNotificationDuration records a completed playback duration.
func ObserveNotificationDuration(d time.Duration) {
	NotificationDuration.Observe(d.Seconds())
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
