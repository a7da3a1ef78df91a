package notify

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/stream-herald/db"
)

// Override rewrites a notification just before dispatch. Installed from main
// so operator settings apply without touching the producers.
type Override func(n Notification) Notification

// kv keys holding operator display overrides.
const (
	kvSoundVolume = "sound_volume"
	kvVideoVolume = "video_volume"
	kvDisplayPos  = "display_pos"
)

// NewKVOverride returns an Override backed by the kv table: sound_volume and
// video_volume as floats in [0,1], display_pos as "x,y". Values are read per
// dispatch, so changing them takes effect on the next notification without a
// restart. Missing or unparseable values leave the notification untouched.
func NewKVOverride(dbx *sql.DB) Override {
	return func(n Notification) Notification {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if v, ok := kvVolume(ctx, dbx, kvSoundVolume); ok && n.Sound != "" {
			n.SoundVolume = v
		}
		if v, ok := kvVolume(ctx, dbx, kvVideoVolume); ok && n.Video != "" {
			n.VideoVolume = v
		}
		if pos, ok := kvPosition(ctx, dbx, kvDisplayPos); ok {
			n.DisplayPos = pos
		}
		return n
	}
}

func kvVolume(ctx context.Context, dbx *sql.DB, key string) (float64, bool) {
	raw, err := db.GetKV(ctx, dbx, key)
	if err != nil {
		slog.Warn("kv override read failed", slog.String("key", key), slog.Any("err", err), slog.String("component", "notify"))
		return 0, false
	}
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		slog.Warn("ignoring invalid kv override", slog.String("key", key), slog.String("value", raw), slog.String("component", "notify"))
		return 0, false
	}
	return v, true
}

func kvPosition(ctx context.Context, dbx *sql.DB, key string) (Position, bool) {
	raw, err := db.GetKV(ctx, dbx, key)
	if err != nil || raw == "" {
		return Position{}, false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		slog.Warn("ignoring invalid kv override", slog.String("key", key), slog.String("value", raw), slog.String("component", "notify"))
		return Position{}, false
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		slog.Warn("ignoring invalid kv override", slog.String("key", key), slog.String("value", raw), slog.String("component", "notify"))
		return Position{}, false
	}
	return Position{x, y}, true
}
