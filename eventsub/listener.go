// Package eventsub maintains the Twitch EventSub websocket: it dials the
// endpoint, registers the channel's subscriptions against each new session,
// and turns notification envelopes into display notifications.
package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/twitchapi"
)

const (
	reconnectDelay = time.Second

	// authWaitDelay paces redials while no user token is stored yet, so the
	// pre-authorization steady state doesn't hammer the endpoint every second.
	authWaitDelay = 30 * time.Second
)

// errTokenUnavailable marks a session that ended because no user token could
// be loaded; the listener keeps waiting for the operator to authorize.
var errTokenUnavailable = errors.New("user token unavailable")

// errSubscriptionsRejected marks a session where a token was present but
// every subscription attempt was refused. Retrying cannot help, so Run exits.
var errSubscriptionsRejected = errors.New("all eventsub subscriptions rejected")

// UserTokenFunc returns the broadcaster's current user access token.
type UserTokenFunc func(ctx context.Context) (string, error)

// Listener owns the EventSub websocket lifecycle for one channel.
type Listener struct {
	URL     string
	Channel string
	Helix   *twitchapi.HelixClient
	Token   UserTokenFunc
	Queue   *notify.Queue

	// Dial overrides the websocket dialer in tests.
	Dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

type envelope struct {
	Metadata struct {
		MessageID   string `json:"message_id"`
		MessageType string `json:"message_type"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID           string `json:"id"`
			ReconnectURL string `json:"reconnect_url"`
		} `json:"session"`
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}

// subscriptions lists every EventSub type the herald registers per session.
// channel.follow is the only one still on version 2.
func subscriptions(broadcasterID string) []twitchapi.SubscriptionRequest {
	both := map[string]string{"broadcaster_user_id": broadcasterID}
	follow := map[string]string{"broadcaster_user_id": broadcasterID, "moderator_user_id": broadcasterID}
	raid := map[string]string{"to_broadcaster_user_id": broadcasterID}
	return []twitchapi.SubscriptionRequest{
		{Type: "channel.follow", Version: "2", Condition: follow},
		{Type: "channel.subscribe", Version: "1", Condition: both},
		{Type: "channel.subscription.gift", Version: "1", Condition: both},
		{Type: "channel.subscription.message", Version: "1", Condition: both},
		{Type: "channel.cheer", Version: "1", Condition: both},
		{Type: "channel.channel_points_custom_reward_redemption.add", Version: "1", Condition: both},
		{Type: "channel.raid", Version: "1", Condition: raid},
	}
}

func (l *Listener) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	if l.Dial != nil {
		return l.Dial(ctx, url)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Run connects and processes envelopes until ctx is canceled. Transport
// errors trigger a fresh dial after a short delay; a session handing out a
// reconnect URL is followed without delay. A missing user token is waited
// out on a longer delay; a session whose every subscription was rejected
// ends the listener, since redialing would only repeat the refusals.
func (l *Listener) Run(ctx context.Context) error {
	url := l.URL
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next, err := l.serve(ctx, url)
		delay := reconnectDelay
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errSubscriptionsRejected) {
				slog.Error("eventsub listener giving up", slog.Any("err", err), slog.String("component", "eventsub"))
				return err
			}
			if errors.Is(err, errTokenUnavailable) {
				delay = authWaitDelay
				slog.Info("eventsub waiting for user authorization", slog.Any("err", err), slog.String("component", "eventsub"))
			} else {
				slog.Warn("eventsub session ended", slog.Any("err", err), slog.String("component", "eventsub"))
			}
		}
		if next != "" {
			url = next
			continue
		}
		url = l.URL
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// serve runs one websocket session. It returns a non-empty URL when the
// server asked us to migrate to a new endpoint.
func (l *Listener) serve(ctx context.Context, url string) (string, error) {
	conn, err := l.dial(ctx, url)
	if err != nil {
		return "", fmt.Errorf("dial eventsub: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// unblock ReadMessage when the context ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("unparseable eventsub envelope", slog.Any("err", err), slog.String("component", "eventsub"))
			continue
		}
		switch env.Metadata.MessageType {
		case "session_welcome":
			if err := l.subscribe(ctx, env.Payload.Session.ID); err != nil {
				return "", err
			}
		case "session_keepalive":
			// nothing to do; the read itself proves liveness
		case "session_reconnect":
			return env.Payload.Session.ReconnectURL, nil
		case "notification":
			telemetry.EventSubNotifications.Inc()
			l.handleNotification(env.Payload.Subscription.Type, env.Payload.Event)
		default:
			slog.Debug("ignoring eventsub message", slog.String("type", env.Metadata.MessageType), slog.String("component", "eventsub"))
		}
	}
}

// subscribe registers the full subscription set against a fresh session.
// Twitch drops sessions with no subscriptions shortly after the welcome, so
// this runs immediately. Partial failure is tolerated; total failure is not.
func (l *Listener) subscribe(ctx context.Context, sessionID string) error {
	token, err := l.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errTokenUnavailable, err)
	}
	broadcasterID, err := l.Helix.GetUserID(ctx, l.Channel)
	if err != nil {
		return fmt.Errorf("resolve broadcaster: %w", err)
	}

	subs := subscriptions(broadcasterID)
	failed := 0
	for _, sub := range subs {
		sub.SessionID = sessionID
		if err := l.Helix.CreateEventSubSubscription(ctx, token, sub); err != nil {
			failed++
			slog.Warn("eventsub subscription failed", slog.String("type", sub.Type), slog.Any("err", err), slog.String("component", "eventsub"))
		}
	}
	if failed == len(subs) {
		return fmt.Errorf("%w (%d attempted)", errSubscriptionsRejected, failed)
	}
	slog.Info("eventsub session ready", slog.String("session", sessionID), slog.Int("subscriptions", len(subs)-failed), slog.String("component", "eventsub"))
	return nil
}

func (l *Listener) handleNotification(subType string, raw json.RawMessage) {
	var ev struct {
		UserName                string `json:"user_name"`
		FromBroadcasterUserName string `json:"from_broadcaster_user_name"`
		IsAnonymous             bool   `json:"is_anonymous"`
		IsGift                  bool   `json:"is_gift"`
		Bits                    int    `json:"bits"`
		Total                   int    `json:"total"`
		CumulativeMonths        int    `json:"cumulative_months"`
		Viewers                 int    `json:"viewers"`
		Reward                  struct {
			Title string `json:"title"`
		} `json:"reward"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("unparseable eventsub event", slog.String("type", subType), slog.Any("err", err), slog.String("component", "eventsub"))
		return
	}
	name := ev.UserName
	if ev.IsAnonymous || name == "" {
		name = "Anonymous"
	}

	switch subType {
	case "channel.follow":
		l.Queue.Push(notify.NewFollow(name))
	case "channel.subscribe":
		if ev.IsGift {
			l.Queue.Push(notify.NewSubscriptionGiftReceived(name))
		} else {
			l.Queue.Push(notify.NewSubscription(name))
		}
	case "channel.subscription.gift":
		l.Queue.Push(notify.NewSubscriptionGift(name, ev.Total))
	case "channel.subscription.message":
		l.Queue.Push(notify.NewSubscriptionExtended(name, ev.CumulativeMonths))
	case "channel.cheer":
		l.Queue.Push(notify.NewBits(name, ev.Bits))
	case "channel.channel_points_custom_reward_redemption.add":
		l.Queue.Push(notify.NewRedemption(name, ev.Reward.Title))
	case "channel.raid":
		l.Queue.Push(notify.NewRaid(ev.FromBroadcasterUserName, ev.Viewers))
	default:
		slog.Debug("unhandled eventsub notification", slog.String("type", subType), slog.String("component", "eventsub"))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
