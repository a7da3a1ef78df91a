// Command stream-herald is the main entrypoint for the chat bot and overlay service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background jobs: the IRC chat session, the EventSub listener,
//     the notification queue, and the OAuth token refresher.
//   - Exposes an HTTP server with the overlay page, its websocket, health
//     probes, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/stream-herald/config"
	"github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/eventsub"
	"github.com/onnwee/stream-herald/irc"
	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/oauth"
	"github.com/onnwee/stream-herald/overlay"
	"github.com/onnwee/stream-herald/server"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("stream-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations: versioned migrations (golang-migrate) from
	// db/migrations/ first, falling back to the embedded SQL for deployments
	// without a schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Notification pipeline: hub fans payloads out to overlay clients, queue
	// feeds the hub one notification at a time.
	hub := overlay.NewHub()
	queue := notify.NewQueue(hub)
	hub.SetFinishedFunc(queue.SignalFinished)
	// operator display overrides (volumes, position) from the kv table
	queue.SetOverride(notify.NewKVOverride(database))
	go queue.Run(ctx)

	// Chat token: prefer the persisted (refreshable) OAuth token, fall back to
	// the static env token. Consulted on every reconnect so refreshed tokens
	// are picked up.
	chatToken := func(tctx context.Context) string {
		if access, _, _, _, err := db.GetOAuthToken(tctx, database, "twitch"); err == nil && access != "" {
			return access
		}
		return strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:")
	}

	eventSubEnabled := cfg.ValidateEventSubReady() == nil

	var chat *irc.Session
	if err := cfg.ValidateChatReady(); err == nil {
		chat = irc.NewSession(irc.Options{
			Addr:           cfg.IRCAddr,
			Channel:        cfg.TwitchChannel,
			Nick:           cfg.TwitchBotUsername,
			Token:          chatToken,
			SendInterval:   cfg.SendInterval,
			ReconnectDelay: cfg.ReconnectDelay,
		})
		wireChatHandlers(chat, queue, eventSubEnabled)
		queue.SetChatEcho(chat.Say)
		go chat.Run(ctx)
	} else {
		slog.Info("chat session disabled", slog.Any("err", err))
	}

	// EventSub listener: requires client credentials for Helix calls and a
	// broadcaster user token for subscription creation.
	if eventSubEnabled {
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		listener := &eventsub.Listener{
			URL:     cfg.EventSubURL,
			Channel: cfg.TwitchChannel,
			Helix:   helix,
			Queue:   queue,
			Token: func(tctx context.Context) (string, error) {
				access, _, _, _, err := db.GetOAuthToken(tctx, database, "twitch")
				if err != nil {
					return "", fmt.Errorf("load twitch user token: %w", err)
				}
				if access == "" {
					return "", fmt.Errorf("no twitch user token stored; complete /auth/twitch/start first")
				}
				return access, nil
			},
		}
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("eventsub listener exited", slog.Any("err", err), slog.String("component", "eventsub"))
			}
		}()
	} else {
		slog.Info("eventsub listener disabled (missing client id/secret or channel)")
	}

	// Centralized OAuth token refresher
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (overlay/health/status/metrics/oauth)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	deps := server.Deps{
		DB:      database,
		Cfg:     cfg,
		Chat:    chat,
		Queue:   queue,
		Hub:     hub,
		DataDir: cfg.DataDir,
	}
	go func() {
		if err := server.Start(ctx, deps, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// wireChatHandlers registers the inbound message handlers on the chat session.
// When the EventSub listener is active it is the source of truth for bits,
// redemptions, and sub events; the chat handlers then only report them so the
// same event never produces two notifications.
func wireChatHandlers(chat *irc.Session, queue *notify.Queue, eventSubEnabled bool) {
	started := time.Now()

	router := irc.NewRouter()
	router.Command("!commands", func(irc.Message) string {
		return "available commands: !commands !uptime"
	})
	router.Command("!uptime", func(irc.Message) string {
		return "herald online for " + time.Since(started).Round(time.Second).String()
	})

	chat.Handle("PRIVMSG", func(msg irc.Message) {
		name := msg.Meta.DisplayName
		if name == "" {
			name = "Anonymous"
		}
		if !eventSubEnabled {
			if msg.Meta.Bits != "" {
				if amount, err := strconv.Atoi(msg.Meta.Bits); err == nil && amount > 0 {
					queue.Push(notify.NewBits(name, amount))
				}
			}
			if msg.Meta.CustomRewardID != "" {
				queue.Push(notify.NewRedemption(name, msg.Meta.CustomRewardID))
			}
		}
		if reply := router.Route(msg); reply != "" {
			chat.Reply(msg.Meta.MessageID, reply)
		}
		slog.Info("chat message",
			slog.String("badge", string(msg.Meta.Badge)),
			slog.String("user", name),
			slog.String("body", msg.Body),
			slog.String("component", "chat"))
	})

	chat.Handle("USERNOTICE", func(msg irc.Message) {
		name := msg.Meta.DisplayName
		if name == "" {
			name = "Anonymous"
		}
		event := msg.Meta.SubEventID
		if !eventSubEnabled {
			switch event {
			case "sub":
				queue.Push(notify.NewSubscription(name))
			case "resub":
				months, _ := strconv.Atoi(msg.Tags["msg-param-cumulative-months"])
				queue.Push(notify.NewSubscriptionExtended(name, months))
			case "subgift":
				recipient := msg.Tags["msg-param-recipient-display-name"]
				if recipient == "" {
					recipient = "Anonymous"
				}
				queue.Push(notify.NewSubscriptionGiftReceived(recipient))
			case "submysterygift":
				count, _ := strconv.Atoi(msg.Tags["msg-param-mass-gift-count"])
				queue.Push(notify.NewSubscriptionGift(name, count))
			case "raid":
				viewers, _ := strconv.Atoi(msg.Tags["msg-param-viewerCount"])
				queue.Push(notify.NewRaid(name, viewers))
			}
		}
		slog.Info("user notice",
			slog.String("event", event),
			slog.String("user", name),
			slog.String("body", msg.Body),
			slog.String("component", "chat"))
	})

	chat.Handle("CLEARCHAT", func(msg irc.Message) {
		slog.Info("chat cleared / user banned",
			slog.String("target", msg.Body),
			slog.String("component", "chat"))
	})

	chat.Handle("CLEARMSG", func(msg irc.Message) {
		slog.Info("message deleted",
			slog.String("login", msg.Tags["login"]),
			slog.String("body", msg.Body),
			slog.String("component", "chat"))
	})

	chat.HandleDefault(func(msg irc.Message) {
		slog.Debug("unhandled frame", slog.String("raw", msg.Raw), slog.String("component", "chat"))
	})
}
