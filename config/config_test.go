package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TWITCH_CHANNEL", "IRC_ADDR", "CHAT_SEND_INTERVAL", "CHAT_RECONNECT_DELAY", "EVENTSUB_URL", "DB_DSN", "DATA_DIR"} {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("failed to unset %s: %v", k, err)
		}
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.IRCAddr != "irc.chat.twitch.tv:6667" {
		t.Errorf("IRCAddr = %q, want default twitch irc endpoint", cfg.IRCAddr)
	}
	if cfg.SendInterval != 100*time.Millisecond {
		t.Errorf("SendInterval = %v, want 100ms", cfg.SendInterval)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.ReconnectDelay)
	}
	if cfg.EventSubURL == "" || cfg.DBDsn == "" || cfg.DataDir == "" {
		t.Errorf("expected non-empty defaults, got %+v", cfg)
	}
}

func TestLoadLowercasesChannel(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "SomeStreamer")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchChannel != "somestreamer" {
		t.Errorf("TwitchChannel = %q, want lowercased", cfg.TwitchChannel)
	}
}

func TestLoadInvalidDurations(t *testing.T) {
	t.Setenv("CHAT_SEND_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for invalid CHAT_SEND_INTERVAL")
	}
	t.Setenv("CHAT_SEND_INTERVAL", "")
	t.Setenv("CHAT_RECONNECT_DELAY", "-5s")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for negative CHAT_RECONNECT_DELAY")
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateEventSubReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	cfg, _ := Load()
	if err := cfg.ValidateEventSubReady(); err != nil {
		t.Errorf("expected valid eventsub config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CLIENT_SECRET"); err != nil {
		t.Fatalf("failed to unset TWITCH_CLIENT_SECRET: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateEventSubReady(); err == nil {
		t.Errorf("expected error when missing client secret")
	}
}
