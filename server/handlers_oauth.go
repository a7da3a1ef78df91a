package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	dbpkg "github.com/onnwee/stream-herald/db"
)

// oauthConfig builds the authorization-code flow config from the loaded
// Twitch credentials.
func (h *Handlers) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.deps.Cfg.TwitchClientID,
		ClientSecret: h.deps.Cfg.TwitchClientSecret,
		RedirectURL:  h.deps.Cfg.TwitchRedirectURI,
		Scopes:       strings.Fields(h.deps.Cfg.TwitchScopes),
		Endpoint:     endpoints.Twitch,
	}
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cfg.TwitchClientID == "" || h.deps.Cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.oauthConfig().AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	tok, err := h.oauthConfig().Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// persist tokens through the encryption-aware helper
	scope := h.deps.Cfg.TwitchScopes
	if s, ok := tok.Extra("scope").([]interface{}); ok {
		parts := make([]string, 0, len(s))
		for _, v := range s {
			if str, ok := v.(string); ok {
				parts = append(parts, str)
			}
		}
		if len(parts) > 0 {
			scope = strings.Join(parts, " ")
		}
	}
	if err := dbpkg.UpsertOAuthToken(ctx, h.deps.DB, "twitch", tok.AccessToken, tok.RefreshToken, tok.Expiry, scope); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scope": scope, "expiry": tok.Expiry}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
