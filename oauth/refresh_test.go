package oauth

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/testutil"
)

func TestStartRefresherDefaults(t *testing.T) {
	dbx := testutil.SetupTestDB(t)

	// Setup: insert a token that doesn't need refresh yet
	futureExpiry := time.Now().Add(1 * time.Hour)
	if err := db.UpsertOAuthToken(context.Background(), dbx, "test-provider", "access123", "refresh456", futureExpiry, "scope1"); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}

	var refreshCalled atomic.Bool
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		refreshCalled.Store(true)
		return "new-access", "new-refresh", time.Now().Add(2 * time.Hour), "scope1", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, dbx, "test-provider", 50*time.Millisecond, 30*time.Minute, refreshFunc)

	<-ctx.Done()

	// Token should not be refreshed because expiry is still far in the future
	if refreshCalled.Load() {
		t.Error("refresh should not have been called for token that expires in 1 hour with 30 min window")
	}
}

func TestStartRefresherWithinWindow(t *testing.T) {
	dbx := testutil.SetupTestDB(t)

	// Setup: insert a token that needs refresh (expires in 5 minutes, window is 15 minutes)
	soonExpiry := time.Now().Add(5 * time.Minute)
	if err := db.UpsertOAuthToken(context.Background(), dbx, "test-provider", "old-access", "old-refresh", soonExpiry, "scope1"); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}

	var refreshCalled atomic.Bool
	newExpiry := time.Now().Add(2 * time.Hour)
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		if refreshToken != "old-refresh" {
			t.Errorf("refresh called with wrong token: got %s, want old-refresh", refreshToken)
		}
		refreshCalled.Store(true)
		return "new-access", "new-refresh", newExpiry, "scope2", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartRefresher(ctx, dbx, "test-provider", 100*time.Millisecond, 15*time.Minute, refreshFunc)

	// jitter can stretch a cycle well past the nominal interval
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !refreshCalled.Load() {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	if !refreshCalled.Load() {
		t.Fatal("refresh should have been called for token expiring within window")
	}

	// Verify token was updated through the encryption-aware helpers
	waitForAccess(t, dbx, "test-provider", "new-access")
	access, refresh, _, scope, err := db.GetOAuthToken(context.Background(), dbx, "test-provider")
	if err != nil {
		t.Fatalf("failed to query updated token: %v", err)
	}
	if access != "new-access" {
		t.Errorf("access token not updated: got %s, want new-access", access)
	}
	if refresh != "new-refresh" {
		t.Errorf("refresh token not updated: got %s, want new-refresh", refresh)
	}
	if scope != "scope2" {
		t.Errorf("scope not updated: got %s, want scope2", scope)
	}
}

func waitForAccess(t *testing.T, dbx *sql.DB, provider, want string) {
	t.Helper()
	// the refresher adds up to 5s of pre-refresh jitter
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		access, _, _, _, err := db.GetOAuthToken(context.Background(), dbx, provider)
		if err == nil && access == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartRefresherRefreshError(t *testing.T) {
	dbx := testutil.SetupTestDB(t)

	soonExpiry := time.Now().Add(5 * time.Minute)
	if err := db.UpsertOAuthToken(context.Background(), dbx, "test-provider", "old-access", "old-refresh", soonExpiry, "scope1"); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}

	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("refresh failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, dbx, "test-provider", 50*time.Millisecond, 15*time.Minute, refreshFunc)

	time.Sleep(200 * time.Millisecond)
	cancel()

	// Verify token was NOT updated (should remain old values)
	access, _, _, _, err := db.GetOAuthToken(context.Background(), dbx, "test-provider")
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}
	if access != "old-access" {
		t.Errorf("token should not have been updated on error, got %s", access)
	}
}

func TestStartRefresherNoRefreshToken(t *testing.T) {
	dbx := testutil.SetupTestDB(t)

	soonExpiry := time.Now().Add(5 * time.Minute)
	if err := db.UpsertOAuthToken(context.Background(), dbx, "test-provider", "access123", "", soonExpiry, "scope1"); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}

	var refreshCalled atomic.Bool
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		refreshCalled.Store(true)
		return "new-access", "new-refresh", time.Now().Add(2 * time.Hour), "scope1", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	StartRefresher(ctx, dbx, "test-provider", 50*time.Millisecond, 15*time.Minute, refreshFunc)

	time.Sleep(150 * time.Millisecond)
	cancel()

	// Should not attempt refresh without refresh token
	if refreshCalled.Load() {
		t.Error("refresh should not be called when refresh_token is empty")
	}
}

func TestStartRefresherCancellation(t *testing.T) {
	dbx := testutil.SetupTestDB(t)

	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "access", "refresh", time.Now().Add(1 * time.Hour), "scope", nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	StartRefresher(ctx, dbx, "test-provider", 1*time.Second, 15*time.Minute, refreshFunc)

	cancel()

	// Give it a moment to exit
	time.Sleep(50 * time.Millisecond)

	// If we get here without hanging, cancellation works
}

func TestStartRefresherPreservesRefreshToken(t *testing.T) {
	dbx := testutil.SetupTestDB(t)

	soonExpiry := time.Now().Add(5 * time.Minute)
	if err := db.UpsertOAuthToken(context.Background(), dbx, "test-provider", "old-access", "original-refresh", soonExpiry, "scope1"); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}

	// Refresh function returns empty refresh token (should preserve original)
	refreshFunc := func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		return "new-access", "", time.Now().Add(2 * time.Hour), "", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartRefresher(ctx, dbx, "test-provider", 50*time.Millisecond, 15*time.Minute, refreshFunc)

	waitForAccess(t, dbx, "test-provider", "new-access")
	cancel()

	_, refresh, _, scope, err := db.GetOAuthToken(context.Background(), dbx, "test-provider")
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}

	// Should preserve original refresh token and scope
	if refresh != "original-refresh" {
		t.Errorf("refresh token should be preserved, got %s, want original-refresh", refresh)
	}
	if scope != "scope1" {
		t.Errorf("scope should be preserved, got %s, want scope1", scope)
	}
}
