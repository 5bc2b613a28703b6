package warden

import (
	"context"
	"errors"
	"testing"
)

func TestLogoutRevokesFamilyIncludingDescendants(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", PasswordHash: hash, EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}

	engine := newTestEngine(t, rdb, store, hasher)
	first := seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")

	rotated, err := engine.Refresh(ctx, first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if err := engine.Logout(ctx, rotated.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	count, err := engine.ActiveSessionCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 live sessions after logout, got %d", count)
	}

	// The whole chain is dead, not just the presented member.
	_, err = engine.Refresh(ctx, rotated.Tokens.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after logout, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricLogout] != 1 {
		t.Fatalf("expected logout counter 1, got %d", snap.Counters[MetricLogout])
	}
}

func TestLogoutGarbageTokenIsNoop(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, &mockUserStore{}, newTestHasher(t))

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if err := engine.Logout(ctx, token); err != nil {
			t.Fatalf("Logout(%q) should be a no-op, got %v", token, err)
		}
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricLogout] != 0 {
		t.Fatalf("no-op logouts must not count, got %d", snap.Counters[MetricLogout])
	}
}

func TestLogoutAllReportsRevokedCount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", PasswordHash: hash, EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}

	engine := newTestEngine(t, rdb, store, hasher)
	engine.config.Session.MaxActiveTokens = 3

	for i := 0; i < 3; i++ {
		seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")
	}

	revoked, err := engine.LogoutAll(ctx, "u1")
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked, got %d", revoked)
	}

	count, err := engine.ActiveSessionCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 live sessions, got %d", count)
	}
}

func TestLogoutAllEmptyUserRejected(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, &mockUserStore{}, newTestHasher(t))

	if _, err := engine.LogoutAll(context.Background(), ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestListSessionsMarksOnlyPresentedToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", PasswordHash: hash, EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}

	engine := newTestEngine(t, rdb, store, hasher)
	engine.config.Session.MaxActiveTokens = 3

	seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")
	second := seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")

	sessions, err := engine.ListSessions(ctx, "u1", second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	current := 0
	for _, s := range sessions {
		if s.Current {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly 1 current session, got %d", current)
	}

	// Without a presented token nothing is current.
	sessions, err = engine.ListSessions(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListSessions without token failed: %v", err)
	}
	for _, s := range sessions {
		if s.Current {
			t.Fatal("no session may be current without a presented token")
		}
	}
}

func TestListSessionsEmptyUserRejected(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, &mockUserStore{}, newTestHasher(t))

	if _, err := engine.ListSessions(context.Background(), "", ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRevokeSessionByTokenID(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", PasswordHash: hash, EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}

	engine := newTestEngine(t, rdb, store, hasher)
	engine.config.Session.MaxActiveTokens = 3

	first := seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")
	seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")

	sessions, err := engine.ListSessions(ctx, "u1", first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	var currentID string
	for _, s := range sessions {
		if s.Current {
			currentID = s.TokenID
		}
	}
	if currentID == "" {
		t.Fatal("expected a current session")
	}

	if err := engine.RevokeSession(ctx, "u1", currentID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	count, err := engine.ActiveSessionCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 surviving session, got %d", count)
	}

	_, err = engine.Refresh(ctx, first.Tokens.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked session's token rejected, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricSessionRevoked] != 1 {
		t.Fatalf("expected session revoked counter 1, got %d", snap.Counters[MetricSessionRevoked])
	}
}

func TestRevokeSessionEnforcesOwnership(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	hashA, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hashB, err := hasher.Hash("another-strong-pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", PasswordHash: hashA, EmailVerified: true, Active: true},
			"u2": {ID: "u2", Email: "bob@example.com", PasswordHash: hashB, EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{
			"alice@example.com": "u1",
			"bob@example.com":   "u2",
		},
	}

	engine := newTestEngine(t, rdb, store, hasher)

	alice := seedLoginSession(t, engine, store, "alice@example.com", "correct-horse-battery")
	seedLoginSession(t, engine, store, "bob@example.com", "another-strong-pass")

	sessions, err := engine.ListSessions(ctx, "u1", alice.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session for u1, got %d", len(sessions))
	}

	// Bob presenting Alice's token ID through his own scope hits nothing.
	err = engine.RevokeSession(ctx, "u2", sessions[0].TokenID)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign token ID, got %v", err)
	}

	count, err := engine.ActiveSessionCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 1 {
		t.Fatal("foreign revocation attempt must not touch the session")
	}
}

func TestRevokeSessionUnknownTokenID(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, &mockUserStore{}, newTestHasher(t))

	err := engine.RevokeSession(context.Background(), "u1", "no-such-token")
	var invalid *TokenInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *TokenInvalidError, got %v", err)
	}
	if invalid.Reason != "not found" {
		t.Fatalf("expected reason not found, got %q", invalid.Reason)
	}
}
