package warden

import (
	"context"
	"errors"
	"testing"
	"time"
)

func singleUserStore(hash string) *mockUserStore {
	return &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", PasswordHash: hash, EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}
}

func TestChangePasswordSuccessRevokesSessions(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash old password failed: %v", err)
	}

	store := singleUserStore(oldHash)
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, hasher)
	engine.mailer = mailer

	seedLoginSession(t, engine, store, "alice@example.com", "old-password-123")

	if err := engine.ChangePassword(ctx, "u1", "old-password-123", "new-password-456"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	engine.mailWG.Wait()

	stored := store.get("u1").PasswordHash
	if stored == oldHash {
		t.Fatal("expected password hash to change")
	}
	ok, err := hasher.Verify("new-password-456", stored)
	if err != nil || !ok {
		t.Fatalf("new hash verify failed, ok=%v err=%v", ok, err)
	}

	count, err := engine.ActiveSessionCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected all sessions revoked, got %d", count)
	}

	if mailer.noticeCount() != 1 {
		t.Fatalf("expected 1 security notice, got %d", mailer.noticeCount())
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordChangeSuccess] != 1 {
		t.Fatalf("expected change success counter 1, got %d", snap.Counters[MetricPasswordChangeSuccess])
	}
}

func TestChangePasswordWrongOldPasswordDoesNotFeedLockout(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := singleUserStore(oldHash)
	engine := newTestEngine(t, rdb, store, hasher)

	err = engine.ChangePassword(ctx, "u1", "not-the-old-pass", "new-password-456")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if store.incrementCalls != 0 {
		t.Fatal("a wrong current password must not touch the login counter")
	}
	if got := store.get("u1").FailedLogins; got != 0 {
		t.Fatalf("expected failed-login counter untouched, got %d", got)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordChangeFailure] != 1 {
		t.Fatalf("expected change failure counter 1, got %d", snap.Counters[MetricPasswordChangeFailure])
	}
}

func TestChangePasswordRejectsReusingCurrent(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := singleUserStore(oldHash)
	engine := newTestEngine(t, rdb, store, hasher)

	err = engine.ChangePassword(ctx, "u1", "old-password-123", "old-password-123")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if store.get("u1").PasswordHash != oldHash {
		t.Fatal("hash must stay unchanged")
	}
}

func TestChangePasswordEnforcesPolicyOnNewPassword(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := singleUserStore(oldHash)
	engine := newTestEngine(t, rdb, store, hasher)

	err = engine.ChangePassword(ctx, "u1", "old-password-123", "short")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestChangePasswordUnknownUser(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, &mockUserStore{}, newTestHasher(t))

	err := engine.ChangePassword(context.Background(), "ghost", "old-password-123", "new-password-456")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestChangePasswordInactiveAccountStates(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	deleteBy := time.Now().Add(72 * time.Hour).UTC()
	store := &mockUserStore{
		users: map[string]User{
			"pending": {ID: "pending", Email: "p@example.com", PasswordHash: oldHash, Active: false, DeleteBy: deleteBy},
			"gone":    {ID: "gone", Email: "g@example.com", PasswordHash: oldHash, Active: false},
		},
		byEmail: map[string]string{"p@example.com": "pending", "g@example.com": "gone"},
	}

	engine := newTestEngine(t, rdb, store, hasher)

	err = engine.ChangePassword(ctx, "pending", "old-password-123", "new-password-456")
	var pendingErr *PendingDeletionError
	if !errors.As(err, &pendingErr) {
		t.Fatalf("expected *PendingDeletionError, got %v", err)
	}
	if !pendingErr.DeleteBy.Equal(deleteBy) {
		t.Fatalf("expected DeleteBy %v, got %v", deleteBy, pendingErr.DeleteBy)
	}

	err = engine.ChangePassword(ctx, "gone", "old-password-123", "new-password-456")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for plain deactivation, got %v", err)
	}
}

func TestChangePasswordPasswordlessAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}

	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	err := engine.ChangePassword(context.Background(), "u1", "whatever-pass-1", "new-password-456")
	if !errors.Is(err, ErrPasswordNotEnabled) {
		t.Fatalf("expected ErrPasswordNotEnabled, got %v", err)
	}
}

func TestChangePasswordRevocationOutageStillChangesPassword(t *testing.T) {
	mr, rdb := newTestRedis(t)

	ctx := context.Background()
	hasher := newTestHasher(t)
	oldHash, err := hasher.Hash("old-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store := singleUserStore(oldHash)
	engine := newTestEngine(t, rdb, store, hasher)

	mr.Close()

	err = engine.ChangePassword(ctx, "u1", "old-password-123", "new-password-456")
	if !errors.Is(err, ErrSessionRevocationFailed) {
		t.Fatalf("expected ErrSessionRevocationFailed, got %v", err)
	}

	// The credential update landed before the revocation attempt.
	ok, verr := hasher.Verify("new-password-456", store.get("u1").PasswordHash)
	if verr != nil || !ok {
		t.Fatalf("expected new password persisted, ok=%v err=%v", ok, verr)
	}
}

func TestSetPasswordEnablesPasswordAuth(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}

	hasher := newTestHasher(t)
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, hasher)
	engine.mailer = mailer

	updated, err := engine.SetPassword(ctx, "u1", "first-password-789")
	if err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if !updated.HasPassword() {
		t.Fatal("expected password enabled")
	}
	engine.mailWG.Wait()
	if mailer.noticeCount() != 1 {
		t.Fatalf("expected 1 security notice, got %d", mailer.noticeCount())
	}

	ok, err := hasher.Verify("first-password-789", updated.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("set password verify failed, ok=%v err=%v", ok, err)
	}

	// A second set must go through ChangePassword instead.
	_, err = engine.SetPassword(ctx, "u1", "second-password-789")
	if !errors.Is(err, ErrPasswordAlreadySet) {
		t.Fatalf("expected ErrPasswordAlreadySet, got %v", err)
	}
}

func TestSetPasswordPolicyAndUnknownUser(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{
		users: map[string]User{
			"u1": {ID: "u1", Email: "alice@example.com", EmailVerified: true, Active: true},
		},
		byEmail: map[string]string{"alice@example.com": "u1"},
	}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	if _, err := engine.SetPassword(ctx, "u1", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := engine.SetPassword(ctx, "ghost", "first-password-789"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
