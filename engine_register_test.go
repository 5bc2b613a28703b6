package warden

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturedMail struct {
	to      string
	payload string
}

type captureMailer struct {
	mu            sync.Mutex
	verifications []capturedMail
	resets        []capturedMail
	notices       []capturedMail
	sendErr       error
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.verifications = append(m.verifications, capturedMail{to: to, payload: link})
	return nil
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.resets = append(m.resets, capturedMail{to: to, payload: link})
	return nil
}

func (m *captureMailer) SendSecurityNotice(_ context.Context, to, notice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.notices = append(m.notices, capturedMail{to: to, payload: notice})
	return nil
}

func (m *captureMailer) lastVerification() (capturedMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifications) == 0 {
		return capturedMail{}, false
	}
	return m.verifications[len(m.verifications)-1], true
}

func (m *captureMailer) lastReset() (capturedMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		return capturedMail{}, false
	}
	return m.resets[len(m.resets)-1], true
}

func (m *captureMailer) noticeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notices)
}

func (m *captureMailer) verificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verifications)
}

// tokenFromLink pulls the purpose token back out of a mailed callback link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("mail link unparseable: %v", err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("mail link %q carries no token parameter", link)
	}
	return token
}

func TestRegisterWithholdsTokensBehindVerificationGate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	res, err := engine.Register(ctx, RegisterInput{
		Email:    " New.User@Example.COM ",
		Password: "long-enough-password",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if res.Tokens != nil {
		t.Fatal("tokens must be withheld until the email is verified")
	}
	if res.User.ID == "" {
		t.Fatal("expected store-assigned user ID")
	}
	if res.User.Email != "new.user@example.com" {
		t.Fatalf("expected normalized email, got %q", res.User.Email)
	}
	if res.User.EmailVerified {
		t.Fatal("fresh account must start unverified")
	}
	if !res.User.Active {
		t.Fatal("fresh account must start active")
	}

	wantBy := time.Now().Add(engine.config.Verification.VerifyWindow)
	if res.User.VerifyBy.Before(wantBy.Add(-time.Minute)) || res.User.VerifyBy.After(wantBy.Add(time.Minute)) {
		t.Fatalf("VerifyBy %v not near %v", res.User.VerifyBy, wantBy)
	}

	if store.createCalls != 1 {
		t.Fatalf("expected 1 Create call, got %d", store.createCalls)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRegisterSuccess] != 1 {
		t.Fatalf("expected register success counter 1, got %d", snap.Counters[MetricRegisterSuccess])
	}
}

func TestRegisterAutoLoginWithoutVerificationGate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))
	engine.config.Account.RequireVerifiedEmail = false

	res, err := engine.Register(ctx, RegisterInput{
		Email:    "new.user@example.com",
		Password: "long-enough-password",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if res.Tokens == nil {
		t.Fatal("expected an immediate token pair")
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected a complete token pair")
	}
	if !res.User.VerifyBy.IsZero() {
		t.Fatal("no verification deadline without the gate")
	}

	intro := engine.Introspect(ctx, res.Tokens.AccessToken)
	if !intro.Active || intro.Subject != res.User.ID {
		t.Fatalf("auto-login access token does not introspect: %+v", intro)
	}
}

func TestRegisterDuplicateEmailRejected(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	if _, err := engine.Register(ctx, RegisterInput{Email: "dup@example.com", Password: "long-enough-password"}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	_, err := engine.Register(ctx, RegisterInput{Email: "DUP@example.com", Password: "long-enough-password"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRegisterDuplicate] != 1 {
		t.Fatalf("expected duplicate counter 1, got %d", snap.Counters[MetricRegisterDuplicate])
	}
}

func TestRegisterCreateRaceMapsToDuplicate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	// A concurrent insert between the policy checks and Create surfaces as
	// the store's duplicate error and must map the same way.
	store := &mockUserStore{createErr: ErrStoreDuplicate}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	_, err := engine.Register(context.Background(), RegisterInput{Email: "dup@example.com", Password: "long-enough-password"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestRegisterRejectsMalformedEmails(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	bad := []string{
		"",
		"no-at-sign",
		"@leading.example.com",
		"trailing@",
		"spa ce@example.com",
		"a@" + strings.Repeat("x", 260) + ".com",
	}
	for _, email := range bad {
		_, err := engine.Register(ctx, RegisterInput{Email: email, Password: "long-enough-password"})
		if !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
	if store.createCalls != 0 {
		t.Fatal("malformed emails must not reach the store")
	}
}

func TestRegisterEnforcesPasswordPolicy(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	_, err := engine.Register(ctx, RegisterInput{Email: "a@example.com", Password: "short"})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy for short password, got %v", err)
	}

	_, err = engine.Register(ctx, RegisterInput{Email: "a@example.com", Password: strings.Repeat("p", 1025)})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy for oversized password, got %v", err)
	}

	if store.createCalls != 0 {
		t.Fatal("rejected passwords must not reach the store")
	}
}

func TestRegisterMailsVerificationLink(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := &mockUserStore{}
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))
	engine.mailer = mailer

	res, err := engine.Register(ctx, RegisterInput{
		Email:       "new.user@example.com",
		Password:    "long-enough-password",
		CallbackURL: "https://app.example.com/verify?flow=signup",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	engine.mailWG.Wait()

	mail, ok := mailer.lastVerification()
	if !ok {
		t.Fatal("expected a verification mail")
	}
	if mail.to != "new.user@example.com" {
		t.Fatalf("expected mail to the registered address, got %q", mail.to)
	}
	if !strings.HasPrefix(mail.payload, "https://app.example.com/verify") {
		t.Fatalf("expected link on the callback URL, got %q", mail.payload)
	}

	link, err := url.Parse(mail.payload)
	if err != nil {
		t.Fatalf("mailed link unparseable: %v", err)
	}
	if link.Query().Get("flow") != "signup" {
		t.Fatal("existing query parameters must survive token embedding")
	}
	if link.Query().Get("token") == "" {
		t.Fatal("expected an embedded token parameter")
	}

	// The mailed token really verifies the account.
	user, err := engine.ConfirmEmail(ctx, link.Query().Get("token"))
	if err != nil {
		t.Fatalf("ConfirmEmail with mailed token failed: %v", err)
	}
	if user.ID != res.User.ID || !user.EmailVerified {
		t.Fatalf("expected %s verified, got %+v", res.User.ID, user)
	}
}

func TestRegisterSilentFlowSendsNothing(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := &mockUserStore{}
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))
	engine.mailer = mailer

	if _, err := engine.Register(context.Background(), RegisterInput{
		Email:    "new.user@example.com",
		Password: "long-enough-password",
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	engine.mailWG.Wait()

	if n := mailer.verificationCount(); n != 0 {
		t.Fatalf("silent flow must not send mail, got %d", n)
	}
}

func TestRegisterTrimsProfileNames(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))

	res, err := engine.Register(context.Background(), RegisterInput{
		Email:     "ada@example.com",
		Password:  "long-enough-password",
		FirstName: "  Ada ",
		LastName:  " Lovelace  ",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.User.FirstName != "Ada" || res.User.LastName != "Lovelace" {
		t.Fatalf("expected trimmed names, got %q %q", res.User.FirstName, res.User.LastName)
	}
}

func TestRegisterAutoLoginOutageKeepsAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)

	ctx := context.Background()
	store := &mockUserStore{}
	engine := newTestEngine(t, rdb, store, newTestHasher(t))
	engine.config.Account.RequireVerifiedEmail = false

	mr.Close()

	res, err := engine.Register(ctx, RegisterInput{Email: "a@example.com", Password: "long-enough-password"})
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("expected ErrSessionCreationFailed, got %v", err)
	}
	if res == nil || res.User.ID == "" {
		t.Fatal("the created account must be reported even when auto-login fails")
	}
	if res.Tokens != nil {
		t.Fatal("no tokens may be reported when session creation failed")
	}
	if store.createCalls != 1 {
		t.Fatalf("expected the account persisted, got %d Create calls", store.createCalls)
	}
}
