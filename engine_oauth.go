package warden

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/wardenkit/warden/internal"
	"github.com/wardenkit/warden/oauth"
)

// BeginOAuth describes the beginoauth operation and its observable behavior.
//
// BeginOAuth may return an error when input validation, dependency calls, or security checks fail.
// BeginOAuth does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginOAuth(provider string) (authURL string, state string, err error) {
	if e == nil || e.oauth == nil {
		return "", "", ErrEngineNotReady
	}

	state, err = internal.NewStateToken()
	if err != nil {
		return "", "", err
	}

	authURL, err = e.oauth.AuthURL(provider, state)
	if err != nil {
		return "", "", err
	}

	return authURL, state, nil
}

// ResolveOAuthLogin describes the resolveoauthlogin operation and its observable behavior.
//
// ResolveOAuthLogin may return an error when input validation, dependency calls, or security checks fail.
// ResolveOAuthLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResolveOAuthLogin(ctx context.Context, profile oauth.Profile) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if profile.Provider == "" || profile.Subject == "" {
		return nil, fmt.Errorf("oauth profile missing provider or subject")
	}

	// (a) The pair is already linked: this is a plain login.
	user, err := e.users.FindByIdentity(ctx, profile.Provider, profile.Subject)
	switch {
	case err == nil:
		if gateErr := e.accountGate(user); gateErr != nil {
			e.metricInc(MetricOAuthLoginFailure)
			e.emitAudit(ctx, auditEventOAuthLoginFailure, false, user.ID, "", gateErr, func() map[string]string {
				return map[string]string{
					"provider": profile.Provider,
					"reason":   "account_gate",
				}
			})
			return nil, gateErr
		}
		return e.finishOAuthLogin(ctx, user, profile.Provider, "identity")
	case !errors.Is(err, ErrStoreNotFound):
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// (b) The provider-asserted address matches a local account: link the
	// pair to it. Provider addresses are trusted as verified.
	email := NormalizeEmail(profile.Email)
	if email != "" {
		user, err := e.users.FindByEmail(ctx, email)
		switch {
		case err == nil:
			return e.autoLinkAndLogin(ctx, user, profile, email)
		case !errors.Is(err, ErrStoreNotFound):
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	// (c) Nothing matches: provision a fresh passwordless account.
	return e.provisionOAuthAccount(ctx, profile, email)
}

func (e *Engine) autoLinkAndLogin(ctx context.Context, user User, profile oauth.Profile, email string) (*LoginResult, error) {
	if gateErr := e.accountGate(user); gateErr != nil {
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, user.ID, "", gateErr, func() map[string]string {
			return map[string]string{
				"provider": profile.Provider,
				"reason":   "account_gate",
			}
		})
		return nil, gateErr
	}

	updated, err := e.users.AddIdentity(ctx, user.ID, e.externalIdentity(profile, email))
	if err != nil {
		if errors.Is(err, ErrStoreDuplicate) {
			// Another request linked the pair first; if it went to a
			// different account the pair is taken.
			e.metricInc(MetricOAuthLoginFailure)
			e.emitAudit(ctx, auditEventOAuthLoginFailure, false, user.ID, "", ErrOAuthAlreadyLinked, func() map[string]string {
				return map[string]string{
					"provider": profile.Provider,
					"reason":   "pair_taken",
				}
			})
			return nil, ErrOAuthAlreadyLinked
		}
		return nil, fmt.Errorf("add identity: %w", err)
	}
	user = updated

	if !user.EmailVerified {
		verified := true
		var zeroBy time.Time
		if patched, err := e.users.Update(ctx, user.ID, UserPatch{EmailVerified: &verified, VerifyBy: &zeroBy}); err != nil {
			log.Print("warden: verified flag update failed")
		} else {
			user = patched
		}
	}

	e.metricInc(MetricOAuthIdentityLinked)
	e.emitAudit(ctx, auditEventOAuthIdentityLinked, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"provider": profile.Provider,
			"via":      "email_match",
		}
	})

	return e.finishOAuthLogin(ctx, user, profile.Provider, "email_link")
}

func (e *Engine) provisionOAuthAccount(ctx context.Context, profile oauth.Profile, email string) (*LoginResult, error) {
	if email == "" {
		// Without an address there is nothing to anchor the account to;
		// the caller must ask the provider for email scope.
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", "", ErrInvalidEmail, func() map[string]string {
			return map[string]string{
				"provider": profile.Provider,
				"reason":   "no_email",
			}
		})
		return nil, ErrInvalidEmail
	}

	user := NewUser(email)
	user.EmailVerified = true
	user.FirstName, user.LastName = splitName(profile.Name)
	user.AvatarURL = profile.AvatarURL
	user.Identities = []ExternalIdentity{e.externalIdentity(profile, email)}

	created, err := e.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrStoreDuplicate) {
			// Lost a race with a concurrent registration for the same
			// address.
			e.metricInc(MetricOAuthLoginFailure)
			e.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", "", ErrDuplicateEmail, func() map[string]string {
				return map[string]string{
					"provider": profile.Provider,
					"reason":   "duplicate_email",
				}
			})
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	e.metricInc(MetricOAuthAccountProvisioned)
	e.emitAudit(ctx, auditEventOAuthAccountProvisioned, true, created.ID, "", nil, func() map[string]string {
		return map[string]string{
			"provider": profile.Provider,
		}
	})

	return e.finishOAuthLogin(ctx, created, profile.Provider, "provisioned")
}

// finishOAuthLogin is the shared login tail of the three resolution
// branches: counter reset, last-login stamp, pair issuance.
func (e *Engine) finishOAuthLogin(ctx context.Context, user User, provider, via string) (*LoginResult, error) {
	now := e.now()

	if user.FailedLogins > 0 || !user.LockedUntil.IsZero() {
		// Counter reset is best-effort and must not block successful login.
		if updated, err := e.users.ResetFailedLogins(ctx, user.ID); err != nil {
			log.Print("warden: failed-login counter reset failed")
		} else {
			user = updated
		}
	}

	if updated, err := e.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		log.Print("warden: last-login update failed")
	} else {
		user = updated
	}

	pair, tokenID, err := e.issuePair(ctx, user, "")
	if err != nil {
		e.metricInc(MetricOAuthLoginFailure)
		e.emitAudit(ctx, auditEventOAuthLoginFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"provider": provider,
				"reason":   "issue_pair_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, auditEventOAuthLoginSuccess, true, user.ID, tokenID, nil, func() map[string]string {
		return map[string]string{
			"provider": provider,
			"via":      via,
		}
	})

	return &LoginResult{User: user, Tokens: pair}, nil
}

// LinkIdentity describes the linkidentity operation and its observable behavior.
//
// LinkIdentity may return an error when input validation, dependency calls, or security checks fail.
// LinkIdentity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LinkIdentity(ctx context.Context, userID string, profile oauth.Profile) (User, error) {
	if e == nil || e.users == nil {
		return User{}, ErrEngineNotReady
	}
	if profile.Provider == "" || profile.Subject == "" {
		return User{}, fmt.Errorf("oauth profile missing provider or subject")
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !user.Active {
		if user.PendingDeletion() {
			return User{}, &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		return User{}, ErrUserNotFound
	}

	owner, err := e.users.FindByIdentity(ctx, profile.Provider, profile.Subject)
	switch {
	case err == nil && owner.ID == userID:
		// Linking a pair the account already holds is a no-op.
		return owner, nil
	case err == nil:
		e.emitAudit(ctx, auditEventOAuthIdentityLinkRejected, false, userID, "", ErrOAuthAlreadyLinked, func() map[string]string {
			return map[string]string{
				"provider": profile.Provider,
				"reason":   "owned_by_other_account",
			}
		})
		return User{}, ErrOAuthAlreadyLinked
	case !errors.Is(err, ErrStoreNotFound):
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	updated, err := e.users.AddIdentity(ctx, userID, e.externalIdentity(profile, NormalizeEmail(profile.Email)))
	if err != nil {
		switch {
		case errors.Is(err, ErrStoreDuplicate):
			// The uniqueness constraint decides concurrent links.
			return User{}, ErrOAuthAlreadyLinked
		case errors.Is(err, ErrStoreNotFound):
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("add identity: %w", err)
	}

	e.metricInc(MetricOAuthIdentityLinked)
	e.emitAudit(ctx, auditEventOAuthIdentityLinked, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"provider": profile.Provider,
			"via":      "explicit",
		}
	})

	return updated, nil
}

// UnlinkIdentity describes the unlinkidentity operation and its observable behavior.
//
// UnlinkIdentity may return an error when input validation, dependency calls, or security checks fail.
// UnlinkIdentity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) UnlinkIdentity(ctx context.Context, userID, provider, subject string) (User, error) {
	if e == nil || e.users == nil {
		return User{}, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !user.Active {
		if user.PendingDeletion() {
			return User{}, &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		return User{}, ErrUserNotFound
	}

	if user.Identity(provider, subject) == nil {
		return User{}, ErrUserNotFound
	}

	// An account must keep a password or one linked identity; passkeys do
	// not count.
	if !user.HasPassword() && len(user.Identities) <= 1 {
		return User{}, ErrCannotUnlinkOnlyAuthMethod
	}

	updated, err := e.users.RemoveIdentity(ctx, userID, provider, subject)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("remove identity: %w", err)
	}

	e.metricInc(MetricOAuthIdentityUnlinked)
	e.emitAudit(ctx, auditEventOAuthIdentityUnlinked, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"provider": provider,
		}
	})

	return updated, nil
}

// externalIdentity maps a provider profile onto the stored identity record.
func (e *Engine) externalIdentity(profile oauth.Profile, email string) ExternalIdentity {
	return ExternalIdentity{
		Provider:  profile.Provider,
		Subject:   profile.Subject,
		Email:     email,
		Name:      profile.Name,
		AvatarURL: profile.AvatarURL,
		LinkedAt:  e.now(),
	}
}

// splitName splits a provider display name into first/last on the first
// space.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i], strings.TrimSpace(full[i+1:])
	}
	return full, ""
}
