package warden

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenkit/warden/challenge"
	"github.com/wardenkit/warden/internal"
	"github.com/wardenkit/warden/jwt"
	"github.com/wardenkit/warden/ledger"
	"github.com/wardenkit/warden/oauth"
)

// maxUserAgentLen caps the User-Agent bytes persisted on a token record.
const maxUserAgentLen = 255

// Engine defines a public type used by warden APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config         Config
	tokens         *ledger.Store
	challenges     challenge.Store
	ownsChallenges bool
	audit          *auditDispatcher
	metrics        *Metrics
	hasher         Hasher
	jwtManager     *jwt.Manager
	users          UserStore
	mailer         Mailer
	oauth          *oauth.Manager
	passkeys       passkeyProvider
	passkeyParser  passkeyParser
	clock          func() time.Time
	mailWG         sync.WaitGroup
}

// now returns the current UTC time through the injected clock.
func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock().UTC()
	}
	return time.Now().UTC()
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mailWG.Wait()
	if e.ownsChallenges {
		if closer, ok := e.challenges.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email = NormalizeEmail(email)

	if password == "" {
		// Burn one verification anyway so the empty-password path costs the
		// same as a wrong password.
		_, _ = e.hasher.Verify("-", e.hasher.DecoyHash())
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "empty_password",
			}
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		_, _ = e.hasher.Verify(password, e.hasher.DecoyHash())
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "user_not_found",
			}
		})
		return nil, ErrInvalidCredentials
	}

	if !user.HasPassword() {
		_, _ = e.hasher.Verify(password, e.hasher.DecoyHash())
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "passwordless_account",
			}
		})
		return nil, ErrInvalidCredentials
	}

	if gateErr := e.accountGate(user); gateErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", gateErr, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "account_gate",
			}
		})
		return nil, gateErr
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordFailedLogin(ctx, user, email)
	}

	// Verified-email enforcement runs after the password check so the error
	// is only observable to callers holding valid credentials.
	if e.config.Account.RequireVerifiedEmail && !user.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrEmailNotVerified, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "email_not_verified",
			}
		})
		return nil, ErrEmailNotVerified
	}

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

	if e.config.Password.UpgradeOnLogin {
		if needsUpgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := e.hasher.Hash(password); err == nil {
				// Rehash update is best-effort and must not block successful login.
				if _, err := e.users.Update(ctx, user.ID, UserPatch{PasswordHash: &upgradedHash}); err != nil {
					log.Print("warden: password hash upgrade update failed")
				} else {
					user.PasswordHash = upgradedHash
				}
			} else {
				log.Print("warden: password hash upgrade generation failed")
			}
		}
	}
	password = ""

	pair, tokenID, err := e.issuePair(ctx, user, "")
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "issue_pair_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, tokenID, nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})

	return &LoginResult{User: user, Tokens: pair}, nil
}

// accountGate rejects accounts that may not authenticate regardless of the
// credential presented: pending deletion, plain deactivated, and locked.
func (e *Engine) accountGate(user User) error {
	if !user.Active {
		if user.PendingDeletion() {
			return &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		// Deactivated without a purge date is indistinguishable from a bad
		// credential on purpose.
		return ErrInvalidCredentials
	}
	if user.LockedAt(e.now()) {
		return &LockedError{Until: user.LockedUntil}
	}
	return nil
}

func (e *Engine) recordFailedLogin(ctx context.Context, user User, email string) error {
	count := user.FailedLogins + 1
	if updated, err := e.users.IncrementFailedLogins(ctx, user.ID); err != nil {
		log.Print("warden: failed-login counter increment failed")
	} else {
		count = updated.FailedLogins
	}

	if count >= e.config.Account.MaxLoginAttempts {
		until := e.now().Add(e.config.Account.LockoutDuration)
		if _, err := e.users.SetLockedUntil(ctx, user.ID, until); err != nil {
			log.Print("warden: lockout stamp update failed")
		} else {
			e.metricInc(MetricAccountAutoLocked)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventAccountAutoLocked, false, user.ID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{
					"identifier": email,
					"attempts":   fmt.Sprintf("%d", count),
				}
			})
			// The attempt that crosses the threshold already reports the
			// lockout, not a generic credential failure.
			return &LockedError{Until: until}
		}
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": email,
			"reason":     "password_mismatch",
		}
	})
	return ErrInvalidCredentials
}

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.tokens == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	tokenID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, &TokenInvalidError{Reason: "not found"}
	}

	hash := internal.HashRefreshSecret(secret)

	rec, err := e.tokens.Find(ctx, hash)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrTokenNotFound):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", tokenID, ErrTokenInvalid, func() map[string]string {
				return map[string]string{
					"reason": "record_not_found",
				}
			})
			return nil, &TokenInvalidError{Reason: "not found"}
		case errors.Is(err, ledger.ErrCorruptRecord):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", tokenID, ErrTokenInvalid, func() map[string]string {
				return map[string]string{
					"reason": "record_corrupt",
				}
			})
			return nil, &TokenInvalidError{Reason: "corrupt"}
		default:
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	// A secret hash that resolves to a record carrying a different token ID
	// means the presented token was spliced together.
	if rec.ID != tokenID {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, tokenID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "token_id_mismatch",
			}
		})
		return nil, &TokenInvalidError{Reason: "not found"}
	}

	if rec.Revoked {
		// Re-revoke the family so any sibling that escaped the original
		// revocation sweep is caught now.
		if _, err := e.tokens.RevokeFamily(ctx, rec.Family); err != nil {
			log.Print("warden: family re-revocation failed")
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "revoked",
			}
		})
		return nil, &TokenInvalidError{Reason: "revoked"}
	}

	if rec.Used {
		return nil, e.handleRefreshReuse(ctx, rec)
	}

	now := e.now()
	if !rec.ExpiresAt.After(now) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenExpired, func() map[string]string {
			return map[string]string{
				"reason": "expired",
			}
		})
		return nil, ErrTokenExpired
	}

	// Single-use marking is a compare-and-set in Redis; two concurrent
	// refreshes of the same token produce exactly one winner.
	mark, err := e.tokens.MarkUsed(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	switch mark {
	case ledger.MarkOK:
		// proceed
	case ledger.MarkAlreadyUsed:
		return nil, e.handleRefreshReuse(ctx, rec)
	case ledger.MarkRevoked:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "revoked",
			}
		})
		return nil, &TokenInvalidError{Reason: "revoked"}
	case ledger.MarkExpired:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenExpired, func() map[string]string {
			return map[string]string{
				"reason": "expired",
			}
		})
		return nil, ErrTokenExpired
	case ledger.MarkNotFound:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "record_not_found",
			}
		})
		return nil, &TokenInvalidError{Reason: "not found"}
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "record_corrupt",
			}
		})
		return nil, &TokenInvalidError{Reason: "corrupt"}
	}

	user, err := e.users.FindByID(ctx, rec.UserID)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		// Account is gone; the family has no owner anymore.
		if _, revErr := e.tokens.RevokeFamily(ctx, rec.Family); revErr != nil {
			log.Print("warden: family revocation failed for deleted user")
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.UserID, rec.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "user_not_found",
			}
		})
		return nil, &TokenInvalidError{Reason: "not found"}
	}

	if gateErr := e.refreshGate(user); gateErr != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, user.ID, rec.ID, gateErr, func() map[string]string {
			return map[string]string{
				"reason": "account_gate",
			}
		})
		return nil, gateErr
	}

	pair, newTokenID, err := e.issuePair(ctx, user, rec.Family)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, user.ID, rec.ID, err, func() map[string]string {
			return map[string]string{
				"reason": "issue_pair_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, newTokenID, nil, func() map[string]string {
		return map[string]string{
			"rotated_from": rec.ID,
		}
	})

	return &LoginResult{User: user, Tokens: pair}, nil
}

// refreshGate applies the account checks a rotation must re-run. A token
// for an inactive account is dead, whatever the deactivation flavor; a
// lockout pauses rotation until it lapses. Email verification is not
// re-checked, the account proved it at login.
func (e *Engine) refreshGate(user User) error {
	if !user.Active {
		return ErrTokenInvalid
	}
	if user.LockedAt(e.now()) {
		return &LockedError{Until: user.LockedUntil}
	}
	return nil
}

func (e *Engine) handleRefreshReuse(ctx context.Context, rec *ledger.Token) error {
	revoked, err := e.tokens.RevokeFamily(ctx, rec.Family)
	if err != nil {
		log.Print("warden: family revocation failed on reuse detection")
	}

	e.metricInc(MetricRefreshReuseDetected)
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, rec.UserID, rec.ID, ErrTokenInvalid, func() map[string]string {
		return map[string]string{
			"family":         rec.Family,
			"tokens_revoked": fmt.Sprintf("%d", revoked),
		}
	})

	return &TokenInvalidError{Reason: "reused"}
}

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	_, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		// Logging out with garbage is a no-op, not an error.
		return nil
	}

	rec, err := e.tokens.Find(ctx, internal.HashRefreshSecret(secret))
	if err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) || errors.Is(err, ledger.ErrCorruptRecord) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	revoked, err := e.tokens.RevokeFamily(ctx, rec.Family)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, rec.UserID, rec.ID, nil, func() map[string]string {
		return map[string]string{
			"family":         rec.Family,
			"tokens_revoked": fmt.Sprintf("%d", revoked),
		}
	})

	return nil
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}

	revoked, err := e.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"tokens_revoked": fmt.Sprintf("%d", revoked),
		}
	})

	return revoked, nil
}

// issuePair mints a fresh access/refresh pair for user. An empty family
// starts a new token family after evicting older sessions per
// [SessionConfig.MaxActiveTokens]; a non-empty family continues an
// existing rotation chain.
func (e *Engine) issuePair(ctx context.Context, user User, family string) (TokenPair, string, error) {
	now := e.now()

	if family == "" {
		if max := e.config.Session.MaxActiveTokens; max > 0 {
			count, err := e.tokens.CountActiveForUser(ctx, user.ID)
			if err != nil {
				return TokenPair{}, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
			if count >= max {
				if _, err := e.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
					return TokenPair{}, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
				}
			}
		}
		family = uuid.NewString()
	}

	id, err := internal.NewTokenID()
	if err != nil {
		return TokenPair{}, "", err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return TokenPair{}, "", err
	}

	userAgent := userAgentFromContext(ctx)
	if len(userAgent) > maxUserAgentLen {
		userAgent = userAgent[:maxUserAgentLen]
	}
	fingerprint := ""
	if fp := fingerprintFromContext(ctx); fp != "" {
		sum := internal.HashBindingValue(fp)
		fingerprint = hex.EncodeToString(sum[:])
	}

	rec := &ledger.Token{
		Hash:        internal.HashRefreshSecret(secret),
		ID:          id.String(),
		UserID:      user.ID,
		Family:      family,
		Fingerprint: fingerprint,
		UserAgent:   userAgent,
		IP:          clientIPFromContext(ctx),
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.config.JWT.RefreshTTL),
	}

	if err := e.tokens.Save(ctx, rec); err != nil {
		return TokenPair{}, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	access, err := e.jwtManager.CreateAccess(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		return TokenPair{}, "", err
	}

	refresh, err := internal.EncodeRefreshToken(id.String(), secret)
	if err != nil {
		return TokenPair{}, "", err
	}

	e.metricInc(MetricTokenPairIssued)

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(e.jwtManager.AccessTTL().Seconds()),
	}, id.String(), nil
}
