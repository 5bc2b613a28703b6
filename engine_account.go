package warden

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Deactivate describes the deactivate operation and its observable behavior.
//
// Deactivate may return an error when input validation, dependency calls, or security checks fail.
// Deactivate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Deactivate(ctx context.Context, userID string, gracePeriod time.Duration) (User, error) {
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

	if user.PendingDeletion() {
		e.emitAudit(ctx, auditEventAccountDeactivated, true, user.ID, "", nil, func() map[string]string {
			return map[string]string{
				"noop": "already_pending",
			}
		})
		return user, nil
	}

	if gracePeriod <= 0 {
		gracePeriod = e.config.Account.DeletionGracePeriod
	}

	now := e.now()
	inactive := false
	since := now
	deleteBy := now.Add(gracePeriod)
	updated, err := e.users.Update(ctx, user.ID, UserPatch{
		Active:        &inactive,
		InactiveSince: &since,
		DeleteBy:      &deleteBy,
	})
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricAccountDeactivated)

	// The account may not hold live sessions into its grace period.
	if e.tokens != nil {
		if _, err := e.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
			e.emitAudit(ctx, auditEventAccountDeactivated, false, user.ID, "", ErrSessionRevocationFailed, func() map[string]string {
				return map[string]string{
					"reason": "revocation_failed",
				}
			})
			return updated, errors.Join(ErrSessionRevocationFailed, err)
		}
	}

	e.emitAudit(ctx, auditEventAccountDeactivated, true, updated.ID, "", nil, func() map[string]string {
		return map[string]string{
			"delete_by": deleteBy.Format(time.RFC3339),
		}
	})

	return updated, nil
}

// Reactivate describes the reactivate operation and its observable behavior.
//
// Reactivate may return an error when input validation, dependency calls, or security checks fail.
// Reactivate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Reactivate(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email = NormalizeEmail(email)

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		_, _ = e.hasher.Verify(password, e.hasher.DecoyHash())
		return nil, ErrInvalidCredentials
	}

	// Only accounts inside their deletion grace period can come back this
	// way; every other state answers like a bad credential so reactivation
	// cannot be used to probe account status.
	if !user.PendingDeletion() || !user.HasPassword() {
		_, _ = e.hasher.Verify(password, e.hasher.DecoyHash())
		return nil, ErrInvalidCredentials
	}

	if user.LockedAt(e.now()) {
		return nil, &LockedError{Until: user.LockedUntil}
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordFailedLogin(ctx, user, email)
	}
	password = ""

	if e.config.Account.RequireVerifiedEmail && !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	now := e.now()
	active := true
	var noSince, noDeleteBy, noLock time.Time
	zero := 0
	updated, err := e.users.Update(ctx, user.ID, UserPatch{
		Active:        &active,
		InactiveSince: &noSince,
		DeleteBy:      &noDeleteBy,
		FailedLogins:  &zero,
		LockedUntil:   &noLock,
		LastLogin:     &now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	pair, tokenID, err := e.issuePair(ctx, updated, "")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricAccountReactivated)
	e.emitAudit(ctx, auditEventAccountReactivated, true, updated.ID, tokenID, nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})

	return &LoginResult{User: updated, Tokens: pair}, nil
}
