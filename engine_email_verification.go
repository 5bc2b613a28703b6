package warden

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenkit/warden/jwt"
)

// RequestEmailVerification describes the requestemailverification operation and its observable behavior.
//
// RequestEmailVerification may return an error when input validation, dependency calls, or security checks fail.
// RequestEmailVerification does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestEmailVerification(ctx context.Context, email, callbackURL string) error {
	if e == nil || e.users == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	email = NormalizeEmail(email)
	if email == "" {
		return ErrInvalidEmail
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		// Unknown addresses get the same answer as known ones.
		e.metricInc(MetricEmailVerificationRequest)
		e.emitAudit(ctx, auditEventEmailVerificationRequest, true, "", "", nil, func() map[string]string {
			return map[string]string{
				"identifier":       email,
				"enumeration_safe": "true",
			}
		})
		return nil
	}

	if user.EmailVerified || !user.Active {
		e.metricInc(MetricEmailVerificationRequest)
		e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, "", nil, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"noop":       "not_verifiable",
			}
		})
		return nil
	}

	e.sendVerificationMail(ctx, user, callbackURL)

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})
	return nil
}

// ConfirmEmail describes the confirmemail operation and its observable behavior.
//
// ConfirmEmail may return an error when input validation, dependency calls, or security checks fail.
// ConfirmEmail does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmEmail(ctx context.Context, token string) (User, error) {
	if e == nil || e.users == nil || e.jwtManager == nil {
		return User{}, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParsePurpose(token, jwt.PurposeEmailVerification)
	if err != nil {
		mapped := ErrTokenInvalid
		if errors.Is(err, jwt.ErrExpired) {
			mapped = ErrTokenExpired
		}
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", "", mapped, func() map[string]string {
			return map[string]string{
				"reason": "parse_failed",
			}
		})
		return User{}, mapped
	}

	user, err := e.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, ErrStoreNotFound) {
			return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, claims.Subject, "", ErrUserNotFound, nil)
		return User{}, ErrUserNotFound
	}

	// The token pins the address it was minted for; a verification link
	// must not verify an address the account no longer uses.
	if NormalizeEmail(claims.Email) != user.Email {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, user.ID, "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "stale_email",
			}
		})
		return User{}, ErrTokenInvalid
	}

	if user.EmailVerified {
		e.metricInc(MetricEmailVerificationSuccess)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, user.ID, "", nil, func() map[string]string {
			return map[string]string{
				"noop": "already_verified",
			}
		})
		return user, nil
	}

	verified := true
	var clearBy time.Time
	updated, err := e.users.Update(ctx, user.ID, UserPatch{EmailVerified: &verified, VerifyBy: &clearBy})
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "store_update_failed",
			}
		})
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, updated.ID, "", nil, nil)
	return updated, nil
}
