package warden

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/wardenkit/warden/jwt"
)

// maxEmailLen caps the byte length of an email address accepted at
// registration, per RFC 5321 limits.
const maxEmailLen = 254

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email := NormalizeEmail(input.Email)
	if err := validateEmail(email); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "invalid_email",
			}
		})
		return nil, err
	}

	if err := e.checkPasswordPolicy(input.Password); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "password_policy",
			}
		})
		return nil, err
	}

	passwordHash, err := e.hasher.Hash(input.Password)
	if err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "hash_policy",
			}
		})
		return nil, ErrPasswordPolicy
	}
	input.Password = ""

	user := NewUser(email)
	user.PasswordHash = passwordHash
	user.FirstName = strings.TrimSpace(input.FirstName)
	user.LastName = strings.TrimSpace(input.LastName)
	if e.config.Account.RequireVerifiedEmail {
		user.VerifyBy = e.now().Add(e.config.Verification.VerifyWindow)
	}

	created, err := e.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrStoreDuplicate) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrDuplicateEmail, func() map[string]string {
				return map[string]string{
					"identifier": email,
					"reason":     "duplicate_email",
				}
			})
			return nil, ErrDuplicateEmail
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "store_create_failed",
			}
		})
		return nil, fmt.Errorf("create user: %w", err)
	}

	e.sendVerificationMail(ctx, created, input.CallbackURL)

	result := &RegisterResult{User: created}

	// Without the verified-email gate the fresh account can hold a session
	// right away; with it, the pair is withheld until ConfirmEmail.
	if !e.config.Account.RequireVerifiedEmail {
		pair, _, err := e.issuePair(ctx, created, "")
		if err != nil {
			// The account itself already landed, so the session failure is
			// reported alongside, not instead.
			e.emitAudit(ctx, auditEventRegisterSuccess, false, created.ID, "", err, func() map[string]string {
				return map[string]string{
					"identifier": email,
					"reason":     "auto_login_failed",
				}
			})
			return result, errors.Join(ErrSessionCreationFailed, err)
		}
		result.Tokens = &pair
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, created.ID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})

	return result, nil
}

// validateEmail applies the minimal shape checks warden performs before
// touching the store. Full mailbox validation belongs to the verification
// round-trip, not to string parsing.
func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLen {
		return ErrInvalidEmail
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return ErrInvalidEmail
	}
	return nil
}

// sendVerificationMail mints a verification purpose token and, when a
// callback URL was supplied, dispatches the mail carrying the embedded
// link. An empty callbackURL is the silent flow: nothing is minted, nothing
// is sent.
func (e *Engine) sendVerificationMail(ctx context.Context, user User, callbackURL string) {
	if callbackURL == "" || e.jwtManager == nil {
		return
	}
	token, err := e.jwtManager.CreatePurpose(user.ID, user.Email, jwt.PurposeEmailVerification, e.config.Verification.EmailTokenTTL)
	if err != nil {
		log.Print("warden: verification token generation failed")
		return
	}
	link := embedToken(callbackURL, token)
	e.dispatchMail(ctx, "email_verification", user.ID, user.Email, func(ctx context.Context) error {
		return e.mailer.SendVerificationEmail(ctx, user.Email, link)
	})
}

// embedToken attaches token as the "token" query parameter of callbackURL.
// An unparseable URL degrades to the bare token so the mail still carries
// something usable.
func embedToken(callbackURL, token string) string {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
