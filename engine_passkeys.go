package warden

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/wardenkit/warden/challenge"
)

const (
	deviceTypeSingle = "single_device"
	deviceTypeMulti  = "multi_device"
)

// passkeyProvider is the ceremony surface of *webauthn.WebAuthn the engine
// depends on. Tests substitute a fake so ceremonies run without a real
// authenticator.
type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// passkeyParser decodes the raw ceremony responses posted by clients.
type passkeyParser interface {
	ParseCreation(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseAssertion(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type webauthnParser struct{}

func (webauthnParser) ParseCreation(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBody(bytes.NewReader(data))
}

func (webauthnParser) ParseAssertion(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBody(bytes.NewReader(data))
}

// passkeyUser adapts a stored [User] to the webauthn.User interface. The
// user ID doubles as the WebAuthn user handle.
type passkeyUser struct {
	user User
}

func (u passkeyUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u passkeyUser) WebAuthnName() string { return u.user.Email }

func (u passkeyUser) WebAuthnDisplayName() string {
	if name := strings.TrimSpace(u.user.FirstName + " " + u.user.LastName); name != "" {
		return name
	}
	return u.user.Email
}

func (u passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.user.Passkeys))
	for _, pk := range u.user.Passkeys {
		creds = append(creds, webauthnCredential(pk))
	}
	return creds
}

// WebAuthnIcon satisfies the deprecated accessor still present in the
// webauthn.User interface; the library recommends a blank string.
func (u passkeyUser) WebAuthnIcon() string { return "" }

// webauthnCredential rebuilds the library credential from a stored record.
func webauthnCredential(pk Passkey) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(pk.Transports))
	for _, t := range pk.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        pk.CredentialID,
		PublicKey: pk.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: pk.DeviceType == deviceTypeMulti,
			BackupState:    pk.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: pk.SignCount,
		},
	}
}

// newPasskey builds the stored record for a freshly validated credential.
// Sign count, flags, and transports are taken from the library verbatim.
func newPasskey(name string, cred *webauthn.Credential, now time.Time) Passkey {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	deviceType := deviceTypeSingle
	if cred.Flags.BackupEligible {
		deviceType = deviceTypeMulti
	}
	return Passkey{
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		SignCount:    cred.Authenticator.SignCount,
		Name:         name,
		DeviceType:   deviceType,
		BackedUp:     cred.Flags.BackupState,
		Transports:   transports,
		CreatedAt:    now,
	}
}

func credentialRef(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// BeginPasskeyRegistration describes the beginpasskeyregistration operation and its observable behavior.
//
// BeginPasskeyRegistration may return an error when input validation, dependency calls, or security checks fail.
// BeginPasskeyRegistration does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginPasskeyRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	if e == nil || e.users == nil || e.passkeys == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !user.Active {
		if user.PendingDeletion() {
			return nil, &PendingDeletionError{DeleteBy: user.DeleteBy}
		}
		return nil, ErrUserNotFound
	}

	adapter := passkeyUser{user: user}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	// Excluding known credential IDs stops the same authenticator from
	// being registered on the account twice.
	if creds := adapter.WebAuthnCredentials(); len(creds) > 0 {
		descriptors := make([]protocol.CredentialDescriptor, len(creds))
		for i, cred := range creds {
			descriptors[i] = cred.Descriptor()
		}
		options = append(options, webauthn.WithExclusions(descriptors))
	}

	creation, session, err := e.passkeys.BeginRegistration(adapter, options...)
	if err != nil {
		return nil, fmt.Errorf("begin passkey registration: %w", err)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode passkey session: %w", err)
	}
	if err := e.challenges.Put(ctx, user.ID, payload, e.config.Passkey.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return creation, nil
}

// FinishPasskeyRegistration describes the finishpasskeyregistration operation and its observable behavior.
//
// FinishPasskeyRegistration may return an error when input validation, dependency calls, or security checks fail.
// FinishPasskeyRegistration does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, userID, name string, response []byte) (User, error) {
	if e == nil || e.users == nil || e.passkeys == nil || e.passkeyParser == nil || e.challenges == nil {
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

	payload, err := e.challenges.TakeAndDelete(ctx, user.ID)
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			return User{}, ErrPasskeyChallengeExpired
		}
		return User{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		// A slot that does not decode is treated the same as a missing one.
		return User{}, ErrPasskeyChallengeExpired
	}

	parsed, err := e.passkeyParser.ParseCreation(response)
	if err != nil {
		return User{}, ErrPasskeyVerificationFailed
	}

	cred, err := e.passkeys.CreateCredential(passkeyUser{user: user}, session, parsed)
	if err != nil {
		return User{}, ErrPasskeyVerificationFailed
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "passkey"
	}

	updated, err := e.users.AddPasskey(ctx, user.ID, newPasskey(name, cred, e.now()))
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("add passkey: %w", err)
	}

	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, auditEventPasskeyRegistered, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"credential": credentialRef(cred.ID),
			"name":       name,
		}
	})

	return updated, nil
}

// BeginPasskeyLogin describes the beginpasskeylogin operation and its observable behavior.
//
// BeginPasskeyLogin may return an error when input validation, dependency calls, or security checks fail.
// BeginPasskeyLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	if e == nil || e.users == nil || e.passkeys == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	email = NormalizeEmail(email)

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			// Unknown addresses and addresses without passkeys answer the
			// same, so the ceremony cannot probe registration status.
			return nil, ErrPasskeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(user.Passkeys) == 0 {
		return nil, ErrPasskeyNotFound
	}

	assertion, session, err := e.passkeys.BeginLogin(passkeyUser{user: user})
	if err != nil {
		return nil, fmt.Errorf("begin passkey login: %w", err)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode passkey session: %w", err)
	}
	if err := e.challenges.Put(ctx, user.ID, payload, e.config.Passkey.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return assertion, nil
}

// FinishPasskeyLogin describes the finishpasskeylogin operation and its observable behavior.
//
// FinishPasskeyLogin may return an error when input validation, dependency calls, or security checks fail.
// FinishPasskeyLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, email string, response []byte) (*LoginResult, error) {
	if e == nil || e.users == nil || e.passkeys == nil || e.passkeyParser == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	email = NormalizeEmail(email)

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return nil, ErrPasskeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	payload, err := e.challenges.TakeAndDelete(ctx, user.ID)
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			e.metricInc(MetricPasskeyLoginFailure)
			e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", ErrPasskeyChallengeExpired, func() map[string]string {
				return map[string]string{
					"identifier": email,
					"reason":     "challenge_missing",
				}
			})
			return nil, ErrPasskeyChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", ErrPasskeyChallengeExpired, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "challenge_corrupt",
			}
		})
		return nil, ErrPasskeyChallengeExpired
	}

	// The ceremony proves possession, not account standing; a passkey for
	// a gated account still cannot sign in. Password-specific checks and
	// the verified-email gate do not apply here.
	if gateErr := e.accountGate(user); gateErr != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", gateErr, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "account_gate",
			}
		})
		return nil, gateErr
	}

	parsed, err := e.passkeyParser.ParseAssertion(response)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", ErrPasskeyVerificationFailed, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "parse_failed",
			}
		})
		return nil, ErrPasskeyVerificationFailed
	}

	cred, err := e.passkeys.ValidateLogin(passkeyUser{user: user}, session, parsed)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", ErrPasskeyVerificationFailed, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "verification_failed",
			}
		})
		return nil, ErrPasskeyVerificationFailed
	}

	if cred.Authenticator.CloneWarning {
		// The authenticator reported a sign count at or below the stored
		// value; treat the assertion as coming from a cloned key.
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", ErrPasskeyVerificationFailed, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "clone_suspected",
			}
		})
		return nil, ErrPasskeyVerificationFailed
	}

	if user.PasskeyByID(cred.ID) == nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", ErrPasskeyNotFound, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "credential_unknown",
			}
		})
		return nil, ErrPasskeyNotFound
	}

	now := e.now()

	signCount := cred.Authenticator.SignCount
	backedUp := cred.Flags.BackupState
	// The persisted counter is always the library's returned value.
	if updated, err := e.users.UpdatePasskey(ctx, user.ID, cred.ID, PasskeyPatch{
		SignCount:  &signCount,
		BackedUp:   &backedUp,
		LastUsedAt: &now,
	}); err != nil {
		log.Print("warden: passkey counter update failed")
	} else {
		user = updated
	}

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
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "issue_pair_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricPasskeyLoginSuccess)
	e.emitAudit(ctx, auditEventPasskeyLoginSuccess, true, user.ID, tokenID, nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
			"credential": credentialRef(cred.ID),
		}
	})

	return &LoginResult{User: user, Tokens: pair}, nil
}

// RemovePasskey describes the removepasskey operation and its observable behavior.
//
// RemovePasskey may return an error when input validation, dependency calls, or security checks fail.
// RemovePasskey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RemovePasskey(ctx context.Context, userID string, credentialID []byte) (User, error) {
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

	if user.PasskeyByID(credentialID) == nil {
		return User{}, ErrPasskeyNotFound
	}

	// Passkeys do not count toward the last-auth-method rule; removing the
	// last one is always allowed.
	updated, err := e.users.RemovePasskey(ctx, userID, credentialID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrPasskeyNotFound
		}
		return User{}, fmt.Errorf("remove passkey: %w", err)
	}

	e.metricInc(MetricPasskeyRemoved)
	e.emitAudit(ctx, auditEventPasskeyRemoved, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"credential": credentialRef(credentialID),
		}
	})

	return updated, nil
}
