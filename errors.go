package warden

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is an exported constant or variable used by the authentication engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountPendingDeletion is an exported constant or variable used by the authentication engine.
	ErrAccountPendingDeletion = errors.New("account pending deletion")
	// ErrEmailNotVerified is an exported constant or variable used by the authentication engine.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidEmail is an exported constant or variable used by the authentication engine.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrDuplicateEmail is an exported constant or variable used by the authentication engine.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrPasswordAlreadySet is an exported constant or variable used by the authentication engine.
	ErrPasswordAlreadySet = errors.New("password already set")
	// ErrPasswordNotEnabled is an exported constant or variable used by the authentication engine.
	ErrPasswordNotEnabled = errors.New("password authentication not enabled")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication engine.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasskeyChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrPasskeyChallengeExpired = errors.New("passkey challenge expired")
	// ErrPasskeyNotFound is an exported constant or variable used by the authentication engine.
	ErrPasskeyNotFound = errors.New("passkey not found")
	// ErrPasskeyVerificationFailed is an exported constant or variable used by the authentication engine.
	ErrPasskeyVerificationFailed = errors.New("passkey verification failed")
	// ErrOAuthAlreadyLinked is an exported constant or variable used by the authentication engine.
	ErrOAuthAlreadyLinked = errors.New("identity already linked to another account")
	// ErrCannotUnlinkOnlyAuthMethod is an exported constant or variable used by the authentication engine.
	ErrCannotUnlinkOnlyAuthMethod = errors.New("cannot unlink the only authentication method")
	// ErrSessionCreationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionRevocationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionRevocationFailed = errors.New("session revocation failed")
	// ErrStoreNotFound is an exported constant or variable used by the authentication engine.
	ErrStoreNotFound = errors.New("record not found")
	// ErrStoreDuplicate is an exported constant or variable used by the authentication engine.
	ErrStoreDuplicate = errors.New("record already exists")
	// ErrStoreLimitExceeded is an exported constant or variable used by the authentication engine.
	ErrStoreLimitExceeded = errors.New("record limit reached")
	// ErrStorageUnavailable is an exported constant or variable used by the authentication engine.
	ErrStorageUnavailable = errors.New("token storage unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError carries the lockout deadline alongside [ErrAccountLocked].
// Callers branch with errors.Is(err, ErrAccountLocked) and read Until for
// a Retry-After hint.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is reports whether target is [ErrAccountLocked].
func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// PendingDeletionError carries the scheduled purge time alongside
// [ErrAccountPendingDeletion]. Reactivation before DeleteBy cancels the
// deletion.
type PendingDeletionError struct {
	DeleteBy time.Time
}

func (e *PendingDeletionError) Error() string {
	return fmt.Sprintf("account pending deletion until %s", e.DeleteBy.UTC().Format(time.RFC3339))
}

// Is reports whether target is [ErrAccountPendingDeletion].
func (e *PendingDeletionError) Is(target error) bool { return target == ErrAccountPendingDeletion }

// TokenInvalidError carries the rejection reason alongside [ErrTokenInvalid].
// Reason is one of "not found", "revoked", "reused", "corrupt". Reuse of a
// spent refresh token additionally revokes the whole token family before
// this error is returned.
type TokenInvalidError struct {
	Reason string
}

func (e *TokenInvalidError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

// Is reports whether target is [ErrTokenInvalid].
func (e *TokenInvalidError) Is(target error) bool { return target == ErrTokenInvalid }
