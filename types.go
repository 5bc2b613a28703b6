package warden

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const (
	// MaxLinkedIdentities is an exported constant or variable used by the authentication engine.
	MaxLinkedIdentities = 5
	// MaxPasskeys is an exported constant or variable used by the authentication engine.
	MaxPasskeys = 5
)

// User is the full account record exchanged with [UserStore]. Email is
// stored lowercased and trimmed; [NormalizeEmail] is applied by the engine
// before every lookup and write. A user with an empty PasswordHash is
// passwordless and can only sign in through a linked identity or a passkey.
//
//	Docs: docs/engine.md, docs/usage.md
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsAdmin      bool

	EmailVerified bool
	VerifyBy      time.Time

	FirstName string
	LastName  string
	AvatarURL string

	Active        bool
	InactiveSince time.Time
	DeleteBy      time.Time

	Identities []ExternalIdentity
	Passkeys   []Passkey

	FailedLogins int
	LockedUntil  time.Time
	LastLogin    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether password authentication is enabled for the
// account.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// PendingDeletion reports whether the account is deactivated with a
// scheduled purge date.
func (u *User) PendingDeletion() bool { return !u.Active && !u.DeleteBy.IsZero() }

// LockedAt reports whether the account lockout is still in force at the
// given instant.
func (u *User) LockedAt(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// Identity returns the linked identity for a provider/subject pair, or nil.
func (u *User) Identity(provider, subject string) *ExternalIdentity {
	for i := range u.Identities {
		if u.Identities[i].Provider == provider && u.Identities[i].Subject == subject {
			return &u.Identities[i]
		}
	}
	return nil
}

// PasskeyByID returns the stored passkey with the given credential ID, or nil.
func (u *User) PasskeyByID(credentialID []byte) *Passkey {
	for i := range u.Passkeys {
		if string(u.Passkeys[i].CredentialID) == string(credentialID) {
			return &u.Passkeys[i]
		}
	}
	return nil
}

// NewUser returns a User initialized for insertion: normalized email,
// active, timestamps set to now. ID is left empty for the store to assign
// on Create.
func NewUser(email string) User {
	now := time.Now().UTC()
	return User{
		Email:     NormalizeEmail(email),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NormalizeEmail lowercases and trims an email address. Every engine
// operation applies it before comparing or persisting addresses.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExternalIdentity is one federated login linked to a [User]. The pair
// (Provider, Subject) is unique across the whole store.
//
//	Docs: docs/oauth.md
type ExternalIdentity struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
	LinkedAt  time.Time
}

// Passkey is one WebAuthn credential registered on a [User]. SignCount
// mirrors the authenticator's signature counter and is persisted verbatim
// after every assertion.
//
//	Docs: docs/passkeys.md
type Passkey struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Name         string
	DeviceType   string
	BackedUp     bool
	Transports   []string
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// UserPatch is a partial update applied by [UserStore.Update]. Nil fields
// are left untouched; non-nil fields overwrite, including overwriting with
// zero values.
type UserPatch struct {
	Email        *string
	PasswordHash *string
	IsAdmin      *bool

	EmailVerified *bool
	VerifyBy      *time.Time

	FirstName *string
	LastName  *string
	AvatarURL *string

	Active        *bool
	InactiveSince *time.Time
	DeleteBy      *time.Time

	FailedLogins *int
	LockedUntil  *time.Time
	LastLogin    *time.Time
}

// PasskeyPatch is a partial update applied by [UserStore.UpdatePasskey].
type PasskeyPatch struct {
	Name       *string
	SignCount  *uint32
	BackedUp   *bool
	LastUsedAt *time.Time
}

// UserStore is the primary interface that callers must implement to
// integrate warden with their user database. It covers account lookup by
// every credential type, record lifecycle, and the small atomic mutations
// the engine issues on hot paths (failed-login counters, lockout stamps,
// passkey sign counters).
//
// Implementations return [ErrStoreNotFound] for missing records and
// [ErrStoreDuplicate] for unique-constraint violations; the engine
// translates both into its public error kinds. Every mutating method
// returns the full user state after the mutation. The identity and passkey
// helpers must be atomic with respect to concurrent callers and enforce
// [MaxLinkedIdentities] and [MaxPasskeys]; ResetFailedLogins zeroes the
// counter and clears the lockout stamp together. A complete in-memory
// implementation ships in the memstore subpackage.
//
//	Docs: docs/engine.md, docs/usage.md
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	FindByIdentity(ctx context.Context, provider, subject string) (User, error)
	FindByPasskeyID(ctx context.Context, credentialID []byte) (User, error)

	Create(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, id string, patch UserPatch) (User, error)
	Delete(ctx context.Context, id string) error

	AddIdentity(ctx context.Context, userID string, identity ExternalIdentity) (User, error)
	RemoveIdentity(ctx context.Context, userID, provider, subject string) (User, error)

	AddPasskey(ctx context.Context, userID string, passkey Passkey) (User, error)
	UpdatePasskey(ctx context.Context, userID string, credentialID []byte, patch PasskeyPatch) (User, error)
	RemovePasskey(ctx context.Context, userID string, credentialID []byte) (User, error)

	IncrementFailedLogins(ctx context.Context, userID string) (User, error)
	ResetFailedLogins(ctx context.Context, userID string) (User, error)
	SetLockedUntil(ctx context.Context, userID string, until time.Time) (User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) (User, error)
}

// Hasher abstracts password hashing so deployments can swap the default
// argon2id implementation ([password.Argon2]) without touching the engine.
// DecoyHash returns a throwaway hash verified on paths that have no real
// hash, keeping failure timing uniform.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
	DecoyHash() string
}

// TokenPair carries one freshly minted access/refresh pair. ExpiresIn is
// the access token lifetime in seconds, ready for an OAuth-style HTTP
// response.
//
//	Docs: docs/tokens.md
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// LoginResult is returned by [Engine.Login], [Engine.Refresh],
// [Engine.FinishPasskeyLogin], and [Engine.ResolveOAuthLogin]. User is the
// account snapshot taken after all login side effects (counter reset,
// LastLogin stamp) were applied.
type LoginResult struct {
	User   User
	Tokens TokenPair
}

// RegisterInput is the input for [Engine.Register]. Email and Password are
// required; name fields are optional profile data. CallbackURL, when set,
// is the page the verification link should land on; leaving it empty
// suppresses the verification mail (silent flows mint their own tokens).
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	CallbackURL string
}

// RegisterResult is returned by [Engine.Register]. Tokens is non-nil only
// when the new account can sign in immediately, i.e. verified email is not
// required; otherwise the caller must complete verification and log in.
type RegisterResult struct {
	User   User
	Tokens *TokenPair
}

// SessionInfo describes one active refresh-token family member, as
// returned by [Engine.ListSessions]. Current marks the entry whose token
// ID matches the refresh token presented with the call.
type SessionInfo struct {
	TokenID     string
	Family      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Fingerprint string
	UserAgent   string
	IP          string
	Current     bool
}

// IntrospectionResult is the outcome of [Engine.Introspect]. Active is
// false for any token that fails verification; the remaining fields are
// populated only when Active is true.
//
// The JSON encoding is a fixed wire contract for third-party consumers:
// a rejected token marshals to exactly {"active":false}, an accepted one
// to {active, sub, email, isAdmin, iat, exp} with unix-second timestamps.
type IntrospectionResult struct {
	Active    bool
	Subject   string
	Email     string
	IsAdmin   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MarshalJSON implements the fixed introspection wire shape.
func (r IntrospectionResult) MarshalJSON() ([]byte, error) {
	if !r.Active {
		return []byte(`{"active":false}`), nil
	}
	return json.Marshal(struct {
		Active  bool   `json:"active"`
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		IsAdmin bool   `json:"isAdmin"`
		IAT     int64  `json:"iat"`
		EXP     int64  `json:"exp"`
	}{
		Active:  true,
		Sub:     r.Subject,
		Email:   r.Email,
		IsAdmin: r.IsAdmin,
		IAT:     r.IssuedAt.Unix(),
		EXP:     r.ExpiresAt.Unix(),
	})
}

// HealthStatus is a point-in-time dependency probe returned by
// [Engine.Health].
type HealthStatus struct {
	RedisOK      bool
	RedisLatency time.Duration
	UserStoreOK  bool
}

// Healthy reports whether every probed dependency answered.
func (h HealthStatus) Healthy() bool { return h.RedisOK && h.UserStoreOK }
