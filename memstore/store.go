package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenkit/warden"
)

type identKey struct {
	provider string
	subject  string
}

// Store is an in-memory [warden.UserStore]. The zero value is not usable;
// construct with [New].
type Store struct {
	mu sync.RWMutex

	byID      map[string]warden.User
	byEmail   map[string]string
	byIdent   map[identKey]string
	byPasskey map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:      make(map[string]warden.User),
		byEmail:   make(map[string]string),
		byIdent:   make(map[identKey]string),
		byPasskey: make(map[string]string),
	}
}

// Ping reports the store as reachable; it exists so [warden.Engine.Health]
// can probe memstore-backed deployments uniformly.
func (s *Store) Ping(ctx context.Context) error { return nil }

// FindByEmail looks a user up by normalized email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (warden.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}
	return cloneUser(s.byID[id]), nil
}

// FindByID looks a user up by ID.
func (s *Store) FindByID(ctx context.Context, id string) (warden.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}
	return cloneUser(u), nil
}

// FindByIdentity looks a user up by linked provider/subject pair.
func (s *Store) FindByIdentity(ctx context.Context, provider, subject string) (warden.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdent[identKey{provider: provider, subject: subject}]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}
	return cloneUser(s.byID[id]), nil
}

// FindByPasskeyID looks a user up by registered passkey credential ID.
func (s *Store) FindByPasskeyID(ctx context.Context, credentialID []byte) (warden.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPasskey[string(credentialID)]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}
	return cloneUser(s.byID[id]), nil
}

// Create inserts a new user. An empty ID is assigned by the store; a taken
// email or identity pair fails with [warden.ErrStoreDuplicate].
func (s *Store) Create(ctx context.Context, u warden.User) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := s.byID[u.ID]; exists {
		return warden.User{}, warden.ErrStoreDuplicate
	}
	if _, exists := s.byEmail[u.Email]; exists {
		return warden.User{}, warden.ErrStoreDuplicate
	}
	if len(u.Identities) > warden.MaxLinkedIdentities {
		return warden.User{}, warden.ErrStoreLimitExceeded
	}
	if len(u.Passkeys) > warden.MaxPasskeys {
		return warden.User{}, warden.ErrStoreLimitExceeded
	}
	for _, ident := range u.Identities {
		if _, exists := s.byIdent[identKey{provider: ident.Provider, subject: ident.Subject}]; exists {
			return warden.User{}, warden.ErrStoreDuplicate
		}
	}
	for _, pk := range u.Passkeys {
		if _, exists := s.byPasskey[string(pk.CredentialID)]; exists {
			return warden.User{}, warden.ErrStoreDuplicate
		}
	}

	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}

	stored := cloneUser(u)
	s.byID[stored.ID] = stored
	s.byEmail[stored.Email] = stored.ID
	for _, ident := range stored.Identities {
		s.byIdent[identKey{provider: ident.Provider, subject: ident.Subject}] = stored.ID
	}
	for _, pk := range stored.Passkeys {
		s.byPasskey[string(pk.CredentialID)] = stored.ID
	}

	return cloneUser(stored), nil
}

// Update applies a partial patch. A patched email must stay globally
// unique.
func (s *Store) Update(ctx context.Context, id string, patch warden.UserPatch) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	if patch.Email != nil && *patch.Email != u.Email {
		if _, exists := s.byEmail[*patch.Email]; exists {
			return warden.User{}, warden.ErrStoreDuplicate
		}
		delete(s.byEmail, u.Email)
		s.byEmail[*patch.Email] = id
		u.Email = *patch.Email
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.IsAdmin != nil {
		u.IsAdmin = *patch.IsAdmin
	}
	if patch.EmailVerified != nil {
		u.EmailVerified = *patch.EmailVerified
	}
	if patch.VerifyBy != nil {
		u.VerifyBy = *patch.VerifyBy
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.AvatarURL != nil {
		u.AvatarURL = *patch.AvatarURL
	}
	if patch.Active != nil {
		u.Active = *patch.Active
	}
	if patch.InactiveSince != nil {
		u.InactiveSince = *patch.InactiveSince
	}
	if patch.DeleteBy != nil {
		u.DeleteBy = *patch.DeleteBy
	}
	if patch.FailedLogins != nil {
		u.FailedLogins = *patch.FailedLogins
	}
	if patch.LockedUntil != nil {
		u.LockedUntil = *patch.LockedUntil
	}
	if patch.LastLogin != nil {
		u.LastLogin = *patch.LastLogin
	}

	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u

	return cloneUser(u), nil
}

// Delete removes a user and all of its indexes.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return warden.ErrStoreNotFound
	}

	delete(s.byID, id)
	delete(s.byEmail, u.Email)
	for _, ident := range u.Identities {
		delete(s.byIdent, identKey{provider: ident.Provider, subject: ident.Subject})
	}
	for _, pk := range u.Passkeys {
		delete(s.byPasskey, string(pk.CredentialID))
	}

	return nil
}

// AddIdentity links a provider/subject pair to the user. A pair already
// linked anywhere in the store fails with [warden.ErrStoreDuplicate]; the
// cap fails with [warden.ErrStoreLimitExceeded].
func (s *Store) AddIdentity(ctx context.Context, userID string, identity warden.ExternalIdentity) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	key := identKey{provider: identity.Provider, subject: identity.Subject}
	if _, exists := s.byIdent[key]; exists {
		return warden.User{}, warden.ErrStoreDuplicate
	}
	if len(u.Identities) >= warden.MaxLinkedIdentities {
		return warden.User{}, warden.ErrStoreLimitExceeded
	}

	u.Identities = append(append([]warden.ExternalIdentity(nil), u.Identities...), identity)
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u
	s.byIdent[key] = userID

	return cloneUser(u), nil
}

// RemoveIdentity unlinks a provider/subject pair from the user.
func (s *Store) RemoveIdentity(ctx context.Context, userID, provider, subject string) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	idx := -1
	for i := range u.Identities {
		if u.Identities[i].Provider == provider && u.Identities[i].Subject == subject {
			idx = i
			break
		}
	}
	if idx < 0 {
		return warden.User{}, warden.ErrStoreNotFound
	}

	identities := append([]warden.ExternalIdentity(nil), u.Identities...)
	u.Identities = append(identities[:idx], identities[idx+1:]...)
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u
	delete(s.byIdent, identKey{provider: provider, subject: subject})

	return cloneUser(u), nil
}

// AddPasskey registers a credential on the user. A credential ID already
// registered anywhere fails with [warden.ErrStoreDuplicate]; the cap fails
// with [warden.ErrStoreLimitExceeded].
func (s *Store) AddPasskey(ctx context.Context, userID string, passkey warden.Passkey) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	key := string(passkey.CredentialID)
	if _, exists := s.byPasskey[key]; exists {
		return warden.User{}, warden.ErrStoreDuplicate
	}
	if len(u.Passkeys) >= warden.MaxPasskeys {
		return warden.User{}, warden.ErrStoreLimitExceeded
	}

	passkeys := make([]warden.Passkey, 0, len(u.Passkeys)+1)
	for _, pk := range u.Passkeys {
		passkeys = append(passkeys, clonePasskey(pk))
	}
	u.Passkeys = append(passkeys, clonePasskey(passkey))
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u
	s.byPasskey[key] = userID

	return cloneUser(u), nil
}

// UpdatePasskey applies a partial patch to one credential.
func (s *Store) UpdatePasskey(ctx context.Context, userID string, credentialID []byte, patch warden.PasskeyPatch) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	passkeys := make([]warden.Passkey, len(u.Passkeys))
	idx := -1
	for i, pk := range u.Passkeys {
		passkeys[i] = clonePasskey(pk)
		if string(pk.CredentialID) == string(credentialID) {
			idx = i
		}
	}
	if idx < 0 {
		return warden.User{}, warden.ErrStoreNotFound
	}

	if patch.Name != nil {
		passkeys[idx].Name = *patch.Name
	}
	if patch.SignCount != nil {
		passkeys[idx].SignCount = *patch.SignCount
	}
	if patch.BackedUp != nil {
		passkeys[idx].BackedUp = *patch.BackedUp
	}
	if patch.LastUsedAt != nil {
		passkeys[idx].LastUsedAt = *patch.LastUsedAt
	}

	u.Passkeys = passkeys
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u

	return cloneUser(u), nil
}

// RemovePasskey unregisters a credential from the user.
func (s *Store) RemovePasskey(ctx context.Context, userID string, credentialID []byte) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	idx := -1
	for i := range u.Passkeys {
		if string(u.Passkeys[i].CredentialID) == string(credentialID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return warden.User{}, warden.ErrStoreNotFound
	}

	passkeys := make([]warden.Passkey, 0, len(u.Passkeys)-1)
	for i, pk := range u.Passkeys {
		if i == idx {
			continue
		}
		passkeys = append(passkeys, clonePasskey(pk))
	}
	u.Passkeys = passkeys
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u
	delete(s.byPasskey, string(credentialID))

	return cloneUser(u), nil
}

// IncrementFailedLogins adds one to the failed-login counter.
func (s *Store) IncrementFailedLogins(ctx context.Context, userID string) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	u.FailedLogins++
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u

	return cloneUser(u), nil
}

// ResetFailedLogins zeroes the counter and clears the lockout stamp in one
// step.
func (s *Store) ResetFailedLogins(ctx context.Context, userID string) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	u.FailedLogins = 0
	u.LockedUntil = time.Time{}
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u

	return cloneUser(u), nil
}

// SetLockedUntil stamps the lockout deadline.
func (s *Store) SetLockedUntil(ctx context.Context, userID string, until time.Time) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	u.LockedUntil = until
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u

	return cloneUser(u), nil
}

// UpdateLastLogin stamps the last successful authentication time.
func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) (warden.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return warden.User{}, warden.ErrStoreNotFound
	}

	u.LastLogin = at
	u.UpdatedAt = time.Now().UTC()
	s.byID[userID] = u

	return cloneUser(u), nil
}

func cloneUser(u warden.User) warden.User {
	out := u
	if len(u.Identities) > 0 {
		out.Identities = append([]warden.ExternalIdentity(nil), u.Identities...)
	}
	if len(u.Passkeys) > 0 {
		out.Passkeys = make([]warden.Passkey, len(u.Passkeys))
		for i, pk := range u.Passkeys {
			out.Passkeys[i] = clonePasskey(pk)
		}
	}
	return out
}

func clonePasskey(pk warden.Passkey) warden.Passkey {
	out := pk
	out.CredentialID = append([]byte(nil), pk.CredentialID...)
	out.PublicKey = append([]byte(nil), pk.PublicKey...)
	if len(pk.Transports) > 0 {
		out.Transports = append([]string(nil), pk.Transports...)
	}
	return out
}
