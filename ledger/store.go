package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrTokenNotFound is returned when no record exists for the given hash.
var ErrTokenNotFound = errors.New("token record not found")

// ErrCorruptRecord is returned when a stored record blob cannot be decoded.
var ErrCorruptRecord = errors.New("token record corrupt")

// MarkResult is the closed outcome set of the atomic mark-used script.
type MarkResult int64

const (
	// MarkNotFound is an exported constant or variable used by the authentication engine.
	MarkNotFound MarkResult = 0
	// MarkExpired is an exported constant or variable used by the authentication engine.
	MarkExpired MarkResult = 1
	// MarkRevoked is an exported constant or variable used by the authentication engine.
	MarkRevoked MarkResult = 2
	// MarkAlreadyUsed is an exported constant or variable used by the authentication engine.
	MarkAlreadyUsed MarkResult = 3
	// MarkOK is an exported constant or variable used by the authentication engine.
	MarkOK MarkResult = 4
	// MarkCorrupt is an exported constant or variable used by the authentication engine.
	MarkCorrupt MarkResult = 5
)

const markUsedScript = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local token_key = KEYS[1]
local now_unix = tonumber(ARGV[1])

local data = redis.call("GET", token_key)
if not data then
  return {0}
end

if string.byte(data, 1) ~= 1 then
  return {5}
end

local flags = string.byte(data, 2)
if not flags then
  return {5}
end

-- Redis Lua is 5.1: no bitwise operators, so the flag bits are tested
-- arithmetically. used = bit 0, revoked = bit 1.
local used = flags % 2
local revoked = math.floor(flags / 2) % 2

local expires_at = read_be64(data, 11)
if not expires_at then
  return {5}
end

-- Used outranks revoked: a replayed spent token must classify as
-- reuse even after its family was swept.
if used == 1 then
  return {3}
end

if revoked == 1 then
  return {2}
end

if expires_at <= now_unix then
  return {1}
end

local ttl = redis.call("PTTL", token_key)
if ttl <= 0 then
  return {1}
end

local updated = string.sub(data, 1, 1) .. string.char(flags + 1) .. string.sub(data, 3)
redis.call("SET", token_key, updated, "PX", ttl)

return {4}
`

var markUsedLua = redis.NewScript(markUsedScript)

const revokeSetScript = `
local index_key = KEYS[1]
local value_prefix = ARGV[1]

local hashes = redis.call("SMEMBERS", index_key)
local newly_revoked = 0

for i = 1, #hashes do
  local token_key = value_prefix .. hashes[i]
  local data = redis.call("GET", token_key)
  if data and string.byte(data, 1) == 1 then
    local flags = string.byte(data, 2)
    local revoked = math.floor(flags / 2) % 2
    if revoked == 0 then
      local ttl = redis.call("PTTL", token_key)
      if ttl > 0 then
        local updated = string.sub(data, 1, 1) .. string.char(flags + 2) .. string.sub(data, 3)
        redis.call("SET", token_key, updated, "PX", ttl)
        newly_revoked = newly_revoked + 1
      end
    end
  end
end

return newly_revoked
`

var revokeSetLua = redis.NewScript(revokeSetScript)

// Store is a Redis-backed refresh-token ledger that handles persistence,
// atomic single-use marking, and atomic family-wide revocation.
//
//	Docs: docs/tokens.md
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a token [Store] backed by the given Redis client.
// prefix sets the Redis key namespace; retention extends record TTLs past
// token expiry so spent records stay observable for reuse analysis.
//
//	Docs: docs/tokens.md
func NewStore(redis redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "wt"
	}
	if retention < 0 {
		retention = 0
	}
	return &Store{
		redis:     redis,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *Store) key(hash [32]byte) string {
	return s.prefix + ":" + hex.EncodeToString(hash[:])
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

func (s *Store) familyKey(family string) string {
	return s.prefix + "f:" + family
}

// Save persists a token record and indexes it by user and family.
//
//	Performance: 5 Redis commands in one transaction.
//	Docs: docs/tokens.md
func (s *Store) Save(ctx context.Context, t *Token) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}

	ttl := time.Until(t.ExpiresAt) + s.retention
	if ttl <= 0 {
		return errors.New("token expires in the past")
	}

	tokenKey := s.key(t.Hash)
	userKey := s.userKey(t.UserID)
	familyKey := s.familyKey(t.Family)
	member := hex.EncodeToString(t.Hash[:])

	// Index TTLs are refreshed to the newest member's TTL. Tokens are always
	// minted with the full refresh lifetime, so the newest member is also the
	// longest-lived one.
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey, data, ttl)
		pipe.SAdd(ctx, userKey, member)
		pipe.Expire(ctx, userKey, ttl)
		pipe.SAdd(ctx, familyKey, member)
		pipe.Expire(ctx, familyKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Find retrieves a token record by secret hash. Returns [ErrTokenNotFound]
// when no record exists and [ErrCorruptRecord] when the blob is invalid.
//
//	Performance: 1 Redis GET.
//	Docs: docs/tokens.md
func (s *Store) Find(ctx context.Context, hash [32]byte) (*Token, error) {
	data, err := s.redis.Get(ctx, s.key(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	t, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	t.Hash = hash

	return t, nil
}

// MarkUsed atomically flips the used bit on a live record. Exactly one of
// any set of concurrent callers observes [MarkOK]; the rest observe
// [MarkAlreadyUsed]. The record itself is never deleted here.
//
//	Performance: 1 Lua script call.
//	Docs: docs/tokens.md
func (s *Store) MarkUsed(ctx context.Context, hash [32]byte) (MarkResult, error) {
	res, err := markUsedLua.Run(ctx, s.redis,
		[]string{s.key(hash)},
		time.Now().UTC().Unix(),
	).Result()
	if err != nil {
		return MarkNotFound, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) < 1 {
		return MarkNotFound, errors.New("unexpected mark-used script result")
	}
	status, ok := parts[0].(int64)
	if !ok {
		return MarkNotFound, errors.New("unexpected mark-used script status")
	}

	switch MarkResult(status) {
	case MarkNotFound, MarkExpired, MarkRevoked, MarkAlreadyUsed, MarkOK, MarkCorrupt:
		return MarkResult(status), nil
	default:
		return MarkNotFound, fmt.Errorf("unknown mark-used status %d", status)
	}
}

// RevokeFamily revokes every live record in a rotation family in one script
// call and reports how many records were newly revoked. Already-revoked and
// expired records are left untouched, so the call is idempotent.
//
//	Performance: 1 Lua script call, O(family size) inside Redis.
//	Docs: docs/tokens.md
func (s *Store) RevokeFamily(ctx context.Context, family string) (int, error) {
	return s.revokeByIndex(ctx, s.familyKey(family))
}

// RevokeAllForUser revokes every live record belonging to a user across all
// families and reports how many records were newly revoked.
//
//	Performance: 1 Lua script call, O(user token count) inside Redis.
//	Docs: docs/tokens.md
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return s.revokeByIndex(ctx, s.userKey(userID))
}

func (s *Store) revokeByIndex(ctx context.Context, indexKey string) (int, error) {
	count, err := revokeSetLua.Run(ctx, s.redis,
		[]string{indexKey},
		s.prefix+":",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// ActiveForUser returns the user's live records: not used, not revoked, not
// expired. Missing and corrupt members are skipped.
//
//	Performance: 1 SMEMBERS + 1 pipelined batch of GETs.
//	Docs: docs/tokens.md
func (s *Store) ActiveForUser(ctx context.Context, userID string) ([]*Token, error) {
	members, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	hashes := make([][32]byte, 0, len(members))
	cmds := make([]*redis.StringCmd, 0, len(members))

	pipe := s.redis.Pipeline()
	for _, member := range members {
		raw, err := hex.DecodeString(member)
		if err != nil || len(raw) != 32 {
			continue
		}
		var hash [32]byte
		copy(hash[:], raw)
		hashes = append(hashes, hash)
		cmds = append(cmds, pipe.Get(ctx, s.key(hash)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now().UTC()
	active := make([]*Token, 0, len(cmds))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		t, err := Decode(data)
		if err != nil {
			continue
		}
		t.Hash = hashes[i]
		if t.Active(now) {
			active = append(active, t)
		}
	}

	return active, nil
}

// CountActiveForUser reports how many live records the user holds.
//
//	Docs: docs/tokens.md
func (s *Store) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	active, err := s.ActiveForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
