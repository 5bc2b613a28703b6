//go:build integration
// +build integration

package test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wardenkit/warden"
	"github.com/wardenkit/warden/memstore"
	"github.com/wardenkit/warden/password"
)

const integrationPassword = "correct-horse-battery"

// integrationConfig relaxes the argon2 cost so the suite stays fast and
// disables the session cap so flows do not evict each other.
func integrationConfig() warden.Config {
	cfg := warden.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("integration-hs256-signing-secret")
	cfg.Session.MaxActiveTokens = 0
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newIntegrationRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// newIntegrationEngine builds an engine through the public builder only,
// backed by the in-memory user store, with one verified account
// alice@example.com / integrationPassword already seeded.
func newIntegrationEngine(t *testing.T, rdb redis.UniversalClient) (*warden.Engine, *memstore.Store) {
	t.Helper()

	users := memstore.New()
	engine, err := warden.New().
		WithConfig(integrationConfig()).
		WithRedis(rdb).
		WithUserStore(users).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	seedVerifiedUser(t, users, "alice@example.com")
	return engine, users
}

func seedVerifiedUser(t *testing.T, users *memstore.Store, email string) warden.User {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := hasher.Hash(integrationPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	u := warden.NewUser(email)
	u.PasswordHash = hash
	u.EmailVerified = true

	created, err := users.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return created
}
