//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/wardenkit/warden"
)

// cmdCounter is a go-redis Hook that counts the number of Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// Each pipeline call is one network round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

// newBudgetEngine builds an engine with a cmdCounter hook installed, runs one
// full login/refresh/introspect/logout cycle to cache the Lua scripts and the
// connection handshake, then resets the counter so measurements start clean.
func newBudgetEngine(t *testing.T) (*warden.Engine, *cmdCounter) {
	t.Helper()
	ctx := context.Background()

	rdb := newIntegrationRedis(t)
	counter := &cmdCounter{}
	rdb.AddHook(counter)
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}

	engine, _ := newIntegrationEngine(t, rdb)

	res, err := engine.Login(ctx, "alice@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("warmup login: %v", err)
	}
	rotated, err := engine.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("warmup refresh: %v", err)
	}
	if intro := engine.Introspect(ctx, rotated.Tokens.AccessToken); !intro.Active {
		t.Fatal("warmup introspection reported inactive")
	}
	if err := engine.Logout(ctx, rotated.Tokens.RefreshToken); err != nil {
		t.Fatalf("warmup logout: %v", err)
	}

	counter.Reset()
	return engine, counter
}

// TestLoginRedisBudget verifies that a successful login persists the session
// in a single transactional pipeline.
func TestLoginRedisBudget(t *testing.T) {
	engine, counter := newBudgetEngine(t)
	ctx := context.Background()

	if _, err := engine.Login(ctx, "alice@example.com", integrationPassword); err != nil {
		t.Fatalf("login: %v", err)
	}

	cmds := counter.Commands()
	if cmds > 10 {
		t.Errorf("Login used %d Redis commands; budget is ≤ 10 (one transactional pipeline)", cmds)
	}
	t.Logf("Login: %d commands, %d pipelines", cmds, counter.Pipelines())
}

// TestRefreshRedisBudget verifies that a refresh rotation stays within one
// read, one Lua mark, and one transactional save.
func TestRefreshRedisBudget(t *testing.T) {
	engine, counter := newBudgetEngine(t)
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	counter.Reset()

	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	cmds := counter.Commands()
	if cmds > 12 {
		t.Errorf("Refresh used %d Redis commands; budget is ≤ 12 (GET + Lua mark + save pipeline)", cmds)
	}
	t.Logf("Refresh: %d commands, %d pipelines", cmds, counter.Pipelines())
}

// TestLogoutRedisBudget verifies that logout spends at most a read and a Lua
// mark on the presented token.
func TestLogoutRedisBudget(t *testing.T) {
	engine, counter := newBudgetEngine(t)
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	counter.Reset()

	if err := engine.Logout(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	cmds := counter.Commands()
	if cmds > 6 {
		t.Errorf("Logout used %d Redis commands; budget is ≤ 6", cmds)
	}
	t.Logf("Logout: %d commands, %d pipelines", cmds, counter.Pipelines())
}

// TestIntrospectRedisBudget verifies that access-token introspection never
// touches Redis. Signature verification is local by construction, and this
// test keeps it that way.
func TestIntrospectRedisBudget(t *testing.T) {
	engine, counter := newBudgetEngine(t)
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice@example.com", integrationPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	counter.Reset()

	intro := engine.Introspect(ctx, res.Tokens.AccessToken)
	if !intro.Active {
		t.Fatal("expected active introspection result")
	}

	if cmds := counter.Commands(); cmds != 0 {
		t.Errorf("Introspect used %d Redis commands; budget is exactly 0", cmds)
	}
	if pipes := counter.Pipelines(); pipes != 0 {
		t.Errorf("Introspect used %d Redis pipelines; budget is exactly 0", pipes)
	}
}
