package warden

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// A refresh storm on a single token is indistinguishable from token theft.
// Exactly one caller wins the rotation; every loser trips reuse detection,
// and reuse detection ends the whole family, winner included.
func TestRefreshStormLeavesNoSurvivors(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	engine := newTestEngine(t, rdb, singleUserStore(hash), hasher)

	res, err := engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	const storm = 16
	results := make([]*LoginResult, storm)
	failures := make([]error, storm)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(storm)
	for i := 0; i < storm; i++ {
		go func(slot int) {
			defer done.Done()
			start.Wait()
			results[slot], failures[slot] = engine.Refresh(ctx, res.Tokens.RefreshToken)
		}(i)
	}
	start.Done()
	done.Wait()

	var winner *LoginResult
	winners := 0
	for i := 0; i < storm; i++ {
		if failures[i] == nil {
			winners++
			winner = results[i]
			continue
		}
		if !errors.Is(failures[i], ErrTokenInvalid) {
			t.Fatalf("loser %d got unexpected error: %v", i, failures[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}

	// Present the spent token once more. Whatever state the storm left
	// behind, the rejection revokes the family again, and this sweep
	// includes the winner's replacement token.
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected spent token rejection, got %v", err)
	}

	if _, err := engine.Refresh(ctx, winner.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected winner's token to be dead, got %v", err)
	}

	count, err := engine.ActiveSessionCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no live sessions after the storm, got %d", count)
	}
}
