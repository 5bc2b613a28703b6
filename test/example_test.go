package test

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wardenkit/warden"
	"github.com/wardenkit/warden/memstore"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := warden.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("replace-with-a-real-signing-secret")

	engine, _ := warden.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memstore.New()).
		Build()
	_ = engine
}

// ExampleEngine_Login shows a typical login call and structured error handling.
func ExampleEngine_Login() {
	var engine *warden.Engine
	_, err := engine.Login(context.Background(), "alice@example.com", "password")
	if err != nil {
		_ = err
	}
}

// ExampleEngine_Introspect shows the fixed wire shape for rejected tokens.
func ExampleEngine_Introspect() {
	var engine *warden.Engine
	result := engine.Introspect(context.Background(), "not-a-token")
	out, _ := json.Marshal(result)
	fmt.Println(string(out))
	// Output: {"active":false}
}

// ExampleConfig_Lint shows posture linting on the development defaults.
func ExampleConfig_Lint() {
	cfg := warden.DefaultConfig()
	fmt.Println(cfg.Lint().Codes())
	// Output: [audit_disabled]
}
