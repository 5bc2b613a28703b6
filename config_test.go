package warden

import (
	"testing"
	"time"
)

func TestConfigValidateRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with hs256 key valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "jwt leeway negative invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = -time.Second
			},
			wantValid: false,
		},
		{
			name: "jwt signing hs256 valid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
			},
			wantValid: true,
		},
		{
			name: "jwt signing rs256 invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "ed25519 without private key invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "ed25519 without any verify key invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = []byte("seed")
				c.JWT.PublicKey = nil
				c.JWT.VerifyKeys = nil
			},
			wantValid: false,
		},
		{
			name: "ed25519 with verify keys valid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PrivateKey = []byte("seed")
				c.JWT.VerifyKeys = map[string][]byte{"k1": []byte("pub")}
			},
			wantValid: true,
		},
		{
			name: "access ttl zero invalid",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "refresh ttl below access ttl invalid",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = c.JWT.AccessTTL - time.Minute
			},
			wantValid: false,
		},
		{
			name: "session max active negative invalid",
			mutate: func(c *Config) {
				c.Session.MaxActiveTokens = -1
			},
			wantValid: false,
		},
		{
			name: "session max active zero means unlimited",
			mutate: func(c *Config) {
				c.Session.MaxActiveTokens = 0
			},
			wantValid: true,
		},
		{
			name: "retention slack negative invalid",
			mutate: func(c *Config) {
				c.Session.RetentionSlack = -time.Hour
			},
			wantValid: false,
		},
		{
			name: "password memory below floor invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 4096
			},
			wantValid: false,
		},
		{
			name: "password min length below floor invalid",
			mutate: func(c *Config) {
				c.Password.MinLength = 6
			},
			wantValid: false,
		},
		{
			name: "password max bytes below min length invalid",
			mutate: func(c *Config) {
				c.Password.MaxPasswordBytes = 8
			},
			wantValid: false,
		},
		{
			name: "password max bytes zero means unbounded",
			mutate: func(c *Config) {
				c.Password.MaxPasswordBytes = 0
			},
			wantValid: true,
		},
		{
			name: "account attempts zero invalid",
			mutate: func(c *Config) {
				c.Account.MaxLoginAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "lockout duration zero invalid",
			mutate: func(c *Config) {
				c.Account.LockoutDuration = 0
			},
			wantValid: false,
		},
		{
			name: "deletion grace period zero invalid",
			mutate: func(c *Config) {
				c.Account.DeletionGracePeriod = 0
			},
			wantValid: false,
		},
		{
			name: "verification email ttl zero invalid",
			mutate: func(c *Config) {
				c.Verification.EmailTokenTTL = 0
			},
			wantValid: false,
		},
		{
			name: "verification reset ttl zero invalid",
			mutate: func(c *Config) {
				c.Verification.ResetTokenTTL = 0
			},
			wantValid: false,
		},
		{
			name: "verify window zero means no deadline",
			mutate: func(c *Config) {
				c.Verification.VerifyWindow = 0
			},
			wantValid: true,
		},
		{
			name: "verify window negative invalid",
			mutate: func(c *Config) {
				c.Verification.VerifyWindow = -time.Hour
			},
			wantValid: false,
		},
		{
			name: "passkey rpid without display name invalid",
			mutate: func(c *Config) {
				c.Passkey.RPID = "example.com"
				c.Passkey.RPOrigins = []string{"https://example.com"}
			},
			wantValid: false,
		},
		{
			name: "passkey rpid without origins invalid",
			mutate: func(c *Config) {
				c.Passkey.RPID = "example.com"
				c.Passkey.RPDisplayName = "Example"
			},
			wantValid: false,
		},
		{
			name: "passkey fully specified valid",
			mutate: func(c *Config) {
				c.Passkey.RPID = "example.com"
				c.Passkey.RPDisplayName = "Example"
				c.Passkey.RPOrigins = []string{"https://example.com"}
			},
			wantValid: true,
		},
		{
			name: "passkey challenge ttl zero with rpid invalid",
			mutate: func(c *Config) {
				c.Passkey.RPID = "example.com"
				c.Passkey.RPDisplayName = "Example"
				c.Passkey.RPOrigins = []string{"https://example.com"}
				c.Passkey.ChallengeTTL = 0
			},
			wantValid: false,
		},
		{
			name: "audit enabled with zero buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "audit disabled ignores buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = false
				c.Audit.BufferSize = 0
			},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := hsTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestConfigValidateProductionMode(t *testing.T) {
	productionBase := func() Config {
		cfg := DefaultConfig()
		cfg.JWT.SigningMethod = "hs256"
		cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
		cfg.ProductionMode = true
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "hardened defaults valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "long access ttl invalid",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = time.Hour
				c.JWT.RefreshTTL = 7 * 24 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "long refresh ttl invalid",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = 90 * 24 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "short hs256 key invalid",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("too-short")
			},
			wantValid: false,
		},
		{
			name: "weak argon2 memory invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 32 * 1024
			},
			wantValid: false,
		},
		{
			name: "single pass argon2 invalid",
			mutate: func(c *Config) {
				c.Password.Time = 1
			},
			wantValid: false,
		},
		{
			name: "unverified email allowed invalid",
			mutate: func(c *Config) {
				c.Account.RequireVerifiedEmail = false
			},
			wantValid: false,
		},
		{
			name: "unlimited sessions invalid",
			mutate: func(c *Config) {
				c.Session.MaxActiveTokens = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := productionBase()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestDefaultConfigNeedsKeyMaterial(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected bare defaults to fail validation without key material")
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("expected AccessTTL 15m, got %v", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("expected RefreshTTL 7d, got %v", cfg.JWT.RefreshTTL)
	}
	if cfg.JWT.SigningMethod != "ed25519" {
		t.Fatalf("expected ed25519 default, got %q", cfg.JWT.SigningMethod)
	}
	if cfg.Session.KeyPrefix != "wt" {
		t.Fatalf("expected key prefix wt, got %q", cfg.Session.KeyPrefix)
	}
	if cfg.Session.MaxActiveTokens != 1 {
		t.Fatalf("expected single active session default, got %d", cfg.Session.MaxActiveTokens)
	}
	if cfg.Password.MinLength != 10 {
		t.Fatalf("expected MinLength 10, got %d", cfg.Password.MinLength)
	}
	if cfg.Account.MaxLoginAttempts != 5 {
		t.Fatalf("expected MaxLoginAttempts 5, got %d", cfg.Account.MaxLoginAttempts)
	}
	if !cfg.Account.RequireVerifiedEmail {
		t.Fatal("expected RequireVerifiedEmail default true")
	}
	if cfg.Audit.Enabled {
		t.Fatal("expected audit disabled by default")
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics disabled by default")
	}
}

func TestCloneConfigIsolatesKeyMaterial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("private-key-material")
	cfg.JWT.PublicKey = []byte("public-key-material")
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("verify-key")}
	cfg.Passkey.RPOrigins = []string{"https://example.com"}

	clone := cloneConfig(cfg)

	cfg.JWT.PrivateKey[0] = 'X'
	cfg.JWT.PublicKey[0] = 'X'
	cfg.JWT.VerifyKeys["k1"][0] = 'X'
	cfg.JWT.VerifyKeys["k2"] = []byte("added-later")
	cfg.Passkey.RPOrigins[0] = "https://evil.example.com"

	if clone.JWT.PrivateKey[0] == 'X' {
		t.Fatal("expected private key bytes to be copied")
	}
	if clone.JWT.PublicKey[0] == 'X' {
		t.Fatal("expected public key bytes to be copied")
	}
	if clone.JWT.VerifyKeys["k1"][0] == 'X' {
		t.Fatal("expected verify key bytes to be copied")
	}
	if _, ok := clone.JWT.VerifyKeys["k2"]; ok {
		t.Fatal("expected verify key map to be copied")
	}
	if clone.Passkey.RPOrigins[0] != "https://example.com" {
		t.Fatal("expected origin slice to be copied")
	}
}
