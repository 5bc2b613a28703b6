package warden

import (
	"errors"
	"time"
)

// Config defines a public type used by warden APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT          JWTConfig
	Session      SessionConfig
	Password     PasswordConfig
	Account      AccountConfig
	Verification VerificationConfig
	Passkey      PasskeyConfig
	Audit        AuditConfig
	Metrics      MetricsConfig

	ProductionMode bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by warden APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by warden APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	KeyPrefix       string // Redis key namespace, "wt" by default
	MaxActiveTokens int    // live refresh tokens per user, 0 = unlimited
	RetentionSlack  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by warden APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinLength        int
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig defines a public type used by warden APIs.
//
// AccountConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountConfig struct {
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
	RequireVerifiedEmail bool
	DeletionGracePeriod  time.Duration
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig defines a public type used by warden APIs.
//
// VerificationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type VerificationConfig struct {
	EmailTokenTTL time.Duration
	ResetTokenTTL time.Duration
	VerifyWindow  time.Duration
}

/*
====================================
PASSKEY CONFIG
====================================
*/

// PasskeyConfig defines a public type used by warden APIs.
//
// PasskeyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasskeyConfig struct {
	RPID          string // relying party ID; empty disables passkey ceremonies
	RPDisplayName string
	RPOrigins     []string
	ChallengeTTL  time.Duration
}

// AuditConfig defines a public type used by warden APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by warden APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "warden",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			KeyPrefix:       "wt",
			MaxActiveTokens: 1,
			RetentionSlack:  24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MinLength:        10,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Account: AccountConfig{
			MaxLoginAttempts:     5,
			LockoutDuration:      15 * time.Minute,
			RequireVerifiedEmail: true,
			DeletionGracePeriod:  30 * 24 * time.Hour,
		},
		Verification: VerificationConfig{
			EmailTokenTTL: 24 * time.Hour,
			ResetTokenTTL: 1 * time.Hour,
			VerifyWindow:  72 * time.Hour,
		},
		Passkey: PasskeyConfig{
			ChallengeTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		ProductionMode: false,
	}
}

// DefaultConfig returns the configuration [New] starts from. Callers that
// only need to override a few fields can mutate the copy and pass it to
// [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

// HardenedConfig returns a production-posture preset: ProductionMode gates
// on, a shorter access lifetime, capped concurrent sessions, heavier argon2
// parameters, and blocking audit delivery. Key material must still be
// supplied before the config validates.
func HardenedConfig() Config {
	cfg := defaultConfig()
	cfg.ProductionMode = true
	cfg.JWT.AccessTTL = 10 * time.Minute
	cfg.Session.MaxActiveTokens = 5
	cfg.Password.Memory = 128 * 1024
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if len(cfg.JWT.VerifyKeys) > 0 {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if len(cfg.Passkey.RPOrigins) > 0 {
		out.Passkey.RPOrigins = append([]string(nil), cfg.Passkey.RPOrigins...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}

	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}

	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.MaxActiveTokens < 0 {
		return errors.New("Session MaxActiveTokens must be >= 0")
	}
	if c.Session.RetentionSlack < 0 {
		return errors.New("Session RetentionSlack must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 10 {
		return errors.New("Password MinLength must be >= 10")
	}
	if c.Password.MaxPasswordBytes != 0 && c.Password.MaxPasswordBytes < c.Password.MinLength {
		return errors.New("Password MaxPasswordBytes must be >= MinLength")
	}

	// Account
	if c.Account.MaxLoginAttempts <= 0 {
		return errors.New("Account MaxLoginAttempts must be > 0")
	}
	if c.Account.LockoutDuration <= 0 {
		return errors.New("Account LockoutDuration must be > 0")
	}
	if c.Account.DeletionGracePeriod <= 0 {
		return errors.New("Account DeletionGracePeriod must be > 0")
	}

	// Verification
	if c.Verification.EmailTokenTTL <= 0 {
		return errors.New("Verification EmailTokenTTL must be > 0")
	}
	if c.Verification.ResetTokenTTL <= 0 {
		return errors.New("Verification ResetTokenTTL must be > 0")
	}
	if c.Verification.VerifyWindow < 0 {
		return errors.New("Verification VerifyWindow must be >= 0")
	}

	// Passkey
	if c.Passkey.RPID != "" {
		if c.Passkey.RPDisplayName == "" {
			return errors.New("Passkey RPDisplayName is required when RPID is set")
		}
		if len(c.Passkey.RPOrigins) == 0 {
			return errors.New("Passkey RPOrigins is required when RPID is set")
		}
		if c.Passkey.ChallengeTTL <= 0 {
			return errors.New("Passkey ChallengeTTL must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	if c.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("ProductionMode requires Password SaltLength >= 16")
		}
		if !c.Account.RequireVerifiedEmail {
			return errors.New("ProductionMode requires Account RequireVerifiedEmail")
		}
		if c.Session.MaxActiveTokens == 0 {
			return errors.New("ProductionMode requires Session MaxActiveTokens > 0")
		}
	}

	return nil
}
