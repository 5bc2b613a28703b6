package warden

import "time"

// SecurityReport is a point-in-time summary of the engine's effective
// security posture, returned by [Engine.SecurityReport].
type SecurityReport struct {
	ProductionMode       bool
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Argon2               PasswordConfigReport
	LockoutActive        bool
	SessionCapActive     bool
	RequireVerifiedEmail bool
	PasskeysEnabled      bool
	OAuthProviders       []string
	AuditEnabled         bool
	MetricsEnabled       bool
}

// PasswordConfigReport echoes the Argon2id parameters in force.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport describes the securityreport operation and its observable behavior.
//
// SecurityReport may return an error when input validation, dependency calls, or security checks fail.
// SecurityReport does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	report := SecurityReport{
		ProductionMode:   e.config.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		LockoutActive:        e.config.Account.MaxLoginAttempts > 0 && e.config.Account.LockoutDuration > 0,
		SessionCapActive:     e.config.Session.MaxActiveTokens > 0,
		RequireVerifiedEmail: e.config.Account.RequireVerifiedEmail,
		PasskeysEnabled:      e.passkeys != nil,
		AuditEnabled:         e.config.Audit.Enabled,
		MetricsEnabled:       e.config.Metrics.Enabled,
	}
	if e.oauth != nil {
		report.OAuthProviders = e.oauth.Providers()
	}
	return report
}
