package warden

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks lint findings. Findings never fail [Config.Validate];
// they flag choices that validate but weaken a deployment.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "HIGH"
	case LintWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// LintWarning is a single finding produced by [Config.Lint].
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the ordered result of a lint pass.
type LintWarnings []LintWarning

// Codes returns the finding codes in emission order.
func (ws LintWarnings) Codes() []string {
	codes := make([]string, len(ws))
	for i, w := range ws {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns the findings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError converts the findings at or above min into an error, or nil when
// none reach it. Startup code that wants to refuse risky configs can call
// cfg.Lint().AsError(LintHigh) next to cfg.Validate().
func (ws LintWarnings) AsError(min LintSeverity) error {
	flagged := ws.BySeverity(min)
	if len(flagged) == 0 {
		return nil
	}
	return fmt.Errorf("config lint: %d finding(s) at or above %s: %s",
		len(flagged), min, strings.Join(flagged.Codes(), ", "))
}

// Lint reports configuration choices that pass validation but soften the
// security posture. Several checks mirror the ProductionMode gates so that
// development configs still surface them.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings

	add := func(code string, severity LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{
			Code:     code,
			Severity: severity,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if c.JWT.SigningMethod == "hs256" {
		add("signing_hs256", LintWarn,
			"hs256 shares one secret between signer and verifiers; prefer ed25519 for multi-service deployments")
	}
	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn,
			"JWT leeway of %v widens the expiry window on every token", c.JWT.Leeway)
	}
	if c.JWT.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn,
			"access tokens stay valid for %v and cannot be revoked before expiry", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn,
			"refresh tokens stay usable for %v", c.JWT.RefreshTTL)
	}

	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintHigh,
			"argon2 memory of %d KB is below the 64 MB baseline", c.Password.Memory)
	}
	if !c.Password.UpgradeOnLogin {
		add("upgrade_on_login_disabled", LintInfo,
			"hashes minted under older parameters will never be rewritten")
	}

	if !c.Account.RequireVerifiedEmail {
		add("verified_email_disabled", LintHigh,
			"accounts can log in without proving control of their address")
	}
	if c.Account.MaxLoginAttempts > 10 {
		add("lockout_lenient", LintWarn,
			"%d guesses before lockout gives online attacks a wide window", c.Account.MaxLoginAttempts)
	}

	if c.Session.MaxActiveTokens == 0 {
		add("session_cap_disabled", LintWarn,
			"a leaked credential can mint unbounded concurrent sessions")
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo,
			"authentication events leave no trail")
	}

	return ws
}
