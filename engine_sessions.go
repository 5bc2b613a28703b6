package warden

import (
	"context"
	"fmt"

	"github.com/wardenkit/warden/internal"
)

// ListSessions describes the listsessions operation and its observable behavior.
//
// ListSessions may return an error when input validation, dependency calls, or security checks fail.
// ListSessions does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListSessions(ctx context.Context, userID, currentRefreshToken string) ([]SessionInfo, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	var currentHash [32]byte
	haveCurrent := false
	if currentRefreshToken != "" {
		if _, secret, err := internal.DecodeRefreshToken(currentRefreshToken); err == nil {
			currentHash = internal.HashRefreshSecret(secret)
			haveCurrent = true
		}
	}

	records, err := e.tokens.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	sessions := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, SessionInfo{
			TokenID:     rec.ID,
			Family:      rec.Family,
			IssuedAt:    rec.IssuedAt,
			ExpiresAt:   rec.ExpiresAt,
			Fingerprint: rec.Fingerprint,
			UserAgent:   rec.UserAgent,
			IP:          rec.IP,
			Current:     haveCurrent && rec.Hash == currentHash,
		})
	}
	return sessions, nil
}

// RevokeSession describes the revokesession operation and its observable behavior.
//
// RevokeSession may return an error when input validation, dependency calls, or security checks fail.
// RevokeSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeSession(ctx context.Context, userID, tokenID string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if userID == "" || tokenID == "" {
		return &TokenInvalidError{Reason: "not found"}
	}

	// Resolution goes through the caller's own session list, never by raw
	// token ID, so one user cannot revoke another's session.
	records, err := e.tokens.ActiveForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	for _, rec := range records {
		if rec.ID != tokenID {
			continue
		}
		revoked, err := e.tokens.RevokeFamily(ctx, rec.Family)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, userID, rec.ID, nil, func() map[string]string {
			return map[string]string{
				"family":         rec.Family,
				"tokens_revoked": fmt.Sprintf("%d", revoked),
			}
		})
		return nil
	}

	return &TokenInvalidError{Reason: "not found"}
}
