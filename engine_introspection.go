package warden

import (
	"context"
	"time"
)

// Introspect describes the introspect operation and its observable behavior.
//
// Introspect may return an error when input validation, dependency calls, or security checks fail.
// Introspect does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Introspect(ctx context.Context, accessToken string) IntrospectionResult {
	if e == nil || e.jwtManager == nil {
		return IntrospectionResult{}
	}

	observeLatency := e.metrics != nil && e.metrics.LatencyEnabled()
	var start time.Time
	if observeLatency {
		start = time.Now()
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)

	if observeLatency {
		e.metrics.Observe(MetricIntrospectLatency, time.Since(start))
	}

	// Rejected tokens all collapse to {active:false}; the reason is not
	// part of the contract.
	if err != nil {
		return IntrospectionResult{}
	}

	result := IntrospectionResult{
		Active:  true,
		Subject: claims.Subject,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result
}

// ActiveSessionCount describes the activesessioncount operation and its observable behavior.
//
// ActiveSessionCount may return an error when input validation, dependency calls, or security checks fail.
// ActiveSessionCount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}
	return e.tokens.CountActiveForUser(ctx, userID)
}

// Health describes the health operation and its observable behavior.
//
// Health may return an error when input validation, dependency calls, or security checks fail.
// Health does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil {
		return HealthStatus{}
	}

	status := HealthStatus{UserStoreOK: true}

	if e.tokens != nil {
		start := time.Now()
		err := e.tokens.Ping(ctx)
		status.RedisLatency = time.Since(start)
		status.RedisOK = err == nil
	}

	// Stores that expose a Ping are probed; the rest are assumed healthy.
	if pinger, ok := e.users.(interface{ Ping(context.Context) error }); ok {
		status.UserStoreOK = pinger.Ping(ctx) == nil
	}

	return status
}
