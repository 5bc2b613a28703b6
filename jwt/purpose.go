package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose tags a single-use token with the operation it authorizes.
// A token minted for one purpose is never accepted by another consumer.
type Purpose string

const (
	// PurposeEmailVerification is an exported constant or variable used by the authentication engine.
	PurposeEmailVerification Purpose = "email-verification"
	// PurposePasswordReset is an exported constant or variable used by the authentication engine.
	PurposePasswordReset Purpose = "password-reset"
)

var (
	// ErrExpired reports a token past its expiry, after any configured leeway.
	ErrExpired = errors.New("token expired")
	// ErrWrongPurpose reports a purpose token presented to the wrong consumer.
	ErrWrongPurpose = errors.New("wrong token purpose")
)

// PurposeClaims carries the payload of verification and reset tokens.
// The embedded email pins the token to the address it was issued for;
// consumers must reject it if the account's email has changed since.
type PurposeClaims struct {
	Email   string  `json:"email"`
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// CreatePurpose signs a stateless purpose token. No server-side record is
// kept; validity is bounded entirely by the signature and the ttl.
func (j *Manager) CreatePurpose(sub string, email string, purpose Purpose, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("invalid purpose token ttl")
	}
	switch purpose {
	case PurposeEmailVerification, PurposePasswordReset:
	default:
		return "", fmt.Errorf("%w: %q", ErrWrongPurpose, purpose)
	}

	now := time.Now()
	claims := PurposeClaims{
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

// ParsePurpose verifies a purpose token and checks it was minted for want.
// Expiry is reported as [ErrExpired], a purpose mismatch as [ErrWrongPurpose];
// every other failure mode surfaces as the underlying parse error.
func (j *Manager) ParsePurpose(tokenStr string, want Purpose) (*PurposeClaims, error) {
	token, err := j.newParser().ParseWithClaims(tokenStr, &PurposeClaims{}, j.resolveVerifyKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, err
	}

	claims, ok := token.Claims.(*PurposeClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Purpose != want {
		return nil, fmt.Errorf("%w: got %q", ErrWrongPurpose, claims.Purpose)
	}
	if err := j.checkFutureIAT(claims.IssuedAt); err != nil {
		return nil, err
	}

	return claims, nil
}
