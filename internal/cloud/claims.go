package cloud

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the fields of interest in the identity token.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Username string `json:"cognito:username,omitempty"`
	Email    string `json:"email,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
}

// inspectIDToken decodes the token's claims without verifying its
// signature. The token is only ever presented back to the cloud, which
// does the verification; the claims are used for logging.
func inspectIDToken(raw string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parsing identity token: %w", err)
	}
	return claims, nil
}
