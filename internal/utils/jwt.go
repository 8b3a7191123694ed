package utils

import (
	"github.com/golang-jwt/jwt/v5" // JWT library
)

// Claims carried by tokens issued by the external auth collaborator. The
// engine only verifies; it never issues tokens.
type Claims struct {
	UserID               string `json:"user_id"` // Custom claim for user ID
	Role                 string `json:"role"`    // user or admin
	jwt.RegisteredClaims        // Standard JWT claims
}

// ParseJWT parses and validates a JWT token string
func ParseJWT(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil // Return the secret key for validation
	})
	if err != nil {
		return nil, err
	}
	// Validate token and extract claims
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
