package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Operators are the sole principal kind; there is no tenancy dimension.
// Hidden/admin override capabilities should be represented via separate
// server-side authorization checks.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID string    `json:"operator_id"`
	Role       string    `json:"role"`
	TokenType  TokenType `json:"token_type"`
}
