package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents an access level inside the admin application.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleStaff UserRole = "STAFF"
)

// JWTClaims carries the identity attached to gin contexts by the JWT
// middleware. Tokens are minted by the surrounding application; this
// service only validates them.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
