package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles of the parks administration.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleAccounting UserRole = "ACCOUNTING"
	RoleHR         UserRole = "HR"
	RoleOperations UserRole = "OPERATIONS"
	RoleViewer     UserRole = "VIEWER"
)

// JWTClaims represents the payload of access tokens issued by the parks API.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Session is the authenticated request context handed to every upstream call.
type Session struct {
	UserID    string
	Role      UserRole
	Email     string
	Token     string
	RequestID string
}

// HasRole reports whether the session role is in the allowed list; an empty list allows all.
func (s *Session) HasRole(allowed []UserRole) bool {
	if len(allowed) == 0 {
		return true
	}
	if s == nil {
		return false
	}
	for _, role := range allowed {
		if role == s.Role {
			return true
		}
	}
	return false
}
