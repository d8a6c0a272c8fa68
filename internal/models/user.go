package models

// UserRole represents a role asserted by the user directory.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleUser  UserRole = "USER"
)

// UserIdentity is the user as reported by the external user directory.
// It is consulted, never stored.
type UserIdentity struct {
	ID     int64    `json:"id"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	Active bool     `json:"active"`
}
