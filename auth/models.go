package auth

import "time"

type Role string

const (
	RoleArbitrator Role = "arbitrator"
	RoleAdmin      Role = "admin"
)

// Account is the domain representation of an authenticated admin-side user.
// It mirrors the admin_users table and carries no JSON annotations so it can
// be reused by different presentation layers. The engine itself only ever
// sees the Account.ID as an actor identity.
type Account struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
