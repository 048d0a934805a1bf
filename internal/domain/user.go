package domain

import "time"

// Role labels for dashboard access control.
const (
	RoleUser  = "User"
	RoleAdmin = "Admin"
)

// User owns projects and authenticates against the dashboard.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	Role         string
	PlanID       string
	CreatedAt    time.Time
}
