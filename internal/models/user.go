package models

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Principal is the authenticated caller extracted from the bearer token.
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
