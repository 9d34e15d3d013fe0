package domain

// Role grants elevated capabilities to a principal.
type Role string

// Recognised roles. Surveyors carry no role.
const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
)

// Principal is the authenticated caller of a mutating operation.
type Principal struct {
	UserID string `json:"user_id"`
	Roles  []Role `json:"roles,omitempty"`
}

// Has reports whether the principal carries role.
func (p Principal) Has(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool { return p.Has(RoleAdmin) }

// CanReview reports whether the principal may approve or reject plot censuses.
func (p Principal) CanReview() bool { return p.Has(RoleReviewer) || p.IsAdmin() }
