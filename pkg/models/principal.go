package models

// Role is the coarse RBAC role carried by a bearer token.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleResponder Role = "responder"
	RoleViewer    Role = "viewer"
)

// ParseRole maps a claim value to a known role, defaulting to viewer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleResponder, RoleViewer:
		return Role(s)
	default:
		return RoleViewer
	}
}

// Principal is the authenticated caller attached to each request.
type Principal struct {
	Subject   string   `json:"subject"`
	Role      Role     `json:"role"`
	Services  []string `json:"services"`
	CanIngest bool     `json:"can_ingest"`
}

// AllowsService reports whether the principal may read data scoped to the
// given service. Admins and wildcard grants see everything.
func (p *Principal) AllowsService(service string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	for _, s := range p.Services {
		if s == "*" || s == service {
			return true
		}
	}
	return false
}

// CanIngestEvents reports whether the principal may post deployment and
// config-change events.
func (p *Principal) CanIngestEvents() bool {
	return p.Role == RoleAdmin || p.CanIngest
}
