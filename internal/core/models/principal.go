package models

type Role string

const (
	RoleBidder  Role = "bidder"
	RoleAdmin   Role = "admin"
	RoleFinance Role = "finance"
	RoleSystem  Role = "system"
)

// Principal is the authenticated caller as supplied by the identity provider.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
