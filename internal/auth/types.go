package auth

// Roles ordered by privilege. Editors can approve posts, admins can
// additionally read statistics.
const (
	RoleUser   = "user"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// Scopes gate API operations
const (
	ScopePostsRead    = "posts:read"
	ScopePostsWrite   = "posts:write"
	ScopePostsApprove = "posts:approve"
	ScopeStatsRead    = "stats:read"
)

// UserContext is the authenticated caller attached to the request context
type UserContext struct {
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	IsAPIKey  bool     `json:"is_api_key"`
	TokenType string   `json:"token_type"`
}

// HasScope reports whether the caller holds the given scope
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopesForRole returns the default scopes for a role
func ScopesForRole(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{ScopePostsRead, ScopePostsWrite, ScopePostsApprove, ScopeStatsRead}
	case RoleEditor:
		return []string{ScopePostsRead, ScopePostsWrite, ScopePostsApprove}
	default:
		return []string{ScopePostsRead, ScopePostsWrite}
	}
}
