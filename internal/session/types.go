package session

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// PostRef records one generation made during a session
type PostRef struct {
	PostID    string    `json:"post_id"`
	Topic     string    `json:"topic"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// Session tracks a user's recent activity across API calls
type Session struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	RecentPosts []PostRef         `json:"recent_posts"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsExpired reports whether the session is past its expiry
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// clone returns a deep copy so callers never share slices or maps with
// the manager's local cache.
func (s *Session) clone() *Session {
	out := *s
	out.RecentPosts = make([]PostRef, len(s.RecentPosts))
	copy(out.RecentPosts, s.RecentPosts)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
