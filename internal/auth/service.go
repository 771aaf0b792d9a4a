package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// APIKey is a statically configured service credential. Keys are
// compared by SHA256 hash in constant time.
type APIKey struct {
	Key      string
	Username string
	Role     string
}

// Service validates configured API keys for machine callers
type Service struct {
	keys []apiKeyEntry
}

type apiKeyEntry struct {
	hash     string
	username string
	role     string
}

func NewService(keys []APIKey) *Service {
	entries := make([]apiKeyEntry, 0, len(keys))
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		role := k.Role
		if role == "" {
			role = RoleUser
		}
		entries = append(entries, apiKeyEntry{
			hash:     hashToken(k.Key),
			username: k.Username,
			role:     role,
		})
	}
	return &Service{keys: entries}
}

// ValidateAPIKey checks a presented key against the configured set
func (s *Service) ValidateAPIKey(key string) (*UserContext, error) {
	presented := hashToken(key)
	for _, entry := range s.keys {
		if compareTokenHash(presented, entry.hash) {
			return &UserContext{
				UserID:    entry.username,
				Username:  entry.username,
				Role:      entry.role,
				Scopes:    ScopesForRole(entry.role),
				IsAPIKey:  true,
				TokenType: "api_key",
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown API key")
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func compareTokenHash(hash1, hash2 string) bool {
	return subtle.ConstantTimeCompare([]byte(hash1), []byte(hash2)) == 1
}
