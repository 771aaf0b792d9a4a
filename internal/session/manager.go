package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/circuitbreaker"
	"github.com/unipost/unipost/internal/metrics"
)

// maxRecentPosts bounds the per-session generation history
const maxRecentPosts = 50

// Manager handles session state with a Redis backend and a local
// in-process cache in front of it.
type Manager struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxSessions int
}

// NewManager connects to Redis and returns a session manager
func NewManager(redisAddr, redisPassword string, logger *zap.Logger) (*Manager, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewManagerWithClient(client, logger), nil
}

// NewManagerWithClient wraps an existing Redis client. Used by tests
// and when the caller shares one connection pool.
func NewManagerWithClient(client *circuitbreaker.RedisWrapper, logger *zap.Logger) *Manager {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         24 * time.Hour,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: 10000,
	}
}

// CreateSession creates a new session for a user
func (m *Manager) CreateSession(ctx context.Context, userID string, metadata map[string]string) (*Session, error) {
	session := &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(m.ttl),
		RecentPosts: make([]PostRef, 0),
		Metadata:    metadata,
	}

	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[session.ID] = session
	m.cacheAccess[session.ID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created new session",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
	)
	metrics.SessionsCreated.Inc()

	return session.clone(), nil
}

// GetSession retrieves a session by ID, local cache first
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	if session, ok := m.localCache[sessionID]; ok {
		m.mu.RUnlock()
		metrics.CacheHits.WithLabelValues("session").Inc()
		if session.IsExpired() {
			m.DeleteSession(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return session.clone(), nil
	}
	m.mu.RUnlock()
	metrics.CacheMisses.WithLabelValues("session").Inc()

	data, err := m.client.Get(ctx, m.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.IsExpired() {
		m.DeleteSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.mu.Lock()
	m.localCache[sessionID] = &session
	m.cacheAccess[sessionID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return session.clone(), nil
}

// RecordGeneration appends a generated post to the session history
func (m *Manager) RecordGeneration(ctx context.Context, sessionID string, ref PostRef) error {
	_, err := m.mutateSession(ctx, sessionID, func(s *Session) {
		s.RecentPosts = append(s.RecentPosts, ref)
		if len(s.RecentPosts) > maxRecentPosts {
			s.RecentPosts = s.RecentPosts[len(s.RecentPosts)-maxRecentPosts:]
		}
	})
	return err
}

// mutateSession applies fn to a copy of the cached session and installs
// the copy. Cached sessions are never mutated in place; the write lock is
// held across the save so Redis sees updates in cache order.
func (m *Manager) mutateSession(ctx context.Context, sessionID string, fn func(*Session)) (*Session, error) {
	// Pull the session into the local cache first
	if _, err := m.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cached, ok := m.localCache[sessionID]
	if !ok {
		// Evicted between the get and the lock
		return nil, ErrSessionNotFound
	}

	updated := cached.clone()
	fn(updated)
	updated.UpdatedAt = time.Now()

	if err := m.saveSession(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.localCache[sessionID] = updated
	m.cacheAccess[sessionID] = time.Now()
	return updated.clone(), nil
}

// UpdateSession persists a modified session
func (m *Manager) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	stored := session.clone()
	stored.UpdatedAt = time.Now()

	if err := m.saveSession(ctx, stored); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[stored.ID] = stored
	m.mu.Unlock()
	return nil
}

// DeleteSession removes a session from Redis and the local cache
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, m.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// ExtendSession pushes out the expiry of a session
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, duration time.Duration) error {
	_, err := m.mutateSession(ctx, sessionID, func(s *Session) {
		s.ExpiresAt = time.Now().Add(duration)
	})
	return err
}

// CleanupExpired scans for sessions whose embedded expiry passed before
// the Redis TTL fired and removes them.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.IsExpired() {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}

	m.logger.Info("Cleaned up expired sessions", zap.Int("count", cleaned))
	return cleaned, nil
}

func (m *Manager) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.client.Set(ctx, m.sessionKey(session.ID), data, ttl).Err()
}

// cleanupLocalCache evicts the least recently used half when the local
// cache outgrows maxSessions. Caller must hold the write lock.
func (m *Manager) cleanupLocalCache() {
	if len(m.localCache) <= m.maxSessions {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		accessTime := m.cacheAccess[id]
		entries = append(entries, accessEntry{id: id, time: accessTime})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxSessions / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}

// Close closes the underlying Redis connection
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper exposes the circuit breaker wrapper for health checks
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}
