package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered health checks on demand and caches the most
// recent results for the probe endpoints.
type Manager struct {
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	logger      *zap.Logger
	mu          sync.RWMutex
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Manager{
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		logger:      logger,
	}
}

// RegisterChecker adds a health check. Names must be unique.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	return nil
}

// RunChecks executes every registered check with its own timeout and
// returns the aggregated result.
func (m *Manager) RunChecks(ctx context.Context) OverallHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var wg sync.WaitGroup
	var resMu sync.Mutex

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()
			result.Component = c.Name()
			result.Critical = c.IsCritical()

			resMu.Lock()
			results[c.Name()] = result
			resMu.Unlock()

			if result.Status != StatusHealthy {
				m.logger.Warn("Health check not healthy",
					zap.String("component", c.Name()),
					zap.String("status", result.Status.String()),
					zap.String("error", result.Error),
				)
			}
		}(checker)
	}
	wg.Wait()

	m.mu.Lock()
	for name, r := range results {
		m.lastResults[name] = r
	}
	m.mu.Unlock()

	return aggregate(results)
}

// IsReady reports whether all critical checks pass
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.RunChecks(ctx).Ready
}

func aggregate(results map[string]CheckResult) OverallHealth {
	overall := OverallHealth{
		Status:    StatusHealthy,
		Ready:     true,
		Timestamp: time.Now(),
		Checks:    results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				overall.Status = StatusUnhealthy
				overall.Ready = false
			} else if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		case StatusDegraded:
			if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		}
	}
	return overall
}
