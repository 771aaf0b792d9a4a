package health

import (
	"context"
	"time"

	"github.com/unipost/unipost/internal/circuitbreaker"
)

// Pinger covers dependencies that expose a context-aware ping, such
// as the Postgres store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker covers HTTP dependencies with their own health probe,
// such as the Elasticsearch and LLM clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RedisChecker verifies Redis connectivity through the circuit breaker
type RedisChecker struct {
	client *circuitbreaker.RedisWrapper
}

func NewRedisChecker(client *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string           { return "redis" }
func (c *RedisChecker) IsCritical() bool       { return true }
func (c *RedisChecker) Timeout() time.Duration { return 3 * time.Second }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if c.client.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open"}
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// ProbeChecker adapts any HealthChecker dependency. Non-critical
// dependencies degrade the service instead of failing readiness.
type ProbeChecker struct {
	name     string
	probe    HealthChecker
	critical bool
	timeout  time.Duration
}

func NewProbeChecker(name string, probe HealthChecker, critical bool) *ProbeChecker {
	return &ProbeChecker{name: name, probe: probe, critical: critical, timeout: 5 * time.Second}
}

func (c *ProbeChecker) Name() string           { return c.name }
func (c *ProbeChecker) IsCritical() bool       { return c.critical }
func (c *ProbeChecker) Timeout() time.Duration { return c.timeout }

func (c *ProbeChecker) Check(ctx context.Context) CheckResult {
	if err := c.probe.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// DatabaseChecker verifies the Postgres connection
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string           { return "postgres" }
func (c *DatabaseChecker) IsCritical() bool       { return true }
func (c *DatabaseChecker) Timeout() time.Duration { return 3 * time.Second }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}
