package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// TallyConfig represents the complete sync configuration
type TallyConfig struct {
	Tally       TallyIntegration   `toml:"tally"`
	Queuing     QueuingConfig      `toml:"queuing"`
	Scheduler   SchedulerConfig    `toml:"scheduler"`
	Connections []ConnectionConfig `toml:"connections"`
}

// TallyIntegration contains the remote Tally server settings
type TallyIntegration struct {
	APIEndpoint     string   `toml:"api_endpoint"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	VoucherTypes    []string `toml:"voucher_types"`
	ArchivePayloads bool     `toml:"archive_payloads"`
}

// QueuingConfig contains Redis and concurrency settings for the asynq worker
type QueuingConfig struct {
	Enabled     bool   `toml:"enabled"`
	RedisAddr   string `toml:"redis_addr"`
	RedisDB     int    `toml:"redis_db"`
	Concurrency int    `toml:"concurrency"`
	Queue       string `toml:"queue"`
}

// SchedulerConfig controls the daily run and the history kept for status checks
type SchedulerConfig struct {
	Enabled           bool   `toml:"enabled"`
	DailyAt           string `toml:"daily_at"`
	Timezone          string `toml:"timezone"`
	HistorySize       int    `toml:"history_size"`
	VoucherWindowDays int    `toml:"voucher_window_days"`
	CatchUp           bool   `toml:"catch_up"`
	DistributedLock   bool   `toml:"distributed_lock"`
	LockTTLMinutes    int    `toml:"lock_ttl_minutes"`
}

// ConnectionConfig binds one Tally company to a tenant
type ConnectionConfig struct {
	TenantID    string `toml:"tenant_id"`
	Company     string `toml:"company"`
	APIEndpoint string `toml:"api_endpoint"`
}

// Connection is a validated ConnectionConfig
type Connection struct {
	TenantID uuid.UUID
	Company  string
	Endpoint string
}

const (
	defaultTimeoutSeconds    = 300
	defaultDailyAt           = "02:00"
	defaultTimezone          = "Asia/Kolkata"
	defaultHistorySize       = 20
	defaultVoucherWindowDays = 7
	defaultLockTTLMinutes    = 60
)

// LoadTallyConfig loads configuration from a TOML file and applies defaults.
// Callers run Validate once environment overrides are in place.
func LoadTallyConfig(filename string) (*TallyConfig, error) {
	config := &TallyConfig{}
	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	config.ApplyDefaults()
	return config, nil
}

// ApplyDefaults fills zero values with the service defaults
func (c *TallyConfig) ApplyDefaults() {
	if c.Tally.TimeoutSeconds <= 0 {
		c.Tally.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Scheduler.DailyAt == "" {
		c.Scheduler.DailyAt = defaultDailyAt
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = defaultTimezone
	}
	if c.Scheduler.HistorySize <= 0 {
		c.Scheduler.HistorySize = defaultHistorySize
	}
	if c.Scheduler.VoucherWindowDays <= 0 {
		c.Scheduler.VoucherWindowDays = defaultVoucherWindowDays
	}
	if c.Scheduler.LockTTLMinutes <= 0 {
		c.Scheduler.LockTTLMinutes = defaultLockTTLMinutes
	}
	if c.Queuing.Concurrency <= 0 {
		c.Queuing.Concurrency = 2
	}
	if c.Queuing.Queue == "" {
		c.Queuing.Queue = "tally"
	}
}

// Validate checks the values that would otherwise fail at scheduling time
func (c *TallyConfig) Validate() error {
	if _, _, err := c.DailyTime(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ResolveConnections(); err != nil {
		return err
	}
	return nil
}

// Timeout is the per-request timeout for the Tally HTTP client
func (c *TallyConfig) Timeout() time.Duration {
	return time.Duration(c.Tally.TimeoutSeconds) * time.Second
}

// LockTTL bounds how long a crashed process can hold the distributed lock
func (c *TallyConfig) LockTTL() time.Duration {
	return time.Duration(c.Scheduler.LockTTLMinutes) * time.Minute
}

// DailyTime parses scheduler.daily_at as HH:MM
func (c *TallyConfig) DailyTime() (uint, uint, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Scheduler.DailyAt))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid scheduler.daily_at %q: expected HH:MM", c.Scheduler.DailyAt)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// Location resolves scheduler.timezone
func (c *TallyConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// ResolveConnections validates every [[connections]] entry. A connection without
// its own endpoint uses tally.api_endpoint.
func (c *TallyConfig) ResolveConnections() ([]Connection, error) {
	conns := make([]Connection, 0, len(c.Connections))
	for i, cc := range c.Connections {
		tenantID, err := uuid.Parse(strings.TrimSpace(cc.TenantID))
		if err != nil {
			return nil, fmt.Errorf("connections[%d]: invalid tenant_id: %w", i, err)
		}
		company := strings.TrimSpace(cc.Company)
		if company == "" {
			return nil, fmt.Errorf("connections[%d]: company is required", i)
		}
		endpoint := strings.TrimSpace(cc.APIEndpoint)
		if endpoint == "" {
			endpoint = c.Tally.APIEndpoint
		}
		if endpoint == "" {
			return nil, fmt.Errorf("connections[%d]: no api_endpoint configured", i)
		}
		conns = append(conns, Connection{TenantID: tenantID, Company: company, Endpoint: endpoint})
	}
	return conns, nil
}

// DefaultCompany returns the first company configured for a tenant
func (c *TallyConfig) DefaultCompany(tenantID uuid.UUID) (string, error) {
	conns, err := c.ResolveConnections()
	if err != nil {
		return "", err
	}
	for _, conn := range conns {
		if conn.TenantID == tenantID {
			return conn.Company, nil
		}
	}
	return "", errors.New("no tally company configured for tenant")
}
