package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"medvik/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig            `yaml:"app"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Logging        LoggingConfig        `yaml:"logging"`
	API            APIConfig            `yaml:"api"`
	Allocation     AllocationConfig     `yaml:"allocation"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Exports        ExportConfig         `yaml:"exports"`
	Google         GoogleConfig         `yaml:"google"`
	Pools          []models.ResourcePool `yaml:"pools"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AllocationConfig holds the coordinator policy knobs. The booleans are
// pointers so an omitted knob defaults to true while an explicit false
// still switches the policy off.
type AllocationConfig struct {
	// DeclineWhenFull auto-declines on reservation failure; when false the
	// booking stays pending for retry. Default true.
	DeclineWhenFull *bool `yaml:"decline_when_full"`
	// ShrinkPullsReserved lets an administrative shrink pull the shortfall
	// from reserved capacity, flagging affected bookings. Default true.
	ShrinkPullsReserved *bool `yaml:"shrink_pulls_reserved"`
	MaxBookingDays      int   `yaml:"max_booking_days"`
}

type LedgerConfig struct {
	PlatformFeePercent int64         `yaml:"platform_fee_percent"`
	PlatformAccountID  int64         `yaml:"platform_account_id"`
	Currency           string        `yaml:"currency"`
	PaymentTimeout     time.Duration `yaml:"payment_timeout"`
	Gateway            GatewayConfig `yaml:"gateway"`
}

// GatewayConfig points at the payment gateway's initiate endpoint. An
// empty URL switches the provider to log-only mode.
type GatewayConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

type ReconciliationConfig struct {
	Interval               time.Duration `yaml:"interval"`
	AutoCorrectResources   bool          `yaml:"auto_correct_resources"`
	FinancialFlagThreshold int64         `yaml:"financial_flag_threshold"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	ReportSpreadSheetID   string `yaml:"report_spreadsheet_id"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; ignore when absent
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Ledger.PlatformFeePercent < 0 || c.Ledger.PlatformFeePercent > 100 {
		return fmt.Errorf("platform fee percent %d out of range", c.Ledger.PlatformFeePercent)
	}

	// счёт платформы живёт в той же таблице балансов, что и больничные
	for _, pool := range c.Pools {
		if pool.HospitalID == c.Ledger.PlatformAccountID {
			return fmt.Errorf("hospital %d collides with platform account id", pool.HospitalID)
		}
	}

	return ValidatePools(c.Pools)
}

func ValidatePools(pools []models.ResourcePool) error {
	// Check for duplicate (hospital, resource type) keys
	seen := make(map[string]bool)
	for _, pool := range pools {
		if pool.HospitalID == 0 {
			return fmt.Errorf("pool '%s' has invalid hospital id 0", pool.ResourceType)
		}
		if pool.ResourceType == "" {
			return fmt.Errorf("pool for hospital %d has empty resource type", pool.HospitalID)
		}
		if pool.Total < 0 {
			return fmt.Errorf("pool %d/%s has negative total", pool.HospitalID, pool.ResourceType)
		}
		key := fmt.Sprintf("%d/%s", pool.HospitalID, pool.ResourceType)
		if seen[key] {
			return fmt.Errorf("duplicate pool found: %s", key)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Allocation.DeclineWhenFull == nil {
		enabled := true
		c.Allocation.DeclineWhenFull = &enabled
	}
	if c.Allocation.ShrinkPullsReserved == nil {
		enabled := true
		c.Allocation.ShrinkPullsReserved = &enabled
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Allocation.MaxBookingDays == 0 {
		c.Allocation.MaxBookingDays = models.DefaultMaxBookingDays
	}

	if c.Ledger.PlatformFeePercent == 0 {
		c.Ledger.PlatformFeePercent = models.DefaultPlatformFeePercent
	}
	if c.Ledger.PlatformAccountID == 0 {
		c.Ledger.PlatformAccountID = 1
	}
	if c.Ledger.Currency == "" {
		c.Ledger.Currency = "USD"
	}
	if c.Ledger.PaymentTimeout == 0 {
		c.Ledger.PaymentTimeout = models.DefaultPaymentTimeoutSeconds * time.Second
	}
	if c.Ledger.Gateway.Timeout == 0 {
		c.Ledger.Gateway.Timeout = 10 * time.Second
	}
	if c.Ledger.Gateway.RPS == 0 {
		c.Ledger.Gateway.RPS = 10
	}

	if c.Reconciliation.Interval == 0 {
		c.Reconciliation.Interval = models.DefaultReconciliationIntervalSeconds * time.Second
	}
}
