package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/usagebill/backend/internal/domain/billing"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Metrics   MetricsConfig
	Collector CollectorConfig
	Pricing   PricingConfig
	Odoo      OdooConfig
	Stripe    StripeConfig
	JSONFile  JSONFileConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Tenants   TenantsConfig
	Scheduler SchedulerConfig

	// File is the config file that was read, empty when none was found
	File string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	LockTTL  time.Duration
}

// HTTPConfig holds operator API server configuration
type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	JWTSecret    string
	JWTIssuer    string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool // Enable database query tracing (otelgorm)
	ProfilingEnabled  bool
	ProfilingServer   string
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	ExporterEnabled bool
}

// CollectorConfig holds metering backend settings
type CollectorConfig struct {
	Backend      string // ceilometer, gnocchi
	Endpoint     string
	PageSize     int
	Timeout      time.Duration
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	TrustSources []string
	RateLimit    float64 // requests per second, 0 = unlimited
	Burst        int
	MaxInFlight  int64
}

// PricingConfig holds pricing backend settings
type PricingConfig struct {
	Driver            string // odoo, stripe, jsonfile
	RegionMapping     map[string]string
	TaxRate           decimal.Decimal
	TaxRates          map[string]decimal.Decimal
	IgnoreProducts    []string
	RateLimit         float64
	Burst             int
	MaxInFlight       int64
	CatalogTTL        time.Duration
	ArchiveQuotations bool
}

// OdooConfig holds Odoo JSON-RPC settings
type OdooConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// StripeConfig holds Stripe settings
type StripeConfig struct {
	SecretKey       string
	IsTestMode      bool
	DefaultCurrency string
}

// JSONFileConfig holds the file-backed pricing driver settings
type JSONFileConfig struct {
	ProductsFilePath string
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// PipelineConfig holds pipeline scheduling and policy settings
type PipelineConfig struct {
	Granularity           string
	DefaultTimezone       string
	DefaultRegion         string
	MappingFile           string
	MaxConcurrency        int
	MaxWindowsPerCycle    int
	MaxCollectionStartAge time.Duration
	TenantOrder           string
	StageTimeout          time.Duration
	RetryMaxAttempts      int
	RetryInitialInterval  time.Duration
	RetryMaxInterval      time.Duration
	SettleDelay           time.Duration
}

// TenantsConfig holds tenant selection and per-tenant overrides
type TenantsConfig struct {
	Include  []string
	Ignore   []string
	Settings map[string]billing.TenantSettings
}

// SchedulerConfig holds daemon job scheduling configuration
type SchedulerConfig struct {
	Enabled           bool
	CycleCron         string
	SweepCron         string
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// Load loads configuration from the default search path and environment.
// Priority (highest to lowest):
// 1. Environment variables with USAGEBILL_ prefix (e.g., USAGEBILL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from path, or from the default search path
// when path is empty
func LoadFile(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return fromViper(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/usagebill")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("USAGEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// fromViper builds, defaults and validates the configuration
func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		File: v.ConfigFileUsed(),
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetString("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
			JWTSecret:    v.GetString("http.jwt_secret"),
			JWTIssuer:    v.GetString("http.jwt_issuer"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
		Metrics: MetricsConfig{
			ExporterEnabled: v.GetBool("metrics.exporter_enabled"),
		},
		Collector: CollectorConfig{
			Backend:      v.GetString("collector.backend"),
			Endpoint:     v.GetString("collector.endpoint"),
			PageSize:     v.GetInt("collector.page_size"),
			Timeout:      v.GetDuration("collector.timeout"),
			TokenURL:     v.GetString("collector.token_url"),
			ClientID:     v.GetString("collector.client_id"),
			ClientSecret: v.GetString("collector.client_secret"),
			Scopes:       v.GetStringSlice("collector.scopes"),
			TrustSources: v.GetStringSlice("collector.trust_sources"),
			RateLimit:    v.GetFloat64("collector.rate_limit"),
			Burst:        v.GetInt("collector.burst"),
			MaxInFlight:  v.GetInt64("collector.max_in_flight"),
		},
		Pricing: PricingConfig{
			Driver:            v.GetString("pricing.driver"),
			IgnoreProducts:    v.GetStringSlice("pricing.ignore_products"),
			RateLimit:         v.GetFloat64("pricing.rate_limit"),
			Burst:             v.GetInt("pricing.burst"),
			MaxInFlight:       v.GetInt64("pricing.max_in_flight"),
			CatalogTTL:        v.GetDuration("pricing.catalog_ttl"),
			ArchiveQuotations: v.GetBool("pricing.archive_quotations"),
		},
		Odoo: OdooConfig{
			URL:      v.GetString("odoo.url"),
			Database: v.GetString("odoo.database"),
			Username: v.GetString("odoo.username"),
			Password: v.GetString("odoo.password"),
			Timeout:  v.GetDuration("odoo.timeout"),
		},
		Stripe: StripeConfig{
			SecretKey:       v.GetString("stripe.secret_key"),
			IsTestMode:      v.GetBool("stripe.is_test_mode"),
			DefaultCurrency: v.GetString("stripe.default_currency"),
		},
		JSONFile: JSONFileConfig{
			ProductsFilePath: v.GetString("jsonfile.products_file_path"),
		},
		Storage: StorageConfig{
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Pipeline: PipelineConfig{
			Granularity:           v.GetString("pipeline.granularity"),
			DefaultTimezone:       v.GetString("pipeline.default_timezone"),
			DefaultRegion:         v.GetString("pipeline.default_region"),
			MappingFile:           v.GetString("pipeline.mapping_file"),
			MaxConcurrency:        v.GetInt("pipeline.max_concurrency"),
			MaxWindowsPerCycle:    v.GetInt("pipeline.max_windows_per_cycle"),
			MaxCollectionStartAge: v.GetDuration("pipeline.max_collection_start_age"),
			TenantOrder:           v.GetString("pipeline.tenant_order"),
			StageTimeout:          v.GetDuration("pipeline.stage_timeout"),
			RetryMaxAttempts:      v.GetInt("pipeline.retry_max_attempts"),
			RetryInitialInterval:  v.GetDuration("pipeline.retry_initial_interval"),
			RetryMaxInterval:      v.GetDuration("pipeline.retry_max_interval"),
			SettleDelay:           v.GetDuration("pipeline.settle_delay"),
		},
		Tenants: TenantsConfig{
			Include:  v.GetStringSlice("tenants.include"),
			Ignore:   v.GetStringSlice("tenants.ignore"),
			Settings: tenantSettings(v),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			CycleCron:         v.GetString("scheduler.cycle_cron"),
			SweepCron:         v.GetString("scheduler.sweep_cron"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
			RetryAttempts:     v.GetInt("scheduler.retry_attempts"),
			RetryDelay:        v.GetDuration("scheduler.retry_delay"),
		},
	}

	var err error
	if cfg.Pricing.RegionMapping, err = billing.ParseRegionMapping(v.GetString("pricing.region_mapping")); err != nil {
		return nil, fmt.Errorf("pricing.region_mapping: %w", err)
	}
	if cfg.Pricing.TaxRates, err = billing.ParseRateMapping(v.GetString("pricing.tax_rates")); err != nil {
		return nil, fmt.Errorf("pricing.tax_rates: %w", err)
	}
	if raw := strings.TrimSpace(v.GetString("pricing.tax_rate")); raw != "" {
		if cfg.Pricing.TaxRate, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("pricing.tax_rate: %w", err)
		}
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tenantSettings reads [tenants.settings.<id>] tables. viper lowercases the
// ids, so these settings only match lowercase tenant ids.
func tenantSettings(v *viper.Viper) map[string]billing.TenantSettings {
	raw := v.GetStringMap("tenants.settings")
	out := make(map[string]billing.TenantSettings, len(raw))
	for tenant := range raw {
		prefix := "tenants.settings." + tenant + "."
		out[tenant] = billing.TenantSettings{
			Timezone:       v.GetString(prefix + "timezone"),
			Region:         v.GetString(prefix + "region"),
			IgnoreProducts: v.GetStringSlice(prefix + "ignore_products"),
		}
	}
	return out
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "usagebill"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 7
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "usagebill"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 5 * time.Minute
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.JWTIssuer == "" {
		cfg.HTTP.JWTIssuer = "usagebill"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "usagebill"
	}
	if cfg.Collector.Backend == "" {
		cfg.Collector.Backend = "gnocchi"
	}
	if cfg.Collector.PageSize == 0 {
		cfg.Collector.PageSize = 1000
	}
	if cfg.Collector.Timeout == 0 {
		cfg.Collector.Timeout = 30 * time.Second
	}
	if cfg.Collector.MaxInFlight == 0 {
		cfg.Collector.MaxInFlight = 8
	}
	if cfg.Collector.Burst == 0 {
		cfg.Collector.Burst = 1
	}
	if cfg.Pricing.Driver == "" {
		cfg.Pricing.Driver = "jsonfile"
	}
	if cfg.Pricing.MaxInFlight == 0 {
		cfg.Pricing.MaxInFlight = 4
	}
	if cfg.Pricing.Burst == 0 {
		cfg.Pricing.Burst = 1
	}
	if cfg.Pricing.CatalogTTL == 0 {
		cfg.Pricing.CatalogTTL = 15 * time.Minute
	}
	if cfg.Odoo.Timeout == 0 {
		cfg.Odoo.Timeout = 30 * time.Second
	}
	if cfg.Stripe.DefaultCurrency == "" {
		cfg.Stripe.DefaultCurrency = "nzd"
	}
	if cfg.JSONFile.ProductsFilePath == "" {
		cfg.JSONFile.ProductsFilePath = "products.json"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "quotations"
	}
	if cfg.Pipeline.Granularity == "" {
		cfg.Pipeline.Granularity = string(billing.GranularityDaily)
	}
	if cfg.Pipeline.DefaultTimezone == "" {
		cfg.Pipeline.DefaultTimezone = "UTC"
	}
	if cfg.Pipeline.MappingFile == "" {
		cfg.Pipeline.MappingFile = "mapping.yaml"
	}
	if cfg.Pipeline.MaxConcurrency == 0 {
		cfg.Pipeline.MaxConcurrency = 4
	}
	if cfg.Pipeline.MaxWindowsPerCycle == 0 {
		cfg.Pipeline.MaxWindowsPerCycle = 24
	}
	if cfg.Pipeline.MaxCollectionStartAge == 0 {
		cfg.Pipeline.MaxCollectionStartAge = 7 * 24 * time.Hour
	}
	if cfg.Pipeline.TenantOrder == "" {
		cfg.Pipeline.TenantOrder = "ascending"
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = 2 * time.Minute
	}
	if cfg.Pipeline.RetryMaxAttempts == 0 {
		cfg.Pipeline.RetryMaxAttempts = 5
	}
	if cfg.Pipeline.RetryInitialInterval == 0 {
		cfg.Pipeline.RetryInitialInterval = 500 * time.Millisecond
	}
	if cfg.Pipeline.RetryMaxInterval == 0 {
		cfg.Pipeline.RetryMaxInterval = 30 * time.Second
	}
	if cfg.Pipeline.SettleDelay == 0 {
		cfg.Pipeline.SettleDelay = 15 * time.Minute
	}
	if cfg.Scheduler.CycleCron == "" {
		cfg.Scheduler.CycleCron = "5 * * * *"
	}
	if cfg.Scheduler.SweepCron == "" {
		cfg.Scheduler.SweepCron = "*/15 * * * *"
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 2
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = 5 * time.Minute
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if _, err := billing.ParseGranularity(c.Pipeline.Granularity); err != nil {
		return fmt.Errorf("pipeline.granularity: %w", err)
	}
	zones := []string{c.Pipeline.DefaultTimezone}
	for tenant, s := range c.Tenants.Settings {
		if s.Timezone != "" {
			zones = append(zones, s.Timezone)
		}
		if tenant == "" {
			return fmt.Errorf("tenants.settings has an empty tenant id")
		}
	}
	for _, tz := range zones {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("unknown timezone %q", tz)
		}
	}
	if len(c.Tenants.Include) > 0 && len(c.Tenants.Ignore) > 0 {
		return fmt.Errorf("tenants.include and tenants.ignore are mutually exclusive")
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		return fmt.Errorf("pipeline.max_concurrency must be positive")
	}
	if c.Pipeline.MaxWindowsPerCycle <= 0 {
		return fmt.Errorf("pipeline.max_windows_per_cycle must be positive")
	}
	switch c.Pipeline.TenantOrder {
	case "ascending", "descending", "random":
	default:
		return fmt.Errorf("pipeline.tenant_order must be ascending, descending or random, got %q", c.Pipeline.TenantOrder)
	}
	if c.Pipeline.RetryMaxAttempts < 1 {
		return fmt.Errorf("pipeline.retry_max_attempts must be at least 1")
	}

	if c.Pricing.TaxRate.IsNegative() || c.Pricing.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("pricing.tax_rate must be between 0 and 1, got %s", c.Pricing.TaxRate)
	}
	for region, rate := range c.Pricing.TaxRates {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("pricing.tax_rates: rate of %s must be between 0 and 1", region)
		}
	}
	switch c.Pricing.Driver {
	case "odoo", "stripe", "jsonfile":
	default:
		return fmt.Errorf("pricing.driver must be odoo, stripe or jsonfile, got %q", c.Pricing.Driver)
	}
	switch c.Collector.Backend {
	case "ceilometer", "gnocchi":
	default:
		return fmt.Errorf("collector.backend must be ceilometer or gnocchi, got %q", c.Collector.Backend)
	}
	if c.Collector.RateLimit < 0 || c.Pricing.RateLimit < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}

	if c.App.Env == "production" {
		if len(c.HTTP.JWTSecret) < 32 {
			return fmt.Errorf("http.jwt_secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
