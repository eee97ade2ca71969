// Package config provides centralized configuration management for the archiver.
// Configuration is layered: defaults, then an optional JSON or YAML file, then an
// optional .env file, then process environment variables. The resulting AppConfig
// is passed explicitly to every component; nothing reads the environment later.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name"`
	Version    string `json:"version" yaml:"version"`
	ConfigPath string `json:"-" yaml:"-"`
	EnvFile    string `json:"-" yaml:"-"`

	Download  DownloadConfig  `json:"download" yaml:"download"`
	Source    SourceConfig    `json:"source" yaml:"source"`
	Output    OutputConfig    `json:"output" yaml:"output"`
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Backtest  BacktestConfig  `json:"backtest" yaml:"backtest"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// DownloadConfig configures the acquisition pipeline
type DownloadConfig struct {
	StartDate       string            `json:"start_date" yaml:"start_date"`               // YYYYMMDD or YYYY-MM-DD
	EndDate         string            `json:"end_date" yaml:"end_date"`                   // empty means today
	Period          string            `json:"period" yaml:"period"`                       // 1d, 1w, 1mon
	DividendType    string            `json:"dividend_type" yaml:"dividend_type"`         // none, front, back, front_ratio, back_ratio
	YearsPerSegment int               `json:"years_per_segment" yaml:"years_per_segment"` // maximum span of one upstream request
	Pause           string            `json:"pause" yaml:"pause"`                         // pause between instruments
	Retry           RetryPolicyConfig `json:"retry" yaml:"retry"`
	Instruments     InstrumentGroups  `json:"instruments" yaml:"instruments"`
}

// InstrumentGroups holds the configured universe by asset class
type InstrumentGroups struct {
	ETF   []string `json:"etf,omitempty" yaml:"etf,omitempty"`
	Stock []string `json:"stock,omitempty" yaml:"stock,omitempty"`
	Index []string `json:"index,omitempty" yaml:"index,omitempty"`
}

// RetryPolicyConfig configures retry behavior for segment fetches
type RetryPolicyConfig struct {
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts"`         // total attempts, including the first
	Delay           string `json:"delay" yaml:"delay"`                       // delay between attempts
	MaxDelay        string `json:"max_delay" yaml:"max_delay"`               // cap for linear and exponential strategies
	BackoffStrategy string `json:"backoff_strategy" yaml:"backoff_strategy"` // fixed, linear, exponential
	Jitter          bool   `json:"jitter" yaml:"jitter"`
	AttemptTimeout  string `json:"attempt_timeout" yaml:"attempt_timeout"` // deadline for each upstream call
}

// SourceConfig configures the upstream market-data gateway
type SourceConfig struct {
	Type      string  `json:"type" yaml:"type"` // gateway
	BaseURL   string  `json:"base_url" yaml:"base_url"`
	Token     string  `json:"token" yaml:"token"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"` // requests per second
	Burst     int     `json:"burst" yaml:"burst"`
	Timeout   string  `json:"timeout" yaml:"timeout"` // HTTP client timeout
}

// OutputConfig configures artifact persistence
type OutputConfig struct {
	Dir          string   `json:"dir" yaml:"dir"`
	Formats      []string `json:"formats" yaml:"formats"` // parquet, csv, xlsx
	WriteListing bool     `json:"write_listing" yaml:"write_listing"`
	WriteReport  bool     `json:"write_report" yaml:"write_report"`
}

// CatalogConfig configures the DuckDB coverage catalog
type CatalogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // empty means <output dir>/catalog.duckdb
}

// SchedulerConfig configures the daily download schedule
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	At       string `json:"at" yaml:"at"` // HH:MM wall-clock time
	Timezone string `json:"timezone" yaml:"timezone"`

	// StatusAddr is the listen address of the health and metrics endpoint
	// while scheduling; empty disables it.
	StatusAddr string `json:"status_addr,omitempty" yaml:"status_addr,omitempty"`
}

// BacktestConfig configures the moving-average demo
type BacktestConfig struct {
	ShortWindow int     `json:"short_window" yaml:"short_window"`
	LongWindow  int     `json:"long_window" yaml:"long_window"`
	InitialCash float64 `json:"initial_cash" yaml:"initial_cash"`
	LotSize     int     `json:"lot_size" yaml:"lot_size"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level"`             // debug, info, warn, error
	Format        string            `json:"format" yaml:"format"`           // json, text
	Output        string            `json:"output" yaml:"output"`           // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path"`     // log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`       // megabytes
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"` // rotated files kept
	MaxAge        int               `json:"max_age" yaml:"max_age"`         // days
	Compress      bool              `json:"compress" yaml:"compress"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

var (
	validPeriods     = map[string]bool{"1d": true, "1w": true, "1mon": true}
	validAdjustments = map[string]bool{"none": true, "front": true, "back": true, "front_ratio": true, "back_ratio": true}
	validFormats     = map[string]bool{"parquet": true, "csv": true, "xlsx": true}
	validStrategies  = map[string]bool{"fixed": true, "linear": true, "exponential": true}
)

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager. Either path may be empty.
func NewConfigManager(configPath, envFile string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    envFile,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables, including those loaded from the .env file (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath
	config.EnvFile = cm.envFile

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	config.Output.Formats = NormalizeFormats(config.Output.Formats)

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Debug("configuration loaded",
		"config_path", cm.configPath,
		"output_dir", config.Output.Dir,
		"formats", config.Output.Formats,
		"years_per_segment", config.Download.YearsPerSegment,
		"retry_attempts", config.Download.Retry.MaxAttempts)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadEnvFile populates the process environment from a dotenv file.
// Variables already set in the environment are not overridden.
func (cm *ConfigManager) loadEnvFile() error {
	if cm.envFile == "" {
		return nil
	}
	if _, err := os.Stat(cm.envFile); os.IsNotExist(err) {
		cm.logger.Debug("env file does not exist, skipping", "path", cm.envFile)
		return nil
	}
	return godotenv.Load(cm.envFile)
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("OUTPUT_DIR"); val != "" {
		config.Output.Dir = val
	}
	if val := os.Getenv("OUTPUT_FORMATS"); val != "" {
		config.Output.Formats = strings.Split(val, ",")
	}
	if val := os.Getenv("YEARS_PER_SEGMENT"); val != "" {
		years, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("YEARS_PER_SEGMENT: %w", err)
		}
		config.Download.YearsPerSegment = years
	}
	if val := os.Getenv("RETRY_TIMES"); val != "" {
		attempts, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("RETRY_TIMES: %w", err)
		}
		config.Download.Retry.MaxAttempts = attempts
	}
	if val := os.Getenv("START_DATE"); val != "" {
		config.Download.StartDate = val
	}
	if val := os.Getenv("END_DATE"); val != "" {
		config.Download.EndDate = val
	}
	if val := os.Getenv("PERIOD"); val != "" {
		config.Download.Period = val
	}
	if val := os.Getenv("DIVIDEND_TYPE"); val != "" {
		config.Download.DividendType = val
	}

	if val := os.Getenv("GATEWAY_URL"); val != "" {
		config.Source.BaseURL = val
	}
	if val := os.Getenv("GATEWAY_TOKEN"); val != "" {
		config.Source.Token = val
	}

	if val := os.Getenv("CATALOG_ENABLED"); val != "" {
		config.Catalog.Enabled = val == "true"
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	d := config.Download
	if _, err := models.ParseDate(d.StartDate); err != nil {
		errors = append(errors, fmt.Sprintf("download.start_date: %v", err))
	}
	if d.EndDate != "" {
		if _, err := models.ParseDate(d.EndDate); err != nil {
			errors = append(errors, fmt.Sprintf("download.end_date: %v", err))
		}
	}
	if !validPeriods[d.Period] {
		errors = append(errors, "download.period must be one of: 1d, 1w, 1mon")
	}
	if !validAdjustments[d.DividendType] {
		errors = append(errors, "download.dividend_type must be one of: none, front, back, front_ratio, back_ratio")
	}
	if d.YearsPerSegment <= 0 {
		errors = append(errors, "download.years_per_segment must be greater than 0")
	}
	if _, err := time.ParseDuration(d.Pause); err != nil {
		errors = append(errors, fmt.Sprintf("download.pause is not a valid duration: %v", err))
	}

	errors = append(errors, validateRetryPolicy(d.Retry)...)

	if config.Source.BaseURL == "" {
		errors = append(errors, "source.base_url is required")
	}
	if config.Source.RateLimit <= 0 {
		errors = append(errors, "source.rate_limit must be greater than 0")
	}
	if _, err := time.ParseDuration(config.Source.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("source.timeout is not a valid duration: %v", err))
	}

	if config.Output.Dir == "" {
		errors = append(errors, "output.dir is required")
	}
	if len(config.Output.Formats) == 0 {
		errors = append(errors, "output.formats must name at least one format")
	}
	for _, f := range config.Output.Formats {
		if !validFormats[f] {
			errors = append(errors, fmt.Sprintf("output.formats: unsupported format %q", f))
		}
	}

	if config.Scheduler.Enabled {
		if _, err := time.Parse("15:04", config.Scheduler.At); err != nil {
			errors = append(errors, "scheduler.at must be HH:MM")
		}
		if _, err := time.LoadLocation(config.Scheduler.Timezone); err != nil {
			errors = append(errors, fmt.Sprintf("scheduler.timezone: %v", err))
		}
	}

	b := config.Backtest
	if b.ShortWindow <= 0 || b.LongWindow <= b.ShortWindow {
		errors = append(errors, "backtest windows must satisfy 0 < short_window < long_window")
	}
	if b.InitialCash <= 0 {
		errors = append(errors, "backtest.initial_cash must be greater than 0")
	}
	if b.LotSize <= 0 {
		errors = append(errors, "backtest.lot_size must be greater than 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func validateRetryPolicy(p RetryPolicyConfig) []string {
	var errors []string
	if p.MaxAttempts <= 0 {
		errors = append(errors, "download.retry.max_attempts must be greater than 0")
	}
	if _, err := time.ParseDuration(p.Delay); err != nil {
		errors = append(errors, fmt.Sprintf("download.retry.delay is not a valid duration: %v", err))
	}
	if p.MaxDelay != "" {
		if _, err := time.ParseDuration(p.MaxDelay); err != nil {
			errors = append(errors, fmt.Sprintf("download.retry.max_delay is not a valid duration: %v", err))
		}
	}
	if p.AttemptTimeout != "" {
		if _, err := time.ParseDuration(p.AttemptTimeout); err != nil {
			errors = append(errors, fmt.Sprintf("download.retry.attempt_timeout is not a valid duration: %v", err))
		}
	}
	if !validStrategies[p.BackoffStrategy] {
		errors = append(errors, "download.retry.backoff_strategy must be one of: fixed, linear, exponential")
	}
	return errors
}

// NormalizeFormats lower-cases, trims and de-duplicates format tags.
// The tag "excel" is accepted as an alias for xlsx.
func NormalizeFormats(formats []string) []string {
	seen := make(map[string]bool, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "excel" {
			f = "xlsx"
		}
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.config)
	default:
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-archiver",
		Version: "1.0.0",
		Download: DownloadConfig{
			StartDate:       "20000101",
			Period:          "1d",
			DividendType:    "front",
			YearsPerSegment: 3,
			Pause:           "500ms",
			Retry: RetryPolicyConfig{
				MaxAttempts:     3,
				Delay:           "1s",
				MaxDelay:        "30s",
				BackoffStrategy: "fixed",
				Jitter:          false,
				AttemptTimeout:  "60s",
			},
		},
		Source: SourceConfig{
			Type:      "gateway",
			BaseURL:   "http://127.0.0.1:58610",
			RateLimit: 5,
			Burst:     1,
			Timeout:   "90s",
		},
		Output: OutputConfig{
			Dir:          "./data",
			Formats:      []string{"parquet", "csv"},
			WriteListing: true,
			WriteReport:  true,
		},
		Catalog: CatalogConfig{
			Enabled: false,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			At:       "16:30",
			Timezone: "Asia/Shanghai",
		},
		Backtest: BacktestConfig{
			ShortWindow: 5,
			LongWindow:  20,
			InitialCash: 100000,
			LotSize:     100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "ohlcv-archiver",
			},
		},
	}
}

// AllInstruments returns the configured universe in etf, stock, index order
// with duplicates removed.
func (c *AppConfig) AllInstruments() []string {
	groups := [][]string{c.Download.Instruments.ETF, c.Download.Instruments.Stock, c.Download.Instruments.Index}
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, id := range g {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DateRange resolves the configured start and end dates. An empty end means today.
func (d DownloadConfig) DateRange(today time.Time) (start, end time.Time, err error) {
	start, err = models.ParseDate(d.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end = models.Day(today)
	if d.EndDate != "" {
		end, err = models.ParseDate(d.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

// PauseDuration returns the parsed inter-instrument pause.
func (d DownloadConfig) PauseDuration() time.Duration {
	return parseDurationOr(d.Pause, 500*time.Millisecond)
}

// DelayDuration returns the parsed delay between attempts.
func (p RetryPolicyConfig) DelayDuration() time.Duration {
	return parseDurationOr(p.Delay, time.Second)
}

// MaxDelayDuration returns the parsed delay cap.
func (p RetryPolicyConfig) MaxDelayDuration() time.Duration {
	return parseDurationOr(p.MaxDelay, 30*time.Second)
}

// AttemptTimeoutDuration returns the per-call deadline, or zero for none.
func (p RetryPolicyConfig) AttemptTimeoutDuration() time.Duration {
	return parseDurationOr(p.AttemptTimeout, 0)
}

// TimeoutDuration returns the HTTP client timeout.
func (s SourceConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(s.Timeout, 90*time.Second)
}

// CatalogPath resolves the catalog location against the output directory.
func (c *AppConfig) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Output.Dir, "catalog.duckdb")
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// String returns a string representation of the configuration (excluding sensitive data)
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Source.Token != "" {
		sanitized.Source.Token = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
