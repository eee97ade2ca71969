package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "ohlcv-archiver", config.AppName)
	assert.Equal(t, "20000101", config.Download.StartDate)
	assert.Equal(t, "", config.Download.EndDate)
	assert.Equal(t, "1d", config.Download.Period)
	assert.Equal(t, "front", config.Download.DividendType)
	assert.Equal(t, 3, config.Download.YearsPerSegment)
	assert.Equal(t, 3, config.Download.Retry.MaxAttempts)
	assert.Equal(t, "fixed", config.Download.Retry.BackoffStrategy)
	assert.Equal(t, time.Second, config.Download.Retry.DelayDuration())
	assert.Equal(t, 500*time.Millisecond, config.Download.PauseDuration())
	assert.Equal(t, []string{"parquet", "csv"}, config.Output.Formats)
	assert.True(t, config.Output.WriteListing)
	assert.False(t, config.Catalog.Enabled)
	assert.Equal(t, 5, config.Backtest.ShortWindow)
	assert.Equal(t, 20, config.Backtest.LongWindow)
}

func TestConfigValidation(t *testing.T) {
	cm := NewConfigManager("", "", testLogger())

	t.Run("valid config passes validation", func(t *testing.T) {
		config := DefaultConfig()
		assert.NoError(t, cm.validateConfig(config))
	})

	t.Run("invalid start date fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Download.StartDate = "2020/01/01"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download.start_date")
	})

	t.Run("invalid period fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Download.Period = "1m"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download.period must be one of")
	})

	t.Run("invalid dividend type fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Download.DividendType = "sideways"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download.dividend_type must be one of")
	})

	t.Run("non-positive segment span fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Download.YearsPerSegment = 0
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download.years_per_segment must be greater than 0")
	})

	t.Run("retry policy validation", func(t *testing.T) {
		config := DefaultConfig()
		config.Download.Retry.MaxAttempts = 0
		config.Download.Retry.Delay = "soon"
		config.Download.Retry.BackoffStrategy = "random"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "download.retry.max_attempts must be greater than 0")
		assert.Contains(t, err.Error(), "download.retry.delay is not a valid duration")
		assert.Contains(t, err.Error(), "download.retry.backoff_strategy must be one of")
	})

	t.Run("unsupported format fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Output.Formats = []string{"parquet", "feather"}
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported format "feather"`)
	})

	t.Run("empty formats fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Output.Formats = nil
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "output.formats must name at least one format")
	})

	t.Run("scheduler validation when enabled", func(t *testing.T) {
		config := DefaultConfig()
		config.Scheduler.Enabled = true
		config.Scheduler.Timezone = "UTC"
		config.Scheduler.At = "25:99"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheduler.at must be HH:MM")
	})

	t.Run("backtest windows fail when inverted", func(t *testing.T) {
		config := DefaultConfig()
		config.Backtest.ShortWindow = 20
		config.Backtest.LongWindow = 5
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backtest windows must satisfy")
	})

	t.Run("invalid log level fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Logging.Level = "invalid"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level must be one of")
	})

	t.Run("multiple errors are collected", func(t *testing.T) {
		config := DefaultConfig()
		config.Output.Dir = ""
		config.Source.BaseURL = ""
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "output.dir is required")
		assert.Contains(t, err.Error(), "source.base_url is required")
	})
}

func TestLoadConfigFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archiver.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"download": {"start_date": "2015-01-01", "years_per_segment": 2, "instruments": {"etf": ["510300.SH"]}},
		"output": {"dir": "/tmp/bars", "formats": ["parquet", "Excel"]}
	}`), 0644))

	cm := NewConfigManager(path, "", testLogger())
	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2015-01-01", config.Download.StartDate)
	assert.Equal(t, 2, config.Download.YearsPerSegment)
	assert.Equal(t, "/tmp/bars", config.Output.Dir)
	assert.Equal(t, []string{"parquet", "xlsx"}, config.Output.Formats)
	assert.Equal(t, []string{"510300.SH"}, config.AllInstruments())
	// untouched defaults survive
	assert.Equal(t, 3, config.Download.Retry.MaxAttempts)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
download:
  period: 1w
  retry:
    max_attempts: 5
    delay: 250ms
    backoff_strategy: fixed
  instruments:
    stock: ["000001.SZ", "600000.SH"]
    index: ["000300.SH", "000001.SZ"]
catalog:
  enabled: true
`), 0644))

	cm := NewConfigManager(path, "", testLogger())
	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1w", config.Download.Period)
	assert.Equal(t, 5, config.Download.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, config.Download.Retry.DelayDuration())
	assert.True(t, config.Catalog.Enabled)
	assert.Equal(t, []string{"000001.SZ", "600000.SH", "000300.SH"}, config.AllInstruments())
	assert.Equal(t, filepath.Join("./data", "catalog.duckdb"), config.CatalogPath())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cm := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"), "", testLogger())
	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Download, config.Download)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/srv/bars")
	t.Setenv("YEARS_PER_SEGMENT", "5")
	t.Setenv("RETRY_TIMES", "4")
	t.Setenv("OUTPUT_FORMATS", "csv, parquet ,csv")

	cm := NewConfigManager("", "", testLogger())
	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/srv/bars", config.Output.Dir)
	assert.Equal(t, 5, config.Download.YearsPerSegment)
	assert.Equal(t, 4, config.Download.Retry.MaxAttempts)
	assert.Equal(t, []string{"csv", "parquet"}, config.Output.Formats)
}

func TestLoadConfigBadEnvironmentValue(t *testing.T) {
	t.Setenv("YEARS_PER_SEGMENT", "three")

	cm := NewConfigManager("", "", testLogger())
	_, err := cm.LoadConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YEARS_PER_SEGMENT")
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("GATEWAY_URL=http://10.0.0.5:58610\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("GATEWAY_URL") })

	cm := NewConfigManager("", envPath, testLogger())
	config, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:58610", config.Source.BaseURL)
}

func TestDownloadConfigDateRange(t *testing.T) {
	today := time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC)

	d := DefaultConfig().Download
	start, end, err := d.DateRange(today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), end)

	d.EndDate = "2020-12-31"
	_, end, err = d.DateRange(today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), end)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archiver.yaml")
	cm := NewConfigManager(path, "", testLogger())
	_, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	require.NoError(t, cm.SaveConfig(context.Background()))

	reloaded, err := NewConfigManager(path, "", testLogger()).LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cm.GetConfig().Download, reloaded.Download)
	assert.Equal(t, cm.GetConfig().Output, reloaded.Output)
}

func TestConfigStringRedactsToken(t *testing.T) {
	config := DefaultConfig()
	config.Source.Token = "secret-token"

	s := config.String()
	assert.NotContains(t, s, "secret-token")
	assert.Contains(t, s, "[REDACTED]")
}
