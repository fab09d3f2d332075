package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap/zaptest"
)

const testMapping = `
metrics:
  - metric: network.outgoing.bytes
    kind: counter
    aggregation: delta_sum
    unit: byte
  - metric: instance.vcpus
    kind: gauge
    aggregation: max
    unit: vcpu
    proratable: false
    sample_interval: 10m
products:
  - resource_type: instance
    metric: network.outgoing.bytes
    product: n1.egress
  - resource_type: "*"
    metric: instance.vcpus
    product: c1.vcpu
conversions:
  - from: gibibyte
    to: gigabyte
    numerator: "1073741824"
    denominator: "1000000000"
    scale: 4
    rounding: half_up
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "usagebill", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "usagebill", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, "daily", cfg.Pipeline.Granularity)
		assert.Equal(t, "UTC", cfg.Pipeline.DefaultTimezone)
		assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
		assert.Equal(t, 7*24*time.Hour, cfg.Pipeline.MaxCollectionStartAge)
		assert.Equal(t, "ascending", cfg.Pipeline.TenantOrder)
		assert.Equal(t, "jsonfile", cfg.Pricing.Driver)
		assert.Equal(t, "gnocchi", cfg.Collector.Backend)
		assert.Equal(t, 15*time.Minute, cfg.Pricing.CatalogTTL)
		assert.True(t, cfg.Pricing.TaxRate.IsZero())
		assert.Empty(t, cfg.Pricing.RegionMapping)
	})

	t.Run("loads values from environment variables with USAGEBILL prefix", func(t *testing.T) {
		t.Setenv("USAGEBILL_APP_NAME", "collector-a")
		t.Setenv("USAGEBILL_DATABASE_HOST", "db.internal")
		t.Setenv("USAGEBILL_DATABASE_PORT", "5433")
		t.Setenv("USAGEBILL_PIPELINE_GRANULARITY", "hourly")
		t.Setenv("USAGEBILL_PIPELINE_MAX_CONCURRENCY", "16")
		t.Setenv("USAGEBILL_PRICING_REGION_MAPPING", "nz-hlz-1:hlz, nz-por-1:por")
		t.Setenv("USAGEBILL_PRICING_TAX_RATE", "0.15")
		t.Setenv("USAGEBILL_PRICING_TAX_RATES", "por:0.1")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "collector-a", cfg.App.Name)
		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "hourly", cfg.Pipeline.Granularity)
		assert.Equal(t, 16, cfg.Pipeline.MaxConcurrency)
		assert.Equal(t, map[string]string{"nz-hlz-1": "hlz", "nz-por-1": "por"}, cfg.Pricing.RegionMapping)
		assert.Equal(t, "0.15", cfg.Pricing.TaxRate.String())
		assert.Equal(t, "0.1", cfg.Pricing.TaxRates["por"].String())
	})

	t.Run("fails on malformed region mapping", func(t *testing.T) {
		t.Setenv("USAGEBILL_PRICING_REGION_MAPPING", "nz-hlz-1")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails validation for unknown granularity", func(t *testing.T) {
		t.Setenv("USAGEBILL_PIPELINE_GRANULARITY", "weekly")
		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline.granularity")
	})

	t.Run("fails validation for unknown timezone", func(t *testing.T) {
		t.Setenv("USAGEBILL_PIPELINE_DEFAULT_TIMEZONE", "Mars/Olympus")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails validation for tax rate above one", func(t *testing.T) {
		t.Setenv("USAGEBILL_PRICING_TAX_RATE", "15")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails validation for unknown pricing driver", func(t *testing.T) {
		t.Setenv("USAGEBILL_PRICING_DRIVER", "sap")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("production requires a strong jwt secret", func(t *testing.T) {
		t.Setenv("USAGEBILL_APP_ENV", "production")
		t.Setenv("USAGEBILL_HTTP_JWT_SECRET", "short")
		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("reads a toml file with tenant settings", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "usagebill.toml", `
[pipeline]
granularity = "monthly"
default_region = "nz-hlz-1"

[tenants]
ignore = ["admin"]

[tenants.settings.abc123]
timezone = "Pacific/Auckland"
region = "nz-por-1"
ignore_products = ["c1.vcpu"]
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, path, cfg.File)
		assert.Equal(t, "monthly", cfg.Pipeline.Granularity)
		assert.Equal(t, []string{"admin"}, cfg.Tenants.Ignore)
		require.Contains(t, cfg.Tenants.Settings, "abc123")
		assert.Equal(t, "Pacific/Auckland", cfg.Tenants.Settings["abc123"].Timezone)
		assert.Equal(t, []string{"c1.vcpu"}, cfg.Tenants.Settings["abc123"].IgnoreProducts)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("include and ignore are mutually exclusive", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "c.toml", `
[tenants]
include = ["a"]
ignore = ["b"]
`)
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestParseMapping(t *testing.T) {
	t.Run("decodes all tables", func(t *testing.T) {
		rules, err := ParseMapping([]byte(testMapping))
		require.NoError(t, err)

		require.Len(t, rules.Metrics, 2)
		assert.Equal(t, billing.MetricKind("counter"), rules.Metrics[0].Kind)
		assert.True(t, rules.Metrics[0].IsProratable())
		assert.False(t, rules.Metrics[1].IsProratable())
		assert.Equal(t, 10*time.Minute, rules.Metrics[1].SampleInterval)

		require.Len(t, rules.Products, 2)
		assert.Equal(t, "n1.egress", rules.Products[0].ProductCode)

		require.Len(t, rules.Conversions, 1)
		assert.Equal(t, int32(4), rules.Conversions[0].Scale)
		assert.Equal(t, billing.RoundHalfUp, rules.Conversions[0].Rounding)
	})

	t.Run("conversion defaults", func(t *testing.T) {
		rules, err := ParseMapping([]byte("conversions:\n  - from: hour\n    to: hour\n"))
		require.NoError(t, err)
		require.Len(t, rules.Conversions, 1)
		assert.Equal(t, billing.DefaultLineItemScale, rules.Conversions[0].Scale)
		assert.Equal(t, billing.DefaultRoundingMode, rules.Conversions[0].Rounding)
		assert.Equal(t, "1", rules.Conversions[0].Numerator.String())
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		_, err := ParseMapping([]byte("metrics:\n  - metric: a\n    agregation: max\n"))
		assert.Error(t, err)
	})

	t.Run("rejects bad durations and numbers", func(t *testing.T) {
		_, err := ParseMapping([]byte("metrics:\n  - metric: a\n    sample_interval: soon\n"))
		assert.Error(t, err)
		_, err = ParseMapping([]byte("conversions:\n  - from: a\n    to: b\n    numerator: x\n"))
		assert.Error(t, err)
	})
}

func TestBuildPolicy(t *testing.T) {
	dir := t.TempDir()
	mapping := writeFile(t, dir, "mapping.yaml", testMapping)
	t.Setenv("USAGEBILL_PIPELINE_MAPPING_FILE", mapping)
	t.Setenv("USAGEBILL_PRICING_REGION_MAPPING", "nz-hlz-1:hlz")
	t.Setenv("USAGEBILL_PIPELINE_DEFAULT_REGION", "nz-hlz-1")

	cfg, err := Load()
	require.NoError(t, err)

	loadedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	policy, err := BuildPolicy(cfg, loadedAt)
	require.NoError(t, err)

	assert.Equal(t, billing.GranularityDaily, policy.Granularity())
	assert.Equal(t, loadedAt, policy.LoadedAt())
	product, ok := policy.Mapping().Resolve("instance", "network.outgoing.bytes")
	assert.True(t, ok)
	assert.Equal(t, "n1.egress", product)
	backendRegion, ok := policy.BackendRegion(policy.RegionFor("T1"))
	assert.True(t, ok)
	assert.Equal(t, "hlz", backendRegion)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	mapping := writeFile(t, dir, "mapping.yaml", testMapping)
	path := writeFile(t, dir, "usagebill.toml", "[pipeline]\nmapping_file = \""+filepath.ToSlash(mapping)+"\"\n")

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	first := w.Current()
	require.NotNil(t, first)
	assert.Equal(t, 2, first.Metrics().Len())

	t.Run("reload swaps the snapshot", func(t *testing.T) {
		var reloaded int
		w.OnReload(func(*Config) { reloaded++ })
		writeFile(t, dir, "mapping.yaml", testMapping+"\n  - from: hour\n    to: minute\n    numerator: \"60\"\n")

		require.NoError(t, w.Reload())
		assert.NotSame(t, first, w.Current())
		assert.Equal(t, 1, reloaded)
	})

	t.Run("failed reload keeps the previous snapshot", func(t *testing.T) {
		current := w.Current()
		writeFile(t, dir, "mapping.yaml", "metrics: [")

		assert.Error(t, w.Reload())
		assert.Same(t, current, w.Current())
	})
}

func TestParseMapping_DerivedState(t *testing.T) {
	rules, err := ParseMapping([]byte(`
metrics:
  - metric: instance.uptime
    kind: state
    aggregation: uptime
    unit: second
    derived_from: state
    tracked_states: [active, paused]
  - metric: db.uptime
    kind: state
    aggregation: uptime
    unit: second
    derived_from: db.state
    state_keys: [status]
    tracked_states: [ACTIVE, UPGRADE]
products:
  - resource_type: instance
    metric: instance.uptime
    product_from: metadata.instance_type
  - metric: db.uptime
    product_from: flavor.name
    prefix: db.
`))
	require.NoError(t, err)
	require.Len(t, rules.Metrics, 2)
	assert.Equal(t, "state", rules.Metrics[0].DerivedFrom)
	assert.Equal(t, []string{"active", "paused"}, rules.Metrics[0].TrackedStates)
	assert.Equal(t, []string{"status"}, rules.Metrics[1].StateKeys)

	require.Len(t, rules.Products, 2)
	assert.Equal(t, "instance_type", rules.Products[0].ProductFrom, "metadata. prefix is stripped")
	assert.Empty(t, rules.Products[0].ProductCode)
	assert.Equal(t, "flavor.name", rules.Products[1].ProductFrom)
	assert.Equal(t, "db.", rules.Products[1].Prefix)

	table, err := billing.NewAggregationTable(rules.Metrics)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Len(t, table.Derived("state"), 1)
	_, ok := table.Rule("instance.uptime")
	assert.False(t, ok, "derived rules are indexed by their source metric")

	_, err = billing.NewProductMapping(rules.Products, nil, nil)
	require.NoError(t, err)
}
