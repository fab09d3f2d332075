package migration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add ledger index", "add_ledger_index"},
		{"Add-Ledger-Index", "add_ledger_index"},
		{"ADD__LEDGER__INDEX", "add_ledger_index"},
		{"  spaces  ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"v2 runs", "v2_runs"},
		{"_leading_", "leading"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 7, 1, 8, 30, 0, 0, time.FixedZone("NZST", 12*3600))

	mf, err := CreateMigration(dir, "Add run index", "Index pipeline runs by kind", now)
	require.NoError(t, err)

	assert.Equal(t, "20240630203000", mf.Version)
	assert.Equal(t, filepath.Join(dir, "20240630203000_add_run_index.up.sql"), mf.UpPath)
	assert.Equal(t, filepath.Join(dir, "20240630203000_add_run_index.down.sql"), mf.DownPath)

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "-- Migration: add run index")
	assert.Contains(t, string(up), "Index pipeline runs by kind")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "(Rollback)")

	t.Run("same version twice fails", func(t *testing.T) {
		_, err := CreateMigration(dir, "add run index", "", now)
		assert.Error(t, err)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := CreateMigration(dir, "!!!", "", now)
		assert.Error(t, err)
	})
}

func TestListMigrations(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		names, err := ListMigrations(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("sorted up migrations only", func(t *testing.T) {
		dir := t.TempDir()
		for _, f := range []string{
			"20240610140000_b.up.sql", "20240610140000_b.down.sql",
			"20240603091500_a.up.sql", "20240603091500_a.down.sql",
			"README.md",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
		}
		names, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"20240603091500_a", "20240610140000_b"}, names)
	})

	t.Run("embedded set is listed from the repository", func(t *testing.T) {
		names, err := ListMigrations(filepath.Join("..", "..", "..", "migrations"))
		require.NoError(t, err)
		assert.Contains(t, names, "20240603091500_create_ledger_records")
	})
}
