package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, ":9980", cfg.Server.Addr)
	assert.Equal(t, "data", cfg.Data.Root)
	assert.Equal(t, "binance", cfg.Data.Exchange)
	assert.Equal(t, 100000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":8080"
data:
  root: /tmp/quantra
backtest:
  initial_capital: 50000
  commission_rate: 0.0005
log:
  level: debug
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/tmp/quantra", cfg.Data.Root)
	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 0.0005, cfg.Backtest.CommissionRate)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 0.0005, cfg.Backtest.Slippage)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("bad commission rate", func(t *testing.T) {
		_, err := Load(write(t, "backtest:\n  commission_rate: 0.5\n"))
		assert.Error(t, err)
	})

	t.Run("bad log level", func(t *testing.T) {
		_, err := Load(write(t, "log:\n  level: verbose\n"))
		assert.Error(t, err)
	})

	t.Run("zero capital", func(t *testing.T) {
		_, err := Load(write(t, "backtest:\n  initial_capital: 0\n"))
		assert.Error(t, err)
	})
}
