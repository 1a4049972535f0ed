// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
rpc_list:
  - "https://api.mainnet-beta.solana.com"
quote_url: "https://quote-api.jup.ag/v6/quote"
swap_url: "https://quote-api.jup.ag/v6/swap"
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultMonitorIntervalSec, cfg.MonitorIntervalSec)
	assert.Equal(t, DefaultFillWaitAttempts, cfg.FillWaitAttempts)
	assert.Equal(t, DefaultMinWithdrawSol, cfg.MinWithdrawSol)
	assert.Equal(t, DefaultMinWithdrawFeeSol, cfg.MinWithdrawFeeSol)
	assert.Equal(t, DefaultDepositWorkers, cfg.DepositWorkers)

	assert.Equal(t, 15*time.Second, cfg.MonitorInterval())
	assert.Equal(t, 2*time.Second, cfg.FillWaitDelay())
	assert.Equal(t, 10*time.Minute, cfg.CooldownWindow())
}

func TestLoad_OverridesRespected(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
monitor_interval_sec: 5
withdraw_cooldown_min: 30
min_withdraw_sol: 0.25
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.MonitorInterval())
	assert.Equal(t, 30*time.Minute, cfg.CooldownWindow())
	assert.Equal(t, 0.25, cfg.MinWithdrawSol)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, minimalConfig))
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.RPCList = nil
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.RPCList = []string{"ftp://bad.example.com"}
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.BuyFeePercent = 100
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.MinWithdrawSol = 0
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.DepositWorkers = 0
	assert.Error(t, Validate(cfg))
}

func TestLoad_EnvironmentOverridesPostgresURL(t *testing.T) {
	t.Setenv("SOLTRAIL_POSTGRES_URL", "postgres://env-host/ledger")

	cfg, err := Load(writeConfig(t, minimalConfig+`
postgres_url: "postgres://file-host/ledger"
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/ledger", cfg.PostgresURL)
}

func TestLoad_EnvironmentRPCListSplitsAndTrims(t *testing.T) {
	t.Setenv("SOLTRAIL_RPC_LIST", " https://one.example.com , https://two.example.com ")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://one.example.com", "https://two.example.com"}, cfg.RPCList)
}
