// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration.
type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	QuoteURL     string   `mapstructure:"quote_url"`
	SwapURL      string   `mapstructure:"swap_url"`
	PostgresURL  string   `mapstructure:"postgres_url"`
	WalletsFile  string   `mapstructure:"wallets_file"`
	DebugLogging bool     `mapstructure:"debug_logging"`

	// Position monitoring.
	MonitorIntervalSec int `mapstructure:"monitor_interval_sec"`
	FillWaitAttempts   int `mapstructure:"fill_wait_attempts"`
	FillWaitDelayMs    int `mapstructure:"fill_wait_delay_ms"`

	// Platform fees, percent of the traded amount.
	BuyFeePercent  float64 `mapstructure:"buy_fee_percent"`
	SellFeePercent float64 `mapstructure:"sell_fee_percent"`

	// Withdrawals.
	MinWithdrawSol     float64 `mapstructure:"min_withdraw_sol"`
	WithdrawFeePercent float64 `mapstructure:"withdraw_fee_percent"`
	MinWithdrawFeeSol  float64 `mapstructure:"min_withdraw_fee_sol"`
	WithdrawCooldown   int     `mapstructure:"withdraw_cooldown_min"`

	// Deposit crediting.
	DepositWorkers int `mapstructure:"deposit_workers"`
}

const (
	DefaultMonitorIntervalSec = 15
	DefaultFillWaitAttempts   = 10
	DefaultFillWaitDelayMs    = 2000
	DefaultBuyFeePercent      = 1.0
	DefaultSellFeePercent     = 1.0
	DefaultMinWithdrawSol     = 0.05
	DefaultWithdrawFeePct     = 1.0
	DefaultMinWithdrawFeeSol  = 0.005
	DefaultWithdrawCooldown   = 10
	DefaultDepositWorkers     = 4
)

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor_interval_sec":  DefaultMonitorIntervalSec,
		"fill_wait_attempts":    DefaultFillWaitAttempts,
		"fill_wait_delay_ms":    DefaultFillWaitDelayMs,
		"buy_fee_percent":       DefaultBuyFeePercent,
		"sell_fee_percent":      DefaultSellFeePercent,
		"min_withdraw_sol":      DefaultMinWithdrawSol,
		"withdraw_fee_percent":  DefaultWithdrawFeePct,
		"min_withdraw_fee_sol":  DefaultMinWithdrawFeeSol,
		"withdraw_cooldown_min": DefaultWithdrawCooldown,
		"deposit_workers":       DefaultDepositWorkers,
		"wallets_file":          "configs/wallets.yaml",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, Validate(&cfg)
}

// Validate checks the configuration for values the engine cannot run with.
func Validate(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.QuoteURL == "" || cfg.SwapURL == "" {
		return errors.New("quote_url and swap_url are required")
	}
	if err := validateURL(cfg.QuoteURL, "http"); err != nil {
		return errors.New("invalid quote URL")
	}
	if err := validateURL(cfg.SwapURL, "http"); err != nil {
		return errors.New("invalid swap URL")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MonitorIntervalSec <= 0 {
		return errors.New("invalid monitor_interval_sec")
	}
	if cfg.FillWaitAttempts <= 0 {
		return errors.New("invalid fill_wait_attempts")
	}
	if cfg.FillWaitDelayMs <= 0 {
		return errors.New("invalid fill_wait_delay_ms")
	}
	if cfg.BuyFeePercent < 0 || cfg.BuyFeePercent >= 100 {
		return errors.New("invalid buy_fee_percent")
	}
	if cfg.SellFeePercent < 0 || cfg.SellFeePercent >= 100 {
		return errors.New("invalid sell_fee_percent")
	}
	if cfg.MinWithdrawSol <= 0 {
		return errors.New("invalid min_withdraw_sol")
	}
	if cfg.WithdrawFeePercent < 0 || cfg.WithdrawFeePercent >= 100 {
		return errors.New("invalid withdraw_fee_percent")
	}
	if cfg.MinWithdrawFeeSol < 0 {
		return errors.New("invalid min_withdraw_fee_sol")
	}
	if cfg.WithdrawCooldown < 0 {
		return errors.New("invalid withdraw_cooldown_min")
	}
	if cfg.DepositWorkers <= 0 {
		return errors.New("invalid deposit_workers")
	}
	return nil
}

// MonitorInterval returns the polling interval as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

// FillWaitDelay returns the delay between fill-wait balance reads.
func (c *Config) FillWaitDelay() time.Duration {
	return time.Duration(c.FillWaitDelayMs) * time.Millisecond
}

// CooldownWindow returns the withdrawal cooldown as a duration.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.WithdrawCooldown) * time.Minute
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envPostgres := v.GetString("POSTGRES_URL")
	if envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
