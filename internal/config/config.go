// Package config 加载并校验服务配置。
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 是进程级配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DataConfig struct {
	Root            string `mapstructure:"root"`
	Exchange        string `mapstructure:"exchange"`
	BinanceBaseURL  string `mapstructure:"binance_base_url"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	MaxBatch        int    `mapstructure:"max_batch"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
}

type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	Slippage       float64 `mapstructure:"slippage"`
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load 读取配置文件，path 为空时只用默认值和环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QUANTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败 (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9980")
	v.SetDefault("data.root", "data")
	v.SetDefault("data.exchange", "binance")
	v.SetDefault("data.rate_limit_per_min", 480)
	v.SetDefault("data.max_batch", 1000)
	v.SetDefault("data.max_concurrent", 2)
	v.SetDefault("backtest.initial_capital", 100000)
	v.SetDefault("backtest.commission_rate", 0.001)
	v.SetDefault("backtest.slippage", 0.0005)
	v.SetDefault("backtest.max_concurrent", 2)
	v.SetDefault("log.level", "info")
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr 不能为空")
	}
	if cfg.Data.Root == "" {
		return fmt.Errorf("data.root 不能为空")
	}
	if cfg.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital 必须大于 0")
	}
	if cfg.Backtest.CommissionRate < 0 || cfg.Backtest.CommissionRate > 0.1 {
		return fmt.Errorf("backtest.commission_rate 需在 [0, 0.1] 区间")
	}
	if cfg.Backtest.Slippage < 0 || cfg.Backtest.Slippage > 0.1 {
		return fmt.Errorf("backtest.slippage 需在 [0, 0.1] 区间")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("未知日志级别: %s", cfg.Log.Level)
	}
	return nil
}
