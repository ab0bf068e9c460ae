// Package config 加载并校验引擎运行配置。
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"quote-engine-go/infrastructure/logger"
	"quote-engine-go/strategy"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Market   MarketConfig   `yaml:"market"`
	Strategy StrategyConfig `yaml:"strategy"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  logger.Config  `yaml:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

type GatewayConfig struct {
	WSURL        string `yaml:"wsURL"`
	AuthToken    string `yaml:"authToken"`
	AccountIndex int    `yaml:"accountIndex"`
	APIKeyStart  int    `yaml:"apiKeyStart"` // nonce 轮换使用的 api key 区间
	APIKeyEnd    int    `yaml:"apiKeyEnd"`
}

type MarketConfig struct {
	MarketID       int     `yaml:"marketID"`
	TickSize       float64 `yaml:"tickSize"`
	BaseQty        int64   `yaml:"baseQty"`
	MaxExposureQty int64   `yaml:"maxExposureQty"`
}

type StrategyConfig struct {
	Variant string          `yaml:"variant"` // ob_mid, mark_bound, micro_mid, peer_mid
	Params  strategy.Params `yaml:"params"`
}

type EngineConfig struct {
	MinHopTicks          int64   `yaml:"minHopTicks"`
	GuardTicks           int64   `yaml:"guardTicks"`
	MinRequoteMs         int     `yaml:"minRequoteMs"`
	ForceRefreshMs       int     `yaml:"forceRefreshMs"`
	MaxBookStaleSec      int     `yaml:"maxBookStaleSec"`
	AckTimeoutMs         int     `yaml:"ackTimeoutMs"`
	HalfSpreadFloorPct   float64 `yaml:"halfSpreadFloorPct"`
	LatencyWindowSamples int     `yaml:"latencyWindowSamples"`
}

type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("QE_GATEWAY_WS_URL"); v != "" {
		cfg.Gateway.WSURL = v
	}
	if v := os.Getenv("QE_GATEWAY_AUTH_TOKEN"); v != "" {
		cfg.Gateway.AuthToken = v
	}
	if v := os.Getenv("QE_GATEWAY_ACCOUNT_INDEX"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("QE_GATEWAY_ACCOUNT_INDEX: %w", err)
		}
		cfg.Gateway.AccountIndex = idx
	}
	return cfg, Validate(cfg)
}
