package config

import (
	"errors"
	"fmt"
)

var validVariants = map[string]bool{
	"ob_mid":     true,
	"mark_bound": true,
	"micro_mid":  true,
	"peer_mid":   true,
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Gateway.WSURL == "" {
		return errors.New("gateway.wsURL is required (or QE_GATEWAY_WS_URL)")
	}
	if cfg.Gateway.AuthToken == "" {
		return errors.New("gateway.authToken is required (or QE_GATEWAY_AUTH_TOKEN)")
	}
	if cfg.Gateway.APIKeyStart > cfg.Gateway.APIKeyEnd {
		return fmt.Errorf("gateway api key range invalid: start %d > end %d",
			cfg.Gateway.APIKeyStart, cfg.Gateway.APIKeyEnd)
	}
	if cfg.Gateway.APIKeyStart < 0 || cfg.Gateway.APIKeyEnd > 254 {
		return errors.New("gateway api key indices must be in [0, 254]")
	}
	if cfg.Market.MarketID < 0 {
		return errors.New("market.marketID must be >= 0")
	}
	if cfg.Market.TickSize <= 0 {
		return errors.New("market.tickSize must be > 0")
	}
	if cfg.Market.BaseQty <= 0 {
		return errors.New("market.baseQty must be > 0")
	}
	if cfg.Market.MaxExposureQty < 0 {
		return errors.New("market.maxExposureQty must be >= 0")
	}
	if !validVariants[cfg.Strategy.Variant] {
		return fmt.Errorf("unknown strategy.variant %q", cfg.Strategy.Variant)
	}
	if cfg.Strategy.Params.HalfSpreadPct <= 0 {
		return errors.New("strategy.params.halfSpreadPct must be > 0")
	}
	if cfg.Engine.MinHopTicks < 0 || cfg.Engine.GuardTicks < 0 {
		return errors.New("engine tick thresholds must be >= 0")
	}
	if cfg.Engine.MinRequoteMs < 0 || cfg.Engine.ForceRefreshMs < 0 ||
		cfg.Engine.MaxBookStaleSec < 0 || cfg.Engine.AckTimeoutMs < 0 {
		return errors.New("engine intervals must be >= 0")
	}
	if cfg.Engine.LatencyWindowSamples < 0 {
		return errors.New("engine.latencyWindowSamples must be >= 0")
	}
	if cfg.Monitor.Enabled && cfg.Monitor.ListenAddr == "" {
		return errors.New("monitor.listenAddr is required when monitor is enabled")
	}
	return nil
}
