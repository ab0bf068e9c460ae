package strategy

import (
	"fmt"
	"time"
)

// Params 汇总各变体的构造参数，来自配置文件。
type Params struct {
	HalfSpreadPct  float64 `yaml:"halfSpreadPct"`
	MarkFreshForMs int     `yaml:"markFreshForMs"` // mark_bound：标记价新鲜窗口
	MaxDriftTicks  int64   `yaml:"maxDriftTicks"`  // mark_bound：允许偏离中间价的 tick 数
	ClampTicks     int64   `yaml:"clampTicks"`     // micro_mid：microprice 钳制范围
}

// New 按名称构造策略实例。未知名称或非法参数属于启动期错误。
func New(name string, p Params) (Strategy, error) {
	if p.HalfSpreadPct <= 0 {
		return nil, fmt.Errorf("strategy %s: halfSpreadPct must be > 0", name)
	}
	switch name {
	case "ob_mid":
		return &RawMid{HalfSpreadPct: p.HalfSpreadPct}, nil
	case "mark_bound":
		if p.MarkFreshForMs <= 0 {
			return nil, fmt.Errorf("strategy %s: markFreshForMs must be > 0", name)
		}
		if p.MaxDriftTicks <= 0 {
			return nil, fmt.Errorf("strategy %s: maxDriftTicks must be > 0", name)
		}
		return &MarkBound{
			HalfSpreadPct: p.HalfSpreadPct,
			FreshFor:      time.Duration(p.MarkFreshForMs) * time.Millisecond,
			MaxDriftTicks: p.MaxDriftTicks,
		}, nil
	case "micro_mid":
		if p.ClampTicks <= 0 {
			return nil, fmt.Errorf("strategy %s: clampTicks must be > 0", name)
		}
		return &Microprice{HalfSpreadPct: p.HalfSpreadPct, ClampTicks: p.ClampTicks}, nil
	case "peer_mid":
		return &PeerMid{HalfSpreadPct: p.HalfSpreadPct}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
