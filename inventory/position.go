// Package inventory 维护签名净仓位并据此对双边报价数量做偏斜。
package inventory

import "sync"

// Tracker 维护净仓位。账户频道给出的是权威绝对值，成交回报给增量。
type Tracker struct {
	mu   sync.RWMutex
	net  float64
	cost float64
}

// Set 用账户频道推送的权威仓位覆盖本地值。
func (t *Tracker) Set(signed float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.net = signed
}

// Apply 根据成交增量调整仓位。
func (t *Tracker) Apply(deltaQty float64, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// 简化：加权平均成本
	totalValue := t.cost*t.net + price*deltaQty
	t.net += deltaQty
	if t.net != 0 {
		t.cost = totalValue / t.net
	} else {
		t.cost = 0
	}
}

func (t *Tracker) NetExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

func (t *Tracker) AvgCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

// Valuation 基于当前 mid 价计算未实现盈亏。
func (t *Tracker) Valuation(mid float64) (net float64, pnl float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	net = t.net
	pnl = (mid - t.cost) * t.net
	return
}

// SkewSizes 按净仓位占上限的比例缩减加仓方向的数量。
// 多头缩 bid，空头缩 ask；越过上限后该方向归零。
func (t *Tracker) SkewSizes(baseSize, maxExposure float64) (bidSize, askSize float64) {
	net := t.NetExposure()
	bidSize, askSize = baseSize, baseSize
	if maxExposure <= 0 {
		return
	}
	ratio := net / maxExposure
	switch {
	case ratio >= 1:
		bidSize = 0
	case ratio > 0:
		bidSize = baseSize * (1 - ratio)
	case ratio <= -1:
		askSize = 0
	case ratio < 0:
		askSize = baseSize * (1 + ratio)
	}
	return
}
