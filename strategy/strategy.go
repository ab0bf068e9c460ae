package strategy

import (
	"time"

	"quote-engine-go/market"
)

// Input 是一次报价周期内策略可见的全部状态。
type Input struct {
	View     market.View
	TickSize float64
	Now      time.Time

	// 上一轮成功挂出的自家报价，逐侧给出；PeerMid 用它剔除自家档位。
	LastBid    float64
	LastAsk    float64
	HasLastBid bool
	HasLastAsk bool
}

// Diag 策略诊断值，按产生顺序输出到日志。
type Diag struct {
	Name  string
	Value float64
}

// Output 是策略对一个周期的定价结论。
type Output struct {
	Center        float64
	HalfSpreadPct float64
	Label         string
	Diagnostics   []Diag
}

// Strategy computes a center price and half spread for one quoting cycle.
// A nil result means the book is crossed or one-sided and the engine should
// withhold quoting this cycle.
type Strategy interface {
	Compute(in Input) *Output
}

// topOfBook resolves the first live level on each side and rejects crossed
// books. Shared by all variants so zero-size levels are skipped uniformly.
func topOfBook(v market.View) (bid, ask market.Level, ok bool) {
	bid, okB := v.BestBid()
	ask, okA := v.BestAsk()
	if !okB || !okA || ask.Price <= bid.Price {
		return market.Level{}, market.Level{}, false
	}
	return bid, ask, true
}

// secondLive 返回该侧第二个非零量档位。
func secondLive(levels []market.Level) (market.Level, bool) {
	live := 0
	for _, l := range levels {
		if l.Size <= 0 {
			continue
		}
		live++
		if live == 2 {
			return l, true
		}
	}
	return market.Level{}, false
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
