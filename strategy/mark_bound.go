package strategy

import "time"

// MarkBound 以标记价为中心，但限制其相对盘口中间价的最大漂移；
// 标记价过期或缺失时退回原始中间价。
type MarkBound struct {
	HalfSpreadPct float64
	FreshFor      time.Duration
	MaxDriftTicks int64
}

func (s *MarkBound) Compute(in Input) *Output {
	bid, ask, ok := topOfBook(in.View)
	if !ok {
		return nil
	}
	mid := 0.5 * (bid.Price + ask.Price)
	driftCap := float64(s.MaxDriftTicks) * in.TickSize

	center := mid
	diags := []Diag{{Name: "mid", Value: mid}}

	if in.View.HasMark {
		age := in.Now.Sub(in.View.MarkTime)
		if age >= 0 && age <= s.FreshFor {
			center = clamp(in.View.MarkPrice, mid-driftCap, mid+driftCap)
			diags = append(diags,
				Diag{Name: "mark", Value: in.View.MarkPrice},
				Diag{Name: "mark_age_ms", Value: float64(age.Milliseconds())},
			)
		}
	}
	diags = append(diags, Diag{Name: "center", Value: center})

	return &Output{
		Center:        center,
		HalfSpreadPct: s.HalfSpreadPct,
		Label:         "mark_bound",
		Diagnostics:   diags,
	}
}
