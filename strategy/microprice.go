package strategy

// Microprice 以深度加权中间价为中心：对手方量越大，价格越偏向该侧。
// 结果被限制在盘口中间价 ± ClampTicks 个 tick 内。
type Microprice struct {
	HalfSpreadPct float64
	ClampTicks    int64
}

func (s *Microprice) Compute(in Input) *Output {
	bid, ask, ok := topOfBook(in.View)
	if !ok {
		return nil
	}
	mid := 0.5 * (bid.Price + ask.Price)
	micro := (ask.Price*bid.Size + bid.Price*ask.Size) / (bid.Size + ask.Size)

	bound := float64(s.ClampTicks) * in.TickSize
	micro = clamp(micro, mid-bound, mid+bound)

	return &Output{
		Center:        micro,
		HalfSpreadPct: s.HalfSpreadPct,
		Label:         "micro_mid",
		Diagnostics: []Diag{
			{Name: "mid", Value: mid},
			{Name: "micro", Value: micro},
		},
	}
}
