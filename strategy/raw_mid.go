package strategy

// RawMid 以盘口原始中间价为中心，固定半价差。
type RawMid struct {
	HalfSpreadPct float64
}

func (s *RawMid) Compute(in Input) *Output {
	bid, ask, ok := topOfBook(in.View)
	if !ok {
		return nil
	}
	return &Output{
		Center:        0.5 * (bid.Price + ask.Price),
		HalfSpreadPct: s.HalfSpreadPct,
		Label:         "ob_mid",
	}
}
