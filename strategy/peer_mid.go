package strategy

// PeerMid 以剔除自家挂单后的对手盘口中间价为中心：若顶档价格与上一轮
// 自家报价相差不到半个 tick，则落到第二个非零量档位。自家报价由引擎
// 通过 Input 逐周期传入，策略本身无状态。
type PeerMid struct {
	HalfSpreadPct float64
}

func (s *PeerMid) Compute(in Input) *Output {
	bid, ask, ok := topOfBook(in.View)
	if !ok {
		return nil
	}

	// 半个 tick 的容差覆盖浮点抖动
	tickEps := in.TickSize * 0.51
	peerBid := bid.Price
	peerAsk := ask.Price

	if in.HasLastBid && abs(peerBid-in.LastBid) <= tickEps {
		if l, ok := secondLive(in.View.Bids); ok {
			peerBid = l.Price
		}
	}
	if in.HasLastAsk && abs(peerAsk-in.LastAsk) <= tickEps {
		if l, ok := secondLive(in.View.Asks); ok {
			peerAsk = l.Price
		}
	}

	return &Output{
		Center:        0.5 * (peerBid + peerAsk),
		HalfSpreadPct: s.HalfSpreadPct,
		Label:         "peer_mid",
		Diagnostics: []Diag{
			{Name: "raw_bid", Value: bid.Price},
			{Name: "raw_ask", Value: ask.Price},
			{Name: "peer_bid", Value: peerBid},
			{Name: "peer_ask", Value: peerAsk},
		},
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
