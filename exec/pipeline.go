package exec

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"quote-engine-go/gateway"
	"quote-engine-go/monitor"
	"quote-engine-go/nonce"
	"quote-engine-go/timings"
)

// MaxBatchSize 是交易所单帧批量上限。
const MaxBatchSize = 50

// DefaultAckTimeout 等待确认的默认超时。
const DefaultAckTimeout = 5 * time.Second

// Pipeline 把动作序列签名、组帧、发送，并收集逐笔结果与延迟。
type Pipeline struct {
	signer     gateway.Signer
	transport  gateway.Transport
	nonces     *nonce.Sequencer
	recorder   *timings.Recorder
	monitor    *monitor.Monitor // 可为 nil
	log        *zap.Logger
	ackTimeout time.Duration
}

func NewPipeline(signer gateway.Signer, transport gateway.Transport, nonces *nonce.Sequencer, recorder *timings.Recorder, mon *monitor.Monitor, log *zap.Logger, ackTimeout time.Duration) *Pipeline {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Pipeline{
		signer:     signer,
		transport:  transport,
		nonces:     nonces,
		recorder:   recorder,
		monitor:    mon,
		log:        log,
		ackTimeout: ackTimeout,
	}
}

// Submit 提交单笔动作。
func (p *Pipeline) Submit(ctx context.Context, a Action) Result {
	return p.SubmitBatch(ctx, []Action{a})[0]
}

// signedAction 跟踪一笔已签名动作在帧内的位置与所用 key，便于
// 逐笔回填结果与 nonce 失败回退。
type signedAction struct {
	idx     int
	key     int
	signed  gateway.Signed
	signLat time.Duration
}

// SubmitBatch 按输入顺序返回逐笔结果；超过单帧上限自动分帧。
// 一帧只在传输意义上是原子的：逐笔接受与否互不影响。
func (p *Pipeline) SubmitBatch(ctx context.Context, actions []Action) []Result {
	results := make([]Result, len(actions))
	for start := 0; start < len(actions); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(actions) {
			end = len(actions)
		}
		p.submitChunk(ctx, actions[start:end], results[start:end])
	}
	for i := range results {
		p.recorder.Record(timings.Sample{
			Sign:    results[i].SignLatency,
			Network: results[i].NetworkLatency,
			Total:   results[i].TotalLatency,
		})
	}
	return results
}

func (p *Pipeline) submitChunk(ctx context.Context, actions []Action, results []Result) {
	chunkStart := time.Now()

	// 签名阶段：逐笔计时；签名失败不污染邻笔。
	sent := make([]signedAction, 0, len(actions))
	for i, a := range actions {
		results[i].TxType = a.TxType
		if a.TxType == gateway.TxTypeCreateOrder {
			results[i].ClientOrderID = a.Order.ClientOrderID
		}

		signStart := time.Now()
		key, n, err := p.nonces.NextPair()
		if err != nil {
			results[i].Outcome = OutcomeRejected
			results[i].Reason = err.Error()
			continue
		}
		signed, err := p.sign(a, n, key)
		signLat := time.Since(signStart)
		results[i].SignLatency = signLat
		if err != nil {
			p.nonces.AcknowledgeFailure(key)
			results[i].Outcome = outcomeForSignError(err)
			results[i].Reason = err.Error()
			results[i].TotalLatency = time.Since(chunkStart)
			p.log.Warn("sign failed",
				zap.Int64("client_order_id", results[i].ClientOrderID),
				zap.Error(err))
			continue
		}
		sent = append(sent, signedAction{idx: i, key: key, signed: signed, signLat: signLat})
	}
	if len(sent) == 0 {
		return
	}

	// 网络阶段：发送 + 等确认，整帧共享计时。
	netStart := time.Now()
	frame := make([]gateway.Signed, len(sent))
	for i, sa := range sent {
		frame[i] = sa.signed
	}
	if err := p.transport.SendBatch(ctx, frame); err != nil {
		netLat := time.Since(netStart)
		for _, sa := range sent {
			p.nonces.AcknowledgeFailure(sa.key)
			results[sa.idx].Outcome = OutcomeTransient
			results[sa.idx].Reason = err.Error()
			results[sa.idx].NetworkLatency = netLat
			results[sa.idx].TotalLatency = time.Since(chunkStart)
		}
		p.log.Warn("batch send failed", zap.Int("count", len(sent)), zap.Error(err))
		return
	}

	acks, err := p.transport.WaitForBatchResponse(ctx, len(sent), p.ackTimeout)
	netLat := time.Since(netStart)
	if err != nil {
		outcome := OutcomeUnknown
		if !errors.Is(err, gateway.ErrAckTimeout) {
			outcome = OutcomeTransient
		}
		for _, sa := range sent {
			results[sa.idx].Outcome = outcome
			results[sa.idx].Reason = err.Error()
			results[sa.idx].NetworkLatency = netLat
			results[sa.idx].TotalLatency = time.Since(chunkStart)
		}
		p.log.Warn("batch ack missing", zap.Int("count", len(sent)), zap.Error(err))
		return
	}

	for i, sa := range sent {
		ack := acks[i]
		results[sa.idx].NetworkLatency = netLat
		switch {
		case ack.Accepted:
			results[sa.idx].Outcome = OutcomeAccepted
		case ack.NonceMismatch:
			p.retryNonceMismatch(ctx, actions[sa.idx], sa, &results[sa.idx])
		default:
			p.nonces.AcknowledgeFailure(sa.key)
			results[sa.idx].Outcome = OutcomeRejected
			results[sa.idx].Reason = ack.Reason
		}
		results[sa.idx].TotalLatency = time.Since(chunkStart)
	}
}

// retryNonceMismatch 重新对齐该 key 的 nonce 并重签重发一次；
// 第二次不一致对这笔提交而言是致命的。
func (p *Pipeline) retryNonceMismatch(ctx context.Context, a Action, sa signedAction, res *Result) {
	p.log.Warn("nonce mismatch, refreshing and retrying once",
		zap.Int("api_key", sa.key),
		zap.Int64("client_order_id", res.ClientOrderID))

	if err := p.nonces.Refresh(ctx, sa.key); err != nil {
		res.Outcome = OutcomeNonceMismatch
		res.Reason = err.Error()
		return
	}
	if p.monitor != nil {
		p.monitor.RecordNonceRefresh()
	}
	n, err := p.nonces.Next(sa.key)
	if err != nil {
		res.Outcome = OutcomeNonceMismatch
		res.Reason = err.Error()
		return
	}

	signStart := time.Now()
	signed, err := p.sign(a, n, sa.key)
	res.SignLatency += time.Since(signStart)
	if err != nil {
		p.nonces.AcknowledgeFailure(sa.key)
		res.Outcome = outcomeForSignError(err)
		res.Reason = err.Error()
		return
	}

	netStart := time.Now()
	if err := p.transport.Send(ctx, signed); err != nil {
		p.nonces.AcknowledgeFailure(sa.key)
		res.Outcome = OutcomeTransient
		res.Reason = err.Error()
		res.NetworkLatency += time.Since(netStart)
		return
	}
	acks, err := p.transport.WaitForBatchResponse(ctx, 1, p.ackTimeout)
	res.NetworkLatency += time.Since(netStart)
	if err != nil {
		res.Outcome = OutcomeUnknown
		res.Reason = err.Error()
		return
	}
	switch {
	case acks[0].Accepted:
		res.Outcome = OutcomeAccepted
		res.Reason = ""
	case acks[0].NonceMismatch:
		res.Outcome = OutcomeNonceMismatch
		res.Reason = acks[0].Reason
	default:
		p.nonces.AcknowledgeFailure(sa.key)
		res.Outcome = OutcomeRejected
		res.Reason = acks[0].Reason
	}
}

func (p *Pipeline) sign(a Action, n int64, key int) (gateway.Signed, error) {
	if a.TxType == gateway.TxTypeCancelAllOrders {
		return p.signer.SignCancelAll(n, key)
	}
	return p.signer.SignOrder(a.Order, n, key)
}

func outcomeForSignError(err error) Outcome {
	if errors.Is(err, gateway.ErrRejected) {
		return OutcomeRejected
	}
	return OutcomeTransient
}
