// Package engine 驱动报价主循环：消费行情事件，调用策略定价，
// 经撤换批次维护双边各一张 post-only 报价。
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"quote-engine-go/exec"
	"quote-engine-go/gateway"
	"quote-engine-go/infrastructure/logger"
	"quote-engine-go/inventory"
	"quote-engine-go/market"
	"quote-engine-go/monitor"
	"quote-engine-go/order"
	"quote-engine-go/strategy"
	"quote-engine-go/timings"
)

// State 引擎状态
type State int

const (
	// StateIdle 空闲状态
	StateIdle State = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// 报价节奏与保护参数的默认值。
const (
	defaultMinRequoteInterval   = 120 * time.Millisecond
	defaultForceRefreshInterval = 400 * time.Millisecond
	defaultMinHopTicks          = 1
	defaultGuardTicks           = 30
	defaultMaxBookStale         = 30 * time.Second

	// post-only 拒单观察窗：窗口内累计两次拒单则临时放宽让价。
	poSlackWindow = 1500 * time.Millisecond

	makerFeePct = 0.00002
)

// minHalfSpreadPct 是费率决定的半价差下限：低于它的报价稳定亏损。
var minHalfSpreadPct = (2*makerFeePct + 0.000008) * 0.5

// Config 引擎配置
type Config struct {
	MarketID int
	TickSize float64

	BaseQty        int64 // 每侧基础下单量（整数刻度）
	MaxExposureQty int64 // 净仓上限；0 表示不做数量偏斜

	HalfSpreadFloorPct float64 // 配置下限；与费率下限取较大者

	MinHopTicks          int64
	GuardTicks           int64
	MinRequoteInterval   time.Duration
	ForceRefreshInterval time.Duration
	MaxBookStale         time.Duration
}

// Components 引擎依赖组件
type Components struct {
	Strategy   strategy.Strategy
	Quotes     *order.Book
	MarketBook *market.Book
	Pipeline   Submitter
	Inventory  *inventory.Tracker
	Recorder   *timings.Recorder
	OpenOrders gateway.OpenOrdersSource
	Monitor    *monitor.Monitor
	Logger     *logger.Logger
	Events     <-chan gateway.Event
}

// Submitter 是引擎对提交管道的最小依赖。
type Submitter interface {
	SubmitBatch(ctx context.Context, actions []exec.Action) []exec.Result
}

// pendingSide 是一帧内某一侧的目标报价。
type pendingSide struct {
	side  order.Side
	ticks int64
	qty   int64
	id    int64
}

// inflightBatch 描述一帧在途提交：被撤的旧报价与待登记的新报价。
type inflightBatch struct {
	cancelled []order.Quote
	sides     []pendingSide
}

// batchOutcome 是提交任务回传主循环的结果。
type batchOutcome struct {
	batch   inflightBatch
	results []exec.Result
}

// Engine 单协程持有全部报价状态；提交作为独立任务执行，结果经
// results 通道回流主循环，网络等待期间事件消费不停。
type Engine struct {
	config Config

	strat      strategy.Strategy
	quotes     *order.Book
	marketBook *market.Book
	pipeline   Submitter
	inventory  *inventory.Tracker
	recorder   *timings.Recorder
	openOrders gateway.OpenOrdersSource
	monitor    *monitor.Monitor
	logger     *logger.Logger
	events     <-chan gateway.Event

	state State
	mu    sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}
	results  chan batchOutcome

	// 报价节奏状态，仅主循环访问。
	lastBidTicks int64
	lastAskTicks int64
	hasLast      bool
	lastSubmitAt time.Time
	poRejects    []time.Time
	inFlight     bool

	// 本地登记失败但可能已在交易所挂出的订单，对账时认领或丢弃。
	strays map[int64]pendingSide
}

// New 创建引擎
func New(cfg Config, components Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	if cfg.MinHopTicks <= 0 {
		cfg.MinHopTicks = defaultMinHopTicks
	}
	if cfg.GuardTicks <= 0 {
		cfg.GuardTicks = defaultGuardTicks
	}
	if cfg.MinRequoteInterval <= 0 {
		cfg.MinRequoteInterval = defaultMinRequoteInterval
	}
	if cfg.ForceRefreshInterval <= 0 {
		cfg.ForceRefreshInterval = defaultForceRefreshInterval
	}
	if cfg.MaxBookStale <= 0 {
		cfg.MaxBookStale = defaultMaxBookStale
	}
	if cfg.HalfSpreadFloorPct < minHalfSpreadPct {
		cfg.HalfSpreadFloorPct = minHalfSpreadPct
	}

	return &Engine{
		config:     cfg,
		strat:      components.Strategy,
		quotes:     components.Quotes,
		marketBook: components.MarketBook,
		pipeline:   components.Pipeline,
		inventory:  components.Inventory,
		recorder:   components.Recorder,
		openOrders: components.OpenOrders,
		monitor:    components.Monitor,
		logger:     components.Logger,
		events:     components.Events,
		state:      StateIdle,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		results:    make(chan batchOutcome, 1),
		strays:     make(map[int64]pendingSide),
	}, nil
}

// Start 启动引擎
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.logger.Info("Quote engine starting",
		zap.Int("market_id", e.config.MarketID),
		zap.Float64("tick_size", e.config.TickSize),
		zap.Int64("base_qty", e.config.BaseQty))

	go e.run(ctx)
	return nil
}

// Stop 停止引擎并撤掉在盘报价。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.mu.Unlock()

	e.logger.Info("Quote engine stopping...")

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.logger.Warn("Timeout waiting for engine to stop")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("Quote engine stopped")
	return nil
}

// GetState 获取引擎状态
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SetStrategy 热切换策略实例；下一个报价周期生效。
func (e *Engine) SetStrategy(s strategy.Strategy) {
	if s == nil {
		return
	}
	e.mu.Lock()
	e.strat = s
	e.mu.Unlock()
}

// RestingQuotes 返回当前在盘报价快照。
func (e *Engine) RestingQuotes() []order.Quote {
	return e.quotes.Resting()
}

// LatencyStats 返回提交延迟统计快照。
func (e *Engine) LatencyStats() timings.Stats {
	return e.recorder.Snapshot()
}

// run 主事件循环：行情事件驱动 + 定时兜底评估 + 提交结果回流。
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)
	defer e.withdraw(ctx)

	ticker := time.NewTicker(e.config.MinRequoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Context done, stopping engine")
			return

		case <-e.stopChan:
			e.logger.Info("Stop signal received")
			return

		case ev, ok := <-e.events:
			if !ok {
				e.logger.Warn("Event channel closed")
				return
			}
			e.onEvent(ctx, ev)

		case out := <-e.results:
			e.applyResults(out, time.Now())

		case <-ticker.C:
			e.Evaluate(ctx, time.Now())
		}
	}
}

func (e *Engine) onEvent(ctx context.Context, ev gateway.Event) {
	switch v := ev.(type) {
	case gateway.Connected:
		if e.monitor != nil {
			e.monitor.RecordWSConnection()
		}
	case gateway.BookUpdate:
		e.marketBook.ApplyBook(v.Bids, v.Asks, v.At)
		e.Evaluate(ctx, v.At)
	case gateway.MarkUpdate:
		e.marketBook.ApplyMark(v.Price, v.At)
	case gateway.PositionUpdate:
		e.inventory.Set(v.Signed)
		if e.monitor != nil {
			e.monitor.UpdatePosition(v.Signed)
		}
	case gateway.FillUpdate:
		e.inventory.Apply(v.SignedQty, v.Price)
		if e.monitor != nil {
			e.monitor.UpdatePosition(e.inventory.NetExposure())
			if view, ok := e.marketBook.Snapshot(); ok {
				if mid, ok := view.Mid(); ok {
					_, pnl := e.inventory.Valuation(mid)
					e.monitor.UpdateUnrealizedPnL(pnl)
				}
			}
		}
	case gateway.Closed:
		e.logger.Warn("Gateway connection closed", zap.String("reason", v.Reason))
		if e.monitor != nil {
			e.monitor.RecordWSDisconnect()
		}
	}
}

// Evaluate 执行一个报价周期。暴露给测试直接驱动。
func (e *Engine) Evaluate(ctx context.Context, now time.Time) {
	e.mu.RLock()
	stopped := e.state == StateStopped
	strat := e.strat
	e.mu.RUnlock()
	if stopped {
		return
	}

	// 上一帧尚在途：等结果回流后再评估。
	if e.inFlight {
		return
	}

	// 未知态优先对账；对账前该侧冻结。
	if len(e.quotes.NeedsReconcile()) > 0 {
		e.reconcile(ctx, now)
		if len(e.quotes.NeedsReconcile()) > 0 {
			return
		}
	}

	view, ok := e.marketBook.Snapshot()
	if !ok {
		return
	}
	if now.Sub(view.LastBookUpdate) > e.config.MaxBookStale {
		e.logger.Warn("Order book stale, withholding quotes",
			zap.Duration("age", now.Sub(view.LastBookUpdate)))
		return
	}

	// 两侧都被在途撤单挡住时本周期无事可做。
	if e.quotes.Blocked(order.SideBid) || e.quotes.Blocked(order.SideAsk) {
		return
	}

	if !e.lastSubmitAt.IsZero() && now.Sub(e.lastSubmitAt) < e.config.MinRequoteInterval {
		return
	}

	in := strategy.Input{
		View:     view,
		TickSize: e.config.TickSize,
		Now:      now,
	}
	if bid, ok := e.quotes.Get(order.SideBid); ok && bid.State == order.StateResting {
		in.LastBid = bid.Price
		in.HasLastBid = true
	}
	if ask, ok := e.quotes.Get(order.SideAsk); ok && ask.State == order.StateResting {
		in.LastAsk = ask.Price
		in.HasLastAsk = true
	}

	out := strat.Compute(in)
	if out == nil {
		if e.monitor != nil {
			e.monitor.RecordQuoteWithheld()
		}
		return
	}
	if e.monitor != nil {
		e.monitor.RecordQuoteGenerated()
		e.monitor.UpdateMidPrice(out.Center)
	}

	half := out.HalfSpreadPct
	if half < e.config.HalfSpreadFloorPct {
		half = e.config.HalfSpreadFloorPct
	}
	halfAbs := out.Center * half
	tick := e.config.TickSize

	// 安全方向取整：买向下、卖向上，重复对齐幂等。
	bidTicks := priceToTicks(out.Center-halfAbs, tick, false)
	askTicks := priceToTicks(out.Center+halfAbs, tick, true)

	bestBid, okB := view.BestBid()
	bestAsk, okA := view.BestAsk()
	if !okB || !okA {
		return
	}
	bestBidTicks := int64(math.Round(bestBid.Price / tick))
	bestAskTicks := int64(math.Round(bestAsk.Price / tick))

	// post-only 让价：近窗两次拒单后临时放宽一档。
	slack := int64(1)
	if e.recentPoRejects(now) >= 2 {
		slack = 2
	}
	if bidTicks > bestAskTicks-slack {
		bidTicks = bestAskTicks - slack
	}
	if askTicks < bestBidTicks+slack {
		askTicks = bestBidTicks + slack
	}
	if bidTicks >= askTicks || bidTicks <= 0 {
		return
	}

	// 保护带：目标价偏离盘口过远说明输入异常，放弃本周期。
	if abs64(bestBidTicks-bidTicks) > e.config.GuardTicks || abs64(askTicks-bestAskTicks) > e.config.GuardTicks {
		e.logger.Warn("Quote targets outside guard band",
			zap.Int64("bid_ticks", bidTicks),
			zap.Int64("ask_ticks", askTicks),
			zap.Int64("best_bid_ticks", bestBidTicks),
			zap.Int64("best_ask_ticks", bestAskTicks))
		return
	}

	// 滞回：目标没挪够一跳且未到强制刷新时间就不动。
	if e.hasLast && len(e.quotes.Resting()) > 0 {
		moved := abs64(bidTicks-e.lastBidTicks) >= e.config.MinHopTicks ||
			abs64(askTicks-e.lastAskTicks) >= e.config.MinHopTicks
		forced := now.Sub(e.lastSubmitAt) >= e.config.ForceRefreshInterval
		if !moved && !forced {
			return
		}
	}

	bidQty, askQty := e.skewedQuantities()
	e.refresh(ctx, now, bidTicks, askTicks, bidQty, askQty)
}

// skewedQuantities 按净仓位收敛加仓方向的数量。
func (e *Engine) skewedQuantities() (int64, int64) {
	base := float64(e.config.BaseQty)
	bid, ask := e.inventory.SkewSizes(base, float64(e.config.MaxExposureQty))
	return int64(math.Round(bid)), int64(math.Round(ask))
}

// refresh 组一帧撤换批次并作为独立任务提交：cancel-all 永远是第一笔，
// 即使本地簿为空，漏网的在途单也会被扫掉。结果经 results 通道回流。
func (e *Engine) refresh(ctx context.Context, now time.Time, bidTicks, askTicks, bidQty, askQty int64) {
	resting := e.quotes.Resting()

	sides := make([]pendingSide, 0, 2)
	if bidQty > 0 {
		sides = append(sides, pendingSide{side: order.SideBid, ticks: bidTicks, qty: bidQty})
	}
	if askQty > 0 {
		sides = append(sides, pendingSide{side: order.SideAsk, ticks: askTicks, qty: askQty})
	}
	if len(sides) == 0 && len(resting) == 0 {
		return
	}

	actions := make([]exec.Action, 0, 3)
	actions = append(actions, exec.NewCancelAllAction())
	for _, q := range resting {
		if err := e.quotes.Transition(q.Side, order.StateCancelling, now); err != nil {
			e.logger.Error("Quote transition failed", zap.Error(err))
			return
		}
	}
	for i := range sides {
		sides[i].id = e.quotes.NextClientOrderID()
		actions = append(actions, exec.NewOrderAction(gateway.OrderParams{
			MarketID:      e.config.MarketID,
			ClientOrderID: sides[i].id,
			IsAsk:         sides[i].side == order.SideAsk,
			PriceTicks:    sides[i].ticks,
			BaseQty:       sides[i].qty,
			TimeInForce:   gateway.TimeInForcePostOnly,
		}))
	}

	if e.monitor != nil {
		e.monitor.RecordRefreshCycle()
	}

	e.inFlight = true
	e.lastSubmitAt = now
	e.lastBidTicks = bidTicks
	e.lastAskTicks = askTicks
	e.hasLast = true

	batch := inflightBatch{cancelled: resting, sides: sides}
	stop := e.stopChan
	go func() {
		results := e.pipeline.SubmitBatch(ctx, actions)
		select {
		case e.results <- batchOutcome{batch: batch, results: results}:
		case <-stop:
		}
	}()
}

// applyResults 把一帧在途提交的逐笔结果落回报价簿。撤单结果先于挂单
// 结果处理：撤单未确认时旧报价转 UNKNOWN 冻结该侧，新单转入待对账。
func (e *Engine) applyResults(out batchOutcome, now time.Time) {
	e.inFlight = false
	results := out.results
	if len(results) == 0 {
		return
	}

	cancelRes := results[0]
	for _, q := range out.batch.cancelled {
		to := order.StateCancelled
		if !cancelRes.Accepted() {
			to = order.StateUnknown
		}
		if err := e.quotes.Transition(q.Side, to, now); err != nil {
			e.logger.Error("Cancel transition failed", zap.Error(err))
		}
		if to == order.StateCancelled {
			e.quotes.Clear(q.Side)
		}
	}
	if !cancelRes.Accepted() {
		e.logger.Warn("Cancel-all unresolved, freezing quotes until reconciled",
			zap.String("outcome", string(cancelRes.Outcome)),
			zap.String("reason", cancelRes.Reason))
	}

	var restedBid, restedAsk float64
	for i, s := range out.batch.sides {
		res := results[1+i]
		e.reportSubmission(res)
		if res.Outcome == exec.OutcomeRejected {
			e.poRejects = append(e.poRejects, now)
		}

		q, err := e.quotes.Place(s.side, s.ticks, float64(s.ticks)*e.config.TickSize, float64(s.qty), s.id, now)
		if err != nil {
			// 该侧被未决旧报价占住。订单若可能已在交易所，
			// 记为待认领，对账时按权威在途单收编或丢弃。
			if res.Outcome == exec.OutcomeAccepted || res.Outcome == exec.OutcomeUnknown {
				e.strays[s.id] = s
				e.logger.Warn("Side blocked at placement, order deferred to reconcile",
					zap.String("side", string(s.side)),
					zap.Int64("client_order_id", s.id),
					zap.Error(err))
			}
			continue
		}

		switch res.Outcome {
		case exec.OutcomeAccepted:
			if err := e.quotes.Transition(s.side, order.StateResting, now); err != nil {
				e.logger.Error("Rest transition failed", zap.Error(err))
				continue
			}
			if s.side == order.SideBid {
				restedBid = q.Price
			} else {
				restedAsk = q.Price
			}
		case exec.OutcomeRejected:
			_ = e.quotes.Transition(s.side, order.StateRejected, now)
			e.quotes.Clear(s.side)
			e.logger.Warn("Order rejected",
				zap.String("side", string(s.side)),
				zap.Int64("price_ticks", s.ticks),
				zap.String("reason", res.Reason))
		default:
			// Unknown / Transient / NonceMismatch：真实状态未知，冻结待对账。
			_ = e.quotes.Transition(s.side, order.StateUnknown, now)
		}
	}

	if restedBid > 0 && restedAsk > 0 {
		e.logger.LogQuote("quotes_rested", map[string]interface{}{
			"bid": restedBid,
			"ask": restedAsk,
		})
		if e.monitor != nil {
			e.monitor.UpdateBidAsk(restedBid, restedAsk)
		}
	}
}

func (e *Engine) reportSubmission(res exec.Result) {
	e.logger.LogSubmission("order_result", res.ClientOrderID, map[string]interface{}{
		"outcome":  string(res.Outcome),
		"total_ms": res.TotalLatency.Milliseconds(),
	})
	if e.monitor == nil {
		return
	}
	e.monitor.RecordSubmission(string(res.Outcome),
		res.SignLatency.Seconds(),
		res.NetworkLatency.Seconds(),
		res.TotalLatency.Seconds())
}

// reconcile 用权威在途订单决议 UNKNOWN 报价，并认领本地登记失败的
// 在途新单；认领不进去的多余订单交给下一帧的 cancel-all 清扫。
func (e *Engine) reconcile(ctx context.Context, now time.Time) {
	if e.openOrders == nil {
		return
	}
	open, err := e.openOrders.OpenOrders(ctx, e.config.MarketID)
	if err != nil {
		e.logger.LogError(err, map[string]interface{}{"op": "reconcile"})
		return
	}
	if e.monitor != nil {
		e.monitor.RecordReconcile()
	}

	alive := make(map[int64]bool, len(open))
	for _, o := range open {
		alive[o.ClientOrderID] = true
	}
	for _, q := range e.quotes.NeedsReconcile() {
		if alive[q.ClientOrderID] {
			if err := e.quotes.Transition(q.Side, order.StateResting, now); err != nil {
				e.logger.Error("Reconcile transition failed", zap.Error(err))
			}
			continue
		}
		if err := e.quotes.Transition(q.Side, order.StateCancelled, now); err != nil {
			e.logger.Error("Reconcile transition failed", zap.Error(err))
			continue
		}
		e.quotes.Clear(q.Side)
	}

	for id, s := range e.strays {
		delete(e.strays, id)
		if !alive[id] {
			continue
		}
		if _, err := e.quotes.Place(s.side, s.ticks, float64(s.ticks)*e.config.TickSize, float64(s.qty), id, now); err != nil {
			e.logger.Warn("Live order could not be adopted, next cancel-all sweeps it",
				zap.Int64("client_order_id", id), zap.Error(err))
			continue
		}
		_ = e.quotes.Transition(s.side, order.StateResting, now)
	}

	e.logger.Info("Reconciled unknown quotes", zap.Int("open_orders", len(open)))
}

// withdraw 退出前撤掉所有在盘与可能在途的报价。
func (e *Engine) withdraw(ctx context.Context) {
	if !e.inFlight && len(e.quotes.Resting()) == 0 {
		return
	}
	res := e.pipeline.SubmitBatch(ctx, []exec.Action{exec.NewCancelAllAction()})
	if len(res) > 0 && !res[0].Accepted() {
		e.logger.Error("Failed to withdraw quotes on shutdown",
			zap.String("outcome", string(res[0].Outcome)))
		return
	}
	now := time.Now()
	for _, q := range e.quotes.Resting() {
		_ = e.quotes.Transition(q.Side, order.StateCancelled, now)
		e.quotes.Clear(q.Side)
	}
}

// recentPoRejects 统计观察窗内的拒单次数，同时修剪过期记录。
func (e *Engine) recentPoRejects(now time.Time) int {
	kept := e.poRejects[:0]
	for _, t := range e.poRejects {
		if now.Sub(t) <= poSlackWindow {
			kept = append(kept, t)
		}
	}
	e.poRejects = kept
	return len(kept)
}

// priceToTicks 把目标价对齐到 tick 网格。已在网格上的价格（容浮点噪声）
// 原样保留，否则按 roundUp 选向取整；对齐后再对齐结果不变。
func priceToTicks(price, tick float64, roundUp bool) int64 {
	r := price / tick
	n := math.Round(r)
	if math.Abs(r-n) < 1e-9*math.Max(math.Abs(r), 1) {
		return int64(n)
	}
	if roundUp {
		return int64(math.Ceil(r))
	}
	return int64(math.Floor(r))
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.MarketID < 0 {
		return errors.New("market_id must be >= 0")
	}
	if cfg.TickSize <= 0 {
		return errors.New("tick_size must be > 0")
	}
	if cfg.BaseQty <= 0 {
		return errors.New("base_qty must be > 0")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Strategy == nil {
		return errors.New("strategy is required")
	}
	if comp.Quotes == nil {
		return errors.New("quote book is required")
	}
	if comp.MarketBook == nil {
		return errors.New("market book is required")
	}
	if comp.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if comp.Inventory == nil {
		return errors.New("inventory is required")
	}
	if comp.Recorder == nil {
		return errors.New("recorder is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
