package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-engine-go/exec"
	"quote-engine-go/gateway"
	"quote-engine-go/infrastructure/logger"
	"quote-engine-go/inventory"
	"quote-engine-go/market"
	"quote-engine-go/order"
	"quote-engine-go/strategy"
	"quote-engine-go/timings"
)

// scriptedPipeline 按调用顺序弹出预设结局；默认全部接受。
type scriptedPipeline struct {
	calls  [][]exec.Action
	script []exec.Outcome
}

func (p *scriptedPipeline) SubmitBatch(_ context.Context, actions []exec.Action) []exec.Result {
	p.calls = append(p.calls, actions)
	outcome := exec.OutcomeAccepted
	if len(p.script) > 0 {
		outcome = p.script[0]
		p.script = p.script[1:]
	}
	results := make([]exec.Result, len(actions))
	for i, a := range actions {
		results[i] = exec.Result{
			ClientOrderID: a.Order.ClientOrderID,
			TxType:        a.TxType,
			Outcome:       outcome,
		}
	}
	return results
}

// slowPipeline 模拟慢速网络往返。
type slowPipeline struct {
	delay time.Duration
}

func (p *slowPipeline) SubmitBatch(_ context.Context, actions []exec.Action) []exec.Result {
	time.Sleep(p.delay)
	results := make([]exec.Result, len(actions))
	for i, a := range actions {
		results[i] = exec.Result{
			ClientOrderID: a.Order.ClientOrderID,
			TxType:        a.TxType,
			Outcome:       exec.OutcomeAccepted,
		}
	}
	return results
}

type staticOpenOrders struct {
	orders []gateway.OpenOrder
}

func (s *staticOpenOrders) OpenOrders(context.Context, int) ([]gateway.OpenOrder, error) {
	return s.orders, nil
}

type fixture struct {
	engine    *Engine
	pipeline  *scriptedPipeline
	book      *market.Book
	quotes    *order.Book
	inventory *inventory.Tracker
	open      *staticOpenOrders
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pipeline:  &scriptedPipeline{},
		book:      market.NewBook(0.01),
		quotes:    order.NewBook(),
		inventory: &inventory.Tracker{},
		open:      &staticOpenOrders{},
	}
	eng, err := New(Config{
		MarketID:       1,
		TickSize:       0.01,
		BaseQty:        2,
		MaxExposureQty: 10,
	}, Components{
		Strategy:   &strategy.RawMid{HalfSpreadPct: 0.0005},
		Quotes:     f.quotes,
		MarketBook: f.book,
		Pipeline:   f.pipeline,
		Inventory:  f.inventory,
		Recorder:   timings.NewRecorder(64),
		OpenOrders: f.open,
		Logger:     logger.NewNop(),
	})
	require.NoError(t, err)
	f.engine = eng
	return f
}

// cycle 驱动一个报价周期，并像主循环一样把在途提交的结果落回来。
func (f *fixture) cycle(t *testing.T, now time.Time) {
	t.Helper()
	f.engine.Evaluate(context.Background(), now)
	if f.engine.inFlight {
		out := <-f.engine.results
		f.engine.applyResults(out, now)
	}
}

func (f *fixture) applyBook(at time.Time) {
	f.book.ApplyBook(
		[]market.Level{{Price: 100.00, Size: 1}},
		[]market.Level{{Price: 100.10, Size: 1}},
		at,
	)
}

func restingSide(quotes []order.Quote, side order.Side) (order.Quote, bool) {
	for _, q := range quotes {
		if q.Side == side {
			return q, true
		}
	}
	return order.Quote{}, false
}

func TestQuotesPlacedAroundMid(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now)

	resting := f.engine.RestingQuotes()
	require.Len(t, resting, 2)

	bid, ok := restingSide(resting, order.SideBid)
	require.True(t, ok)
	ask, ok := restingSide(resting, order.SideAsk)
	require.True(t, ok)

	// mid 100.05, half spread 0.05%: bid rounds down, ask rounds up.
	assert.Equal(t, int64(9999), bid.PriceTicks)
	assert.Equal(t, int64(10011), ask.PriceTicks)
	assert.InDelta(t, 99.99, bid.Price, 1e-9)
	assert.InDelta(t, 100.11, ask.Price, 1e-9)
	assert.Equal(t, float64(2), bid.Size)

	// 每帧都以 cancel-all 开头，首帧也不例外。
	require.Len(t, f.pipeline.calls, 1)
	require.Len(t, f.pipeline.calls[0], 3)
	assert.Equal(t, gateway.TxTypeCancelAllOrders, f.pipeline.calls[0][0].TxType)
	assert.Equal(t, gateway.TxTypeCreateOrder, f.pipeline.calls[0][1].TxType)
	assert.Equal(t, gateway.TxTypeCreateOrder, f.pipeline.calls[0][2].TxType)
}

func TestHysteresisHoldsUnchangedQuotes(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now)
	require.Len(t, f.pipeline.calls, 1)

	// 盘口未动、未到强制刷新：不应再发。
	f.cycle(t, now.Add(200*time.Millisecond))
	assert.Len(t, f.pipeline.calls, 1)
}

func TestForceRefreshCancelsThenPlaces(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now)
	f.cycle(t, now.Add(time.Second))

	require.Len(t, f.pipeline.calls, 2)
	second := f.pipeline.calls[1]
	require.Len(t, second, 3)
	// 撤单永远先于挂单，同一帧内完成撤换。
	assert.Equal(t, gateway.TxTypeCancelAllOrders, second[0].TxType)
	assert.Equal(t, gateway.TxTypeCreateOrder, second[1].TxType)
	assert.Equal(t, gateway.TxTypeCreateOrder, second[2].TxType)
}

func TestSlowSubmissionDoesNotStallEventLoop(t *testing.T) {
	events := make(chan gateway.Event, 16)
	book := market.NewBook(0.01)
	eng, err := New(Config{
		MarketID: 1,
		TickSize: 0.01,
		BaseQty:  2,
	}, Components{
		Strategy:   &strategy.RawMid{HalfSpreadPct: 0.0005},
		Quotes:     order.NewBook(),
		MarketBook: book,
		Pipeline:   &slowPipeline{delay: 500 * time.Millisecond},
		Inventory:  &inventory.Tracker{},
		Recorder:   timings.NewRecorder(64),
		Logger:     logger.NewNop(),
		Events:     events,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop() }()

	now := time.Now()
	events <- gateway.BookUpdate{
		MarketID: 1,
		Bids:     []market.Level{{Price: 100.00, Size: 1}},
		Asks:     []market.Level{{Price: 100.10, Size: 1}},
		At:       now,
	}
	events <- gateway.MarkUpdate{MarketID: 1, Price: 100.07, At: now}

	// 提交任务还在网络往返中时，标记价事件必须已被主循环消费。
	require.Eventually(t, func() bool {
		view, ok := book.Snapshot()
		return ok && view.HasMark
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, eng.RestingQuotes())
}

func TestCancelTimeoutFreezesSideUntilReconciled(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now)
	resting := f.engine.RestingQuotes()
	require.Len(t, resting, 2)
	bidID := resting[0].ClientOrderID
	askID := resting[1].ClientOrderID

	// 第二轮撤换整帧超时：旧报价转 UNKNOWN，新单延迟到对账。
	f.pipeline.script = []exec.Outcome{exec.OutcomeUnknown}
	f.cycle(t, now.Add(time.Second))

	assert.Empty(t, f.engine.RestingQuotes())
	require.Len(t, f.quotes.NeedsReconcile(), 2)
	assert.True(t, f.quotes.Blocked(order.SideBid))
	assert.True(t, f.quotes.Blocked(order.SideAsk))

	// 权威在途订单显示两笔都还挂着：对账后恢复 RESTING。
	f.open.orders = []gateway.OpenOrder{
		{ClientOrderID: bidID},
		{ClientOrderID: askID},
	}
	f.cycle(t, now.Add(time.Second+10*time.Millisecond))

	assert.Empty(t, f.quotes.NeedsReconcile())
	assert.Len(t, f.engine.RestingQuotes(), 2)
}

func TestReconcileDropsOrdersNotOnExchange(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now)
	f.pipeline.script = []exec.Outcome{exec.OutcomeUnknown}
	f.cycle(t, now.Add(time.Second))
	require.Len(t, f.quotes.NeedsReconcile(), 2)

	// 交易所无在途订单：未知报价决议为已撤。
	f.open.orders = nil
	f.cycle(t, now.Add(time.Second+10*time.Millisecond))

	assert.Empty(t, f.quotes.NeedsReconcile())
	assert.Empty(t, f.engine.RestingQuotes())
	assert.False(t, f.quotes.Blocked(order.SideBid))
}

func TestReconcileAdoptsLiveOrdersFromUnresolvedFrame(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	// 首帧成功挂出 id 1/2。
	f.cycle(t, now)
	require.Len(t, f.engine.RestingQuotes(), 2)

	// 第二帧整帧未确认：撤单未决，新单 id 3/4 的结局悬空。
	f.pipeline.script = []exec.Outcome{exec.OutcomeUnknown}
	f.cycle(t, now.Add(time.Second))
	require.Len(t, f.quotes.NeedsReconcile(), 2)

	// 权威在途单只剩新 id：旧报价决议为已撤，新单被认领为 RESTING。
	f.open.orders = []gateway.OpenOrder{
		{ClientOrderID: 3},
		{ClientOrderID: 4},
	}
	f.cycle(t, now.Add(time.Second+10*time.Millisecond))

	resting := f.engine.RestingQuotes()
	require.Len(t, resting, 2)
	ids := map[int64]bool{resting[0].ClientOrderID: true, resting[1].ClientOrderID: true}
	assert.True(t, ids[3] && ids[4], "adopted quotes should carry the live ids: %v", ids)

	// 下一帧照常以 cancel-all 开头，认领的在途单随之撤换。
	f.cycle(t, now.Add(2*time.Second))
	require.Len(t, f.pipeline.calls, 3)
	assert.Equal(t, gateway.TxTypeCancelAllOrders, f.pipeline.calls[2][0].TxType)
	for _, q := range f.engine.RestingQuotes() {
		assert.NotContains(t, []int64{3, 4}, q.ClientOrderID)
	}
}

func TestStaleBookWithholdsQuotes(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now.Add(31*time.Second))
	assert.Empty(t, f.pipeline.calls)
}

func TestInventorySkewDropsGrowingSide(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	// 净仓打满上限：买侧归零，只挂卖侧。
	f.inventory.Set(10)
	f.cycle(t, now)

	resting := f.engine.RestingQuotes()
	require.Len(t, resting, 1)
	assert.Equal(t, order.SideAsk, resting[0].Side)
	require.Len(t, f.pipeline.calls, 1)
	require.Len(t, f.pipeline.calls[0], 2)
	assert.Equal(t, gateway.TxTypeCancelAllOrders, f.pipeline.calls[0][0].TxType)
}

func TestRejectionClearsSideAndCountsTowardSlack(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.pipeline.script = []exec.Outcome{exec.OutcomeRejected}
	f.cycle(t, now)

	assert.Empty(t, f.engine.RestingQuotes())
	assert.False(t, f.quotes.Blocked(order.SideBid))
	// 两次拒单都落在观察窗内，下一轮让价放宽。
	assert.Equal(t, 2, f.engine.recentPoRejects(now.Add(time.Second)))
	assert.Equal(t, 0, f.engine.recentPoRejects(now.Add(3*time.Second)))
}

func TestFillEventAdjustsInventory(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.engine.onEvent(context.Background(), gateway.FillUpdate{MarketID: 1, SignedQty: 2, Price: 100.00})
	assert.InDelta(t, 2, f.inventory.NetExposure(), 1e-9)
	assert.InDelta(t, 100.00, f.inventory.AvgCost(), 1e-9)

	f.engine.onEvent(context.Background(), gateway.FillUpdate{MarketID: 1, SignedQty: -1, Price: 100.10})
	assert.InDelta(t, 1, f.inventory.NetExposure(), 1e-9)
}

func TestHotSwapStrategyTakesEffectNextCycle(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	f.cycle(t, now)
	bid, ok := restingSide(f.engine.RestingQuotes(), order.SideBid)
	require.True(t, ok)
	assert.Equal(t, int64(9999), bid.PriceTicks)

	f.engine.SetStrategy(&strategy.RawMid{HalfSpreadPct: 0.002})
	f.cycle(t, now.Add(time.Second))

	resting := f.engine.RestingQuotes()
	bid, ok = restingSide(resting, order.SideBid)
	require.True(t, ok)
	ask, ok := restingSide(resting, order.SideAsk)
	require.True(t, ok)
	assert.Equal(t, int64(9984), bid.PriceTicks)
	assert.Equal(t, int64(10026), ask.PriceTicks)
}

func TestTickAlignmentIsIdempotent(t *testing.T) {
	tick := 0.01
	// 99.99/0.01 这类商带浮点噪声的价格必须稳定落回原刻度。
	for _, ticks := range []int64{1, 9998, 9999, 10000, 10011, 123456789} {
		price := float64(ticks) * tick
		assert.Equal(t, ticks, priceToTicks(price, tick, false), "floor of on-grid price %d", ticks)
		assert.Equal(t, ticks, priceToTicks(price, tick, true), "ceil of on-grid price %d", ticks)
	}

	// 网格外的价格按方向取整；取整后的价格再对齐保持不变。
	down := priceToTicks(100.054, tick, false)
	assert.Equal(t, int64(10005), down)
	assert.Equal(t, down, priceToTicks(float64(down)*tick, tick, false))

	up := priceToTicks(100.054, tick, true)
	assert.Equal(t, int64(10006), up)
	assert.Equal(t, up, priceToTicks(float64(up)*tick, tick, true))
}

func TestWithdrawOnStop(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.applyBook(now)

	require.NoError(t, f.engine.Start(context.Background()))
	// 让主循环至少跑一轮定时评估。
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, f.engine.Stop())

	assert.Equal(t, StateStopped, f.engine.GetState())
	assert.Empty(t, f.engine.RestingQuotes())
}
