package order

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Book 维护双边各至多一张在途/在盘报价，并分配进程内单调递增的
// client order id。状态转换经状态机校验。
type Book struct {
	mu     sync.RWMutex
	quotes map[Side]*Quote
	sm     *StateMachine

	nextClientID atomic.Int64
}

func NewBook() *Book {
	return &Book{
		quotes: make(map[Side]*Quote),
		sm:     NewStateMachine(),
	}
}

var ErrNoQuote = fmt.Errorf("no quote for side")

// NextClientOrderID 分配下一个 client order id。
func (b *Book) NextClientOrderID() int64 {
	return b.nextClientID.Add(1)
}

// Place 登记一张新的 PENDING 报价，替换该侧已终结的旧报价。
// 旧报价仍阻塞换单时返回错误。
func (b *Book) Place(side Side, priceTicks int64, price, size float64, clientOrderID int64, now time.Time) (*Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.quotes[side]; ok && b.sm.BlocksReplacement(old.State) {
		return nil, fmt.Errorf("side %s blocked by quote %d in state %s", side, old.ClientOrderID, old.State)
	}
	q := &Quote{
		Side:          side,
		PriceTicks:    priceTicks,
		Price:         price,
		Size:          size,
		ClientOrderID: clientOrderID,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.quotes[side] = q
	return q, nil
}

// Transition 将某侧报价迁移到新状态。
func (b *Book) Transition(side Side, to State, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[side]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoQuote, side)
	}
	if err := b.sm.ValidateTransition(q.State, to); err != nil {
		return err
	}
	q.State = to
	q.UpdatedAt = now
	return nil
}

// TransitionByID 按 client order id 迁移状态，id 不匹配时不动作。
func (b *Book) TransitionByID(clientOrderID int64, to State, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.quotes {
		if q.ClientOrderID == clientOrderID {
			if err := b.sm.ValidateTransition(q.State, to); err != nil {
				return err
			}
			q.State = to
			q.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: client order id %d", ErrNoQuote, clientOrderID)
}

// Get 返回该侧报价的拷贝。
func (b *Book) Get(side Side) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[side]
	if !ok {
		return Quote{}, false
	}
	return *q, true
}

// Clear 移除该侧报价（终态之后回到 Idle）。
func (b *Book) Clear(side Side) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.quotes, side)
}

// Resting 返回当前 RESTING 状态的报价快照。
func (b *Book) Resting() []Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		if q.State == StateResting {
			out = append(out, *q)
		}
	}
	return out
}

// Blocked 判断该侧是否禁止提交新报价。
func (b *Book) Blocked(side Side) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[side]
	return ok && b.sm.BlocksReplacement(q.State)
}

// NeedsReconcile 返回处于 UNKNOWN 状态、需要对账的报价。
func (b *Book) NeedsReconcile() []Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Quote, 0, 2)
	for _, q := range b.quotes {
		if b.sm.NeedsReconcile(q.State) {
			out = append(out, *q)
		}
	}
	return out
}
