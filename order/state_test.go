package order

import (
	"testing"
	"time"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := NewStateMachine()
	path := []State{StatePending, StateResting, StateCancelling, StateCancelled}
	for i := 0; i < len(path)-1; i++ {
		if err := sm.ValidateTransition(path[i], path[i+1]); err != nil {
			t.Fatalf("transition %s -> %s should be legal: %v", path[i], path[i+1], err)
		}
	}
}

func TestStateMachineIdempotentSameState(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.ValidateTransition(StateResting, StateResting); err != nil {
		t.Fatalf("same-state transition must be allowed: %v", err)
	}
}

func TestStateMachineRejectsIllegal(t *testing.T) {
	sm := NewStateMachine()
	illegal := []StateTransition{
		{StateCancelled, StateResting},
		{StateRejected, StatePending},
		{StatePending, StateCancelling},
		{StateCancelling, StateResting},
	}
	for _, tr := range illegal {
		if err := sm.ValidateTransition(tr.From, tr.To); err == nil {
			t.Fatalf("transition %s -> %s should be illegal", tr.From, tr.To)
		}
	}
}

func TestCancelTimeoutGoesUnknownNotCancelled(t *testing.T) {
	// 撤单超时必须停在 UNKNOWN，对账后才能收敛
	sm := NewStateMachine()
	if err := sm.ValidateTransition(StateCancelling, StateUnknown); err != nil {
		t.Fatalf("cancelling -> unknown must be legal: %v", err)
	}
	if !sm.NeedsReconcile(StateUnknown) {
		t.Fatalf("unknown must require reconciliation")
	}
	if sm.IsFinalState(StateUnknown) {
		t.Fatalf("unknown is not terminal")
	}
	if err := sm.ValidateTransition(StateUnknown, StateCancelled); err != nil {
		t.Fatalf("reconcile unknown -> cancelled must be legal: %v", err)
	}
}

func TestBookPlaceAndTransition(t *testing.T) {
	b := NewBook()
	now := time.Now()
	q, err := b.Place(SideBid, 10000, 100.00, 0.5, b.NextClientOrderID(), now)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if q.State != StatePending {
		t.Fatalf("new quote must be pending, got %s", q.State)
	}
	if err := b.Transition(SideBid, StateResting, now); err != nil {
		t.Fatalf("ack: %v", err)
	}
	resting := b.Resting()
	if len(resting) != 1 || resting[0].PriceTicks != 10000 {
		t.Fatalf("expected one resting quote at 10000 ticks, got %+v", resting)
	}
}

func TestBookBlocksReplacementWhileCancelling(t *testing.T) {
	b := NewBook()
	now := time.Now()
	if _, err := b.Place(SideAsk, 10010, 100.10, 0.5, b.NextClientOrderID(), now); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := b.Transition(SideAsk, StateResting, now); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := b.Transition(SideAsk, StateCancelling, now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !b.Blocked(SideAsk) {
		t.Fatalf("cancelling side must block replacement")
	}
	if _, err := b.Place(SideAsk, 10012, 100.12, 0.5, b.NextClientOrderID(), now); err == nil {
		t.Fatalf("place while cancelling must fail")
	}
	if err := b.Transition(SideAsk, StateCancelled, now); err != nil {
		t.Fatalf("cancelled: %v", err)
	}
	if b.Blocked(SideAsk) {
		t.Fatalf("terminal state must not block")
	}
	if _, err := b.Place(SideAsk, 10012, 100.12, 0.5, b.NextClientOrderID(), now); err != nil {
		t.Fatalf("place after terminal: %v", err)
	}
}

func TestClientOrderIDMonotonic(t *testing.T) {
	b := NewBook()
	prev := b.NextClientOrderID()
	for i := 0; i < 100; i++ {
		id := b.NextClientOrderID()
		if id <= prev {
			t.Fatalf("client order ids must be strictly increasing: %d after %d", id, prev)
		}
		prev = id
	}
}
