package order

import "fmt"

// StateTransition 状态转换
type StateTransition struct {
	From State
	To   State
}

// StateMachine 报价状态机
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从PENDING可以转到
		{StatePending, StateResting},
		{StatePending, StateRejected},
		{StatePending, StateUnknown},

		// 从RESTING可以转到
		{StateResting, StateCancelling},
		{StateResting, StateCancelled}, // 交易所主动撤销（如 post-only 穿越）
		{StateResting, StateRejected},

		// 从CANCELLING可以转到
		{StateCancelling, StateCancelled},
		{StateCancelling, StateUnknown}, // 撤单确认超时

		// UNKNOWN 只能通过对账收敛
		{StateUnknown, StateResting},
		{StateUnknown, StateCancelled},
		{StateUnknown, StateRejected},

		// 终态不能转换（CANCELLED, REJECTED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to State) error {
	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(s State) bool {
	switch s {
	case StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// BlocksReplacement 判断该状态是否阻塞本侧换单：撤单在途或结果未知时，
// 不允许再为同侧提交新报价。
func (sm *StateMachine) BlocksReplacement(s State) bool {
	switch s {
	case StateCancelling, StateUnknown, StatePending:
		return true
	default:
		return false
	}
}

// NeedsReconcile 判断该状态是否需要先对账
func (sm *StateMachine) NeedsReconcile(s State) bool {
	return s == StateUnknown
}
