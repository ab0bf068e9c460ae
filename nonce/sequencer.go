// Package nonce 维护每个签名 api key 的严格递增交易 nonce。
// 乐观模式：启动时从权威来源取一次，之后本地自增；检测到偏差时
// 通过 ResetFrom / Refresh 重新对齐。
package nonce

import (
	"context"
	"fmt"
	"sync"
)

// Source 是权威 nonce 来源（交易所查询接口）。
type Source interface {
	NextNonce(ctx context.Context, apiKeyIndex int) (int64, error)
}

// Sequencer 是进程内唯一的跨任务共享可变状态，整体由单把互斥锁串行化。
type Sequencer struct {
	mu sync.Mutex

	src        Source
	startKey   int
	endKey     int
	currentKey int
	nonces     map[int]int64 // 每 key 最近一次已分配的 nonce
}

// NewSequencer 为 [startKey, endKey] 范围内的每个 api key 预取权威 nonce。
// 存储 value-1，首次 Next 自增后即为权威值。
func NewSequencer(ctx context.Context, src Source, startKey, endKey int) (*Sequencer, error) {
	if startKey > endKey || startKey < 0 || endKey >= 255 {
		return nil, fmt.Errorf("invalid api key range start=%d end=%d", startKey, endKey)
	}
	nonces := make(map[int]int64, endKey-startKey+1)
	for k := startKey; k <= endKey; k++ {
		n, err := src.NextNonce(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("seed nonce for api key %d: %w", k, err)
		}
		nonces[k] = n - 1
	}
	return &Sequencer{
		src:        src,
		startKey:   startKey,
		endKey:     endKey,
		currentKey: endKey, // 首次 Next 轮转回 startKey
		nonces:     nonces,
	}, nil
}

// Next 返回指定 api key 的下一个 nonce，严格递增。
func (s *Sequencer) Next(apiKeyIndex int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nonces[apiKeyIndex]
	if !ok {
		return 0, fmt.Errorf("missing nonce for api key %d", apiKeyIndex)
	}
	n++
	s.nonces[apiKeyIndex] = n
	return n, nil
}

// NextPair 轮转 api key 并返回 (key, nonce)。多 key 配置下分摊每 key 的
// nonce 消耗速度。
func (s *Sequencer) NextPair() (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentKey++
	if s.currentKey > s.endKey {
		s.currentKey = s.startKey
	}
	key := s.currentKey
	n, ok := s.nonces[key]
	if !ok {
		return 0, 0, fmt.Errorf("missing nonce for api key %d", key)
	}
	n++
	s.nonces[key] = n
	return key, n, nil
}

// ResetFrom 用权威值重置某 key 的序列（重连或检测到缺口之后）。
func (s *Sequencer) ResetFrom(apiKeyIndex int, authoritative int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[apiKeyIndex] = authoritative - 1
}

// Refresh 重新向权威来源取值并重置。
func (s *Sequencer) Refresh(ctx context.Context, apiKeyIndex int) error {
	n, err := s.src.NextNonce(ctx, apiKeyIndex)
	if err != nil {
		return fmt.Errorf("refresh nonce for api key %d: %w", apiKeyIndex, err)
	}
	s.ResetFrom(apiKeyIndex, n)
	return nil
}

// AcknowledgeFailure 回退一次乐观自增：签名已消耗 nonce 但交易未被接受时，
// 下一次分配复用同一个值。
func (s *Sequencer) AcknowledgeFailure(apiKeyIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nonces[apiKeyIndex]; ok && n > 0 {
		s.nonces[apiKeyIndex] = n - 1
	}
}
