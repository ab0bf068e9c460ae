// Package timings 记录每次提交的签名/网络/端到端耗时，并给出
// min/median/p95/max/avg 汇总。
package timings

import (
	"sort"
	"sync"
	"time"
)

// Sample 是一次提交的延迟分解。
type Sample struct {
	Sign    time.Duration
	Network time.Duration
	Total   time.Duration
}

// PhaseStats 单阶段统计。
type PhaseStats struct {
	Count  int
	Min    time.Duration
	Median time.Duration
	P95    time.Duration
	Max    time.Duration
	Avg    time.Duration
}

// Stats 三个阶段的统计快照。
type Stats struct {
	Sign    PhaseStats
	Network PhaseStats
	Total   PhaseStats
}

// Recorder 固定窗口的样本环；窗口满后丢弃最旧样本。
type Recorder struct {
	mu      sync.Mutex
	window  int
	samples []Sample
	head    int
	full    bool
}

const defaultWindow = 1024

func NewRecorder(window int) *Recorder {
	if window <= 0 {
		window = defaultWindow
	}
	return &Recorder{
		window:  window,
		samples: make([]Sample, window),
	}
}

// Record 追加一次样本。
func (r *Recorder) Record(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.head] = s
	r.head++
	if r.head == r.window {
		r.head = 0
		r.full = true
	}
}

// Snapshot 返回当前窗口的统计。
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	n := r.head
	if r.full {
		n = r.window
	}
	buf := make([]Sample, n)
	if r.full {
		copy(buf, r.samples[r.head:])
		copy(buf[r.window-r.head:], r.samples[:r.head])
	} else {
		copy(buf, r.samples[:n])
	}
	r.mu.Unlock()

	sign := make([]time.Duration, n)
	network := make([]time.Duration, n)
	total := make([]time.Duration, n)
	for i, s := range buf {
		sign[i] = s.Sign
		network[i] = s.Network
		total[i] = s.Total
	}
	return Stats{
		Sign:    phaseStats(sign),
		Network: phaseStats(network),
		Total:   phaseStats(total),
	}
}

func phaseStats(ds []time.Duration) PhaseStats {
	n := len(ds)
	if n == 0 {
		return PhaseStats{}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })

	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return PhaseStats{
		Count:  n,
		Min:    ds[0],
		Median: ds[n/2],
		P95:    ds[percentileIndex(n, 95)],
		Max:    ds[n-1],
		Avg:    sum / time.Duration(n),
	}
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}
