package timings

import (
	"testing"
	"time"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func TestSnapshotEmpty(t *testing.T) {
	r := NewRecorder(16)
	st := r.Snapshot()
	if st.Total.Count != 0 {
		t.Fatalf("expected empty stats, got %+v", st.Total)
	}
}

func TestSnapshotBasicStats(t *testing.T) {
	r := NewRecorder(16)
	for i := 1; i <= 10; i++ {
		r.Record(Sample{Sign: ms(i), Network: ms(2 * i), Total: ms(3 * i)})
	}
	st := r.Snapshot()
	if st.Sign.Count != 10 {
		t.Fatalf("count: %d", st.Sign.Count)
	}
	if st.Sign.Min != ms(1) || st.Sign.Max != ms(10) {
		t.Fatalf("min/max: %v/%v", st.Sign.Min, st.Sign.Max)
	}
	if st.Sign.Median != ms(6) { // n/2 上取整索引
		t.Fatalf("median: %v", st.Sign.Median)
	}
	wantAvg := ms(55) / 10
	if st.Sign.Avg != wantAvg {
		t.Fatalf("avg: %v, want %v", st.Sign.Avg, wantAvg)
	}
	if st.Network.Max != ms(20) || st.Total.Max != ms(30) {
		t.Fatalf("phases must be aggregated independently: %+v", st)
	}
}

func TestWindowDropsOldest(t *testing.T) {
	r := NewRecorder(4)
	for i := 1; i <= 8; i++ {
		r.Record(Sample{Total: ms(i)})
	}
	st := r.Snapshot()
	if st.Total.Count != 4 {
		t.Fatalf("count: %d", st.Total.Count)
	}
	if st.Total.Min != ms(5) || st.Total.Max != ms(8) {
		t.Fatalf("window should keep the last 4 samples: min=%v max=%v", st.Total.Min, st.Total.Max)
	}
}

func TestP95Index(t *testing.T) {
	r := NewRecorder(200)
	for i := 1; i <= 100; i++ {
		r.Record(Sample{Total: ms(i)})
	}
	st := r.Snapshot()
	if st.Total.P95 < ms(95) || st.Total.P95 > ms(96) {
		t.Fatalf("p95: %v", st.Total.P95)
	}
}
