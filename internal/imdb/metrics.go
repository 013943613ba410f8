package imdb

import "github.com/thingsshell/tshd/internal/metrics"

// MetricsCursor remembers the last published value of each monotonic
// counter, since prometheus.Counter only exposes Add/Inc and Stat's
// fields are running totals rather than increments.
type MetricsCursor struct {
	blockRecycles uint64
	skipScans     uint64
}

// NewMetricsCursor returns a zeroed cursor for use with PublishMetrics.
func NewMetricsCursor() *MetricsCursor { return &MetricsCursor{} }

// PublishMetrics reports the instance's current Stat snapshot to m:
// the running totals of bytes allocated, bytes freed and pages
// allocated as gauges, and the two event counts (block recycles, skip
// scans) as counters.
// Callers drive this periodically (cmd/tshd polls it on its own
// 5-second timer); it is safe to call concurrently
// with ongoing class Insert/Delete traffic.
func (i *Instance) PublishMetrics(m *metrics.Registry, cur *MetricsCursor) {
	if m == nil {
		return
	}
	info := i.Info()
	m.IMDBBytesAllocated.Set(float64(info.Stat.BytesAllocated))
	m.IMDBBytesFreed.Set(float64(info.Stat.BytesFreed))
	m.IMDBPagesAllocated.Set(float64(info.Stat.PagesAllocated))
	if cur == nil {
		return
	}
	if info.Stat.BlockRecycles > cur.blockRecycles {
		m.IMDBBlockRecycles.Add(float64(info.Stat.BlockRecycles - cur.blockRecycles))
		cur.blockRecycles = info.Stat.BlockRecycles
	}
	if info.Stat.SkipScans > cur.skipScans {
		m.IMDBSkipScans.Add(float64(info.Stat.SkipScans - cur.skipScans))
		cur.skipScans = info.Stat.SkipScans
	}
}
