package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BufferPoolMetrics holds all the metric instruments for a buffer pool.
type BufferPoolMetrics struct {
	HitCounter       metric.Int64Counter
	MissCounter      metric.Int64Counter
	EvictionCounter  metric.Int64Counter
	FlushCounter     metric.Int64Counter
	DiskReadCounter  metric.Int64Counter
	DiskWriteCounter metric.Int64Counter
	PinnedFrames     metric.Int64UpDownCounter

	attrs metric.MeasurementOption
}

// NewBufferPoolMetrics creates and registers all the metrics for a buffer pool.
// Every measurement carries the replacement policy as an attribute.
func NewBufferPoolMetrics(meter metric.Meter, policy string) (*BufferPoolMetrics, error) {
	hitCounter, err := meter.Int64Counter(
		"pagedb.bufferpool.hits",
		metric.WithDescription("Fetches served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	missCounter, err := meter.Int64Counter(
		"pagedb.bufferpool.misses",
		metric.WithDescription("Fetches that had to read the page from disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionCounter, err := meter.Int64Counter(
		"pagedb.bufferpool.evictions",
		metric.WithDescription("Frames reclaimed from the replacer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushCounter, err := meter.Int64Counter(
		"pagedb.bufferpool.flushes",
		metric.WithDescription("Pages written back to disk, explicitly or on eviction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskReadCounter, err := meter.Int64Counter(
		"pagedb.bufferpool.disk_reads",
		metric.WithDescription("Page reads issued to the disk manager."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskWriteCounter, err := meter.Int64Counter(
		"pagedb.bufferpool.disk_writes",
		metric.WithDescription("Page writes issued to the disk manager."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinnedFrames, err := meter.Int64UpDownCounter(
		"pagedb.bufferpool.pinned_frames",
		metric.WithDescription("Frames with a non-zero pin count."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitCounter:       hitCounter,
		MissCounter:      missCounter,
		EvictionCounter:  evictionCounter,
		FlushCounter:     flushCounter,
		DiskReadCounter:  diskReadCounter,
		DiskWriteCounter: diskWriteCounter,
		PinnedFrames:     pinnedFrames,
		attrs:            metric.WithAttributes(attribute.String("policy", policy)),
	}, nil
}

func (m *BufferPoolMetrics) Hit()       { m.HitCounter.Add(context.Background(), 1, m.attrs) }
func (m *BufferPoolMetrics) Miss()      { m.MissCounter.Add(context.Background(), 1, m.attrs) }
func (m *BufferPoolMetrics) Evict()     { m.EvictionCounter.Add(context.Background(), 1, m.attrs) }
func (m *BufferPoolMetrics) Flush()     { m.FlushCounter.Add(context.Background(), 1, m.attrs) }
func (m *BufferPoolMetrics) DiskRead()  { m.DiskReadCounter.Add(context.Background(), 1, m.attrs) }
func (m *BufferPoolMetrics) DiskWrite() { m.DiskWriteCounter.Add(context.Background(), 1, m.attrs) }

func (m *BufferPoolMetrics) PinnedDelta(delta int64) {
	m.PinnedFrames.Add(context.Background(), delta, m.attrs)
}
