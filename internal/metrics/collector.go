// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Stream metrics (only for response cycles)
	TotalChunks int64
	TotalBytes  int64
	MinChunks   int64
	MaxChunks   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Stream stats (nil if not applicable)
	TotalChunks *int64
	TotalBytes  *int64
	AvgChunks   *float64
	MinChunks   *int64
	MaxChunks   *int64
}

// Snapshot represents the full client statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Dial          *OperationSnapshot
	ResponseCycle *OperationSnapshot
	StoreLocal    *OperationSnapshot
	StoreRemote   *OperationSnapshot
	RelayGenerate *OperationSnapshot

	FramesIn      int64
	FramesOut     int64
	Reconnects    int64
	DroppedCycles int64
}

// Operation names for the collector.
const (
	OpDial          = "dial"
	OpResponseCycle = "response_cycle"
	OpStoreLocal    = "store_local"
	OpStoreRemote   = "store_remote"
	OpRelayGenerate = "relay_generate"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and no-ops on a nil Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	framesIn      int64
	framesOut     int64
	reconnects    int64
	droppedCycles int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:   time.Duration(math.MaxInt64),
			MinChunks: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// recordTimingLocked updates count and duration bounds. Caller must hold write lock.
func recordTimingLocked(m *OperationMetrics, duration time.Duration) {
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	recordTimingLocked(c.getOrCreate(op), duration)
}

// RecordStream records timing plus chunk and byte counts for a streamed response.
func (c *Collector) RecordStream(op string, duration time.Duration, chunks, bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	recordTimingLocked(m, duration)

	m.TotalChunks += chunks
	m.TotalBytes += bytes

	if chunks < m.MinChunks {
		m.MinChunks = chunks
	}
	if chunks > m.MaxChunks {
		m.MaxChunks = chunks
	}
}

// IncFramesIn counts one inbound frame.
func (c *Collector) IncFramesIn() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesIn++
	c.mu.Unlock()
}

// IncFramesOut counts one outbound frame.
func (c *Collector) IncFramesOut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesOut++
	c.mu.Unlock()
}

// IncReconnects counts one scheduled reconnection.
func (c *Collector) IncReconnects() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

// IncDroppedCycles counts one response cycle discarded by an error or a drop.
func (c *Collector) IncDroppedCycles() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.droppedCycles++
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeChunks bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeChunks && m.TotalChunks > 0 {
		total := m.TotalChunks
		bytes := m.TotalBytes
		avg := float64(m.TotalChunks) / float64(m.Count)
		minChunks := m.MinChunks
		maxChunks := m.MaxChunks

		// Reset sentinel value for display
		if minChunks == math.MaxInt64 {
			minChunks = 0
		}

		snap.TotalChunks = &total
		snap.TotalBytes = &bytes
		snap.AvgChunks = &avg
		snap.MinChunks = &minChunks
		snap.MaxChunks = &maxChunks
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Dial:          snapshotOp(c.ops[OpDial], false),
		ResponseCycle: snapshotOp(c.ops[OpResponseCycle], true),
		StoreLocal:    snapshotOp(c.ops[OpStoreLocal], false),
		StoreRemote:   snapshotOp(c.ops[OpStoreRemote], false),
		RelayGenerate: snapshotOp(c.ops[OpRelayGenerate], true),
		FramesIn:      c.framesIn,
		FramesOut:     c.framesOut,
		Reconnects:    c.reconnects,
		DroppedCycles: c.droppedCycles,
	}
}
