package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpStoreLocal, 10*time.Millisecond)
	c.RecordTiming(OpStoreLocal, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.StoreLocal)
	assert.Equal(t, int64(2), snap.StoreLocal.Count)
	assert.Equal(t, int64(40), snap.StoreLocal.TotalTimeMs)
	assert.Equal(t, 20.0, snap.StoreLocal.AvgTimeMs)
	assert.Equal(t, int64(10), snap.StoreLocal.MinTimeMs)
	assert.Equal(t, int64(30), snap.StoreLocal.MaxTimeMs)
	assert.Nil(t, snap.StoreLocal.TotalChunks, "timing-only ops carry no chunk stats")
	assert.Nil(t, snap.StoreRemote, "unused ops are nil")
}

func TestRecordStream(t *testing.T) {
	c := NewCollector()
	c.RecordStream(OpResponseCycle, 100*time.Millisecond, 3, 9)
	c.RecordStream(OpResponseCycle, 300*time.Millisecond, 5, 20)

	snap := c.Snapshot()
	require.NotNil(t, snap.ResponseCycle)
	require.NotNil(t, snap.ResponseCycle.TotalChunks)
	assert.Equal(t, int64(8), *snap.ResponseCycle.TotalChunks)
	assert.Equal(t, int64(29), *snap.ResponseCycle.TotalBytes)
	assert.Equal(t, 4.0, *snap.ResponseCycle.AvgChunks)
	assert.Equal(t, int64(3), *snap.ResponseCycle.MinChunks)
	assert.Equal(t, int64(5), *snap.ResponseCycle.MaxChunks)
}

func TestCounters(t *testing.T) {
	c := NewCollector()
	c.IncFramesIn()
	c.IncFramesIn()
	c.IncFramesOut()
	c.IncReconnects()
	c.IncDroppedCycles()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.FramesIn)
	assert.Equal(t, int64(1), snap.FramesOut)
	assert.Equal(t, int64(1), snap.Reconnects)
	assert.Equal(t, int64(1), snap.DroppedCycles)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpDial, time.Second)
	c.RecordStream(OpResponseCycle, time.Second, 1, 1)
	c.IncFramesIn()
	c.IncReconnects()
	assert.Equal(t, Snapshot{}, c.Snapshot())
}
