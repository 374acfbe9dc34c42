package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildMetricsAverage(t *testing.T) {
	m := &BuildMetrics{}
	for i := 0; i < int(AVG_COUNT)-1; i++ {
		m.SubmissionTime(2 * time.Millisecond)
	}
	// Not refreshed until a full window has been recorded.
	assert.Zero(t, m.AverageSubmissionMS())

	m.SubmissionTime(2 * time.Millisecond)
	assert.InDelta(t, 2.0, m.AverageSubmissionMS(), 1e-9)

	_, _, _, submissions := m.Snapshot()
	assert.EqualValues(t, AVG_COUNT, submissions)
}

func TestBuildMetricsCounters(t *testing.T) {
	m := &BuildMetrics{}
	m.AddBlasBuild()
	m.AddBlasBuild()
	m.AddTlasBuild()
	m.AddScratchLease(128)
	m.AddScratchLease(64)

	blas, tlas, scratch, _ := m.Snapshot()
	assert.EqualValues(t, 2, blas)
	assert.EqualValues(t, 1, tlas)
	assert.EqualValues(t, 192, scratch)
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	time.Sleep(time.Millisecond)
	c.Stop()
	stopped := c.Elapsed()
	assert.Positive(t, int64(stopped))

	c.Update()
	assert.Equal(t, stopped, c.Elapsed())
}
