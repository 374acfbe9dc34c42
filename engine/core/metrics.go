package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// BuildMetrics collects counters about scheduled acceleration structure builds
// and a rolling average of graph submission times.
type BuildMetrics struct {
	mu sync.Mutex

	BlasBuilds         uint64
	TlasBuilds         uint64
	ScratchBytesLeased uint64
	Submissions        uint64

	avgCounter uint8
	samples    [AVG_COUNT]float64
	msAvg      float64
}

var onceMetrics sync.Once
var metricsState *BuildMetrics

// Metrics returns the process wide metrics instance.
func Metrics() *BuildMetrics {
	onceMetrics.Do(func() {
		metricsState = &BuildMetrics{}
	})
	return metricsState
}

func (m *BuildMetrics) AddBlasBuild() {
	m.mu.Lock()
	m.BlasBuilds++
	m.mu.Unlock()
}

func (m *BuildMetrics) AddTlasBuild() {
	m.mu.Lock()
	m.TlasBuilds++
	m.mu.Unlock()
}

func (m *BuildMetrics) AddScratchLease(size uint64) {
	m.mu.Lock()
	m.ScratchBytesLeased += size
	m.mu.Unlock()
}

// SubmissionTime records how long one graph submission took to record.
// The average is refreshed every AVG_COUNT samples.
func (m *BuildMetrics) SubmissionTime(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Submissions++
	m.samples[m.avgCounter] = float64(elapsed) / float64(time.Millisecond)
	if m.avgCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.samples[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.avgCounter++
	m.avgCounter %= AVG_COUNT
}

// AverageSubmissionMS returns the last computed rolling average in milliseconds.
func (m *BuildMetrics) AverageSubmissionMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

func (m *BuildMetrics) Snapshot() (blas, tlas, scratchBytes, submissions uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BlasBuilds, m.TlasBuilds, m.ScratchBytesLeased, m.Submissions
}
