package common

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer(t *testing.T) {
	timer := NewNamedTimer("detect")
	assert.Equal(t, "detect", timer.Name())
	assert.Zero(t, timer.Duration())

	time.Sleep(5 * time.Millisecond)

	d := timer.Stop()
	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
	assert.Equal(t, d, timer.Duration())
	assert.Contains(t, timer.String(), "detect: ")
}

func TestStagesKeepStartOrder(t *testing.T) {
	s := NewStages()
	stop := s.Start("load")
	stop()
	s.Start("detect")()
	s.Start("load")()

	assert.Equal(t, []string{"load", "detect"}, s.Names())
	assert.Len(t, s.Durations(), 2)
	assert.Contains(t, s.String(), "load=")
	assert.GreaterOrEqual(t, s.Total(), s.Durations()["detect"])
}

func TestStagesConcurrent(t *testing.T) {
	s := NewStages()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Start("detect")()
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"detect"}, s.Names())
}

func TestMemoryStats(t *testing.T) {
	before := GetMemoryStats()
	buf := make([]byte, 1<<20)
	buf[0] = 1
	after := GetMemoryStats()

	assert.Positive(t, after.Sys)
	assert.GreaterOrEqual(t, after.AllocatedSince(before), uint64(0))
	assert.Zero(t, before.AllocatedSince(after.withTotal(before.TotalAlloc+1)))
	assert.Contains(t, after.String(), "KB")
	_ = buf
}

func (m MemoryStats) withTotal(v uint64) MemoryStats {
	m.TotalAlloc = v
	return m
}
