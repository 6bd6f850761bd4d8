package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"zero size", 0, 4096},
		{"negative size", -1, 4096},
		{"small size gets minimum", 1, 4096},
		{"exactly one step", 4096, 4096},
		{"just over one step", 4097, 8192},
		{"VGA frame", 640 * 480, 307200},
		{"odd frame", 641 * 481, 311296},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetFloat64(t *testing.T) {
	for _, n := range []int{0, 100, 4096, 640 * 480} {
		buf := GetFloat64(n)
		assert.Len(t, buf, n)
		assert.GreaterOrEqual(t, cap(buf), sizeClass(n))
		if n > 0 {
			buf[n-1] = 42
			assert.InDelta(t, 42.0, buf[n-1], 0)
		}
		PutFloat64(buf)
	}
}

func TestPutIgnoresForeignBuffers(t *testing.T) {
	assert.NotPanics(t, func() {
		PutFloat64(nil)
		PutFloat64(make([]float64, 10))
		PutBool(nil)
		PutBool(make([]bool, 5000))
	})
	// A 5000-element buffer lands in the 4096 class and still satisfies it.
	buf := GetBool(4096)
	assert.Len(t, buf, 4096)
}

func TestGetBoolIsZeroed(t *testing.T) {
	const size = 2000
	buf := GetBool(size)
	for i := range buf {
		buf[i] = true
	}
	PutBool(buf)

	for range 10 {
		again := GetBool(size)
		require.Len(t, again, size)
		assert.NotContains(t, again, true)
		PutBool(again)
	}
}

func TestConcurrentAccess(t *testing.T) {
	const (
		goroutines = 50
		iterations = 50
		size       = 320 * 240
	)
	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterations {
				buf := GetFloat64(size + g + i)
				for k := range buf {
					buf[k] = float64(k)
				}
				PutFloat64(buf)
			}
		}()
	}
	wg.Wait()
}
