// Package mempool keeps size-classed pools of pixel buffers so that
// per-frame image conversions in live tracking do not allocate.
package mempool

import "sync"

const classStep = 4096

var (
	float64Pools sync.Map // key: size class (int), value: *sync.Pool
	boolPools    sync.Map
)

// sizeClass rounds n up to a multiple of classStep, with classStep as the
// smallest class.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor[T any](pools *sync.Map, cls int) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

func get[T any](pools *sync.Map, n int) []T {
	cls := sizeClass(n)
	buf, ok := poolFor[T](pools, cls).Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

func put[T any](pools *sync.Map, buf []T) {
	if cap(buf) < classStep {
		return
	}
	// A buffer only serves the class its capacity fully covers.
	cls := cap(buf) / classStep * classStep
	poolFor[T](pools, cls).Put(buf[:cap(buf)]) //nolint:staticcheck // slices are small headers
}

// GetFloat64 returns a buffer of length n. Its contents are undefined.
func GetFloat64(n int) []float64 { return get[float64](&float64Pools, n) }

// PutFloat64 returns a buffer obtained from GetFloat64. Nil is ignored.
func PutFloat64(buf []float64) { put(&float64Pools, buf) }

// GetBool returns a zeroed buffer of length n.
func GetBool(n int) []bool {
	buf := get[bool](&boolPools, n)
	clear(buf)
	return buf
}

// PutBool returns a buffer obtained from GetBool. Nil is ignored.
func PutBool(buf []bool) { put(&boolPools, buf) }
