package common

import (
	"fmt"
	"runtime"
)

// MemoryStats is the subset of runtime memory statistics reported in run
// summaries and on the server health endpoint.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	HeapInuse  uint64 `json:"heap_inuse_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// GetMemoryStats reads the current runtime statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		HeapInuse:  m.HeapInuse,
		NumGC:      m.NumGC,
	}
}

// AllocatedSince returns the bytes allocated between before and m.
func (m MemoryStats) AllocatedSince(before MemoryStats) uint64 {
	if m.TotalAlloc < before.TotalAlloc {
		return 0
	}
	return m.TotalAlloc - before.TotalAlloc
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Sys/1024, m.NumGC)
}
