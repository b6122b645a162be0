// Package strategy chooses the execution tier for a book based on its
// size. Selection is a pure function of the page count and configured
// thresholds so it can be tested exhaustively.
package strategy

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Tier is one of the four execution models.
type Tier string

const (
	TierSequential   Tier = "sequential"
	TierThreadPool   Tier = "threadpool"
	TierAsync        Tier = "async"
	TierMultiprocess Tier = "multiprocess"
)

// maxProcesses caps shard count regardless of core count.
const maxProcesses = 8

// Thresholds are the tier switch points, in pages.
type Thresholds struct {
	Thread       int // below this: sequential
	Async        int // below this: thread pool
	Multiprocess int // at or above this: multiprocess
}

// Shard is a contiguous page range assigned to one worker process.
type Shard struct {
	Index     int `json:"index"`
	FirstPage int `json:"first_page"`
	LastPage  int `json:"last_page"`
}

// Pages returns the number of pages in the shard.
func (s Shard) Pages() int { return s.LastPage - s.FirstPage + 1 }

// Plan is the selected execution model for a run.
type Plan struct {
	Tier        Tier
	WorkerCount int
	// Shards is populated for the multiprocess tier only.
	Shards []Shard
}

// Selector computes execution plans. The zero value is unusable; use
// NewSelector so processor counts are resolved once.
type Selector struct {
	thresholds    Thresholds
	workerCount   int
	minShardPages int
	cores         int
}

// NewSelector builds a selector. The physical core count comes from
// gopsutil, falling back to GOMAXPROCS when the probe fails (some
// containers report no topology).
func NewSelector(thresholds Thresholds, workerCount, minShardPages int) *Selector {
	cores, err := cpu.Counts(false)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}
	if cores > maxProcesses {
		cores = maxProcesses
	}
	if workerCount < 1 {
		workerCount = 4
	}
	if minShardPages < 1 {
		minShardPages = 100
	}
	return &Selector{
		thresholds:    thresholds,
		workerCount:   workerCount,
		minShardPages: minShardPages,
		cores:         cores,
	}
}

// Select returns the plan for a book of totalPages pages.
// forceSequential always wins, whatever the size.
func (s *Selector) Select(totalPages int, forceSequential bool) Plan {
	if forceSequential || totalPages < s.thresholds.Thread {
		return Plan{Tier: TierSequential, WorkerCount: 1}
	}
	if totalPages < s.thresholds.Async {
		return Plan{Tier: TierThreadPool, WorkerCount: s.workerCount}
	}
	if totalPages < s.thresholds.Multiprocess {
		return Plan{Tier: TierAsync, WorkerCount: s.workerCount}
	}
	return Plan{
		Tier:        TierMultiprocess,
		WorkerCount: s.workerCount,
		Shards:      PartitionPages(totalPages, s.cores, s.minShardPages),
	}
}

// PartitionPages splits [1, totalPages] into at most shardCount
// contiguous shards of at least minShardPages pages each, so small
// remainders are not over-partitioned. The final shard absorbs the
// remainder.
func PartitionPages(totalPages, shardCount, minShardPages int) []Shard {
	if shardCount < 1 {
		shardCount = 1
	}
	if minShardPages < 1 {
		minShardPages = 1
	}
	for shardCount > 1 && totalPages/shardCount < minShardPages {
		shardCount--
	}

	size := totalPages / shardCount
	shards := make([]Shard, 0, shardCount)
	first := 1
	for i := 0; i < shardCount; i++ {
		last := first + size - 1
		if i == shardCount-1 {
			last = totalPages
		}
		shards = append(shards, Shard{Index: i, FirstPage: first, LastPage: last})
		first = last + 1
	}
	return shards
}
