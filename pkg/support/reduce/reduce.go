// Package reduce implements the numeric kernels the engine runs over a
// key's staged per-device contributions: sum reduction and gather
// concatenation. Sum reduction fans out across a workerspool.Pool sized
// by reduce_thread once the engine decides a tensor is large enough to
// cross bigarray_bound; the pool itself owns the concurrency bound.
package reduce

import (
	"sync"

	"golang.org/x/exp/constraints"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/paramsync/pkg/support/workerspool"
)

// SumRows adds every row in rows[1:] into rows[0], in place. rows[i] must
// all have equal length.
//
// If pool is nil or chunks <= 1, the sum runs serially on the calling
// goroutine in row-major order. Otherwise the flat width is split into
// chunks contiguous ranges, each summed by a task dispatched through pool
// -- pool.WaitToStart blocks the caller while the pool is full (twice its
// max parallelism in running tasks), giving the fan-out a concurrency
// ceiling. The chunk
// boundaries are a deterministic function of chunks alone, so results are
// reproducible at a fixed reduce_thread and shape.
func SumRows[T constraints.Float](rows [][]T, pool *workerspool.Pool, chunks int) {
	if len(rows) == 0 {
		return
	}
	width := len(rows[0])
	for _, row := range rows[1:] {
		if len(row) != width {
			exceptions.Panicf("reduce.SumRows: row width mismatch, want %d got %d", width, len(row))
		}
	}
	dst := rows[0]
	if pool == nil || chunks <= 1 {
		sumInto(dst, rows[1:])
		return
	}

	if chunks > width {
		chunks = width
	}
	chunkSize := (width + chunks - 1) / chunks
	var wg sync.WaitGroup
	for c := 0; c < chunks; c++ {
		start := c * chunkSize
		end := start + chunkSize
		if end > width {
			end = width
		}
		if start >= end {
			continue
		}
		subDst := dst[start:end]
		subRows := make([][]T, len(rows)-1)
		for i, row := range rows[1:] {
			subRows[i] = row[start:end]
		}
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			sumInto(subDst, subRows)
		})
	}
	wg.Wait()
}

func sumInto[T constraints.Float](dst []T, rows [][]T) {
	for _, row := range rows {
		for i, v := range row {
			dst[i] += v
		}
	}
}

// Gather concatenates rows into a single flat [len(rows)*width] slice,
// row-major, implementing the engine's gather push_op.
func Gather[T constraints.Float](rows [][]T) []T {
	if len(rows) == 0 {
		return nil
	}
	width := len(rows[0])
	out := make([]T, 0, len(rows)*width)
	for _, row := range rows {
		if len(row) != width {
			exceptions.Panicf("reduce.Gather: row width mismatch, want %d got %d", width, len(row))
		}
		out = append(out, row...)
	}
	return out
}
