package reduce_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomlx/paramsync/pkg/support/reduce"
	"github.com/gomlx/paramsync/pkg/support/workerspool"
)

func TestSumRowsSerial(t *testing.T) {
	rows := [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}
	reduce.SumRows(rows, nil, 1)
	assert.Equal(t, []float64{12, 15, 18}, rows[0])
}

func TestSumRowsParallel(t *testing.T) {
	width := 10000
	rows := make([][]float64, 4)
	for d := range rows {
		rows[d] = make([]float64, width)
		for i := range rows[d] {
			rows[d][i] = float64(d + 1)
		}
	}
	pool := workerspool.NewWithParallelism(4)
	reduce.SumRows(rows, pool, 4)
	for _, v := range rows[0] {
		assert.Equal(t, float64(1+2+3+4), v)
	}
}

func TestSumRowsSingleRow(t *testing.T) {
	rows := [][]float64{{1, 2, 3}}
	pool := workerspool.NewWithParallelism(4)
	reduce.SumRows(rows, pool, 4)
	assert.Equal(t, []float64{1, 2, 3}, rows[0])
}

func TestSumRowsPanicsOnWidthMismatch(t *testing.T) {
	rows := [][]float64{{1, 2}, {3, 4, 5}}
	assert.Panics(t, func() { reduce.SumRows(rows, nil, 1) })
}

func TestGather(t *testing.T) {
	rows := [][]float32{
		{1, 2},
		{3, 4},
		{5, 6},
	}
	got := reduce.Gather(rows)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, got)
}

func TestGatherEmpty(t *testing.T) {
	assert.Nil(t, reduce.Gather[float64](nil))
}
