package xsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/paramsync/types/xsync"
)

func TestSyncMap(t *testing.T) {
	var m xsync.SyncMap[int, string]
	_, ok := m.Load(1)
	require.False(t, ok)

	m.Store(1, "one")
	v, ok := m.Load(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	actual, loaded := m.LoadOrStore(1, "uno")
	assert.True(t, loaded)
	assert.Equal(t, "one", actual)

	actual, loaded = m.LoadOrStore(2, "two")
	assert.False(t, loaded)
	assert.Equal(t, "two", actual)

	seen := map[int]string{}
	m.Range(func(k int, v string) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[int]string{1: "one", 2: "two"}, seen)
}
