package cpu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/paramsync/backends"
	"github.com/gomlx/paramsync/backends/cpu"
)

func TestRegistered(t *testing.T) {
	rt := backends.NewWithConfig("cpu")
	assert.Equal(t, "cpu", rt.Name())
}

func TestCopyRoundTrip(t *testing.T) {
	rt := cpu.New()
	require.NoError(t, rt.SetDevice(0))

	host, err := rt.AllocHost(16, false)
	require.NoError(t, err)
	copy(host.Bytes(), []byte("0123456789abcdef"))

	dev, err := rt.AllocDevice(0, 16)
	require.NoError(t, err)

	stream, err := rt.NewStream(0)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.CopyHostToDevice(dev, host))
	require.NoError(t, stream.Wait())

	back, err := rt.AllocHost(16, false)
	require.NoError(t, err)
	require.NoError(t, stream.CopyDeviceToHost(back, dev))
	assert.Equal(t, host.Bytes(), back.Bytes())
}

func TestCopySizeMismatch(t *testing.T) {
	rt := cpu.New()
	host, _ := rt.AllocHost(8, false)
	dev, _ := rt.AllocDevice(0, 16)
	stream, _ := rt.NewStream(0)
	defer stream.Close()
	assert.Error(t, stream.CopyHostToDevice(dev, host))
}

func TestClosedStreamErrors(t *testing.T) {
	rt := cpu.New()
	stream, err := rt.NewStream(0)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Error(t, stream.Wait())
}

func TestNumDevicesGrowsLazily(t *testing.T) {
	rt := cpu.New()
	assert.Equal(t, 0, rt.NumDevices())
	_, err := rt.AllocDevice(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, rt.NumDevices())
}
