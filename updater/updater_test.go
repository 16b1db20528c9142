package updater_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/paramsync/updater"
)

func TestInitModelAndUpdate(t *testing.T) {
	u := updater.NewDefault()
	u.SetParam("lr", "0.1")

	require.NoError(t, u.InitModel(1, []float64{1, 2, 3}))

	grad := []float64{1, 1, 1}
	require.NoError(t, u.Update(1, grad))
	assert.Equal(t, []float64{0.9, 1.9, 2.9}, grad)

	// grad now holds the new weight, so the second step subtracts
	// 0.1 * weight: 0.9-0.09, 1.9-0.19, 2.9-0.29.
	require.NoError(t, u.Update(1, grad))
	assert.InDeltaSlice(t, []float64{0.81, 1.71, 2.61}, grad, 1e-9)
}

func TestUpdateUnknownKeyErrors(t *testing.T) {
	u := updater.NewDefault()
	assert.Error(t, u.Update(99, []float64{1}))
}

func TestInitModelTwiceErrors(t *testing.T) {
	u := updater.NewDefault()
	require.NoError(t, u.InitModel(1, []float64{1}))
	assert.Error(t, u.InitModel(1, []float64{2}))
}

func TestUpdateLengthMismatchErrors(t *testing.T) {
	u := updater.NewDefault()
	require.NoError(t, u.InitModel(1, []float64{1, 2}))
	assert.Error(t, u.Update(1, []float64{1}))
}

func TestSetParamIgnoresUnknown(t *testing.T) {
	u := updater.NewDefault()
	u.SetParam("unknown", "value") // must not panic
}

func TestSetParamIgnoresInvalidLR(t *testing.T) {
	u := updater.NewDefault()
	u.SetParam("lr", "not-a-number") // must not panic, lr stays at default
	require.NoError(t, u.InitModel(1, []float64{10}))
	grad := []float64{1}
	require.NoError(t, u.Update(1, grad))
	assert.InDelta(t, 9.99, grad[0], 1e-9)
}
