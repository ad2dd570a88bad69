package chunkresource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireStagesOnlyOnce(t *testing.T) {
	backend := NewFakeBackend()
	mgr := NewManager(backend)

	require.NoError(t, mgr.Acquire("LSST", 5, []string{"Object"}, []int32{1, 2}))
	require.NoError(t, mgr.Acquire("LSST", 5, []string{"Object"}, []int32{2, 3}))

	assert.True(t, backend.IsStaged("LSST", 5, "Object", 1))
	assert.True(t, backend.IsStaged("LSST", 5, "Object", 2))
	assert.True(t, backend.IsStaged("LSST", 5, "Object", 3))
	assert.Equal(t, 2, mgr.RefCount("LSST", 5, "Object", 2))
	assert.Equal(t, 1, mgr.RefCount("LSST", 5, "Object", 3))
}

func TestReleaseUnstagesAtZero(t *testing.T) {
	backend := NewFakeBackend()
	mgr := NewManager(backend)

	require.NoError(t, mgr.Acquire("LSST", 5, []string{"Object"}, []int32{1}))
	require.NoError(t, mgr.Acquire("LSST", 5, []string{"Object"}, []int32{1}))
	assert.Equal(t, 2, mgr.RefCount("LSST", 5, "Object", 1))

	require.NoError(t, mgr.Release("LSST", 5, []string{"Object"}, []int32{1}))
	assert.True(t, backend.IsStaged("LSST", 5, "Object", 1))

	require.NoError(t, mgr.Release("LSST", 5, []string{"Object"}, []int32{1}))
	assert.False(t, backend.IsStaged("LSST", 5, "Object", 1))
}

func TestReleaseNegativeIsHardError(t *testing.T) {
	backend := NewFakeBackend()
	mgr := NewManager(backend)

	require.NoError(t, mgr.Acquire("LSST", 5, []string{"Object"}, []int32{1}))
	require.NoError(t, mgr.Release("LSST", 5, []string{"Object"}, []int32{1}))

	err := mgr.Release("LSST", 5, []string{"Object"}, []int32{1})
	require.Error(t, err)
}

func TestAcquireStageFailureIsResourceError(t *testing.T) {
	backend := NewFakeBackend()
	backend.FailNext()
	mgr := NewManager(backend)

	err := mgr.Acquire("LSST", 5, []string{"Object"}, []int32{1})
	require.Error(t, err)
}

func TestFlushSweepsZeroCountEntries(t *testing.T) {
	backend := NewFakeBackend()
	mgr := NewManager(backend)

	require.NoError(t, mgr.Acquire("LSST", 5, []string{"Object"}, []int32{1}))
	require.NoError(t, mgr.Release("LSST", 5, []string{"Object"}, []int32{1}))
	require.NoError(t, mgr.Flush("LSST"))

	assert.Equal(t, 0, mgr.RefCount("LSST", 5, "Object", 1))
}
