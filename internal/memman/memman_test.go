package memman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealMemManGrantsWithinBudget(t *testing.T) {
	m := NewRealMemMan(1000)

	res, ok, err := m.Reserve(400, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(400), m.UsedMB())

	res.Release()
	assert.Equal(t, int64(0), m.UsedMB())
}

func TestRealMemManRequiredDenialIsError(t *testing.T) {
	m := NewRealMemMan(100)

	_, _, err := m.Reserve(50, true)
	require.NoError(t, err)

	_, _, err = m.Reserve(100, true)
	require.Error(t, err)
}

func TestRealMemManFlexibleDenialIsNotError(t *testing.T) {
	m := NewRealMemMan(100)

	_, _, err := m.Reserve(50, true)
	require.NoError(t, err)

	res, ok, err := m.Reserve(100, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, res)
}

func TestNoneMemManAlwaysGrants(t *testing.T) {
	m := NewNoneMemMan()
	res, ok, err := m.Reserve(1_000_000, true)
	require.NoError(t, err)
	require.True(t, ok)
	res.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewRealMemMan(1000)
	res, _, _ := m.Reserve(200, true)
	res.Release()
	res.Release()
	assert.Equal(t, int64(0), m.UsedMB())
}
