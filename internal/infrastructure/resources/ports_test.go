package resources

import (
	"testing"

	"rillrec/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocator_EvenPortsWithinRange(t *testing.T) {
	pa, err := NewPortAllocator(40000, 40009)
	require.NoError(t, err)
	assert.Equal(t, 5, pa.Capacity())

	var got []int
	for i := 0; i < 5; i++ {
		port, err := pa.Acquire()
		require.NoError(t, err)
		got = append(got, port)
	}
	assert.Equal(t, []int{40000, 40002, 40004, 40006, 40008}, got)
}

func TestPortAllocator_CompanionMustFit(t *testing.T) {
	// 40008 would need 40009 which is outside the range.
	pa, err := NewPortAllocator(40000, 40008)
	require.NoError(t, err)
	assert.Equal(t, 4, pa.Capacity())
}

func TestPortAllocator_Exhaustion(t *testing.T) {
	pa, err := NewPortAllocator(50000, 50003)
	require.NoError(t, err)

	_, err = pa.Acquire()
	require.NoError(t, err)
	_, err = pa.Acquire()
	require.NoError(t, err)

	_, err = pa.Acquire()
	assert.ErrorIs(t, err, domain.ErrNoPortAvailable)
}

func TestPortAllocator_ReleasedPortIsReusable(t *testing.T) {
	pa, err := NewPortAllocator(50000, 50001)
	require.NoError(t, err)

	port, err := pa.Acquire()
	require.NoError(t, err)
	_, err = pa.Acquire()
	require.ErrorIs(t, err, domain.ErrNoPortAvailable)

	pa.Release(port)
	assert.Equal(t, 1, pa.Available())

	again, err := pa.Acquire()
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

func TestPortAllocator_FIFOReuse(t *testing.T) {
	pa, err := NewPortAllocator(50000, 50005)
	require.NoError(t, err)

	a, _ := pa.Acquire()
	b, _ := pa.Acquire()
	pa.Release(b)
	pa.Release(a)

	next, err := pa.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 50004, next)
	next, err = pa.Acquire()
	require.NoError(t, err)
	assert.Equal(t, b, next)
}

func TestNewPortAllocator_InvalidRange(t *testing.T) {
	cases := []struct {
		name     string
		min, max int
	}{
		{"zero min", 0, 100},
		{"inverted", 5000, 4000},
		{"above max port", 65000, 70000},
		{"odd min", 40001, 40009},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPortAllocator(tc.min, tc.max)
			assert.Error(t, err)
		})
	}
}
