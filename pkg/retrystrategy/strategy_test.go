package retrystrategy_test

import (
	"testing"
	"time"

	"github.com/evkernel/evkernel/pkg/retrystrategy"
	"github.com/stretchr/testify/require"
)

func TestFixed(t *testing.T) {
	f := retrystrategy.Fixed(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, f(1))
	require.Equal(t, 50*time.Millisecond, f(5))
}

func TestExponential(t *testing.T) {
	f := retrystrategy.Exponential(10*time.Millisecond, 0)
	require.Equal(t, 10*time.Millisecond, f(1))
	require.Equal(t, 20*time.Millisecond, f(2))
	require.Equal(t, 40*time.Millisecond, f(3))
}

func TestExponential_Capped(t *testing.T) {
	f := retrystrategy.Exponential(10*time.Millisecond, 25*time.Millisecond)
	require.Equal(t, 10*time.Millisecond, f(1))
	require.Equal(t, 20*time.Millisecond, f(2))
	require.Equal(t, 25*time.Millisecond, f(3))
	require.Equal(t, 25*time.Millisecond, f(4))
}

func TestLinear(t *testing.T) {
	f := retrystrategy.Linear(10*time.Millisecond, 5*time.Millisecond, 0)
	require.Equal(t, 10*time.Millisecond, f(1))
	require.Equal(t, 15*time.Millisecond, f(2))
	require.Equal(t, 20*time.Millisecond, f(3))
}

func TestLinear_Capped(t *testing.T) {
	f := retrystrategy.Linear(10*time.Millisecond, 5*time.Millisecond, 18*time.Millisecond)
	require.Equal(t, 18*time.Millisecond, f(3))
}

func TestJitter_AlwaysAtLeastBase(t *testing.T) {
	f := retrystrategy.Jitter(10*time.Millisecond, 0.5)
	for attempt := 1; attempt <= 4; attempt++ {
		d := f(attempt)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
	}
}
