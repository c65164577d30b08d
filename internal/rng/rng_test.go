package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicSequence(t *testing.T) {
	a := New(12345)
	b := New(12345)
	for i := 0; i < 1000; i++ {
		require.Equal(t, a.NextU32(), b.NextU32(), "draw %d diverged", i)
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New(1)
	b := New(2)
	same := 0
	for i := 0; i < 100; i++ {
		if a.NextU32() == b.NextU32() {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestAdvanceMatchesStepping(t *testing.T) {
	tests := []struct {
		name  string
		skip  uint64
	}{
		{"zero", 0},
		{"one", 1},
		{"small", 17},
		{"large", 100003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stepped := New(99)
			for i := uint64(0); i < tt.skip; i++ {
				stepped.NextU32()
			}

			jumped := New(99)
			jumped.Advance(tt.skip)

			require.Equal(t, stepped.Draws(), jumped.Draws())
			for i := 0; i < 10; i++ {
				require.Equal(t, stepped.NextU32(), jumped.NextU32())
			}
		})
	}
}

func TestAtResumesStream(t *testing.T) {
	full := New(777)
	for i := 0; i < 50; i++ {
		full.NextU32()
	}

	resumed := At(777, 50)
	require.Equal(t, uint64(50), resumed.Draws())
	for i := 0; i < 20; i++ {
		require.Equal(t, full.NextU32(), resumed.NextU32())
	}
}

func TestRangeBounds(t *testing.T) {
	r := New(42)
	for i := 0; i < 10000; i++ {
		v := r.Range(3, 9)
		require.GreaterOrEqual(t, v, 3)
		require.Less(t, v, 9)
	}
}

func TestRollBounds(t *testing.T) {
	r := New(42)
	for i := 0; i < 1000; i++ {
		v := r.Roll(2, 6)
		require.GreaterOrEqual(t, v, 2)
		require.LessOrEqual(t, v, 12)
	}
}

func TestRollConsumesOneDrawPerDie(t *testing.T) {
	r := New(1)
	r.Roll(3, 20)
	assert.Equal(t, uint64(3), r.Draws())
}

func TestChoice(t *testing.T) {
	r := New(5)
	opts := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[Choice(r, opts)] = true
	}
	assert.Len(t, seen, 3)
}
