package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleDetector_NewCycleDetector(t *testing.T) {
	cd := NewCycleDetector()
	require.NotNil(t, cd)
	assert.Equal(t, 0, cd.HistorySize())
}

func TestCycleDetector_WouldCycle_AfterRecord(t *testing.T) {
	cd := NewCycleDetector()

	assert.False(t, cd.WouldCycle("inv-1", "clamp", "digest-a"), "first occurrence should not be a cycle")
	cd.Record("inv-1", "clamp", "digest-a")
	assert.True(t, cd.WouldCycle("inv-1", "clamp", "digest-a"))
}

func TestCycleDetector_Isolation(t *testing.T) {
	cd := NewCycleDetector()
	cd.Record("inv-1", "clamp", "digest-a")

	assert.False(t, cd.WouldCycle("inv-2", "clamp", "digest-a"), "other invocation")
	assert.False(t, cd.WouldCycle("inv-1", "cascade", "digest-a"), "other reaction")
	assert.False(t, cd.WouldCycle("inv-1", "clamp", "digest-b"), "other fact")
}

func TestCycleDetector_Clear(t *testing.T) {
	cd := NewCycleDetector()
	cd.Record("inv-1", "clamp", "digest-a")
	cd.Record("inv-1", "clamp", "digest-b")
	cd.Record("inv-2", "clamp", "digest-a")

	assert.Equal(t, 2, cd.HistorySize())
	assert.Equal(t, 2, cd.InvocationHistorySize("inv-1"))

	cd.Clear("inv-1")
	assert.Equal(t, 1, cd.HistorySize())
	assert.Equal(t, 0, cd.InvocationHistorySize("inv-1"))
	assert.False(t, cd.WouldCycle("inv-1", "clamp", "digest-a"))
	assert.True(t, cd.WouldCycle("inv-2", "clamp", "digest-a"))
}

func TestQuotaEnforcer_Check(t *testing.T) {
	q := NewQuotaEnforcer(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("inv-1"))
	}
	err := q.Check("inv-1")
	require.Error(t, err)
	assert.True(t, IsStepsExceededError(err))

	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "inv-1", se.Invocation)
	assert.Equal(t, 4, se.Steps)
	assert.Equal(t, 3, se.Limit)
	assert.Contains(t, err.Error(), "STEPS_EXCEEDED")
	assert.Equal(t, 4, q.Current())
	assert.Equal(t, 3, q.MaxSteps())
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	c = NewClockAt(41)
	assert.Equal(t, int64(42), c.Next())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}
