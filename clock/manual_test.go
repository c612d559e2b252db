package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualAfterFuncFiresOnceWhenDue(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	calls := 0
	clk.AfterFunc(10*time.Second, func() { calls++ })

	clk.Advance(9 * time.Second)
	assert.Equal(t, 0, calls)

	clk.Advance(time.Second)
	assert.Equal(t, 1, calls)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, start.Add(70*time.Second), clk.Now())
}

func TestManualEveryRepeatsAndSeesCallbackTime(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	var seen []time.Time
	clk.Every(time.Minute, func() { seen = append(seen, clk.Now()) })

	clk.Advance(3*time.Minute + 30*time.Second)

	require.Len(t, seen, 3)
	assert.Equal(t, start.Add(time.Minute), seen[0])
	assert.Equal(t, start.Add(3*time.Minute), seen[2])
}

func TestManualStopCancelsBeforeExecution(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	calls := 0
	timer := clk.Every(time.Second, func() { calls++ })

	clk.Advance(2 * time.Second)
	require.Equal(t, 2, calls)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clk.Advance(10 * time.Second)
	assert.Equal(t, 2, calls)
}

func TestManualCallbackCanStopOtherTimers(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))

	calls := 0
	var second Timer
	clk.AfterFunc(time.Second, func() { second.Stop() })
	second = clk.AfterFunc(2*time.Second, func() { calls++ })

	clk.Advance(5 * time.Second)
	assert.Equal(t, 0, calls)
}

func TestRealClockEveryStops(t *testing.T) {
	clk := Real()
	ticks := make(chan struct{}, 16)

	timer := clk.Every(5*time.Millisecond, func() { ticks <- struct{}{} })

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
}
