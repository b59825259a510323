package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func fired(t Timer) bool {
	select {
	case <-t.C():
		return true
	default:
		return false
	}
}

func TestFake_TimerFiresAtDeadline(t *testing.T) {
	f := NewFake(epoch)
	timer := f.NewTimer(100 * time.Millisecond)
	assert.Equal(t, 1, f.Waiters())

	f.Advance(99 * time.Millisecond)
	assert.False(t, fired(timer))

	f.Advance(time.Millisecond)
	assert.True(t, fired(timer))
	assert.Equal(t, 0, f.Waiters())
}

func TestFake_NonPositiveDurationFiresImmediately(t *testing.T) {
	f := NewFake(epoch)
	assert.True(t, fired(f.NewTimer(0)))
	assert.True(t, fired(f.NewTimer(-time.Second)))
	assert.Equal(t, 0, f.Waiters())
}

func TestFake_Stop(t *testing.T) {
	f := NewFake(epoch)
	timer := f.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	f.Advance(time.Hour)
	assert.False(t, fired(timer))
}

func TestFake_SetBackwardsFiresNothing(t *testing.T) {
	f := NewFake(epoch)
	timer := f.NewTimer(time.Minute)

	f.Set(epoch.Add(-time.Hour))
	assert.False(t, fired(timer))
	assert.Equal(t, epoch.Add(-time.Hour), f.Now())
}

func TestReal_NowHasNoMonotonicReading(t *testing.T) {
	now := Real().Now()
	// Round(0) is the identity on a time without a monotonic reading.
	assert.Equal(t, now, now.Round(0))
	assert.Equal(t, now.String(), now.Round(0).String())
}

func TestReal_Timer(t *testing.T) {
	timer := Real().NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		require.Fail(t, "timer did not fire")
	}
}
