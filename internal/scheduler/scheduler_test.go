package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return New(&Termination{})
}

func runOnceWithin(t *testing.T, s *Scheduler, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.RunOnce(ctx)
}

func TestTimerFires(t *testing.T) {
	s := newTestScheduler()
	calls := 0
	_, err := s.AddTimer("tick", 5*time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, runOnceWithin(t, s, time.Second))
	assert.Equal(t, 1, calls)
	assert.False(t, s.Termination().Requested())
}

func TestAddTimerRejectsBadArguments(t *testing.T) {
	s := newTestScheduler()
	_, err := s.AddTimer("zero", 0, func() error { return nil })
	assert.Error(t, err)
	_, err = s.AddTimer("nil", time.Second, nil)
	assert.Error(t, err)
}

func TestReadySourceRunsOncePerCycle(t *testing.T) {
	s := newTestScheduler()
	calls := 0
	h := s.AddReady("button", func() error {
		calls++
		return nil
	})

	s.Notify(h)
	s.Notify(h)
	s.Notify(h)

	require.NoError(t, runOnceWithin(t, s, time.Second))
	assert.Equal(t, 1, calls, "notifications coalesce within a cycle")
}

func TestNotifyFromAnotherGoroutineWakesLoop(t *testing.T) {
	s := newTestScheduler()
	fired := false
	h := s.AddReady("signal", func() error {
		fired = true
		return nil
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Notify(h)
	}()

	require.NoError(t, runOnceWithin(t, s, time.Second))
	assert.True(t, fired)
}

func TestAllReadySourcesDispatchedInOneCycle(t *testing.T) {
	s := newTestScheduler()
	var order []string
	a := s.AddReady("a", func() error { order = append(order, "a"); return nil })
	b := s.AddReady("b", func() error { order = append(order, "b"); return nil })
	_, err := s.AddTimer("t", time.Millisecond, func() error { order = append(order, "t"); return nil })
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.Notify(b)
	s.Notify(a)

	require.NoError(t, runOnceWithin(t, s, time.Second))
	assert.Equal(t, []string{"a", "b", "t"}, order)
}

func TestHandlerErrorIsFatal(t *testing.T) {
	s := newTestScheduler()
	cause := errors.New("gpio read failed")
	h := s.AddReady("buttons", func() error { return cause })
	s.Notify(h)

	err := runOnceWithin(t, s, time.Second)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "buttons", fatal.Source)
	assert.ErrorIs(t, err, cause)
	assert.True(t, s.Termination().Requested())
}

func TestFatalErrorStopsCycle(t *testing.T) {
	s := newTestScheduler()
	second := false
	a := s.AddReady("a", func() error { return errors.New("boom") })
	b := s.AddReady("b", func() error { second = true; return nil })
	s.Notify(a)
	s.Notify(b)

	require.Error(t, runOnceWithin(t, s, time.Second))
	assert.False(t, second)
}

func TestCancelledContextIsFatal(t *testing.T) {
	s := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, s.Termination().Requested())
}

func TestRemovedSourceIsNotDispatched(t *testing.T) {
	s := newTestScheduler()
	called := false
	var b Handle
	a := s.AddReady("a", func() error { s.Remove(b); return nil })
	b = s.AddReady("b", func() error { called = true; return nil })
	s.Notify(a)
	s.Notify(b)

	require.NoError(t, runOnceWithin(t, s, time.Second))
	assert.False(t, called)

	s.Remove(Handle(999))
}

func TestSetPeriod(t *testing.T) {
	s := newTestScheduler()
	h, err := s.AddTimer("cloud", time.Hour, func() error { return nil })
	require.NoError(t, err)

	ref := s.Timer(h)
	require.NoError(t, ref.SetPeriod(10*time.Second))
	assert.Equal(t, 10*time.Second, ref.Period())

	assert.Error(t, s.SetPeriod(h, 0))
	assert.Error(t, s.SetPeriod(Handle(42), time.Second))

	ready := s.AddReady("r", func() error { return nil })
	assert.Error(t, s.SetPeriod(ready, time.Second))
}

func TestSetPeriodFromHandlerRearmsTimer(t *testing.T) {
	s := newTestScheduler()
	var h Handle
	var err error
	h, err = s.AddTimer("cloud", 2*time.Millisecond, func() error {
		return s.SetPeriod(h, time.Hour)
	})
	require.NoError(t, err)

	require.NoError(t, runOnceWithin(t, s, time.Second))
	p, ok := s.Period(h)
	require.True(t, ok)
	assert.Equal(t, time.Hour, p)
	assert.True(t, s.sources[h].next.After(time.Now().Add(59*time.Minute)))
}

func TestMissedExpiriesCollapse(t *testing.T) {
	s := newTestScheduler()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	calls := 0
	h, err := s.AddTimer("poll", 10*time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)

	// the loop was blocked for 55ms: five expiries missed
	now = base.Add(65 * time.Millisecond)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, base.Add(70*time.Millisecond), s.sources[h].next, "phase is kept")
}

func TestTerminationFlag(t *testing.T) {
	var term Termination
	assert.False(t, term.Requested())
	term.Request()
	assert.True(t, term.Requested())
}
