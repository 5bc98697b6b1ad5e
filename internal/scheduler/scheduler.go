// Package scheduler is a single-threaded cooperative event loop. It
// multiplexes periodic timers and readiness sources, and dispatches their
// handlers one at a time on the goroutine calling RunOnce.
//
// Only Notify and Termination.Request may be called from other goroutines.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Handle identifies a registered source.
type Handle int

// Handler runs when its source is ready. A non-nil error is fatal: it stops
// the cycle and requests process termination.
type Handler func() error

// FatalError is returned by RunOnce when a handler failed.
type FatalError struct {
	Source string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("scheduler: %s: %v", e.Source, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Termination is the process-wide stop flag. It is safe to set from any
// goroutine, including a signal relay.
type Termination struct {
	flag atomic.Bool
}

// Request asks the driver loop to stop after the current cycle.
func (t *Termination) Request() { t.flag.Store(true) }

// Requested reports whether termination was requested.
func (t *Termination) Requested() bool { return t.flag.Load() }

type kind int

const (
	kindTimer kind = iota
	kindReady
)

type source struct {
	name    string
	kind    kind
	handler Handler
	period  time.Duration
	next    time.Time
}

// Scheduler owns the wait set. Create it with New.
type Scheduler struct {
	term *Termination
	now  func() time.Time

	sources map[Handle]*source
	nextID  Handle

	mu      sync.Mutex
	pending map[Handle]struct{}
	wake    chan struct{}
}

// New creates a Scheduler that reports fatal errors through term.
func New(term *Termination) *Scheduler {
	return &Scheduler{
		term:    term,
		now:     time.Now,
		sources: make(map[Handle]*source),
		pending: make(map[Handle]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Termination returns the flag shared with handlers.
func (s *Scheduler) Termination() *Termination {
	return s.term
}

// AddTimer registers a periodic timer. The first expiry is one period from now.
func (s *Scheduler) AddTimer(name string, period time.Duration, h Handler) (Handle, error) {
	if period <= 0 {
		return 0, fmt.Errorf("scheduler: timer %s: invalid period %v", name, period)
	}
	if h == nil {
		return 0, fmt.Errorf("scheduler: timer %s: nil handler", name)
	}
	id := s.add(&source{
		name:    name,
		kind:    kindTimer,
		handler: h,
		period:  period,
		next:    s.now().Add(period),
	})
	return id, nil
}

// AddReady registers a readiness source. Its handler runs in the first cycle
// after Notify; repeated notifications before that cycle coalesce.
func (s *Scheduler) AddReady(name string, h Handler) Handle {
	return s.add(&source{name: name, kind: kindReady, handler: h})
}

func (s *Scheduler) add(src *source) Handle {
	s.nextID++
	s.sources[s.nextID] = src
	return s.nextID
}

// Remove unregisters a source. Removing an unknown handle is a no-op.
func (s *Scheduler) Remove(h Handle) {
	delete(s.sources, h)
	s.mu.Lock()
	delete(s.pending, h)
	s.mu.Unlock()
}

// SetPeriod changes a timer's period and re-arms it to expire one new
// period from now.
func (s *Scheduler) SetPeriod(h Handle, period time.Duration) error {
	src, ok := s.sources[h]
	if !ok || src.kind != kindTimer {
		return fmt.Errorf("scheduler: no timer with handle %d", h)
	}
	if period <= 0 {
		return fmt.Errorf("scheduler: timer %s: invalid period %v", src.name, period)
	}
	src.period = period
	src.next = s.now().Add(period)
	return nil
}

// Period returns a timer's current period.
func (s *Scheduler) Period(h Handle) (time.Duration, bool) {
	src, ok := s.sources[h]
	if !ok || src.kind != kindTimer {
		return 0, false
	}
	return src.period, true
}

// Notify marks a readiness source as ready and wakes the loop.
// It is safe to call from any goroutine.
func (s *Scheduler) Notify(h Handle) {
	s.mu.Lock()
	s.pending[h] = struct{}{}
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunOnce waits until at least one source is ready, then dispatches every
// ready source exactly once. A handler error or a cancelled context is fatal.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for {
		ready := s.collect()
		if len(ready) > 0 {
			return s.dispatch(ready)
		}

		if err := s.wait(ctx); err != nil {
			s.term.Request()
			return &FatalError{Source: "wait", Err: err}
		}
	}
}

// wait blocks until the earliest timer expires, a source is notified, or
// ctx is done.
func (s *Scheduler) wait(ctx context.Context) error {
	var timeout <-chan time.Time
	if next, ok := s.nextDeadline(); ok {
		timer := time.NewTimer(next.Sub(s.now()))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wake:
	case <-timeout:
	}
	return nil
}

// collect returns the handles ready in this cycle: notified readiness sources
// first, then expired timers, each group in registration order.
func (s *Scheduler) collect() []Handle {
	s.mu.Lock()
	var ready []Handle
	for h := range s.pending {
		if _, ok := s.sources[h]; ok {
			ready = append(ready, h)
		}
	}
	s.pending = make(map[Handle]struct{})
	s.mu.Unlock()
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	now := s.now()
	var timers []Handle
	for h, src := range s.sources {
		if src.kind == kindTimer && !src.next.After(now) {
			timers = append(timers, h)
		}
	}
	sort.Slice(timers, func(i, j int) bool { return timers[i] < timers[j] })

	return append(ready, timers...)
}

func (s *Scheduler) nextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, src := range s.sources {
		if src.kind != kindTimer {
			continue
		}
		if !found || src.next.Before(next) {
			next = src.next
			found = true
		}
	}
	return next, found
}

func (s *Scheduler) dispatch(ready []Handle) error {
	for _, h := range ready {
		// an earlier handler in this cycle may have removed it
		src, ok := s.sources[h]
		if !ok {
			continue
		}
		if src.kind == kindTimer {
			s.advance(src)
		}
		if err := src.handler(); err != nil {
			s.term.Request()
			return &FatalError{Source: src.name, Err: err}
		}
	}
	return nil
}

// advance moves a fired timer to its next expiry, keeping its phase and
// collapsing expiries missed while the loop was busy into this one.
func (s *Scheduler) advance(src *source) {
	now := s.now()
	src.next = src.next.Add(src.period)
	if !src.next.After(now) {
		missed := now.Sub(src.next)/src.period + 1
		src.next = src.next.Add(missed * src.period)
	}
}

// TimerRef lets a component re-arm the timer that drives it.
type TimerRef struct {
	s *Scheduler
	h Handle
}

// Timer returns a TimerRef for h.
func (s *Scheduler) Timer(h Handle) TimerRef {
	return TimerRef{s: s, h: h}
}

// SetPeriod re-arms the timer with a new period.
func (t TimerRef) SetPeriod(period time.Duration) error {
	return t.s.SetPeriod(t.h, period)
}

// Period returns the timer's current period.
func (t TimerRef) Period() time.Duration {
	p, _ := t.s.Period(t.h)
	return p
}
