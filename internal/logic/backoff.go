package logic

import "time"

// Reconnect poll periods.
const (
	DefaultPollPeriod  = 20 * time.Second
	MinReconnectPeriod = 10 * time.Second
	MaxReconnectPeriod = 10 * time.Minute
)

// Backoff is the connectivity poll period. It grows on failed connection
// attempts and snaps back to the default on success. The first failure after
// a success drops to the minimum, so a lost link is retried quickly before
// the period starts doubling.
type Backoff struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
	period  time.Duration
	failing bool
}

// NewBackoff returns a Backoff using the standard periods.
func NewBackoff() *Backoff {
	return &Backoff{
		Default: DefaultPollPeriod,
		Min:     MinReconnectPeriod,
		Max:     MaxReconnectPeriod,
		period:  DefaultPollPeriod,
	}
}

// Period returns the current poll period.
func (b *Backoff) Period() time.Duration {
	if b.period == 0 {
		return b.Default
	}
	return b.period
}

// Failure records a failed attempt and returns the new period.
func (b *Backoff) Failure() time.Duration {
	// Track the failing streak explicitly: doubling from Min can land on
	// Default again, which must not restart the sequence.
	p := b.Period()
	if !b.failing {
		p = b.Min
		b.failing = true
	} else {
		p *= 2
	}
	if p > b.Max {
		p = b.Max
	}
	if p < b.Min {
		p = b.Min
	}
	b.period = p
	return p
}

// Reset records a success and returns the default period.
func (b *Backoff) Reset() time.Duration {
	b.period = b.Default
	b.failing = false
	return b.period
}
