package builder

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Index breaker defaults.
const (
	DefaultIndexMaxFailures = 3
	DefaultIndexCooldown    = 30 * time.Second
)

// errIndexPaused is logged when index writes are skipped while the breaker is open.
var errIndexPaused = errors.New("index writes paused after repeated failures")

// newIndexBreaker trips after maxFailures consecutive index failures and
// skips index writes for cooldown before letting a single write probe again.
func newIndexBreaker(maxFailures uint32, cooldown time.Duration, onChange func(from, to string)) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = DefaultIndexMaxFailures
	}
	if cooldown <= 0 {
		cooldown = DefaultIndexCooldown
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feature-index",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(from.String(), to.String())
			}
		},
	})
}

// IndexState reports the index breaker state: "closed" while index writes
// flow, "open" while they are skipped, "half-open" while probing.
// It is "disabled" when the builder has no index.
func (b *Builder) IndexState() string {
	if b.breaker == nil {
		return "disabled"
	}
	return b.breaker.State().String()
}

// writeIndex runs fn through the breaker, mapping rejected calls to errIndexPaused.
func (b *Builder) writeIndex(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errIndexPaused
	}
	return err
}
