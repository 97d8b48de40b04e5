package quote

import (
	"sync"
	"time"
)

// DefaultDebounce is the pause required before an edited amount drives a quote
const DefaultDebounce = 200 * time.Millisecond

// Debouncer delivers the last pushed value once no push has arrived for
// the configured delay.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

// NewDebouncer creates a trailing-edge debouncer calling fn
func NewDebouncer[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Push replaces the pending value and restarts the delay
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.seq == seq
		if current {
			d.timer = nil
		}
		d.mu.Unlock()

		// a timer that fired while being replaced must not deliver
		if current {
			d.fn(v)
		}
	})
}

// Stop drops any pending value
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}
