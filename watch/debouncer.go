// Package watch keeps a compiled artifact fresh: it watches source roots,
// filters events and collapses bursts of changes into single rebuilds.
package watch

import (
	"sync"
	"time"
)

// DefaultQuiet is the default quiet period.
const DefaultQuiet = 100 * time.Millisecond

// Debouncer collapses bursts of Notify calls into a single onFire call
// after the burst has been quiet for the configured period.
//
// All timer state lives on one loop goroutine; Notify only signals it.
// onFire also runs on the loop, so fires never overlap. Notifications that
// arrive while onFire runs start a new quiet period once it returns.
type Debouncer struct {
	quiet  time.Duration
	onFire func()

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewDebouncer creates and starts a debouncer.
func NewDebouncer(quiet time.Duration, onFire func()) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	d := &Debouncer{
		quiet:  quiet,
		onFire: onFire,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify (re)starts the quiet period. It never blocks.
func (d *Debouncer) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
		// A notification is already queued; the loop will restart the
		// timer when it takes it, which is no earlier than now.
	}
}

// Stop cancels any pending fire and stops the loop. A fire that is already
// running is allowed to finish; wait on Done for it. Stop is idempotent.
func (d *Debouncer) Stop() {
	d.once.Do(func() {
		close(d.stop)
	})
}

// Done is closed when the loop has exited.
func (d *Debouncer) Done() <-chan struct{} {
	return d.done
}

func (d *Debouncer) run() {
	defer close(d.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-d.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-d.notify:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d.quiet)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			select {
			case <-d.stop:
				return
			default:
			}
			if d.onFire != nil {
				d.onFire()
			}
		}
	}
}
