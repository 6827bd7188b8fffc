package nearby

import (
	"context"
	"sync"
	"time"
)

// Work is a unit of debounced work. ctx is cancelled when the unit is
// superseded or cancelled. Results are published only through deliver: it
// runs publish if, and only if, the unit is still current, at most once, and
// reports whether it did.
type Work func(ctx context.Context, deliver func(publish func()) bool)

// unit is one scheduled invocation of Work.
type unit struct {
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Debouncer delays work by a fixed interval and keeps at most one unit
// outstanding: scheduling a new unit cancels the previous one, whether it is
// still waiting out the delay, running, or publishing its result.
//
// Publishing is serialised with Schedule and Cancel. A Schedule or Cancel
// that arrives while a unit is publishing waits for it to finish, so
// publish must not call back into the Debouncer.
type Debouncer struct {
	delay    time.Duration
	afterRun func() // test hook, called when a unit's goroutine exits

	deliverMu sync.Mutex // held while publishing, and by Schedule and Cancel

	mu      sync.Mutex
	current *unit
}

// NewDebouncer returns a Debouncer with the given delay. A zero delay starts
// work immediately on a new goroutine.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Schedule cancels any outstanding unit and runs work after the delay.
// The unit's context derives from parent.
func (d *Debouncer) Schedule(parent context.Context, work Work) {
	ctx, cancel := context.WithCancel(parent)
	u := &unit{ctx: ctx, cancel: cancel}

	d.deliverMu.Lock()
	d.mu.Lock()
	if d.current != nil {
		d.current.cancel()
	}
	d.current = u
	d.mu.Unlock()
	d.deliverMu.Unlock()

	go d.run(u, work)
}

// Cancel cancels the outstanding unit and reports whether there was one.
// A unit cancelled during its delay never starts; a running unit sees its
// context cancelled and its deliver refused. A unit already publishing
// finishes first.
func (d *Debouncer) Cancel() bool {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return false
	}
	d.current.cancel()
	d.current = nil
	return true
}

// Pending reports whether a unit is waiting, running or publishing.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

// state maps the outstanding unit onto the manager's state machine. A unit
// stays Fetching until its publish returns.
func (d *Debouncer) state() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.current == nil:
		return StateIdle
	case d.current.started:
		return StateFetching
	default:
		return StateDebouncing
	}
}

func (d *Debouncer) run(u *unit, work Work) {
	if d.afterRun != nil {
		defer d.afterRun()
	}
	defer u.cancel()
	defer d.retire(u)

	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		select {
		case <-u.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if !d.start(u) {
		return
	}
	work(u.ctx, func(publish func()) bool { return d.deliver(u, publish) })
}

// start marks u as running if it is still current.
func (d *Debouncer) start(u *unit) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isCurrent(u) {
		return false
	}
	u.started = true
	return true
}

// deliver runs publish while u is current and no Schedule or Cancel can
// interleave, then retires u.
func (d *Debouncer) deliver(u *unit, publish func()) bool {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	ok := d.isCurrent(u)
	d.mu.Unlock()
	if !ok {
		return false
	}

	defer d.retire(u)
	publish()
	return true
}

// isCurrent requires d.mu.
func (d *Debouncer) isCurrent(u *unit) bool {
	return d.current == u && u.ctx.Err() == nil
}

// retire clears u if it is still the outstanding unit.
func (d *Debouncer) retire(u *unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == u {
		d.current = nil
	}
}
