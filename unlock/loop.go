package unlock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// ErrClosed is returned when work is offered to an engine that has been closed.
var ErrClosed = errors.New("unlock engine closed")

var expired = func() <-chan time.Time {
	c := make(chan time.Time)
	close(c)
	return c
}()

// eventLoop is the single goroutine owning tracker, scheduler and orchestrator state.
// Every event, timer expiry and precheck completion is run by it, one at a time, in arrival order.
type eventLoop struct {
	clock       clockwork.Clock
	scheduler   *scheduler
	queue       chan func()
	closeNotify <-chan struct{}
	afterStep   func()

	timer clockwork.Timer
}

func newEventLoop(clock clockwork.Clock, scheduler *scheduler, queueSize int, closeNotify <-chan struct{}) *eventLoop {
	return &eventLoop{
		clock:       clock,
		scheduler:   scheduler,
		queue:       make(chan func(), queueSize),
		closeNotify: closeNotify,
		afterStep:   func() {},
	}
}

// post queues f for the loop. It blocks while the queue is full and returns false once closed.
func (self *eventLoop) post(f func()) bool {
	select {
	case <-self.closeNotify:
		return false
	default:
	}

	select {
	case self.queue <- f:
		return true
	case <-self.closeNotify:
		return false
	}
}

// sync waits until everything queued before the call, and every trigger due at the time
// the loop reaches it, has been processed.
func (self *eventLoop) sync(ctx context.Context) error {
	done := make(chan struct{})
	if !self.post(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-self.closeNotify:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (self *eventLoop) run() {
	defer func() {
		if self.timer != nil {
			self.timer.Stop()
		}
	}()

	for {
		timerC := self.nextExpiry()
		select {
		case f := <-self.queue:
			self.step(f)
		case <-timerC:
			self.step(nil)
		case <-self.closeNotify:
			return
		}
	}
}

func (self *eventLoop) nextExpiry() <-chan time.Time {
	deadline, ok := self.scheduler.NextDeadline()
	if !ok {
		if self.timer != nil {
			self.timer.Stop()
		}
		return nil
	}

	d := deadline.Sub(self.clock.Now())
	if d <= 0 {
		return expired
	}

	if self.timer == nil {
		self.timer = self.clock.NewTimer(d)
	} else {
		self.timer.Stop()
		self.timer.Reset(d)
	}
	// a stale tick from an earlier deadline only causes an empty step
	return self.timer.Chan()
}

// step fires due triggers, runs f, then fires anything f made due. Triggers due before an
// event was dequeued therefore always run before it, and a trigger cancelled by an event can
// never fire afterwards.
func (self *eventLoop) step(f func()) {
	self.scheduler.FireDue(self.clock.Now())
	if f != nil {
		f()
		self.scheduler.FireDue(self.clock.Now())
	}
	self.afterStep()
}

