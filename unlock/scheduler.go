/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package unlock

import (
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/jonboulle/clockwork"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

type pendingTrigger struct {
	kind TriggerKind
	due  time.Time
	seq  uint64
}

// PendingTrigger describes a trigger waiting to fire.
type PendingTrigger struct {
	Kind TriggerKind
	Due  time.Time
}

func byDueThenSeq(a, b interface{}) int {
	p1 := a.(*pendingTrigger)
	p2 := b.(*pendingTrigger)
	if p1.due.Before(p2.due) {
		return -1
	}
	if p1.due.After(p2.due) {
		return 1
	}
	return utils.UInt64Comparator(p1.seq, p2.seq)
}

// scheduler is a one-shot timer table keyed by trigger kind. Deadlines are logical: nothing
// fires until FireDue is called, which the engine loop does before handling every event.
// All methods must be called from the engine loop.
type scheduler struct {
	clock    clockwork.Clock
	metrics  Metrics
	handlers map[TriggerKind]func()
	pending  *treemap.Map // TriggerKind -> *pendingTrigger
	seq      uint64
}

func newScheduler(clock clockwork.Clock, metrics Metrics) *scheduler {
	return &scheduler{
		clock:    clock,
		metrics:  metrics,
		handlers: map[TriggerKind]func(){},
		pending: treemap.NewWith(func(a, b interface{}) int {
			return utils.IntComparator(int(a.(TriggerKind)), int(b.(TriggerKind)))
		}),
	}
}

// Register installs the handler for kind. Registering a kind twice is a programming error.
func (self *scheduler) Register(kind TriggerKind, handler func()) {
	self.mustBeInitialized()
	if !kind.valid() {
		panic(errors.Errorf("cannot register handler for unknown trigger kind %v", kind))
	}
	if handler == nil {
		panic(errors.Errorf("nil handler for trigger kind %v", kind))
	}
	if _, exists := self.handlers[kind]; exists {
		panic(errors.Errorf("handler for trigger kind %v already registered", kind))
	}
	self.handlers[kind] = handler
}

func (self *scheduler) mustBeInitialized() {
	if self == nil || self.handlers == nil || self.pending == nil {
		panic(errors.New("trigger scheduler used before initialization"))
	}
}

func (self *scheduler) mustBeSchedulable(kind TriggerKind) {
	self.mustBeInitialized()
	if _, ok := self.handlers[kind]; !ok {
		panic(errors.Errorf("cannot schedule trigger kind %v, no handler registered", kind))
	}
}

// ScheduleAfter arms kind to fire after delay, replacing any trigger of the same kind.
func (self *scheduler) ScheduleAfter(kind TriggerKind, delay time.Duration) {
	self.mustBeSchedulable(kind)
	if delay < 0 {
		delay = 0
	}

	self.Cancel(kind)
	self.seq++
	trigger := &pendingTrigger{
		kind: kind,
		due:  self.clock.Now().Add(delay),
		seq:  self.seq,
	}
	self.pending.Put(kind, trigger)
	self.metrics.TriggerScheduled(kind)

	pfxlog.Logger().WithField("trigger", kind.String()).Debugf("trigger scheduled in %v", delay)
}

// FireNow makes kind due immediately. It still counts as pending until the loop runs it,
// so a Cancel issued before then prevents it.
func (self *scheduler) FireNow(kind TriggerKind) {
	self.ScheduleAfter(kind, 0)
}

// Cancel removes the pending trigger of kind. It reports whether one was pending.
func (self *scheduler) Cancel(kind TriggerKind) bool {
	self.mustBeInitialized()
	if _, found := self.pending.Get(kind); !found {
		return false
	}
	self.pending.Remove(kind)
	self.metrics.TriggerCancelled(kind)
	pfxlog.Logger().WithField("trigger", kind.String()).Debug("pending trigger cancelled")
	return true
}

func (self *scheduler) CancelAll() {
	for _, kind := range triggerKinds {
		self.Cancel(kind)
	}
}

func (self *scheduler) HasPending(kind TriggerKind) bool {
	self.mustBeInitialized()
	_, found := self.pending.Get(kind)
	return found
}

// NextDeadline returns the earliest pending deadline.
func (self *scheduler) NextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, v := range self.pending.Values() {
		trigger := v.(*pendingTrigger)
		if !found || trigger.due.Before(next) {
			next = trigger.due
			found = true
		}
	}
	return next, found
}

// FireDue runs every trigger whose deadline is at or before now, earliest first, and returns
// how many handlers ran. A trigger is removed before its handler runs, so the handler may
// schedule its own kind again; that new trigger is not run in the same pass.
func (self *scheduler) FireDue(now time.Time) int {
	self.mustBeInitialized()

	var due []interface{}
	for _, v := range self.pending.Values() {
		if !v.(*pendingTrigger).due.After(now) {
			due = append(due, v)
		}
	}
	utils.Sort(due, byDueThenSeq)

	fired := 0
	for _, v := range due {
		trigger := v.(*pendingTrigger)
		// an earlier handler in this pass may have cancelled or replaced it
		current, found := self.pending.Get(trigger.kind)
		if !found || current.(*pendingTrigger) != trigger {
			continue
		}
		self.pending.Remove(trigger.kind)
		fired++
		pfxlog.Logger().WithField("trigger", trigger.kind.String()).Debug("trigger fired")
		self.handlers[trigger.kind]()
	}
	return fired
}

// Pending lists pending triggers in kind order.
func (self *scheduler) Pending() []PendingTrigger {
	var result []PendingTrigger
	self.pending.Each(func(_ interface{}, v interface{}) {
		trigger := v.(*pendingTrigger)
		result = append(result, PendingTrigger{Kind: trigger.kind, Due: trigger.due})
	})
	return result
}
