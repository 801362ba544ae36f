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
	"github.com/michaelquigley/pfxlog"
)

// StateListener receives every lifecycle state change reported while it is subscribed.
// Implementations must be comparable, since unsubscribing matches by equality.
type StateListener interface {
	OnStateChanged(state LifecycleState)
}

// Tracker holds the lifecycle state and phase of the device. It is owned by the engine loop.
type Tracker struct {
	state     LifecycleState
	phase     Phase
	listeners []StateListener
	onPhase   func(from, to Phase)
}

func newTracker(onPhase func(from, to Phase)) *Tracker {
	if onPhase == nil {
		onPhase = func(Phase, Phase) {}
	}
	return &Tracker{
		phase:   PhaseUnlocked,
		onPhase: onPhase,
	}
}

func (self *Tracker) State() LifecycleState {
	return self.state
}

func (self *Tracker) Phase() Phase {
	return self.phase
}

func (self *Tracker) SetPhase(phase Phase) {
	if phase == self.phase {
		return
	}
	from := self.phase
	self.phase = phase
	pfxlog.Logger().WithField("from", from.String()).WithField("to", phase.String()).Debug("lifecycle phase changed")
	self.onPhase(from, phase)
}

func (self *Tracker) FinishedGoingToSleep() {
	self.state.Interactive = false
	self.SetPhase(PhaseAsleep)
}

// StartedWakingUp records the state observed at wake. The phase is chosen by the caller,
// which knows the configured unlock modes.
func (self *Tracker) StartedWakingUp(state LifecycleState) {
	state.Interactive = true
	self.state = state
}

// StateChanged records state and notifies subscribed listeners. Interactivity is only
// changed by sleep and wake signals.
func (self *Tracker) StateChanged(state LifecycleState) {
	state.Interactive = self.state.Interactive
	self.state = state

	// listeners may unsubscribe themselves while being notified
	listeners := append([]StateListener(nil), self.listeners...)
	for _, listener := range listeners {
		listener.OnStateChanged(state)
	}
}

// Subscribe adds listener. It returns false if the listener was already subscribed.
func (self *Tracker) Subscribe(listener StateListener) bool {
	if self.IsSubscribed(listener) {
		return false
	}
	self.listeners = append(self.listeners, listener)
	return true
}

// Unsubscribe removes listener. It returns false if the listener was not subscribed.
func (self *Tracker) Unsubscribe(listener StateListener) bool {
	for i, l := range self.listeners {
		if l == listener {
			self.listeners = append(self.listeners[:i], self.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (self *Tracker) IsSubscribed(listener StateListener) bool {
	for _, l := range self.listeners {
		if l == listener {
			return true
		}
	}
	return false
}
