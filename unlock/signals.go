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
	"sync"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

type SleepEvent struct {
	Time time.Time
}

type WakeEvent struct {
	Time  time.Time
	State LifecycleState
}

type StateChangeEvent struct {
	Time  time.Time
	State LifecycleState
}

// SignalSource delivers host lifecycle signals through callbacks. Each Listen* method
// returns a function to stop listening.
type SignalSource interface {
	ListenForSleep(func(SleepEvent)) (stop func(), err error)
	ListenForWake(func(WakeEvent)) (stop func(), err error)
	ListenForStateChange(func(StateChangeEvent)) (stop func(), err error)
}

var _ SignalSource = (*ManualSignalSource)(nil)

// ManualSignalSource is a SignalSource driven by explicit calls, used by simulations and by
// hosts that already receive lifecycle callbacks of their own.
type ManualSignalSource struct {
	lock          sync.Mutex
	onSleep       func(SleepEvent)
	onWake        func(WakeEvent)
	onStateChange func(StateChangeEvent)
}

func (self *ManualSignalSource) ListenForSleep(f func(SleepEvent)) (stop func(), err error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.onSleep = f
	return func() {
		self.lock.Lock()
		defer self.lock.Unlock()
		self.onSleep = nil
	}, nil
}

func (self *ManualSignalSource) ListenForWake(f func(WakeEvent)) (stop func(), err error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.onWake = f
	return func() {
		self.lock.Lock()
		defer self.lock.Unlock()
		self.onWake = nil
	}, nil
}

func (self *ManualSignalSource) ListenForStateChange(f func(StateChangeEvent)) (stop func(), err error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.onStateChange = f
	return func() {
		self.lock.Lock()
		defer self.lock.Unlock()
		self.onStateChange = nil
	}, nil
}

func (self *ManualSignalSource) Sleep() {
	self.lock.Lock()
	f := self.onSleep
	self.lock.Unlock()
	if f != nil {
		f(SleepEvent{Time: time.Now()})
	}
}

func (self *ManualSignalSource) Wake(state LifecycleState) {
	self.lock.Lock()
	f := self.onWake
	self.lock.Unlock()
	if f != nil {
		f(WakeEvent{Time: time.Now(), State: state})
	}
}

func (self *ManualSignalSource) Change(state LifecycleState) {
	self.lock.Lock()
	f := self.onStateChange
	self.lock.Unlock()
	if f != nil {
		f(StateChangeEvent{Time: time.Now(), State: state})
	}
}

// Attach routes signals from source into the engine. The returned function detaches it again.
func (self *Engine) Attach(source SignalSource) (detach func(), err error) {
	var stops []func()
	detach = func() {
		for _, stop := range stops {
			stop()
		}
	}

	stop, err := source.ListenForSleep(func(SleepEvent) {
		self.signalDelivered("sleep", self.FinishedGoingToSleep())
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to listen for sleep signals")
	}
	stops = append(stops, stop)

	stop, err = source.ListenForWake(func(event WakeEvent) {
		self.signalDelivered("wake", self.StartedWakingUp(event.State))
	})
	if err != nil {
		detach()
		return nil, errors.Wrap(err, "unable to listen for wake signals")
	}
	stops = append(stops, stop)

	stop, err = source.ListenForStateChange(func(event StateChangeEvent) {
		self.signalDelivered("stateChange", self.StateChanged(event.State))
	})
	if err != nil {
		detach()
		return nil, errors.Wrap(err, "unable to listen for state change signals")
	}
	stops = append(stops, stop)

	return detach, nil
}

func (self *Engine) signalDelivered(signal string, err error) {
	if err == nil {
		return
	}
	log := pfxlog.Logger().WithField("engineId", self.Id).WithField("signal", signal)
	if errors.Is(err, ErrClosed) {
		log.Debug("engine closed, dropping lifecycle signal")
		return
	}
	log.WithError(err).Error("unable to deliver lifecycle signal")
}
