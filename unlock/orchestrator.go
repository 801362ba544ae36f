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
	"runtime/debug"
	"time"

	"github.com/kataras/go-events"
	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"
)

// orchestrator turns lifecycle transitions into armed triggers and fired triggers into unlock
// actions. It is owned by the engine loop.
type orchestrator struct {
	options   *Options
	source    config.Source
	tracker   *Tracker
	scheduler *scheduler
	evaluator *Evaluator
	actions   ActionSink
	metrics   Metrics
	emit      func(event events.EventName, args ...interface{})

	// sessionOpen is set by the first sleep signal. Until then wakes never arm a trigger.
	sessionOpen bool
	// settings is the per wake cycle cache, nil while asleep or when loading failed.
	settings *config.Settings

	smartListener *smartUnlockListener
}

func newOrchestrator(options *Options, source config.Source, tracker *Tracker, scheduler *scheduler,
	evaluator *Evaluator, actions ActionSink, metrics Metrics, emit func(events.EventName, ...interface{})) *orchestrator {

	result := &orchestrator{
		options:   options,
		source:    source,
		tracker:   tracker,
		scheduler: scheduler,
		evaluator: evaluator,
		actions:   actions,
		metrics:   metrics,
		emit:      emit,
	}
	result.smartListener = &smartUnlockListener{orchestrator: result}

	scheduler.Register(TriggerDirect, result.onDirectUnlock)
	scheduler.Register(TriggerSmart, result.onSmartUnlock)

	return result
}

func (self *orchestrator) FinishedGoingToSleep() {
	self.tracker.Unsubscribe(self.smartListener)
	self.scheduler.CancelAll()
	self.settings = nil

	if !self.sessionOpen {
		self.sessionOpen = true
		pfxlog.Logger().Debug("unlock session opened")
	}

	self.tracker.FinishedGoingToSleep()
}

func (self *orchestrator) StartedWakingUp(state LifecycleState) {
	log := pfxlog.Logger().WithField("secured", state.Secured).
		WithField("trustManaged", state.TrustManaged).
		WithField("insecure", state.Insecure)

	// a wake without an intervening sleep starts a new cycle, so nothing from the last one survives
	self.tracker.Unsubscribe(self.smartListener)
	self.scheduler.CancelAll()

	self.tracker.StartedWakingUp(state)

	settings, err := config.Load(self.source)
	if err != nil {
		log.WithError(err).Error("unable to load unlock settings, no automatic unlock this wake cycle")
	}
	self.settings = settings

	if !state.Secured || !self.sessionOpen {
		log.Debug("challenge not secured or no unlock session, nothing to arm")
		self.tracker.SetPhase(PhaseUnlocked)
		return
	}

	if !state.TrustManaged {
		self.tracker.SetPhase(PhaseWakingSecured)
		if settings != nil && settings.DirectUnlock != config.DirectUnlockOff {
			self.arm(TriggerDirect, self.options.DirectUnlockDelay)
		}
		return
	}

	self.tracker.SetPhase(PhaseWakingTrustManaged)
	if settings == nil || !settings.SmartUnlock {
		return
	}

	self.tracker.Subscribe(self.smartListener)
	if state.Insecure {
		// the trust agent may still re-secure the session shortly after wake, so wait
		log.Debug("session already insecure, scheduling smart unlock")
		self.arm(TriggerSmart, self.options.SmartUnlockDelay)
	}
}

func (self *orchestrator) StateChanged(state LifecycleState) {
	self.tracker.StateChanged(state)
}

func (self *orchestrator) arm(kind TriggerKind, delay time.Duration) {
	self.scheduler.Cancel(kind)
	self.scheduler.ScheduleAfter(kind, delay)
}

func (self *orchestrator) onDirectUnlock() {
	settings := self.settings
	permitted := settings != nil &&
		settings.DirectUnlock != config.DirectUnlockOff &&
		self.evaluator.Evaluate(settings.DirectUnlockPolicy)

	self.triggerFired(TriggerDirect, permitted)
	if !permitted {
		return
	}

	if settings.DirectUnlock == config.DirectUnlockSeeThrough {
		self.perform(ActionRevealChallenge)
	} else {
		self.perform(ActionHideContent)
	}
}

func (self *orchestrator) onSmartUnlock() {
	settings := self.settings
	permitted := settings != nil &&
		settings.SmartUnlock &&
		self.evaluator.Evaluate(settings.SmartUnlockPolicy)

	self.triggerFired(TriggerSmart, permitted)
	if permitted {
		self.perform(ActionDismissChallenge)
	}
}

func (self *orchestrator) triggerFired(kind TriggerKind, permitted bool) {
	self.metrics.TriggerFired(kind, permitted)
	if !permitted {
		pfxlog.Logger().WithField("trigger", kind.String()).Debug("trigger not permitted")
	}
	self.emit(EventTriggerFired, kind, permitted)
}

func (self *orchestrator) perform(action Action) {
	log := pfxlog.Logger().WithField("action", action.String())
	log.Info("performing unlock action")

	self.metrics.ActionPerformed(action)

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField(logrus.ErrorKey, r).WithField("backtrace", string(debug.Stack())).
					Error("panic performing unlock action")
			}
		}()

		switch action {
		case ActionHideContent:
			self.actions.HideContent()
		case ActionRevealChallenge:
			self.actions.RevealChallenge()
		case ActionDismissChallenge:
			self.actions.DismissChallenge()
		}
	}()

	self.emit(EventUnlockAction, action)
}

// Settings returns the settings cached for the current wake cycle.
func (self *orchestrator) Settings() *config.Settings {
	return self.settings
}

// smartUnlockListener follows trust state changes during a trust managed wake cycle.
type smartUnlockListener struct {
	orchestrator *orchestrator
}

func (self *smartUnlockListener) OnStateChanged(state LifecycleState) {
	scheduler := self.orchestrator.scheduler
	log := pfxlog.Logger().WithField("trustManaged", state.TrustManaged).WithField("insecure", state.Insecure)

	if state.TrustManaged && state.Insecure {
		// a queued trigger is left to run; otherwise act now, the wake delay has already passed
		if !scheduler.HasPending(TriggerSmart) {
			log.Debug("session became insecure, firing smart unlock")
			scheduler.FireNow(TriggerSmart)
		}
	} else if scheduler.Cancel(TriggerSmart) {
		log.Debug("session secured again, pending smart unlock cancelled")
	}

	if state.Showing {
		self.orchestrator.tracker.Unsubscribe(self)
	}
}
