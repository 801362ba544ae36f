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
	"context"
	"runtime/debug"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kataras/go-events"
	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/goroutines"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// precheck verifies a candidate credential on a worker as soon as it reaches the configured
// length, and completes the unlock back on the engine loop when it is accepted.
type precheck struct {
	ctx        context.Context
	clock      clockwork.Clock
	loop       *eventLoop
	pool       goroutines.Pool
	verifier   CredentialVerifier
	completion CompletionSink
	metrics    Metrics
	emit       func(event events.EventName, args ...interface{})

	settings func() *config.Settings
	tracker  *Tracker

	// owned by the loop
	inFlight    int
	maxInFlight int
}

func newPrecheck(ctx context.Context, options *Options, clock clockwork.Clock, loop *eventLoop, env *Env,
	settings func() *config.Settings, tracker *Tracker, metrics Metrics, emit func(events.EventName, ...interface{})) (*precheck, error) {

	poolConfig := goroutines.PoolConfig{
		QueueSize:   options.PrecheckQueueSize,
		MinWorkers:  1,
		MaxWorkers:  options.PrecheckWorkers,
		IdleTime:    options.PrecheckIdleTime,
		CloseNotify: ctx.Done(),
		PanicHandler: func(err interface{}) {
			pfxlog.Logger().WithField(logrus.ErrorKey, err).WithField("backtrace", string(debug.Stack())).
				Error("panic during credential precheck")
		},
		WorkerFunction: precheckWorker,
	}

	pool, err := goroutines.NewPool(poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "error creating credential precheck pool")
	}

	return &precheck{
		ctx:         ctx,
		clock:       clock,
		loop:        loop,
		pool:        pool,
		verifier:    env.Verifier,
		completion:  env.Completion,
		metrics:     metrics,
		emit:        emit,
		settings:    settings,
		tracker:     tracker,
		maxInFlight: int(options.PrecheckQueueSize + options.PrecheckWorkers),
	}, nil
}

func precheckWorker(_ uint32, f func()) {
	f()
}

// CandidateEntered must be called on the loop.
func (self *precheck) CandidateEntered(candidate string) {
	settings := self.settings()
	if settings == nil || !settings.QuickUnlock || self.verifier == nil {
		return
	}
	if utf8.RuneCountInString(candidate) != settings.PinLength {
		return
	}

	log := pfxlog.Logger()
	if self.inFlight >= self.maxInFlight {
		log.WithField("inFlight", self.inFlight).Warn("too many credential prechecks in flight, skipping")
		return
	}

	check := &CredentialCheck{
		Id:             uuid.NewString(),
		Candidate:      candidate,
		ExpectedLength: settings.PinLength,
		SessionID:      self.tracker.State().SessionID,
		CreatedAt:      self.clock.Now(),
	}

	self.inFlight++
	self.metrics.PrecheckQueued()
	if err := self.pool.QueueOrError(func() { self.verify(check) }); err != nil {
		self.inFlight--
		self.metrics.PrecheckFinished(0)
		queueLog := log.WithError(err).WithField("checkId", check.Id)
		if errors.Is(err, goroutines.QueueFullError) {
			queueLog.Warn("credential precheck queue full, skipping")
		} else {
			queueLog.Error("unable to queue credential precheck")
		}
		return
	}
	log.WithField("checkId", check.Id).Debug("credential precheck queued")
}

// verify runs on a worker and must not touch loop state.
func (self *precheck) verify(check *CredentialCheck) {
	log := pfxlog.Logger().WithField("checkId", check.Id).WithField("sessionId", check.SessionID)

	start := self.clock.Now()
	accepted, err := self.checkCredential(check)
	self.metrics.PrecheckFinished(self.clock.Since(start))

	switch {
	case err != nil:
		self.metrics.PrecheckFailed()
		log.WithError(err).Error("credential precheck failed")
		accepted = false
	case accepted:
		self.metrics.PrecheckAccepted()
		log.Debug("credential precheck accepted")
	default:
		self.metrics.PrecheckRejected()
		log.Debug("credential precheck rejected")
	}

	if !self.loop.post(func() { self.complete(check, accepted, err) }) {
		log.Debug("engine closed, dropping credential precheck result")
	}
}

func (self *precheck) checkCredential(check *CredentialCheck) (accepted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			accepted = false
			err = errors.Errorf("panic checking credential: %v", r)
		}
	}()
	return self.verifier.CheckCredential(self.ctx, check.Candidate, check.SessionID)
}

func (self *precheck) complete(check *CredentialCheck, accepted bool, err error) {
	self.inFlight--
	check.Candidate = ""

	if accepted {
		log := pfxlog.Logger().WithField("checkId", check.Id).WithField("sessionId", check.SessionID)
		if self.tracker.Phase() == PhaseAsleep {
			log.Info("device went to sleep during credential precheck, not completing unlock")
			accepted = false
		} else if self.completion != nil {
			log.Info("credential precheck accepted, completing unlock")
			self.finish(check.SessionID)
		}
	}

	self.emit(EventPrecheckComplete, check, accepted, err)
}

func (self *precheck) finish(sessionID int) {
	defer func() {
		if r := recover(); r != nil {
			pfxlog.Logger().WithField(logrus.ErrorKey, r).WithField("backtrace", string(debug.Stack())).
				Error("panic completing unlock")
		}
	}()
	self.completion.ReportUnlockAttempt(sessionID, true)
	self.completion.Dismiss(sessionID)
}

func (self *precheck) InFlight() int {
	return self.inFlight
}
