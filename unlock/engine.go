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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kataras/go-events"
	"github.com/keyguardkit/autounlock/inspect"
	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/keyguardkit/autounlock/unlock/notify"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/concurrenz"
	"github.com/openziti/metrics"
	"github.com/pkg/errors"
)

// Env holds the host collaborators of an engine. Config and Actions are required.
type Env struct {
	Config        config.Source
	Notifications notify.Surface
	Actions       ActionSink
	// Verifier enables credential prechecks when set.
	Verifier   CredentialVerifier
	Completion CompletionSink
}

// Engine decides whether and when to dismiss the security challenge. All decision state is
// owned by a single loop goroutine; the exported methods only queue work for it and are
// safe to call from any goroutine.
type Engine struct {
	events.EventEmmiter
	Id string

	options       *Options
	clock         clockwork.Clock
	registry      metrics.Registry
	metrics       Metrics
	notifications notify.Surface

	loop         *eventLoop
	scheduler    *scheduler
	tracker      *Tracker
	orchestrator *orchestrator
	precheck     *precheck

	inspectResult concurrenz.AtomicValue[*inspect.EngineInspectResult]

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewEngine(env *Env, options *Options) (*Engine, error) {
	if env == nil {
		return nil, errors.New("engine environment must not be nil")
	}
	if env.Config == nil {
		return nil, errors.New("configuration source must not be nil")
	}
	if env.Actions == nil {
		return nil, errors.New("action sink must not be nil")
	}

	// invalid values fail here rather than at the first wake
	if _, err := config.Load(env.Config); err != nil {
		return nil, errors.Wrap(err, "invalid unlock configuration")
	}

	options = options.withDefaults()

	clock := options.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	registry := options.MetricsRegistry
	if registry == nil {
		registry = metrics.NewRegistry("autounlock", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		EventEmmiter:  events.New(),
		Id:            uuid.NewString(),
		options:       options,
		clock:         clock,
		registry:      registry,
		metrics:       NewMetrics(registry),
		notifications: env.Notifications,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	engine.scheduler = newScheduler(clock, engine.metrics)
	engine.loop = newEventLoop(clock, engine.scheduler, options.EventQueueSize, ctx.Done())
	engine.tracker = newTracker(func(from, to Phase) {
		engine.Emit(EventPhaseChanged, from, to)
	})
	engine.orchestrator = newOrchestrator(options, env.Config, engine.tracker, engine.scheduler,
		NewEvaluator(env.Notifications, engine.metrics), env.Actions, engine.metrics, engine.Emit)

	pc, err := newPrecheck(ctx, options, clock, engine.loop, env, engine.orchestrator.Settings,
		engine.tracker, engine.metrics, engine.Emit)
	if err != nil {
		cancel()
		return nil, err
	}
	engine.precheck = pc

	engine.registerGauges()
	engine.publishInspect()
	engine.loop.afterStep = engine.publishInspect

	go func() {
		defer close(engine.done)
		engine.loop.run()
	}()

	pfxlog.Logger().WithField("engineId", engine.Id).Info("unlock engine started")

	return engine, nil
}

// FinishedGoingToSleep reports that the display went to sleep. Pending triggers are always cancelled.
func (self *Engine) FinishedGoingToSleep() error {
	return self.post(self.orchestrator.FinishedGoingToSleep)
}

// StartedWakingUp reports that the device is waking with the given state. Settings are
// reloaded from the configuration source for the new wake cycle.
func (self *Engine) StartedWakingUp(state LifecycleState) error {
	return self.post(func() {
		self.orchestrator.StartedWakingUp(state)
	})
}

func (self *Engine) StateChanged(state LifecycleState) error {
	return self.post(func() {
		self.orchestrator.StateChanged(state)
	})
}

// CandidateEntered offers the credential typed so far for a precheck. The candidate is never logged.
func (self *Engine) CandidateEntered(candidate string) error {
	return self.post(func() {
		self.precheck.CandidateEntered(candidate)
	})
}

func (self *Engine) post(f func()) error {
	if !self.loop.post(f) {
		return ErrClosed
	}
	return nil
}

// Sync returns once the engine has handled every signal submitted before the call, along
// with every trigger due by then. Must not be called from an event listener.
func (self *Engine) Sync(ctx context.Context) error {
	return self.loop.sync(ctx)
}

func (self *Engine) Clock() clockwork.Clock {
	return self.clock
}

func (self *Engine) Metrics() Metrics {
	return self.metrics
}

func (self *Engine) MetricsRegistry() metrics.Registry {
	return self.registry
}

func (self *Engine) IsClosed() bool {
	return self.closed.Load()
}

// Close stops the loop and the precheck workers. Results of prechecks still running are dropped.
func (self *Engine) Close() error {
	self.closeOnce.Do(func() {
		self.closed.Store(true)
		self.cancel()
		<-self.done
		pfxlog.Logger().WithField("engineId", self.Id).Info("unlock engine closed")
	})
	return nil
}
