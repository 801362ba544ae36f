package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/keyguardkit/autounlock/unlock"
	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/keyguardkit/autounlock/unlock/notify"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SettleTimeout bounds how long a step waits for the engine, including credential prechecks.
var SettleTimeout = 5 * time.Second

type recorder struct {
	lock        sync.Mutex
	actions     []string
	completions int
}

func (self *recorder) record(action unlock.Action) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.actions = append(self.actions, action.String())
}

func (self *recorder) HideContent()      { self.record(unlock.ActionHideContent) }
func (self *recorder) RevealChallenge()  { self.record(unlock.ActionRevealChallenge) }
func (self *recorder) DismissChallenge() { self.record(unlock.ActionDismissChallenge) }

func (self *recorder) ReportUnlockAttempt(int, bool) {}

func (self *recorder) Dismiss(int) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.completions++
}

func (self *recorder) snapshot() ([]string, int) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return append([]string{}, self.actions...), self.completions
}

type credentialVerifier string

func (self credentialVerifier) CheckCredential(_ context.Context, candidate string, _ int) (bool, error) {
	return candidate == string(self), nil
}

type run struct {
	scenario *Scenario
	clock    clockwork.FakeClock
	signals  *unlock.ManualSignalSource
	board    *notify.Board
	recorder *recorder
	engine   *unlock.Engine
	result   *RunResult
}

// Run executes every step of s against a fresh engine. An error means the scenario could not
// be run at all; failed expectations are reported in the result.
func Run(s *Scenario) (*RunResult, error) {
	r := &run{
		scenario: s,
		clock:    clockwork.NewFakeClock(),
		signals:  &unlock.ManualSignalSource{},
		board:    notify.NewBoard(),
		recorder: &recorder{},
		result:   &RunResult{Name: s.Name},
	}

	env := &unlock.Env{
		Config:        config.MapSource(s.Config),
		Notifications: r.board,
		Actions:       r.recorder,
		Completion:    r.recorder,
	}
	if s.Credential != "" {
		env.Verifier = credentialVerifier(s.Credential)
	}

	engine, err := unlock.NewEngine(env, &unlock.Options{Clock: r.clock})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to start engine for scenario [%s]", s.Name)
	}
	defer func() { _ = engine.Close() }()
	r.engine = engine

	detach, err := engine.Attach(r.signals)
	if err != nil {
		return nil, err
	}
	defer detach()

	for i, step := range s.Steps {
		if err = r.step(i+1, &step); err != nil {
			return nil, errors.Wrapf(err, "step %d", i+1)
		}
	}

	r.result.Actions, _ = r.recorder.snapshot()
	return r.result, nil
}

func (self *run) step(index int, step *Step) error {
	switch {
	case step.Sleep:
		self.signals.Sleep()
	case step.Wake != nil:
		self.signals.Wake(*step.Wake)
	case step.Change != nil:
		self.signals.Change(*step.Change)
	case step.Advance > 0:
		self.clock.Advance(step.Advance)
	case step.Notifications != nil:
		self.applyNotifications(step.Notifications)
	case step.Enter != nil:
		if err := self.engine.CandidateEntered(*step.Enter); err != nil {
			return err
		}
	case step.Expect != nil:
		if err := self.settle(); err != nil {
			return err
		}
		self.check(index, step.Expect)
		return nil
	default:
		return errors.New("empty step")
	}
	return self.settle()
}

func (self *run) applyNotifications(step *NotificationStep) {
	if step.Clear {
		self.board.Clear()
	}
	for _, key := range step.Remove {
		self.board.Remove(key)
	}
	for _, n := range step.Post {
		self.board.Post(n.Key, n.Clearable)
	}
	if step.Detach {
		self.board.Detach()
	}
	if step.Attach {
		self.board.Attach()
	}
}

// settle waits until the engine is idle and no precheck is outstanding.
func (self *run) settle() error {
	ctx, cancel := context.WithTimeout(context.Background(), SettleTimeout)
	defer cancel()

	for {
		if err := self.engine.Sync(ctx); err != nil {
			return errors.Wrap(err, "engine did not settle")
		}
		if self.engine.Inspect().PrechecksInFlight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "credential precheck did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (self *run) check(index int, expect *Expectation) {
	actions, completions := self.recorder.snapshot()
	state := self.engine.Inspect()

	if expect.Actions != nil {
		self.compare(index, "actions", strings.Join(expect.Actions, ","), strings.Join(actions, ","))
	}
	if expect.ActionCount != nil {
		self.compare(index, "action_count", fmt.Sprint(*expect.ActionCount), fmt.Sprint(len(actions)))
	}
	if expect.Phase != "" {
		self.compare(index, "phase", expect.Phase, state.Phase)
	}
	if expect.Pending != nil {
		var pending []string
		for _, trigger := range state.PendingTriggers {
			pending = append(pending, trigger.Kind)
		}
		self.compare(index, "pending", strings.Join(*expect.Pending, ","), strings.Join(pending, ","))
	}
	if expect.SmartListener != nil {
		self.compare(index, "smart_listener", fmt.Sprint(*expect.SmartListener), fmt.Sprint(state.SmartListener))
	}
	if expect.Completions != nil {
		self.compare(index, "completions", fmt.Sprint(*expect.Completions), fmt.Sprint(completions))
	}
}

func (self *run) compare(index int, check, expected, actual string) {
	result := StepResult{
		Index:    index,
		Check:    check,
		Expected: expected,
		Actual:   actual,
		Passed:   expected == actual,
	}
	self.result.Total++
	if result.Passed {
		self.result.Passed++
	} else {
		self.result.Failed++
		pfxlog.Logger().WithField("scenario", self.scenario.Name).WithField("step", index).
			WithField("check", check).Debugf("expected %q, got %q", expected, actual)
	}
	self.result.Checks = append(self.result.Checks, result)
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read scenario [%s]", path)
	}

	s := &Scenario{}
	if err = yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "unable to parse scenario [%s]", path)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

func LoadAndRun(path string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(s)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
