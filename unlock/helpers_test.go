package unlock

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/keyguardkit/autounlock/unlock/notify"
	"github.com/openziti/metrics"
	"github.com/stretchr/testify/require"
)

type actionRecorder struct {
	lock    sync.Mutex
	actions []Action
}

func (self *actionRecorder) record(action Action) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.actions = append(self.actions, action)
}

func (self *actionRecorder) HideContent()      { self.record(ActionHideContent) }
func (self *actionRecorder) RevealChallenge()  { self.record(ActionRevealChallenge) }
func (self *actionRecorder) DismissChallenge() { self.record(ActionDismissChallenge) }

func (self *actionRecorder) count(action Action) int {
	self.lock.Lock()
	defer self.lock.Unlock()
	result := 0
	for _, a := range self.actions {
		if a == action {
			result++
		}
	}
	return result
}

func (self *actionRecorder) total() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return len(self.actions)
}

func newTestMetrics() Metrics {
	return NewMetrics(metrics.NewRegistry("test", nil))
}

type testEngine struct {
	*Engine
	t       *testing.T
	clock   clockwork.FakeClock
	actions *actionRecorder
	board   *notify.Board
}

func newTestEngine(t *testing.T, cfg config.MapSource, customize ...func(env *Env)) *testEngine {
	return newTestEngineWithOptions(t, cfg, &Options{}, customize...)
}

func newTestEngineWithOptions(t *testing.T, cfg config.MapSource, options *Options, customize ...func(env *Env)) *testEngine {
	clock := clockwork.NewFakeClock()
	options.Clock = clock
	result := &testEngine{
		t:       t,
		clock:   clock,
		actions: &actionRecorder{},
		board:   notify.NewBoard(),
	}

	env := &Env{
		Config:        cfg,
		Notifications: result.board,
		Actions:       result.actions,
	}
	for _, f := range customize {
		f(env)
	}

	engine, err := NewEngine(env, options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	result.Engine = engine
	return result
}

func (self *testEngine) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(self.t, self.Sync(ctx))
}

// advance moves the fake clock and waits for the loop to run whatever became due.
func (self *testEngine) advance(d time.Duration) {
	self.clock.Advance(d)
	self.sync()
}

func (self *testEngine) sleep() {
	require.NoError(self.t, self.FinishedGoingToSleep())
	self.sync()
}

func (self *testEngine) wake(state LifecycleState) {
	require.NoError(self.t, self.StartedWakingUp(state))
	self.sync()
}

func (self *testEngine) change(state LifecycleState) {
	require.NoError(self.t, self.StateChanged(state))
	self.sync()
}

func (self *testEngine) pendingKinds() []string {
	var result []string
	for _, trigger := range self.Inspect().PendingTriggers {
		result = append(result, trigger.Kind)
	}
	return result
}

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

// loopGoroutineID returns the id of the goroutine running the engine loop.
func (self *testEngine) loopGoroutineID() uint64 {
	idC := make(chan uint64, 1)
	require.True(self.t, self.loop.post(func() { idC <- goroutineID() }))
	select {
	case id := <-idC:
		return id
	case <-time.After(5 * time.Second):
		self.t.Fatal("timed out waiting for the engine loop")
	}
	return 0
}
