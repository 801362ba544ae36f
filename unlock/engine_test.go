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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/keyguardkit/autounlock/unlock/notify"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	securedState      = LifecycleState{Secured: true, SessionID: 10}
	trustManagedState = LifecycleState{Secured: true, TrustManaged: true, SessionID: 10}
	trustRelaxedState = LifecycleState{Secured: true, TrustManaged: true, Insecure: true, SessionID: 10}
)

func directConfig(mode string, policy string) config.MapSource {
	return config.MapSource{
		config.KeyDirectUnlock:       mode,
		config.KeyDirectUnlockPolicy: policy,
	}
}

func smartConfig(policy string) config.MapSource {
	return config.MapSource{
		config.KeySmartUnlock:       true,
		config.KeySmartUnlockPolicy: policy,
	}
}

func TestDirectUnlock(t *testing.T) {
	t.Run("standard mode hides content once after the direct delay", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("STANDARD", "DEFAULT"))

		engine.sleep()
		engine.wake(securedState)
		req.Equal(PhaseWakingSecured.String(), engine.Inspect().Phase)
		req.Equal([]string{"direct"}, engine.pendingKinds())

		engine.advance(299 * time.Millisecond)
		req.Equal(0, engine.actions.total())

		engine.advance(time.Millisecond)
		req.Equal(1, engine.actions.count(ActionHideContent))
		req.Empty(engine.pendingKinds())

		engine.advance(5 * time.Second)
		req.Equal(1, engine.actions.total())
	})

	t.Run("see through mode reveals the challenge", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("SEE_THROUGH", "DEFAULT"))

		engine.sleep()
		engine.wake(securedState)
		engine.advance(DefaultDirectUnlockDelay)

		req.Equal(1, engine.actions.count(ActionRevealChallenge))
		req.Equal(1, engine.actions.total())
	})

	t.Run("off never arms a trigger", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("OFF", "DEFAULT"))

		engine.sleep()
		engine.wake(securedState)
		req.Empty(engine.pendingKinds())

		engine.advance(time.Second)
		req.Equal(0, engine.actions.total())
	})

	t.Run("policy blocks when notifications are visible", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("STANDARD", "NOTIF_NONE"))
		engine.board.Post("ongoing-call", false)

		engine.sleep()
		engine.wake(securedState)
		engine.advance(DefaultDirectUnlockDelay)

		req.Equal(0, engine.actions.total())
		req.Empty(engine.pendingKinds(), "a suppressed direct trigger is not rescheduled")
	})

	t.Run("ongoing notifications do not block notif ongoing", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("STANDARD", "NOTIF_ONGOING"))
		engine.board.Post("ongoing-call", false)

		engine.sleep()
		engine.wake(securedState)
		engine.advance(DefaultDirectUnlockDelay)

		req.Equal(1, engine.actions.count(ActionHideContent))
	})

	t.Run("an unreadable notification surface permits the unlock", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("STANDARD", "NOTIF_NONE"), func(env *Env) {
			env.Notifications = notify.SurfaceFunc(func() (notify.Snapshot, error) {
				return nil, errors.New("not bound")
			})
		})

		engine.sleep()
		engine.wake(securedState)
		engine.advance(DefaultDirectUnlockDelay)

		req.Equal(1, engine.actions.count(ActionHideContent))
	})

	t.Run("an unsecured challenge arms nothing", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("STANDARD", "DEFAULT"))

		engine.sleep()
		engine.wake(LifecycleState{})
		req.Equal(PhaseUnlocked.String(), engine.Inspect().Phase)
		req.Empty(engine.pendingKinds())
	})

	t.Run("a wake before any sleep arms nothing", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, directConfig("STANDARD", "DEFAULT"))

		engine.wake(securedState)
		req.False(engine.Inspect().SessionOpen)
		req.Equal(PhaseUnlocked.String(), engine.Inspect().Phase)

		engine.advance(time.Second)
		req.Equal(0, engine.actions.total())
	})

	t.Run("settings are reloaded on every wake", func(t *testing.T) {
		req := require.New(t)
		cfg := directConfig("OFF", "DEFAULT")
		engine := newTestEngine(t, cfg)

		engine.sleep()
		engine.wake(securedState)
		req.Empty(engine.pendingKinds())

		cfg[config.KeyDirectUnlock] = "STANDARD"
		engine.sleep()
		req.Nil(engine.Inspect().Settings, "settings are dropped while asleep")

		engine.wake(securedState)
		req.Equal("STANDARD", engine.Inspect().Settings.DirectUnlock)
		engine.advance(DefaultDirectUnlockDelay)
		req.Equal(1, engine.actions.count(ActionHideContent))
	})

	t.Run("an invalid value at wake skips the cycle", func(t *testing.T) {
		req := require.New(t)
		cfg := directConfig("STANDARD", "DEFAULT")
		engine := newTestEngine(t, cfg)

		cfg[config.KeyDirectUnlockPolicy] = "NOTIF_SOMETIMES"
		engine.sleep()
		engine.wake(securedState)
		req.Empty(engine.pendingKinds())
		req.Nil(engine.Inspect().Settings)

		engine.advance(time.Second)
		req.Equal(0, engine.actions.total())
	})
}

func TestSmartUnlock(t *testing.T) {
	t.Run("relaxed session is dismissed after the smart delay", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, smartConfig("NOTIF_NONE"))

		engine.sleep()
		engine.wake(trustRelaxedState)
		req.Equal(PhaseWakingTrustManaged.String(), engine.Inspect().Phase)
		req.Equal([]string{"smart"}, engine.pendingKinds())
		req.True(engine.Inspect().SmartListener)

		engine.advance(999 * time.Millisecond)
		req.Equal(0, engine.actions.total())

		engine.advance(time.Millisecond)
		req.Equal(1, engine.actions.count(ActionDismissChallenge))
		req.Equal(1, engine.actions.total())
	})

	t.Run("blocked smart unlock fires immediately on a later relaxed change", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, smartConfig("NOTIF_NONE"))
		engine.board.Post("message", true)

		var fired []bool
		remove := engine.AddTriggerFiredListener(func(kind TriggerKind, permitted bool) {
			if kind == TriggerSmart {
				fired = append(fired, permitted)
			}
		})
		defer remove()

		engine.sleep()
		engine.wake(trustRelaxedState)
		engine.advance(DefaultSmartUnlockDelay)
		req.Equal(0, engine.actions.total())
		req.Empty(engine.pendingKinds())

		engine.board.Remove("message")
		engine.change(trustRelaxedState)
		req.Equal(1, engine.actions.count(ActionDismissChallenge), "no further delay after the first attempt")

		engine.sync()
		req.Equal([]bool{false, true}, fired)
	})

	t.Run("a session that is not yet relaxed fires when trust relaxes it", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, smartConfig("DEFAULT"))

		engine.sleep()
		engine.wake(trustManagedState)
		req.Empty(engine.pendingKinds())
		req.True(engine.Inspect().SmartListener)

		engine.change(trustRelaxedState)
		req.Equal(1, engine.actions.count(ActionDismissChallenge))
	})

	t.Run("re-securing cancels the pending smart trigger", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, smartConfig("DEFAULT"))

		engine.sleep()
		engine.wake(trustRelaxedState)
		engine.advance(500 * time.Millisecond)

		engine.change(trustManagedState)
		req.Empty(engine.pendingKinds())

		engine.advance(time.Second)
		req.Equal(0, engine.actions.total())
	})

	t.Run("a relaxed change while smart is pending keeps the original deadline", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, smartConfig("DEFAULT"))

		engine.sleep()
		engine.wake(trustRelaxedState)
		engine.advance(200 * time.Millisecond)
		engine.change(trustRelaxedState)
		req.Equal(0, engine.actions.total())

		engine.advance(800 * time.Millisecond)
		req.Equal(1, engine.actions.count(ActionDismissChallenge))
	})

	t.Run("listener stops once the challenge is showing", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, smartConfig("DEFAULT"))

		engine.sleep()
		engine.wake(trustManagedState)

		showing := trustManagedState
		showing.Showing = true
		engine.change(showing)
		req.False(engine.Inspect().SmartListener)

		engine.change(trustRelaxedState)
		engine.advance(time.Second)
		req.Equal(0, engine.actions.total())
	})

	t.Run("disabled smart unlock never subscribes", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, config.MapSource{config.KeyDirectUnlock: "STANDARD"})

		engine.sleep()
		engine.wake(trustRelaxedState)
		req.False(engine.Inspect().SmartListener)
		req.Empty(engine.pendingKinds(), "direct is never armed for a trust managed session")

		engine.change(trustRelaxedState)
		engine.advance(time.Second)
		req.Equal(0, engine.actions.total())
	})
}

func TestSleepClearsTriggers(t *testing.T) {
	cases := []struct {
		name  string
		cfg   config.MapSource
		state LifecycleState
	}{
		{"direct", directConfig("STANDARD", "DEFAULT"), securedState},
		{"smart", smartConfig("DEFAULT"), trustRelaxedState},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := require.New(t)
			engine := newTestEngine(t, c.cfg)

			engine.sleep()
			engine.wake(c.state)
			req.Len(engine.pendingKinds(), 1)

			engine.advance(100 * time.Millisecond)
			engine.sleep()
			req.Empty(engine.pendingKinds())
			req.Equal(PhaseAsleep.String(), engine.Inspect().Phase)
			req.False(engine.Inspect().SmartListener)

			engine.advance(5 * time.Second)
			req.Equal(0, engine.actions.total())

			// nothing pending is fine too
			engine.sleep()
			req.Empty(engine.pendingKinds())
		})
	}
}

func TestRapidWakesFireOnce(t *testing.T) {
	req := require.New(t)
	engine := newTestEngine(t, directConfig("STANDARD", "DEFAULT"))

	engine.sleep()
	engine.wake(securedState)
	engine.advance(200 * time.Millisecond)
	engine.wake(securedState)

	engine.advance(200 * time.Millisecond)
	req.Equal(0, engine.actions.total(), "the second wake replaced the first trigger")

	engine.advance(100 * time.Millisecond)
	req.Equal(1, engine.actions.count(ActionHideContent))

	engine.advance(time.Second)
	req.Equal(1, engine.actions.total())
}

func TestWakeWithoutSleepReplacesCycle(t *testing.T) {
	bothEnabled := func() config.MapSource {
		return config.MapSource{
			config.KeyDirectUnlock:      "STANDARD",
			config.KeySmartUnlock:       true,
			config.KeySmartUnlockPolicy: "DEFAULT",
		}
	}

	t.Run("secured then trust relaxed wake only runs smart unlock", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, bothEnabled())

		engine.sleep()
		engine.wake(securedState)
		req.Equal([]string{TriggerDirect.String()}, engine.pendingKinds())

		engine.wake(trustRelaxedState)
		req.Equal([]string{TriggerSmart.String()}, engine.pendingKinds())
		req.Equal(PhaseWakingTrustManaged.String(), engine.Inspect().Phase)

		engine.advance(5 * time.Second)
		req.Equal(0, engine.actions.count(ActionHideContent))
		req.Equal(1, engine.actions.count(ActionDismissChallenge))
		req.Equal(1, engine.actions.total())
	})

	t.Run("trust managed then secured wake drops the smart listener", func(t *testing.T) {
		req := require.New(t)
		engine := newTestEngine(t, bothEnabled())

		engine.sleep()
		engine.wake(trustManagedState)
		req.True(engine.Inspect().SmartListener)

		engine.wake(securedState)
		req.False(engine.Inspect().SmartListener)
		req.Equal(PhaseWakingSecured.String(), engine.Inspect().Phase)
		req.Equal([]string{TriggerDirect.String()}, engine.pendingKinds())

		engine.change(trustRelaxedState)
		req.Equal([]string{TriggerDirect.String()}, engine.pendingKinds())

		engine.advance(5 * time.Second)
		req.Equal(0, engine.actions.count(ActionDismissChallenge))
		req.Equal(1, engine.actions.count(ActionHideContent))
		req.Equal(1, engine.actions.total())
	})
}

func TestEngineEvents(t *testing.T) {
	req := require.New(t)
	engine := newTestEngine(t, directConfig("STANDARD", "DEFAULT"))

	var phases []Phase
	var actions []Action
	removePhase := engine.AddPhaseChangedListener(func(_, to Phase) { phases = append(phases, to) })
	removeAction := engine.AddUnlockActionListener(func(action Action) { actions = append(actions, action) })

	engine.sleep()
	engine.wake(securedState)
	engine.advance(DefaultDirectUnlockDelay)

	req.Equal([]Phase{PhaseAsleep, PhaseWakingSecured}, phases)
	req.Equal([]Action{ActionHideContent}, actions)

	removePhase()
	removeAction()
	engine.sleep()
	engine.wake(securedState)
	engine.advance(DefaultDirectUnlockDelay)

	req.Len(phases, 2)
	req.Len(actions, 1)
	req.Equal(2, engine.actions.total())
}

func TestActionPanicsAreRecovered(t *testing.T) {
	req := require.New(t)
	engine := newTestEngine(t, directConfig("STANDARD", "DEFAULT"), func(env *Env) {
		env.Actions = panickingActions{}
	})

	engine.sleep()
	engine.wake(securedState)
	engine.advance(DefaultDirectUnlockDelay)

	engine.sleep()
	req.Equal(PhaseAsleep.String(), engine.Inspect().Phase)
}

type panickingActions struct{}

func (panickingActions) HideContent()      { panic("window gone") }
func (panickingActions) RevealChallenge()  { panic("window gone") }
func (panickingActions) DismissChallenge() { panic("window gone") }

func TestNewEngine(t *testing.T) {
	t.Run("invalid configuration fails at construction", func(t *testing.T) {
		req := require.New(t)
		_, err := NewEngine(&Env{
			Config:  config.MapSource{config.KeySmartUnlockPolicy: "LOUD"},
			Actions: &actionRecorder{},
		}, nil)
		req.Error(err)
		req.True(errors.Is(err, config.ErrInvalidValue))
	})

	t.Run("required collaborators", func(t *testing.T) {
		req := require.New(t)
		_, err := NewEngine(nil, nil)
		req.Error(err)
		_, err = NewEngine(&Env{Actions: &actionRecorder{}}, nil)
		req.Error(err)
		_, err = NewEngine(&Env{Config: config.MapSource{}}, nil)
		req.Error(err)
	})

	t.Run("closed engine rejects signals", func(t *testing.T) {
		req := require.New(t)
		engine, err := NewEngine(&Env{Config: config.MapSource{}, Actions: &actionRecorder{}}, nil)
		req.NoError(err)

		req.NoError(engine.Close())
		req.NoError(engine.Close())
		req.True(engine.IsClosed())
		req.True(engine.Inspect().Closed)

		req.ErrorIs(engine.FinishedGoingToSleep(), ErrClosed)
		req.ErrorIs(engine.StartedWakingUp(securedState), ErrClosed)
		req.ErrorIs(engine.CandidateEntered("1234"), ErrClosed)
		req.ErrorIs(engine.Sync(context.Background()), ErrClosed)
	})
}

func TestInspect(t *testing.T) {
	engine := newTestEngine(t, config.MapSource{
		config.KeyDirectUnlock: "SEE_THROUGH",
		config.KeyQuickUnlock:  true,
		config.KeyPinLength:    6,
	})
	engine.board.Post("a", true)
	engine.board.Post("b", false)

	engine.sleep()
	engine.wake(securedState)

	result := engine.Inspect()
	assert.Equal(t, engine.Id, result.EngineId)
	assert.True(t, result.SessionOpen)
	assert.True(t, result.State.Interactive)
	assert.Equal(t, 10, result.State.SessionId)
	assert.Equal(t, "SEE_THROUGH", result.Settings.DirectUnlock)
	assert.Equal(t, 6, result.Settings.PinLength)
	require.Len(t, result.PendingTriggers, 1)
	assert.Equal(t, engine.clock.Now().Add(DefaultDirectUnlockDelay), result.PendingTriggers[0].Due)
	assert.Equal(t, 2, result.Notifications.Visible)
	assert.Equal(t, 1, result.Notifications.VisibleClearable)
}

func TestFileSourceReloadAppliesAtNextWake(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "unlock.yml")
	req.NoError(os.WriteFile(path, []byte("direct_unlock: OFF\n"), 0600))

	source, err := config.NewFromFile(path)
	req.NoError(err)

	engine, err := NewEngine(&Env{Config: source, Actions: &actionRecorder{}}, nil)
	req.NoError(err)
	defer func() { _ = engine.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req.NoError(engine.FinishedGoingToSleep())
	req.NoError(engine.StartedWakingUp(securedState))
	req.NoError(engine.Sync(ctx))
	req.Empty(engine.Inspect().PendingTriggers)

	req.NoError(os.WriteFile(path, []byte("direct_unlock: STANDARD\n"), 0600))
	req.NoError(source.Reload(ctx))

	req.NoError(engine.FinishedGoingToSleep())
	req.NoError(engine.StartedWakingUp(securedState))
	req.NoError(engine.Sync(ctx))
	req.Len(engine.Inspect().PendingTriggers, 1)
	req.Equal("STANDARD", engine.Inspect().Settings.DirectUnlock)
}
