package unlock

import (
	"sync/atomic"

	"github.com/kataras/go-events"
)

// Events emitted by the engine. Listeners are called on the engine loop, so they must return
// quickly and must not call Sync or Close.
const (
	// EventPhaseChanged args: from Phase, to Phase
	EventPhaseChanged events.EventName = "phaseChanged"
	// EventTriggerFired args: kind TriggerKind, permitted bool
	EventTriggerFired events.EventName = "triggerFired"
	// EventUnlockAction args: action Action
	EventUnlockAction events.EventName = "unlockAction"
	// EventPrecheckComplete args: check *CredentialCheck, accepted bool, err error
	EventPrecheckComplete events.EventName = "precheckComplete"
)

// guard wraps a listener so it can be switched off. go-events matches listeners for removal
// by function pointer, which does not distinguish closures.
func guard(f func(args ...interface{})) (events.Listener, func()) {
	disabled := &atomic.Bool{}
	listener := func(args ...interface{}) {
		if !disabled.Load() {
			f(args...)
		}
	}
	return listener, func() { disabled.Store(true) }
}

func (self *Engine) AddPhaseChangedListener(handler func(from, to Phase)) func() {
	listener, remove := guard(func(args ...interface{}) {
		handler(args[0].(Phase), args[1].(Phase))
	})
	self.AddListener(EventPhaseChanged, listener)
	return remove
}

func (self *Engine) AddTriggerFiredListener(handler func(kind TriggerKind, permitted bool)) func() {
	listener, remove := guard(func(args ...interface{}) {
		handler(args[0].(TriggerKind), args[1].(bool))
	})
	self.AddListener(EventTriggerFired, listener)
	return remove
}

func (self *Engine) AddUnlockActionListener(handler func(action Action)) func() {
	listener, remove := guard(func(args ...interface{}) {
		handler(args[0].(Action))
	})
	self.AddListener(EventUnlockAction, listener)
	return remove
}

// AddPrecheckCompleteListener is called once for every verification that ran, whatever its outcome.
func (self *Engine) AddPrecheckCompleteListener(handler func(check *CredentialCheck, accepted bool, err error)) func() {
	listener, remove := guard(func(args ...interface{}) {
		var err error
		if args[2] != nil {
			err = args[2].(error)
		}
		handler(args[0].(*CredentialCheck), args[1].(bool), err)
	})
	self.AddListener(EventPrecheckComplete, listener)
	return remove
}
