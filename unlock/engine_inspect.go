package unlock

import (
	"github.com/keyguardkit/autounlock/inspect"
	"github.com/keyguardkit/autounlock/version"
	"github.com/michaelquigley/pfxlog"
)

// publishInspect runs on the loop after every step.
func (self *Engine) publishInspect() {
	state := self.tracker.State()

	result := &inspect.EngineInspectResult{
		EngineId:    self.Id,
		Version:     version.GetVersion(),
		Phase:       self.tracker.Phase().String(),
		SessionOpen: self.orchestrator.sessionOpen,
		State: &inspect.LifecycleStateDetail{
			Interactive:  state.Interactive,
			Secured:      state.Secured,
			TrustManaged: state.TrustManaged,
			Insecure:     state.Insecure,
			Showing:      state.Showing,
			SessionId:    state.SessionID,
		},
		PendingTriggers:   []*inspect.PendingTriggerDetail{},
		SmartListener:     self.tracker.IsSubscribed(self.orchestrator.smartListener),
		PrechecksInFlight: self.precheck.InFlight(),
	}

	if settings := self.orchestrator.Settings(); settings != nil {
		result.Settings = &inspect.SettingsDetail{
			DirectUnlock:       settings.DirectUnlock.String(),
			DirectUnlockPolicy: settings.DirectUnlockPolicy.String(),
			SmartUnlock:        settings.SmartUnlock,
			SmartUnlockPolicy:  settings.SmartUnlockPolicy.String(),
			QuickUnlock:        settings.QuickUnlock,
			PinLength:          settings.PinLength,
		}
	}

	for _, trigger := range self.scheduler.Pending() {
		result.PendingTriggers = append(result.PendingTriggers, &inspect.PendingTriggerDetail{
			Kind: trigger.Kind.String(),
			Due:  trigger.Due,
		})
	}

	self.inspectResult.Store(result)
}

// Inspect returns the engine state as of the end of the most recent loop step, plus live
// notification counts.
func (self *Engine) Inspect() *inspect.EngineInspectResult {
	published := self.inspectResult.Load()
	result := *published
	result.Closed = self.IsClosed()

	if self.notifications != nil {
		snapshot, err := self.notifications.Snapshot()
		if err != nil {
			pfxlog.Logger().WithError(err).Debug("unable to read notifications for inspect")
		} else {
			result.Notifications = &inspect.NotificationCountDetail{
				Visible:          snapshot.VisibleCount(),
				VisibleClearable: snapshot.VisibleClearableCount(),
			}
		}
	}

	return &result
}

func (self *Engine) registerGauges() {
	self.registry.FuncGauge("autounlock.trigger.pending", func() int64 {
		return int64(len(self.inspectResult.Load().PendingTriggers))
	})
}
