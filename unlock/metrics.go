package unlock

import (
	"sync/atomic"
	"time"

	"github.com/openziti/metrics"
)

type Metrics interface {
	TriggerScheduled(kind TriggerKind)
	TriggerCancelled(kind TriggerKind)
	TriggerFired(kind TriggerKind, permitted bool)

	ActionPerformed(action Action)
	PolicyFailedOpen()

	PrecheckQueued()
	PrecheckFinished(duration time.Duration)
	PrecheckAccepted()
	PrecheckRejected()
	PrecheckFailed()
	PrechecksInFlight() int64
}

type triggerMeters struct {
	scheduled  metrics.Meter
	cancelled  metrics.Meter
	permitted  metrics.Meter
	suppressed metrics.Meter
}

type metricsImpl struct {
	triggers map[TriggerKind]*triggerMeters
	actions  map[Action]metrics.Meter

	policyFailOpenMeter metrics.Meter

	precheckQueuedMeter   metrics.Meter
	precheckAcceptedMeter metrics.Meter
	precheckRejectedMeter metrics.Meter
	precheckFailedMeter   metrics.Meter
	precheckTimer         metrics.Timer

	prechecksInFlight int64
}

func (self *metricsImpl) TriggerScheduled(kind TriggerKind) {
	self.triggers[kind].scheduled.Mark(1)
}

func (self *metricsImpl) TriggerCancelled(kind TriggerKind) {
	self.triggers[kind].cancelled.Mark(1)
}

func (self *metricsImpl) TriggerFired(kind TriggerKind, permitted bool) {
	if permitted {
		self.triggers[kind].permitted.Mark(1)
	} else {
		self.triggers[kind].suppressed.Mark(1)
	}
}

func (self *metricsImpl) ActionPerformed(action Action) {
	if meter, ok := self.actions[action]; ok {
		meter.Mark(1)
	}
}

func (self *metricsImpl) PolicyFailedOpen() {
	self.policyFailOpenMeter.Mark(1)
}

func (self *metricsImpl) PrecheckQueued() {
	atomic.AddInt64(&self.prechecksInFlight, 1)
	self.precheckQueuedMeter.Mark(1)
}

func (self *metricsImpl) PrecheckFinished(duration time.Duration) {
	atomic.AddInt64(&self.prechecksInFlight, -1)
	self.precheckTimer.Update(duration)
}

func (self *metricsImpl) PrecheckAccepted() {
	self.precheckAcceptedMeter.Mark(1)
}

func (self *metricsImpl) PrecheckRejected() {
	self.precheckRejectedMeter.Mark(1)
}

func (self *metricsImpl) PrecheckFailed() {
	self.precheckFailedMeter.Mark(1)
}

func (self *metricsImpl) PrechecksInFlight() int64 {
	return atomic.LoadInt64(&self.prechecksInFlight)
}

func NewMetrics(registry metrics.Registry) Metrics {
	impl := &metricsImpl{
		triggers: map[TriggerKind]*triggerMeters{},
		actions: map[Action]metrics.Meter{
			ActionHideContent:      registry.Meter("autounlock.action.hide_content"),
			ActionRevealChallenge:  registry.Meter("autounlock.action.reveal_challenge"),
			ActionDismissChallenge: registry.Meter("autounlock.action.dismiss_challenge"),
		},
		policyFailOpenMeter:   registry.Meter("autounlock.policy.fail_open"),
		precheckQueuedMeter:   registry.Meter("autounlock.precheck.queued"),
		precheckAcceptedMeter: registry.Meter("autounlock.precheck.accepted"),
		precheckRejectedMeter: registry.Meter("autounlock.precheck.rejected"),
		precheckFailedMeter:   registry.Meter("autounlock.precheck.failed"),
		precheckTimer:         registry.Timer("autounlock.precheck.verify_time"),
	}

	for _, kind := range triggerKinds {
		prefix := "autounlock.trigger." + kind.String()
		impl.triggers[kind] = &triggerMeters{
			scheduled:  registry.Meter(prefix + ".scheduled"),
			cancelled:  registry.Meter(prefix + ".cancelled"),
			permitted:  registry.Meter(prefix + ".permitted"),
			suppressed: registry.Meter(prefix + ".suppressed"),
		}
	}

	registry.FuncGauge("autounlock.precheck.in_flight", func() int64 {
		return atomic.LoadInt64(&impl.prechecksInFlight)
	})

	return impl
}
