package unlock

import (
	"runtime/debug"

	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/keyguardkit/autounlock/unlock/notify"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Permit decides whether policy allows an automatic unlock given the notifications in snapshot.
func Permit(policy config.UnlockPolicy, snapshot notify.Snapshot) bool {
	switch policy {
	case config.PolicyDefault:
		return true
	case config.PolicyNotifNone:
		return snapshot.VisibleCount() == 0
	case config.PolicyNotifOngoing:
		return snapshot.VisibleClearableCount() == 0
	}
	panic(errors.Errorf("unknown unlock policy %v", policy))
}

// Evaluator applies policies against the live notification surface. A surface that cannot
// be read, or panics, permits the unlock (fail-open).
type Evaluator struct {
	surface notify.Surface
	metrics Metrics
}

func NewEvaluator(surface notify.Surface, metrics Metrics) *Evaluator {
	return &Evaluator{
		surface: surface,
		metrics: metrics,
	}
}

// Evaluate takes a fresh snapshot for every call; DEFAULT never consults the surface.
func (self *Evaluator) Evaluate(policy config.UnlockPolicy) bool {
	if policy == config.PolicyDefault {
		return true
	}

	snapshot, err := self.snapshot()
	if err != nil {
		pfxlog.Logger().WithError(err).WithField("policy", policy.String()).
			Error("unable to read notifications, permitting unlock")
		if self.metrics != nil {
			self.metrics.PolicyFailedOpen()
		}
		return true
	}
	return Permit(policy, snapshot)
}

func (self *Evaluator) snapshot() (snapshot notify.Snapshot, err error) {
	if self.surface == nil {
		return nil, errors.New("no notification surface configured")
	}

	defer func() {
		if r := recover(); r != nil {
			pfxlog.Logger().WithField(logrus.ErrorKey, r).WithField("backtrace", string(debug.Stack())).
				Error("panic reading notification surface")
			snapshot = nil
			err = errors.Errorf("panic reading notification surface: %v", r)
		}
	}()

	return self.surface.Snapshot()
}
