package unlock

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openziti/metrics"
)

const (
	DefaultDirectUnlockDelay = 300 * time.Millisecond

	// DefaultSmartUnlockDelay is longer because a trust agent may still re-secure the
	// session shortly after wake.
	DefaultSmartUnlockDelay = time.Second
)

type Options struct {
	DirectUnlockDelay time.Duration
	SmartUnlockDelay  time.Duration

	// EventQueueSize bounds the number of lifecycle events waiting for the engine loop.
	EventQueueSize int

	PrecheckWorkers   uint32
	PrecheckQueueSize uint32
	PrecheckIdleTime  time.Duration

	// Clock drives trigger deadlines. Tests substitute a fake clock.
	Clock clockwork.Clock

	// MetricsRegistry receives engine metrics. A private registry is created when nil.
	MetricsRegistry metrics.Registry
}

var DefaultOptions = &Options{
	DirectUnlockDelay: DefaultDirectUnlockDelay,
	SmartUnlockDelay:  DefaultSmartUnlockDelay,
	EventQueueSize:    64,
	PrecheckWorkers:   2,
	PrecheckQueueSize: 16,
	PrecheckIdleTime:  30 * time.Second,
}

// withDefaults returns a copy of the options with every unset field taken from DefaultOptions.
func (self *Options) withDefaults() *Options {
	result := *DefaultOptions
	if self == nil {
		return &result
	}
	if self.DirectUnlockDelay > 0 {
		result.DirectUnlockDelay = self.DirectUnlockDelay
	}
	if self.SmartUnlockDelay > 0 {
		result.SmartUnlockDelay = self.SmartUnlockDelay
	}
	if self.EventQueueSize > 0 {
		result.EventQueueSize = self.EventQueueSize
	}
	if self.PrecheckWorkers > 0 {
		result.PrecheckWorkers = self.PrecheckWorkers
	}
	if self.PrecheckQueueSize > 0 {
		result.PrecheckQueueSize = self.PrecheckQueueSize
	}
	if self.PrecheckIdleTime > 0 {
		result.PrecheckIdleTime = self.PrecheckIdleTime
	}
	result.Clock = self.Clock
	result.MetricsRegistry = self.MetricsRegistry
	return &result
}
