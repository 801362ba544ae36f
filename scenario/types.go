package scenario

import (
	"time"

	"github.com/keyguardkit/autounlock/unlock"
)

// Scenario is a scripted sequence of lifecycle signals run against an engine with a fake clock.
type Scenario struct {
	Name string `yaml:"name"`
	// Config holds unlock settings keyed like the settings file, e.g. direct_unlock: STANDARD.
	Config map[string]interface{} `yaml:"config"`
	// Credential is the value the simulated verifier accepts.
	Credential string `yaml:"credential,omitempty"`
	Steps      []Step `yaml:"steps"`
}

// Step performs exactly one of its fields.
type Step struct {
	Sleep         bool                   `yaml:"sleep,omitempty"`
	Wake          *unlock.LifecycleState `yaml:"wake,omitempty"`
	Change        *unlock.LifecycleState `yaml:"change,omitempty"`
	Advance       time.Duration          `yaml:"advance,omitempty"`
	Notifications *NotificationStep      `yaml:"notifications,omitempty"`
	Enter         *string                `yaml:"enter,omitempty"`
	Expect        *Expectation           `yaml:"expect,omitempty"`
}

type NotificationStep struct {
	Post   []PostedNotification `yaml:"post,omitempty"`
	Remove []string             `yaml:"remove,omitempty"`
	Clear  bool                 `yaml:"clear,omitempty"`
	Detach bool                 `yaml:"detach,omitempty"`
	Attach bool                 `yaml:"attach,omitempty"`
}

type PostedNotification struct {
	Key       string `yaml:"key"`
	Clearable bool   `yaml:"clearable"`
}

// Expectation checks engine state at a point in the scenario. Unset fields are not checked.
type Expectation struct {
	// Actions is the full list of actions performed since the scenario started.
	Actions       []string  `yaml:"actions,omitempty"`
	ActionCount   *int      `yaml:"action_count,omitempty"`
	Phase         string    `yaml:"phase,omitempty"`
	Pending       *[]string `yaml:"pending,omitempty"`
	SmartListener *bool     `yaml:"smart_listener,omitempty"`
	Completions   *int      `yaml:"completions,omitempty"`
}

// StepResult is the outcome of one expectation.
type StepResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Check    string `json:"check"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// RunResult is the outcome of running one scenario file.
type RunResult struct {
	File    string       `json:"file"`
	Name    string       `json:"name"`
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Actions []string     `json:"actions"`
	Checks  []StepResult `json:"checks"`
}
