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
	"fmt"
	"time"
)

// TriggerKind identifies a delayed unlock action. At most one trigger of each kind is pending.
type TriggerKind int

const (
	// TriggerSmart dismisses the challenge once a trust agent has relaxed the session.
	TriggerSmart TriggerKind = iota + 1
	// TriggerDirect skips past the lock screen of a session that is not trust managed.
	TriggerDirect
)

var triggerKinds = []TriggerKind{TriggerSmart, TriggerDirect}

func (self TriggerKind) String() string {
	switch self {
	case TriggerSmart:
		return "smart"
	case TriggerDirect:
		return "direct"
	}
	return fmt.Sprintf("TriggerKind(%d)", int(self))
}

func (self TriggerKind) valid() bool {
	return self == TriggerSmart || self == TriggerDirect
}

// Phase is the lifecycle phase of the current wake cycle.
type Phase int

const (
	PhaseUnlocked Phase = iota
	PhaseAsleep
	PhaseWakingSecured
	PhaseWakingTrustManaged
)

func (self Phase) String() string {
	switch self {
	case PhaseUnlocked:
		return "unlocked"
	case PhaseAsleep:
		return "asleep"
	case PhaseWakingSecured:
		return "waking-secured"
	case PhaseWakingTrustManaged:
		return "waking-trust-managed"
	}
	return fmt.Sprintf("Phase(%d)", int(self))
}

// LifecycleState is the security state of the device as last reported by the host.
type LifecycleState struct {
	Interactive  bool `json:"interactive" yaml:"interactive"`
	Secured      bool `json:"secured" yaml:"secured"`
	TrustManaged bool `json:"trustManaged" yaml:"trust_managed"`
	// Insecure is true when the challenge is currently not required, e.g. a trust agent unlocked it.
	Insecure  bool `json:"insecure" yaml:"insecure"`
	Showing   bool `json:"showing" yaml:"showing"`
	SessionID int  `json:"sessionId" yaml:"session_id"`
}

// Action is an unlock action performed against the host.
type Action int

const (
	ActionHideContent Action = iota + 1
	ActionRevealChallenge
	ActionDismissChallenge
)

func (self Action) String() string {
	switch self {
	case ActionHideContent:
		return "hide_content"
	case ActionRevealChallenge:
		return "reveal_challenge"
	case ActionDismissChallenge:
		return "dismiss_challenge"
	}
	return fmt.Sprintf("Action(%d)", int(self))
}

// ActionSink performs unlock actions on the host. Calls are made from the engine loop and
// are fire-and-forget; implementations must not block.
type ActionSink interface {
	HideContent()
	RevealChallenge()
	DismissChallenge()
}

// CredentialVerifier is the host's existing credential check. It is called from a worker
// goroutine, never from the engine loop.
type CredentialVerifier interface {
	CheckCredential(ctx context.Context, candidate string, sessionID int) (bool, error)
}

// CompletionSink finishes an unlock after a successful precheck. It is only called from the engine loop.
type CompletionSink interface {
	ReportUnlockAttempt(sessionID int, success bool)
	Dismiss(sessionID int)
}

// CredentialCheck is one speculative verification request. The candidate never leaves the
// engine except through the CredentialVerifier.
type CredentialCheck struct {
	Id             string
	Candidate      string
	ExpectedLength int
	SessionID      int
	CreatedAt      time.Time
}

func (self *CredentialCheck) String() string {
	return fmt.Sprintf("check[%s] session %d", self.Id, self.SessionID)
}
