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

package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidValue is returned, wrapped, whenever a configuration value cannot be parsed.
var ErrInvalidValue = errors.New("invalid configuration value")

// DirectUnlockMode controls whether the challenge may be skipped when the session is not trust managed.
type DirectUnlockMode int

const (
	DirectUnlockOff DirectUnlockMode = iota
	DirectUnlockStandard
	DirectUnlockSeeThrough
)

var directUnlockModeNames = map[DirectUnlockMode]string{
	DirectUnlockOff:        "OFF",
	DirectUnlockStandard:   "STANDARD",
	DirectUnlockSeeThrough: "SEE_THROUGH",
}

func (self DirectUnlockMode) String() string {
	if name, ok := directUnlockModeNames[self]; ok {
		return name
	}
	return "DirectUnlockMode(" + strconv.Itoa(int(self)) + ")"
}

func (self DirectUnlockMode) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *DirectUnlockMode) UnmarshalText(text []byte) error {
	mode, err := ParseDirectUnlockMode(string(text))
	if err != nil {
		return err
	}
	*self = mode
	return nil
}

// ParseDirectUnlockMode parses OFF, STANDARD or SEE_THROUGH. Matching ignores case.
func ParseDirectUnlockMode(value string) (DirectUnlockMode, error) {
	for mode, name := range directUnlockModeNames {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return mode, nil
		}
	}
	return DirectUnlockOff, errors.Wrapf(ErrInvalidValue, "unknown direct unlock mode [%s]", value)
}

// UnlockPolicy gates a trigger against the notifications visible when it fires.
type UnlockPolicy int

const (
	// PolicyDefault always permits.
	PolicyDefault UnlockPolicy = iota
	// PolicyNotifNone permits only when no notification is visible.
	PolicyNotifNone
	// PolicyNotifOngoing permits only when no clearable notification is visible.
	PolicyNotifOngoing
)

var unlockPolicyNames = map[UnlockPolicy]string{
	PolicyDefault:      "DEFAULT",
	PolicyNotifNone:    "NOTIF_NONE",
	PolicyNotifOngoing: "NOTIF_ONGOING",
}

func (self UnlockPolicy) String() string {
	if name, ok := unlockPolicyNames[self]; ok {
		return name
	}
	return "UnlockPolicy(" + strconv.Itoa(int(self)) + ")"
}

func (self UnlockPolicy) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *UnlockPolicy) UnmarshalText(text []byte) error {
	policy, err := ParseUnlockPolicy(string(text))
	if err != nil {
		return err
	}
	*self = policy
	return nil
}

// ParseUnlockPolicy parses DEFAULT, NOTIF_NONE or NOTIF_ONGOING. Matching ignores case.
func ParseUnlockPolicy(value string) (UnlockPolicy, error) {
	for policy, name := range unlockPolicyNames {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return policy, nil
		}
	}
	return PolicyDefault, errors.Wrapf(ErrInvalidValue, "unknown unlock policy [%s]", value)
}
