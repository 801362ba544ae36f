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
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	KeyDirectUnlock       = "direct_unlock"
	KeyDirectUnlockPolicy = "direct_unlock_policy"
	KeySmartUnlock        = "smart_unlock"
	KeySmartUnlockPolicy  = "smart_unlock_policy"
	KeyQuickUnlock        = "quick_unlock"
	KeyPinLength          = "pin_length"

	DefaultPinLength = 4
)

// ErrKeyNotFound is returned by a Source when a key has no value. Load substitutes the default.
var ErrKeyNotFound = errors.New("configuration key not found")

// Source is the keyed view of wherever unlock settings are persisted.
type Source interface {
	GetEnum(key string) (string, error)
	GetBool(key string) (bool, error)
	GetInt(key string) (int, error)
}

// Settings is one validated, immutable read of all unlock settings. The engine caches
// one instance per wake cycle.
type Settings struct {
	DirectUnlock       DirectUnlockMode `mapstructure:"direct_unlock" yaml:"direct_unlock" json:"directUnlock"`
	DirectUnlockPolicy UnlockPolicy     `mapstructure:"direct_unlock_policy" yaml:"direct_unlock_policy" json:"directUnlockPolicy"`
	SmartUnlock        bool             `mapstructure:"smart_unlock" yaml:"smart_unlock" json:"smartUnlock"`
	SmartUnlockPolicy  UnlockPolicy     `mapstructure:"smart_unlock_policy" yaml:"smart_unlock_policy" json:"smartUnlockPolicy"`
	QuickUnlock        bool             `mapstructure:"quick_unlock" yaml:"quick_unlock" json:"quickUnlock"`
	PinLength          int              `mapstructure:"pin_length" yaml:"pin_length" json:"pinLength"`
}

func DefaultSettings() *Settings {
	return &Settings{
		DirectUnlock:       DirectUnlockOff,
		DirectUnlockPolicy: PolicyDefault,
		SmartUnlock:        false,
		SmartUnlockPolicy:  PolicyDefault,
		QuickUnlock:        false,
		PinLength:          DefaultPinLength,
	}
}

func (self *Settings) Validate() error {
	if _, ok := directUnlockModeNames[self.DirectUnlock]; !ok {
		return errors.Wrapf(ErrInvalidValue, "%s: %v", KeyDirectUnlock, self.DirectUnlock)
	}
	if _, ok := unlockPolicyNames[self.DirectUnlockPolicy]; !ok {
		return errors.Wrapf(ErrInvalidValue, "%s: %v", KeyDirectUnlockPolicy, self.DirectUnlockPolicy)
	}
	if _, ok := unlockPolicyNames[self.SmartUnlockPolicy]; !ok {
		return errors.Wrapf(ErrInvalidValue, "%s: %v", KeySmartUnlockPolicy, self.SmartUnlockPolicy)
	}
	if self.PinLength < 1 {
		return errors.Wrapf(ErrInvalidValue, "%s must be positive, got %d", KeyPinLength, self.PinLength)
	}
	return nil
}

// Settings is itself a Source, which lets a validated snapshot stand in wherever a source is expected.
func (self *Settings) GetEnum(key string) (string, error) {
	switch key {
	case KeyDirectUnlock:
		return self.DirectUnlock.String(), nil
	case KeyDirectUnlockPolicy:
		return self.DirectUnlockPolicy.String(), nil
	case KeySmartUnlockPolicy:
		return self.SmartUnlockPolicy.String(), nil
	}
	return "", errors.Wrapf(ErrKeyNotFound, "enum [%s]", key)
}

func (self *Settings) GetBool(key string) (bool, error) {
	switch key {
	case KeySmartUnlock:
		return self.SmartUnlock, nil
	case KeyQuickUnlock:
		return self.QuickUnlock, nil
	}
	return false, errors.Wrapf(ErrKeyNotFound, "bool [%s]", key)
}

func (self *Settings) GetInt(key string) (int, error) {
	if key == KeyPinLength {
		return self.PinLength, nil
	}
	return 0, errors.Wrapf(ErrKeyNotFound, "int [%s]", key)
}

// Load reads every unlock key from src. Missing keys take their defaults; a value that
// does not parse fails the whole load so a corrupt setting never surfaces mid-cycle.
func Load(src Source) (*Settings, error) {
	if src == nil {
		return nil, errors.New("configuration source must not be nil")
	}
	settings := DefaultSettings()

	if err := loadEnum(src, KeyDirectUnlock, func(v string) (err error) {
		settings.DirectUnlock, err = ParseDirectUnlockMode(v)
		return
	}); err != nil {
		return nil, err
	}
	if err := loadEnum(src, KeyDirectUnlockPolicy, func(v string) (err error) {
		settings.DirectUnlockPolicy, err = ParseUnlockPolicy(v)
		return
	}); err != nil {
		return nil, err
	}
	if err := loadEnum(src, KeySmartUnlockPolicy, func(v string) (err error) {
		settings.SmartUnlockPolicy, err = ParseUnlockPolicy(v)
		return
	}); err != nil {
		return nil, err
	}

	var err error
	if settings.SmartUnlock, err = loadBool(src, KeySmartUnlock, settings.SmartUnlock); err != nil {
		return nil, err
	}
	if settings.QuickUnlock, err = loadBool(src, KeyQuickUnlock, settings.QuickUnlock); err != nil {
		return nil, err
	}
	if v, err := src.GetInt(KeyPinLength); err == nil {
		settings.PinLength = v
	} else if !errors.Is(err, ErrKeyNotFound) {
		return nil, errors.Wrapf(err, "unable to read [%s]", KeyPinLength)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func loadEnum(src Source, key string, parse func(string) error) error {
	v, err := src.GetEnum(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unable to read [%s]", key)
	}
	if err = parse(v); err != nil {
		return errors.Wrapf(err, "key [%s]", key)
	}
	return nil
}

func loadBool(src Source, key string, def bool) (bool, error) {
	v, err := src.GetBool(key)
	if errors.Is(err, ErrKeyNotFound) {
		return def, nil
	}
	if err != nil {
		return def, errors.Wrapf(err, "unable to read [%s]", key)
	}
	return v, nil
}

// Decode converts a loosely typed document, such as parsed YAML, into validated Settings.
// Enum values go through their text unmarshallers, so an unknown value fails here.
func Decode(raw map[string]interface{}) (*Settings, error) {
	settings := DefaultSettings()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           settings,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to setup decoder for unlock settings")
	}
	if err = decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	if err = settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// MapSource serves keys from an in-memory map. Values are weakly typed: "true", 1 and true
// are all accepted for a bool key.
type MapSource map[string]interface{}

func (self MapSource) GetEnum(key string) (string, error) {
	v, found := self[key]
	if !found || v == nil {
		return "", errors.Wrapf(ErrKeyNotFound, "enum [%s]", key)
	}
	var result string
	if err := mapstructure.WeakDecode(v, &result); err != nil {
		return "", errors.Wrapf(ErrInvalidValue, "enum [%s]: %v", key, err)
	}
	return result, nil
}

func (self MapSource) GetBool(key string) (bool, error) {
	v, found := self[key]
	if !found || v == nil {
		return false, errors.Wrapf(ErrKeyNotFound, "bool [%s]", key)
	}
	var result bool
	if err := mapstructure.WeakDecode(v, &result); err != nil {
		return false, errors.Wrapf(ErrInvalidValue, "bool [%s]: %v", key, err)
	}
	return result, nil
}

func (self MapSource) GetInt(key string) (int, error) {
	v, found := self[key]
	if !found || v == nil {
		return 0, errors.Wrapf(ErrKeyNotFound, "int [%s]", key)
	}
	var result int
	if err := mapstructure.WeakDecode(v, &result); err != nil {
		return 0, errors.Wrapf(ErrInvalidValue, "int [%s]: %v", key, err)
	}
	return result, nil
}
