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
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultReloadDebounce   = 250 * time.Millisecond
	defaultReadRetryTimeout = 2 * time.Second

	// a syntax error usually means a writer is mid-flush, but a typo never heals
	maxParseAttempts = 3
)

var _ Source = (*FileSource)(nil)

// FileSource serves settings from a YAML file. The file is validated every time it is read and
// a reload that fails validation leaves the previously loaded settings in place.
type FileSource struct {
	path     string
	debounce time.Duration

	lock      sync.RWMutex
	current   *Settings
	listeners []func(*Settings)
}

// NewFromFile loads and validates the settings file at path. An invalid file fails here rather
// than when the engine first consults it.
func NewFromFile(path string) (*FileSource, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to resolve config file path (%s)", path)
	}

	source := &FileSource{
		path:     filepath.Clean(absPath),
		debounce: DefaultReloadDebounce,
	}

	settings, err := source.read(context.Background())
	if err != nil {
		return nil, err
	}
	source.current = settings
	return source, nil
}

func (self *FileSource) Path() string {
	return self.path
}

// Current returns the last successfully loaded settings.
func (self *FileSource) Current() *Settings {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return self.current
}

// OnReload registers a callback invoked with the new settings after each successful reload.
func (self *FileSource) OnReload(f func(*Settings)) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.listeners = append(self.listeners, f)
}

func (self *FileSource) GetEnum(key string) (string, error) {
	return self.Current().GetEnum(key)
}

func (self *FileSource) GetBool(key string) (bool, error) {
	return self.Current().GetBool(key)
}

func (self *FileSource) GetInt(key string) (int, error) {
	return self.Current().GetInt(key)
}

// Reload re-reads the file. On failure the previous settings stay current and the error is returned.
func (self *FileSource) Reload(ctx context.Context) error {
	settings, err := self.read(ctx)
	if err != nil {
		return err
	}

	self.lock.Lock()
	self.current = settings
	listeners := append([]func(*Settings){}, self.listeners...)
	self.lock.Unlock()

	for _, listener := range listeners {
		listener(settings)
	}
	return nil
}

func (self *FileSource) read(ctx context.Context) (*Settings, error) {
	var settings *Settings
	parseAttempts := 0

	operation := func() error {
		result, err := readSettingsFile(self.path)
		var syntaxErr *parseError
		if errors.As(err, &syntaxErr) {
			parseAttempts++
			if parseAttempts >= maxParseAttempts {
				return backoff.Permanent(err)
			}
		}
		if err != nil {
			return err
		}
		settings = result
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 25 * time.Millisecond
	expBackoff.MaxInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = defaultReadRetryTimeout

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, err
	}
	return settings, nil
}

func readSettingsFile(path string) (*Settings, error) {
	log := pfxlog.Logger().WithField("path", path)

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backoff.Permanent(errors.Wrapf(err, "config file (%s) is not found", path))
		}
		return nil, errors.Wrapf(err, "unable to resolve config file (%s)", path)
	}
	if resolved != path {
		log.Debugf("config file is a symlink to %s", resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backoff.Permanent(errors.Wrapf(err, "config file (%s) is not found", resolved))
		}
		return nil, errors.Wrapf(err, "unable to read config file (%s)", resolved)
	}

	raw := map[string]interface{}{}
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return nil, &parseError{path: resolved, cause: err}
	}

	settings, err := Decode(raw)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrapf(err, "config file (%s)", resolved))
	}
	return settings, nil
}

type parseError struct {
	path  string
	cause error
}

func (self *parseError) Error() string {
	return "unable to parse config file (" + self.path + "): " + self.cause.Error()
}

func (self *parseError) Unwrap() error {
	return self.cause
}

// Watch reloads the file whenever it changes on disk until ctx is done. Events are debounced
// so an editor's write-rename sequence produces a single reload.
func (self *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "unable to create config file watcher")
	}
	defer func() { _ = watcher.Close() }()

	// the directory is watched because editors commonly replace the file rather than write it
	if err = watcher.Add(filepath.Dir(self.path)); err != nil {
		return errors.Wrapf(err, "unable to watch config directory for (%s)", self.path)
	}

	log := pfxlog.Logger().WithField("path", self.path)
	log.Debug("watching config file for changes")

	var timer *time.Timer
	var debounce <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != self.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(self.debounce)
			} else {
				timer.Reset(self.debounce)
			}
			debounce = timer.C
		case <-debounce:
			debounce = nil
			if err := self.Reload(ctx); err != nil {
				log.WithError(err).Error("config reload failed, keeping previous settings")
			} else {
				log.Info("config reloaded")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("config watcher error")
		}
	}
}
