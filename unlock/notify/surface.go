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

// Package notify models the notification surface consulted by unlock policies.
package notify

import (
	"sync/atomic"

	"github.com/emirpasic/gods/utils"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
)

// Notification is one entry of the notification surface at the moment a snapshot was taken.
type Notification struct {
	Key       string `json:"key" yaml:"key"`
	Visible   bool   `json:"visible" yaml:"visible"`
	Clearable bool   `json:"clearable" yaml:"clearable"`
}

// Snapshot is the ordered list of notifications. Only notification rows belong in it;
// hosts filter out shelves, headers and other non-notification elements.
type Snapshot []Notification

func (self Snapshot) VisibleCount() int {
	count := 0
	for _, n := range self {
		if n.Visible {
			count++
		}
	}
	return count
}

func (self Snapshot) VisibleClearableCount() int {
	count := 0
	for _, n := range self {
		if n.Visible && n.Clearable {
			count++
		}
	}
	return count
}

// Surface provides live snapshots. Snapshot may fail, for example when the host UI is not attached yet.
type Surface interface {
	Snapshot() (Snapshot, error)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func() (Snapshot, error)

func (f SurfaceFunc) Snapshot() (Snapshot, error) {
	return f()
}

// ErrDetached is returned by a Board that has been detached from its host.
var ErrDetached = errors.New("notification surface is detached")

type boardEntry struct {
	seq          uint64
	notification Notification
}

var _ Surface = (*Board)(nil)

// Board is a Surface that hosts update from any goroutine.
type Board struct {
	entries  cmap.ConcurrentMap[string, boardEntry]
	seq      atomic.Uint64
	detached atomic.Bool
}

func NewBoard() *Board {
	return &Board{
		entries: cmap.New[boardEntry](),
	}
}

// Post adds or replaces a visible notification. A replaced notification keeps its position.
func (self *Board) Post(key string, clearable bool) {
	self.entries.Upsert(key, boardEntry{}, func(exist bool, valueInMap boardEntry, _ boardEntry) boardEntry {
		seq := valueInMap.seq
		if !exist {
			seq = self.seq.Add(1)
		}
		return boardEntry{
			seq: seq,
			notification: Notification{
				Key:       key,
				Visible:   true,
				Clearable: clearable,
			},
		}
	})
}

// SetVisible changes the visibility of an existing notification. It returns false if key is unknown.
func (self *Board) SetVisible(key string, visible bool) bool {
	found := false
	self.entries.Upsert(key, boardEntry{}, func(exist bool, valueInMap boardEntry, _ boardEntry) boardEntry {
		if !exist {
			return valueInMap
		}
		found = true
		valueInMap.notification.Visible = visible
		return valueInMap
	})
	if !found {
		// only drop the zero-seq placeholder, never an entry posted concurrently
		self.entries.RemoveCb(key, func(_ string, v boardEntry, exists bool) bool {
			return exists && v.seq == 0
		})
	}
	return found
}

func (self *Board) Remove(key string) {
	self.entries.Remove(key)
}

func (self *Board) Clear() {
	self.entries.Clear()
}

func (self *Board) Count() int {
	return self.entries.Count()
}

// Detach makes subsequent snapshots fail until Attach is called.
func (self *Board) Detach() {
	self.detached.Store(true)
}

func (self *Board) Attach() {
	self.detached.Store(false)
}

func byPostOrder(a, b interface{}) int {
	return utils.UInt64Comparator(a.(boardEntry).seq, b.(boardEntry).seq)
}

func (self *Board) Snapshot() (Snapshot, error) {
	if self.detached.Load() {
		return nil, ErrDetached
	}

	var entries []interface{}
	self.entries.IterCb(func(_ string, entry boardEntry) {
		entries = append(entries, entry)
	})
	utils.Sort(entries, byPostOrder)

	result := make(Snapshot, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.(boardEntry).notification)
	}
	return result, nil
}
