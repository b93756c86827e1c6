// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package editbot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.mau.fi/util/exsync"
	"maunium.net/go/mautrix/id"
)

// ErrNoAuditRoom is returned when the loaded state has no audit room.
var ErrNoAuditRoom = errors.New("audit room is not configured")

// registrySnapshot is one loaded generation of the state. Reload swaps the
// whole snapshot so readers never see a half-replaced set.
type registrySnapshot struct {
	auditRoom id.RoomID
	ignored   *exsync.Set[id.RoomID]
}

// Registry holds the audit room and the set of rooms that opted out of edit
// relaying. Membership checks are lock-free; mutations are serialized,
// persisted to the [StateStore] and only then published.
type Registry struct {
	store StateStore

	writeLock sync.Mutex
	current   atomic.Pointer[registrySnapshot]
}

// NewRegistry creates an empty registry. Call Load before use.
func NewRegistry(store StateStore) *Registry {
	r := &Registry{store: store}
	r.current.Store(&registrySnapshot{ignored: exsync.NewSet[id.RoomID]()})
	return r
}

// Load reads the state from the store and replaces the in-memory registry.
func (r *Registry) Load(ctx context.Context) error {
	_, _, err := r.Reload(ctx)
	return err
}

// Reload re-reads the state from the store. On error the previous state is
// kept. Returns how many rooms were added to and removed from the set.
func (r *Registry) Reload(ctx context.Context) (added, removed int, err error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	state, err := r.store.LoadState(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load state: %w", err)
	}
	if state.AuditRoom == "" {
		return 0, 0, ErrNoAuditRoom
	}

	next := &registrySnapshot{
		auditRoom: state.AuditRoom,
		ignored:   exsync.NewSet[id.RoomID](),
	}
	for _, roomID := range state.IgnoredRooms {
		next.ignored.Add(roomID)
	}

	prev := r.current.Load()
	for _, roomID := range next.ignored.AsList() {
		if !prev.ignored.Has(roomID) {
			added++
		}
	}
	for _, roomID := range prev.ignored.AsList() {
		if !next.ignored.Has(roomID) {
			removed++
		}
	}
	r.current.Store(next)
	return added, removed, nil
}

// AuditRoom returns the room that receives edit notices.
func (r *Registry) AuditRoom() id.RoomID {
	return r.current.Load().auditRoom
}

// IsOptedOut reports whether edits in the given room must not be relayed.
func (r *Registry) IsOptedOut(roomID id.RoomID) bool {
	return r.current.Load().ignored.Has(roomID)
}

// Rooms returns the opted-out rooms in sorted order.
func (r *Registry) Rooms() []id.RoomID {
	rooms := r.current.Load().ignored.AsList()
	slices.Sort(rooms)
	return rooms
}

// Disable opts a room out of edit relaying. It is idempotent: if the room is
// already opted out nothing is written and alreadyOptedOut is true.
//
// A newly added room only becomes visible to IsOptedOut once it has been
// persisted. If persisting fails the registry is unchanged and the error is
// returned, so the caller must not acknowledge the request.
func (r *Registry) Disable(ctx context.Context, roomID id.RoomID) (alreadyOptedOut bool, err error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	prev := r.current.Load()
	if prev.ignored.Has(roomID) {
		return true, nil
	}
	next := &registrySnapshot{
		auditRoom: prev.auditRoom,
		ignored:   exsync.NewSet[id.RoomID](),
	}
	for _, existing := range prev.ignored.AsList() {
		next.ignored.Add(existing)
	}
	next.ignored.Add(roomID)
	if err = r.store.SaveState(ctx, next.state()); err != nil {
		return false, fmt.Errorf("failed to persist ignored rooms: %w", err)
	}
	r.current.Store(next)
	return false, nil
}

func (s *registrySnapshot) state() *State {
	rooms := s.ignored.AsList()
	slices.Sort(rooms)
	return &State{
		AuditRoom:    s.auditRoom,
		IgnoredRooms: rooms,
	}
}
