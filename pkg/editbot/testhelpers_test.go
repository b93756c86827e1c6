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
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	testAuditRoom   id.RoomID = "!edit_room:example.com"
	testIgnoredRoom id.RoomID = "!ignored:example.com"
	testRoom        id.RoomID = "!test_room:example.com"
	testSender      id.UserID = "@user:example.com"
)

var errFake = errors.New("fake error")

type getEventCall struct {
	RoomID  id.RoomID
	EventID id.EventID
}

type noticeCall struct {
	RoomID id.RoomID
	Text   string
}

type redactCall struct {
	RoomID  id.RoomID
	EventID id.EventID
	Reason  string
}

// mockClient implements MatrixClient with canned responses and records calls
// for test assertions.
type mockClient struct {
	mu sync.Mutex

	// Events maps event ID to the event returned by GetEvent.
	Events map[id.EventID]*event.Event
	// Profiles maps user ID to display name.
	Profiles map[id.UserID]string
	// RoomNames maps room ID to m.room.name.
	RoomNames map[id.RoomID]string

	GetEventErr error
	ProfileErr  error
	SendErr     error
	RedactErr   error

	getEventCalls []getEventCall
	notices       []noticeCall
	redactions    []redactCall
}

var _ MatrixClient = (*mockClient)(nil)

func newMockClient() *mockClient {
	return &mockClient{
		Events:    make(map[id.EventID]*event.Event),
		Profiles:  make(map[id.UserID]string),
		RoomNames: make(map[id.RoomID]string),
	}
}

func (m *mockClient) GetEvent(_ context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getEventCalls = append(m.getEventCalls, getEventCall{RoomID: roomID, EventID: eventID})
	if m.GetEventErr != nil {
		return nil, m.GetEventErr
	}
	evt, ok := m.Events[eventID]
	if !ok {
		return nil, fmt.Errorf("M_NOT_FOUND: event %s not found", eventID)
	}
	return evt, nil
}

func (m *mockClient) SendNotice(_ context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	m.notices = append(m.notices, noticeCall{RoomID: roomID, Text: text})
	return &mautrix.RespSendEvent{EventID: id.EventID(fmt.Sprintf("$notice%d", len(m.notices)))}, nil
}

func (m *mockClient) GetProfile(_ context.Context, mxid id.UserID) (*mautrix.RespUserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProfileErr != nil {
		return nil, m.ProfileErr
	}
	return &mautrix.RespUserProfile{DisplayName: m.Profiles[mxid]}, nil
}

func (m *mockClient) StateEvent(_ context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eventType != event.StateRoomName || stateKey != "" {
		return fmt.Errorf("unexpected state event request %s/%q", eventType.Type, stateKey)
	}
	name, ok := m.RoomNames[roomID]
	if !ok {
		return fmt.Errorf("M_NOT_FOUND: room %s has no name", roomID)
	}
	outContent.(*event.RoomNameEventContent).Name = name
	return nil
}

func (m *mockClient) RedactEvent(_ context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RedactErr != nil {
		return nil, m.RedactErr
	}
	call := redactCall{RoomID: roomID, EventID: eventID}
	if len(extra) > 0 {
		call.Reason = extra[0].Reason
	}
	m.redactions = append(m.redactions, call)
	return &mautrix.RespSendEvent{EventID: "$redaction"}, nil
}

func (m *mockClient) GetEventCalls() []getEventCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.getEventCalls)
}

func (m *mockClient) Notices() []noticeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notices)
}

func (m *mockClient) Redactions() []redactCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.redactions)
}

// memStateStore is an in-memory StateStore that counts saves.
type memStateStore struct {
	mu      sync.Mutex
	state   State
	saves   int
	SaveErr error
	LoadErr error
}

var _ StateStore = (*memStateStore)(nil)

func newMemStateStore(auditRoom id.RoomID, ignored ...id.RoomID) *memStateStore {
	return &memStateStore{state: State{AuditRoom: auditRoom, IgnoredRooms: ignored}}
}

func (s *memStateStore) LoadState(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return &State{AuditRoom: s.state.AuditRoom, IgnoredRooms: slices.Clone(s.state.IgnoredRooms)}, nil
}

func (s *memStateStore) SaveState(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.saves++
	s.state = State{AuditRoom: state.AuditRoom, IgnoredRooms: slices.Clone(state.IgnoredRooms)}
	return nil
}

func (s *memStateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStateStore) Saved() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{AuditRoom: s.state.AuditRoom, IgnoredRooms: slices.Clone(s.state.IgnoredRooms)}
}

func (s *memStateStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveErr = err
}

// newTestRegistry creates a loaded registry backed by an in-memory store.
func newTestRegistry(t *testing.T, ignored ...id.RoomID) (*Registry, *memStateStore) {
	t.Helper()
	store := newMemStateStore(testAuditRoom, ignored...)
	reg := NewRegistry(store)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg, store
}

// newTestHandler creates a handler with a mock client and a registry
// containing testIgnoredRoom.
func newTestHandler(t *testing.T) (*Handler, *mockClient, *memStateStore) {
	t.Helper()
	client := newMockClient()
	reg, store := newTestRegistry(t, testIgnoredRoom)
	return NewHandler(client, reg, zerolog.Nop()), client, store
}

func makeMessageEvent(roomID id.RoomID, sender id.UserID, evtID id.EventID, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		Type:    event.EventMessage,
		ID:      evtID,
		RoomID:  roomID,
		Sender:  sender,
		Content: event.Content{Parsed: content},
	}
}

func makeEditEvent(roomID id.RoomID, sender id.UserID, body string, target id.EventID) *event.Event {
	return makeMessageEvent(roomID, sender, "$edit", &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
		RelatesTo: &event.RelatesTo{
			Type:    event.RelReplace,
			EventID: target,
		},
	})
}

func makeReactionEvent(roomID id.RoomID, relType event.RelationType, target id.EventID, key string) *event.Event {
	return &event.Event{
		Type:   event.EventReaction,
		ID:     "$reaction",
		RoomID: roomID,
		Sender: "@operator:example.com",
		Content: event.Content{Parsed: &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{
				Type:    relType,
				EventID: target,
				Key:     key,
			},
		}},
	}
}

// rawEvent builds an event the way GetEvent returns it: unparsed, with only
// Raw content populated.
func rawEvent(evtType event.Type, roomID id.RoomID, evtID id.EventID, raw map[string]any) *event.Event {
	return &event.Event{
		Type:    evtType,
		ID:      evtID,
		RoomID:  roomID,
		Content: event.Content{Raw: raw},
	}
}
