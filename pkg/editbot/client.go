// Copyright 2024-2026 Aiku AI

package editbot

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixClient is the subset of the Matrix client API the handler needs. It
// is satisfied by *mautrix.Client and allows tests to inject a mock.
type MatrixClient interface {
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)
	SendNotice(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	GetProfile(ctx context.Context, mxid id.UserID) (*mautrix.RespUserProfile, error)
	StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent interface{}) error
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
}

var _ MatrixClient = (*mautrix.Client)(nil)

// eventBody returns the plain text body of an event. Events fetched over the
// client API are not parsed, so the raw content is used as a fallback.
func eventBody(evt *event.Event) string {
	if evt == nil {
		return ""
	}
	if msg, ok := evt.Content.Parsed.(*event.MessageEventContent); ok {
		return msg.Body
	}
	body, _ := evt.Content.Raw["body"].(string)
	return body
}
