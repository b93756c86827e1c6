// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package editbot

import (
	"context"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-editbot/pkg/editbot/noticefmt"
)

const (
	// DisableCommand opts the room it is sent in out of edit relaying. It must
	// be the whole message body.
	DisableCommand = "!editbot_disable"

	reasonDisabled        = "Disabled editbot in this room"
	reasonAlreadyDisabled = "Already disabled"
)

// Handler classifies inbound Matrix events and routes them to the edit
// relay, the disable command or the silence reaction protocol.
type Handler struct {
	client   MatrixClient
	registry *Registry
	log      zerolog.Logger
}

// NewHandler creates a handler that posts through client and consults
// registry for the audit room and opted-out rooms.
func NewHandler(client MatrixClient, registry *Registry, log zerolog.Logger) *Handler {
	return &Handler{
		client:   client,
		registry: registry,
		log:      log,
	}
}

// HandleEvent processes a single event. All effects happen through the
// Matrix client and the registry; failures are logged and never returned.
func (h *Handler) HandleEvent(ctx context.Context, evt *event.Event) {
	log := h.log.With().
		Str("event_type", evt.Type.Type).
		Stringer("event_id", evt.ID).
		Stringer("room_id", evt.RoomID).
		Stringer("sender", evt.Sender).
		Logger()
	ctx = log.WithContext(ctx)

	switch evt.Type.Type {
	case event.EventReaction.Type:
		if evt.RoomID != h.registry.AuditRoom() {
			log.Trace().Msg("Ignoring reaction outside the audit room")
			return
		}
		h.handleSilenceReaction(ctx, evt)
	case event.EventMessage.Type:
		h.handleMessage(ctx, evt)
	default:
		log.Trace().Msg("Unhandled event type")
	}
}

func (h *Handler) handleMessage(ctx context.Context, evt *event.Event) {
	log := zerolog.Ctx(ctx)
	content := evt.Content.AsMessage()

	editTarget := content.RelatesTo.GetReplaceID()
	if editTarget == "" {
		if content.Body == DisableCommand {
			h.handleDisableCommand(ctx, evt)
		}
		return
	}
	if h.registry.IsOptedOut(evt.RoomID) {
		log.Debug().Msg("Skipping edit in opted-out room")
		return
	}
	h.relayEdit(ctx, evt, content, editTarget)
}

// relayEdit resolves the original message and posts the audit notice. Lookup
// failures only degrade the notice; they never abort it.
func (h *Handler) relayEdit(ctx context.Context, evt *event.Event, content *event.MessageEventContent, editTarget id.EventID) {
	log := zerolog.Ctx(ctx).With().Stringer("edit_target", editTarget).Logger()

	var original string
	origEvt, err := h.client.GetEvent(ctx, evt.RoomID, editTarget)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch original event")
	} else {
		if origEvt.Type.Type != event.EventMessage.Type {
			log.Warn().
				Str("original_type", origEvt.Type.Type).
				Msg("Original event is not a message, using raw body")
		}
		original = eventBody(origEvt)
	}

	// The notice shows the replacement content, not the "* " fallback body.
	newBody := content.Body
	if content.NewContent != nil && content.NewContent.Body != "" {
		newBody = content.NewContent.Body
	}

	notice := noticefmt.Format(noticefmt.EditNotice{
		Sender:     evt.Sender,
		SenderName: h.getDisplayName(ctx, evt.Sender),
		RoomID:     evt.RoomID,
		RoomName:   h.getRoomName(ctx, evt.RoomID),
		Original:   original,
		New:        newBody,
	})

	auditRoom := h.registry.AuditRoom()
	resp, err := h.client.SendNotice(ctx, auditRoom, notice)
	if err != nil {
		log.Err(err).Stringer("audit_room", auditRoom).Msg("Failed to send edit notice")
		return
	}
	log.Info().
		Stringer("audit_room", auditRoom).
		Stringer("notice_id", resp.EventID).
		Msg("Relayed edit notice")
}

// handleDisableCommand opts the room out and redacts the command message as
// acknowledgement. Nothing is redacted if persisting the change failed.
func (h *Handler) handleDisableCommand(ctx context.Context, evt *event.Event) {
	log := zerolog.Ctx(ctx)

	alreadyOptedOut, err := h.registry.Disable(ctx, evt.RoomID)
	if err != nil {
		log.Err(err).Msg("Failed to disable editbot in room")
		return
	}

	reason := reasonDisabled
	if alreadyOptedOut {
		reason = reasonAlreadyDisabled
	} else {
		log.Info().Msg("Disabled editbot in room via command")
	}
	_, err = h.client.RedactEvent(ctx, evt.RoomID, evt.ID, mautrix.ReqRedact{Reason: reason})
	if err != nil {
		log.Err(err).Str("reason", reason).Msg("Failed to redact disable command")
	}
}

// getDisplayName returns the sender's display name, falling back to the user
// ID if the profile can't be fetched.
func (h *Handler) getDisplayName(ctx context.Context, userID id.UserID) string {
	profile, err := h.client.GetProfile(ctx, userID)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Failed to fetch sender profile")
		return string(userID)
	}
	if profile == nil || profile.DisplayName == "" {
		return string(userID)
	}
	return profile.DisplayName
}

// getRoomName returns the m.room.name of the room, or an empty string if the
// room has no name or it can't be fetched.
func (h *Handler) getRoomName(ctx context.Context, roomID id.RoomID) string {
	var content event.RoomNameEventContent
	err := h.client.StateEvent(ctx, roomID, event.StateRoomName, "", &content)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Failed to fetch room name")
		return ""
	}
	return content.Name
}
