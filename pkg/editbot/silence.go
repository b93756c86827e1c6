// Copyright 2024-2026 Aiku AI

package editbot

import (
	"context"

	"github.com/rs/zerolog"
	"go.mau.fi/util/variationselector"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-editbot/pkg/editbot/noticefmt"
)

// SilenceReaction is the annotation key that silences the room referenced by
// the audit notice it is placed on.
const SilenceReaction = "\U0001F507"

// isSilenceReaction checks the relation of a reaction. Variation selectors
// are ignored since clients differ in whether they send them.
func isSilenceReaction(rel *event.RelatesTo) bool {
	return rel != nil &&
		rel.Type == event.RelAnnotation &&
		rel.EventID != "" &&
		variationselector.Remove(rel.Key) == SilenceReaction
}

// handleSilenceReaction opts out the room named in the reacted-to audit
// notice. Unlike the disable command this sends no acknowledgement.
func (h *Handler) handleSilenceReaction(ctx context.Context, evt *event.Event) {
	log := zerolog.Ctx(ctx)

	rel := &evt.Content.AsReaction().RelatesTo
	if !isSilenceReaction(rel) {
		log.Trace().Str("key", rel.Key).Msg("Ignoring non-silence reaction")
		return
	}

	target, err := h.client.GetEvent(ctx, evt.RoomID, rel.EventID)
	if err != nil {
		log.Warn().Err(err).
			Stringer("target_event_id", rel.EventID).
			Msg("Failed to fetch reacted-to event")
		return
	}

	roomID, ok := noticefmt.ParseRoomID(eventBody(target))
	if !ok {
		log.Warn().
			Stringer("target_event_id", rel.EventID).
			Msg("Reacted-to event does not reference a room")
		return
	}

	alreadyOptedOut, err := h.registry.Disable(ctx, roomID)
	if err != nil {
		log.Err(err).Stringer("target_room_id", roomID).Msg("Failed to disable editbot via reaction")
		return
	}
	log.Info().
		Stringer("target_room_id", roomID).
		Bool("already_disabled", alreadyOptedOut).
		Msg("Silenced room via reaction")
}
