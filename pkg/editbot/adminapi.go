// Copyright 2024-2026 Aiku AI

package editbot

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// maxAdminBodySize is the maximum allowed request body for admin endpoints (1 MB).
const maxAdminBodySize = 1 << 20

// AdminAPI serves the HTTP endpoints for inspecting and changing the
// opt-out registry:
//
//	GET  /api/ignored-rooms  list the audit room and opted-out rooms
//	POST /api/ignored-rooms  opt out {"room_id": "..."}
//	POST /api/reload         reload the registry from the state store
type AdminAPI struct {
	registry *Registry
	log      zerolog.Logger
}

// NewAdminAPI creates the admin API for the given registry.
func NewAdminAPI(registry *Registry, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{registry: registry, log: log}
}

// Handler returns the routed HTTP handler.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ignored-rooms", a.HandleIgnoredRooms)
	mux.HandleFunc("/api/reload", a.HandleReload)
	return mux
}

type ignoredRoomsResponse struct {
	AuditRoom    id.RoomID   `json:"audit_room"`
	IgnoredRooms []id.RoomID `json:"ignored_rooms"`
}

type disableRequest struct {
	RoomID id.RoomID `json:"room_id"`
}

type disableResponse struct {
	RoomID          id.RoomID `json:"room_id"`
	AlreadyDisabled bool      `json:"already_disabled"`
}

type reloadResponse struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

// HandleIgnoredRooms lists opted-out rooms on GET and opts a room out on POST.
func (a *AdminAPI) HandleIgnoredRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rooms := a.registry.Rooms()
		if rooms == nil {
			rooms = []id.RoomID{}
		}
		a.writeJSON(w, http.StatusOK, ignoredRoomsResponse{
			AuditRoom:    a.registry.AuditRoom(),
			IgnoredRooms: rooms,
		})
	case http.MethodPost:
		a.handleDisable(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *AdminAPI) handleDisable(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
		}
		return
	}
	var req disableRequest
	if err = json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	log := a.log.With().
		Str("remote_addr", r.RemoteAddr).
		Stringer("room_id", req.RoomID).
		Logger()
	alreadyOptedOut, err := a.registry.Disable(r.Context(), req.RoomID)
	if err != nil {
		log.Err(err).Msg("Failed to disable room via admin API")
		http.Error(w, "failed to persist ignored rooms", http.StatusInternalServerError)
		return
	}
	log.Info().Bool("already_disabled", alreadyOptedOut).Msg("Disabled room via admin API")
	a.writeJSON(w, http.StatusOK, disableResponse{RoomID: req.RoomID, AlreadyDisabled: alreadyOptedOut})
}

// HandleReload is an HTTP handler for POST /api/reload. It re-reads the
// state store, picking up manual edits to ignored_rooms.
func (a *AdminAPI) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Registry reload requested")

	added, removed, err := a.registry.Reload(r.Context())
	if err != nil {
		a.log.Err(err).Msg("Registry reload failed")
		http.Error(w, "reload failed", http.StatusInternalServerError)
		return
	}
	resp := reloadResponse{
		Added:   added,
		Removed: removed,
		Total:   len(a.registry.Rooms()),
	}
	a.log.Info().
		Int("added", added).
		Int("removed", removed).
		Int("total", resp.Total).
		Msg("Registry reload complete")
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}
