// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package noticefmt renders edit audit notices and recovers the source room
// from a rendered notice.
//
// The room identifier is embedded in the first line as room_id: '<id>'. The
// silence reaction relies on reading it back, so the layout must not change.
package noticefmt

import (
	"regexp"
	"strings"

	"maunium.net/go/mautrix/id"
)

// Separator terminates every notice.
const Separator = "----------------------------------------"

var roomIDRe = regexp.MustCompile(`room_id: '([^']*)'$`)

// headerLine flattens names so the header stays on a single line.
var headerLine = strings.NewReplacer("\r", " ", "\n", " ")

// EditNotice holds everything needed to render one audit notice.
type EditNotice struct {
	Sender     id.UserID
	SenderName string
	RoomID     id.RoomID
	// RoomName is optional. When empty the room clause is left out and only
	// the room_id remains.
	RoomName string
	Original string
	New      string
}

// Format renders the notice. It is deterministic and has no side effects.
// Line breaks in the sender and room names are replaced with spaces.
func Format(n EditNotice) string {
	var sb strings.Builder
	sb.WriteString(">  Message edited by ")
	sb.WriteString(headerLine.Replace(n.SenderName))
	sb.WriteString(" (")
	sb.WriteString(headerLine.Replace(string(n.Sender)))
	sb.WriteString(") in ")
	if n.RoomName != "" {
		sb.WriteString("room ")
		sb.WriteString(headerLine.Replace(n.RoomName))
		sb.WriteString(". ")
	}
	sb.WriteString("room_id: '")
	sb.WriteString(string(n.RoomID))
	sb.WriteString("'\n\n")

	sb.WriteString(">  Original message:\n")
	sb.WriteString(n.Original)
	sb.WriteString("\n\n")

	sb.WriteString(">  New message:\n")
	sb.WriteString(n.New)
	sb.WriteString("\n")
	sb.WriteString(Separator)
	sb.WriteString("\n\n")
	return sb.String()
}

// ParseRoomID extracts the room identifier from a rendered notice.
//
// Only the header line is searched and the match must close the line. The
// sender and room names come before room_id, so a name containing the
// literal cannot redirect the result.
func ParseRoomID(text string) (id.RoomID, bool) {
	header, _, _ := strings.Cut(text, "\n")
	match := roomIDRe.FindStringSubmatch(header)
	if match == nil || match[1] == "" {
		return "", false
	}
	return id.RoomID(match[1]), true
}
