// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package editbot implements a Matrix bot that relays message edits into an
// audit room.
//
// Every m.replace edit seen in a joined room is resolved against the event it
// supersedes, and a notice containing both versions is posted to the
// configured audit room. Rooms can opt out of relaying, after which their
// edits are never reported again.
//
// # Core Types
//
// [Handler] classifies inbound events and routes them to the edit relay, the
// in-room disable command or the silence reaction protocol.
//
// [Registry] holds the audit room and the set of opted-out rooms. It is
// loaded from a [StateStore] once and persisted synchronously after every
// change. [FileStateStore] keeps that state inside the YAML config file.
//
// [Bot] wires a mautrix client, the sync loop, the [SQLSyncStore] and the
// optional [AdminAPI] together.
//
// # Opting Out
//
// There are two ways to silence a room, and they intentionally differ in how
// they acknowledge:
//
//   - Sending !editbot_disable in the room. The command message is redacted
//     as acknowledgement.
//   - Reacting with 🔇 to an audit notice in the audit room. The room ID is
//     read back from the notice text and no acknowledgement is sent.
//
// Opting out is one-way. There is no command to re-enable a room; remove it
// from ignored_rooms in the config and reload instead.
//
// # Sub-packages
//
//   - noticefmt renders audit notices and parses the room ID back out.
package editbot
