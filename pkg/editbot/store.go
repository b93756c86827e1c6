// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package editbot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

// State is the persisted part of the bot configuration.
type State struct {
	AuditRoom    id.RoomID   `yaml:"audit_room"`
	IgnoredRooms []id.RoomID `yaml:"ignored_rooms"`
}

// StateStore loads and saves [State]. Implementations must make SaveState
// durable before returning.
type StateStore interface {
	LoadState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, state *State) error
}

// FileStateStore keeps the state in the audit_room and ignored_rooms keys of
// a YAML file, normally the bot's own config file. Saving rewrites only those
// keys and leaves the rest of the document, including comments, untouched.
type FileStateStore struct {
	Path string

	lock sync.Mutex
}

var _ StateStore = (*FileStateStore)(nil)

// NewFileStateStore creates a store backed by the YAML file at path.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{Path: path}
}

func (s *FileStateStore) LoadState(_ context.Context) (*State, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var raw struct {
		State `yaml:",inline"`

		LegacyEditRoom   id.RoomID   `yaml:"edit_room"`
		LegacyIgnorelist []id.RoomID `yaml:"ignorelist"`
	}
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	state := raw.State
	if state.AuditRoom == "" {
		state.AuditRoom = raw.LegacyEditRoom
	}
	if state.IgnoredRooms == nil {
		state.IgnoredRooms = raw.LegacyIgnorelist
	}
	return &state, nil
}

func (s *FileStateStore) SaveState(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	var doc yaml.Node
	data, err := os.ReadFile(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read state file: %w", err)
	} else if err = yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	root, err := documentMapping(&doc)
	if err != nil {
		return err
	}

	rooms := slices.Clone(state.IgnoredRooms)
	slices.Sort(rooms)
	roomsNode := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, roomID := range rooms {
		roomsNode.Content = append(roomsNode.Content, quotedScalar(string(roomID)))
	}
	setMappingValue(root, "audit_room", quotedScalar(string(state.AuditRoom)))
	setMappingValue(root, "ignored_rooms", roomsNode)
	deleteMappingKey(root, "edit_room")
	deleteMappingKey(root, "ignorelist")

	out, err := marshalYAML(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err = writeFileAtomic(s.Path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// documentMapping returns the top-level mapping of a YAML document, creating
// an empty one if the document is empty.
func documentMapping(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return nil, fmt.Errorf("unexpected YAML node kind %d at document root", doc.Kind)
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level of YAML document is not a mapping")
	}
	return root, nil
}

func quotedScalar(value string) *yaml.Node {
	// Room IDs start with ! which YAML would otherwise read as a tag.
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: yaml.DoubleQuotedStyle}
}

func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			old := mapping.Content[i+1]
			value.HeadComment, value.LineComment, value.FootComment = old.HeadComment, old.LineComment, old.FootComment
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

func deleteMappingKey(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = slices.Delete(mapping.Content, i, i+2)
			return true
		}
	}
	return false
}

func marshalYAML(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
