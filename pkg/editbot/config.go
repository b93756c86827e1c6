// Copyright 2024-2026 Aiku AI

package editbot

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

const defaultEventTimeout = 30 * time.Second

// HomeserverConfig holds the bot account's connection details.
type HomeserverConfig struct {
	Address     string      `yaml:"address"`
	UserID      id.UserID   `yaml:"user_id"`
	AccessToken string      `yaml:"access_token"`
	DeviceID    id.DeviceID `yaml:"device_id"`
}

// Config holds the editbot configuration.
type Config struct {
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// AuditRoom and IgnoredRooms are owned by the [Registry] at runtime. They
	// are decoded here only for validation; the registry reads and writes
	// them through a [FileStateStore] on the same file.
	AuditRoom    id.RoomID   `yaml:"audit_room"`
	IgnoredRooms []id.RoomID `yaml:"ignored_rooms"`

	Database     string `yaml:"database"`
	AdminAPIAddr string `yaml:"admin_api_addr"`
	// EventTimeout is in seconds. Zero or negative uses the default.
	EventTimeout int `yaml:"event_timeout"`

	Logging zeroconfig.Config `yaml:"logging"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// GetEventTimeout returns the per-event handling deadline.
func (c *Config) GetEventTimeout() time.Duration {
	if c.EventTimeout <= 0 {
		return defaultEventTimeout
	}
	return time.Duration(c.EventTimeout) * time.Second
}

// ApplyEnv overrides homeserver credentials from EDITBOT_* environment
// variables, so secrets don't have to live in the config file.
func (c *Config) ApplyEnv() {
	if val := os.Getenv("EDITBOT_HOMESERVER"); val != "" {
		c.Homeserver.Address = val
	}
	if val := os.Getenv("EDITBOT_USER_ID"); val != "" {
		c.Homeserver.UserID = id.UserID(val)
	}
	if val := os.Getenv("EDITBOT_ACCESS_TOKEN"); val != "" {
		c.Homeserver.AccessToken = val
	}
	if val := os.Getenv("EDITBOT_DEVICE_ID"); val != "" {
		c.Homeserver.DeviceID = id.DeviceID(val)
	}
}

// Validate checks that the fields required to start are present.
func (c *Config) Validate() error {
	var errs []error
	if c.Homeserver.Address == "" {
		errs = append(errs, errors.New("homeserver.address is required"))
	}
	if c.Homeserver.UserID == "" {
		errs = append(errs, errors.New("homeserver.user_id is required"))
	} else if _, _, err := c.Homeserver.UserID.Parse(); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.user_id is invalid: %w", err))
	}
	if c.Homeserver.AccessToken == "" {
		errs = append(errs, errors.New("homeserver.access_token is required"))
	}
	if c.AuditRoom == "" {
		errs = append(errs, ErrNoAuditRoom)
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "user_id")
	helper.Copy(up.Str, "homeserver", "access_token")
	helper.Copy(up.Str|up.Null, "homeserver", "device_id")
	helper.Copy(up.Str, "audit_room")
	helper.Copy(up.List, "ignored_rooms")
	helper.Copy(up.Str|up.Null, "database")
	helper.Copy(up.Str|up.Null, "admin_api_addr")
	helper.Copy(up.Int, "event_timeout")
	helper.Copy(up.Map, "logging")
}

// legacyKeys maps keys of the original plugin config to their current names.
var legacyKeys = map[string]string{
	"edit_room":  "audit_room",
	"ignorelist": "ignored_rooms",
}

// migrateLegacyKeys renames legacy top-level keys in place. A legacy key is
// dropped if its replacement is already present. Returns whether anything
// changed.
func migrateLegacyKeys(doc *yaml.Node) bool {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return false
	}
	root := doc.Content[0]
	present := make(map[string]bool, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		present[root.Content[i].Value] = true
	}
	changed := false
	for oldKey, newKey := range legacyKeys {
		if !present[oldKey] {
			continue
		}
		if present[newKey] {
			deleteMappingKey(root, oldKey)
		} else {
			for i := 0; i+1 < len(root.Content); i += 2 {
				if root.Content[i].Value == oldKey {
					root.Content[i].Value = newKey
					break
				}
			}
		}
		changed = true
	}
	return changed
}

// LoadConfig reads the config file at path, migrates legacy keys and merges
// it over the example config so new options get their defaults. If save is
// true and the merged document differs from the file, the file is rewritten.
// Environment overrides are applied to the returned config but never saved.
func LoadConfig(path string, save bool) (*Config, error) {
	userData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfgNode yaml.Node
	if err = yaml.Unmarshal(userData, &cfgNode); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	migrateLegacyKeys(&cfgNode)

	var baseNode yaml.Node
	if err = yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	upgradeConfig(up.NewHelper(&baseNode, &cfgNode))

	var cfg Config
	if err = baseNode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if save {
		upgraded, err := marshalYAML(&baseNode)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal upgraded config: %w", err)
		}
		if !bytes.Equal(upgraded, userData) {
			if err = writeFileAtomic(path, upgraded, 0o600); err != nil {
				return nil, fmt.Errorf("failed to save upgraded config: %w", err)
			}
		}
	}

	cfg.ApplyEnv()
	return &cfg, nil
}
