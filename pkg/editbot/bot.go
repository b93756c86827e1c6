// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package editbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

// Bot ties the Matrix client, the sync loop and the handler together.
type Bot struct {
	Config   *Config
	Client   *mautrix.Client
	Registry *Registry
	Handler  *Handler

	log       zerolog.Logger
	syncStore *SQLSyncStore
	admin     *http.Server

	handlers   sync.WaitGroup
	stopSync   context.CancelFunc
	syncDone   chan struct{}
	handleFunc func(ctx context.Context, evt *event.Event)
}

// NewBot creates the client and its collaborators. statePath is the YAML
// file holding audit_room and ignored_rooms, normally the config file.
func NewBot(cfg *Config, statePath string, log zerolog.Logger) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	client, err := mautrix.NewClient(cfg.Homeserver.Address, cfg.Homeserver.UserID, cfg.Homeserver.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.DeviceID = cfg.Homeserver.DeviceID
	client.Log = log.With().Str("component", "matrix").Logger()

	b := &Bot{
		Config:   cfg,
		Client:   client,
		Registry: NewRegistry(NewFileStateStore(statePath)),
		log:      log,
	}
	b.Handler = NewHandler(client, b.Registry, log.With().Str("component", "handler").Logger())
	b.handleFunc = b.Handler.HandleEvent

	if cfg.Database != "" {
		b.syncStore, err = NewSQLSyncStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		client.Store = b.syncStore
	}
	if cfg.AdminAPIAddr != "" {
		adminLog := log.With().Str("component", "admin_api").Logger()
		b.admin = &http.Server{
			Addr:         cfg.AdminAPIAddr,
			Handler:      NewAdminAPI(b.Registry, adminLog).Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}
	return b, nil
}

// Start loads the registry, verifies the access token and starts syncing in
// the background.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.Registry.Load(ctx); err != nil {
		return err
	}
	b.log.Info().
		Stringer("audit_room", b.Registry.AuditRoom()).
		Int("ignored_rooms", len(b.Registry.Rooms())).
		Msg("Loaded opt-out registry")

	whoami, err := b.Client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify access token: %w", err)
	}
	if whoami.UserID != b.Client.UserID {
		return fmt.Errorf("access token belongs to %s, not %s", whoami.UserID, b.Client.UserID)
	}
	if b.Client.DeviceID == "" {
		b.Client.DeviceID = whoami.DeviceID
	}
	b.log.Info().Stringer("user_id", whoami.UserID).Stringer("device_id", whoami.DeviceID).Msg("Authenticated")

	syncer := b.Client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnSync(b.Client.DontProcessOldEvents)
	syncer.OnEvent(b.dispatch)

	if b.admin != nil {
		go func() {
			b.log.Info().Str("addr", b.admin.Addr).Msg("Starting admin API")
			if err := b.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.log.Error().Err(err).Msg("Admin API error")
			}
		}()
	}

	syncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.stopSync = cancel
	b.syncDone = make(chan struct{})
	go func() {
		defer close(b.syncDone)
		b.log.Info().Msg("Starting sync loop")
		err := b.Client.SyncWithContext(syncCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.log.Error().Err(err).Msg("Sync loop stopped with error")
		}
	}()
	return nil
}

// dispatch hands an event to the handler on its own goroutine, with a
// deadline and panic recovery, so one bad event can't stall or crash the
// sync loop.
func (b *Bot) dispatch(ctx context.Context, evt *event.Event) {
	b.handlers.Add(1)
	go func() {
		defer b.handlers.Done()
		defer func() {
			if p := recover(); p != nil {
				b.log.Error().
					Any("panic", p).
					Stringer("event_id", evt.ID).
					Stringer("room_id", evt.RoomID).
					Msg("Panic while handling event")
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.Config.GetEventTimeout())
		defer cancel()
		b.handleFunc(ctx, evt)
	}()
}

// Stop stops syncing, shuts down the admin API and waits for in-flight
// handlers until ctx expires.
func (b *Bot) Stop(ctx context.Context) error {
	var errs []error
	if b.stopSync != nil {
		b.Client.StopSync()
		b.stopSync()
		select {
		case <-b.syncDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("sync loop did not stop: %w", ctx.Err()))
		}
	}
	if b.admin != nil {
		if err := b.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop admin API: %w", err))
		}
	}

	handlersDone := make(chan struct{})
	go func() {
		b.handlers.Wait()
		close(handlersDone)
	}()
	select {
	case <-handlersDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("event handlers did not finish: %w", ctx.Err()))
	}

	if b.syncStore != nil {
		if err := b.syncStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sync store: %w", err))
		}
	}
	b.log.Info().Msg("Stopped")
	return errors.Join(errs...)
}
