// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-editbot relays Matrix message edits to an audit room. Each
// edit is posted as a notice showing the original and the new text. Rooms
// opt out with the !editbot_disable command or by reacting with 🔇 to one of
// their notices in the audit room.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/mautrix-editbot/pkg/editbot"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

var configPath = flag.MakeFull("c", "config", "The path to the config file.", "config.yaml").String()
var noUpdate = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
var generateExample = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
var version = flag.MakeFull("v", "version", "View version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		"mautrix-editbot - Relay Matrix message edits to an audit room.",
		"mautrix-editbot [-hnev] [-c <path>]",
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("mautrix-editbot %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateExample {
		if err = os.WriteFile(*configPath, []byte(editbot.ExampleConfig), 0o600); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(11)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	if err = godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load .env file:", err)
		os.Exit(10)
	}

	cfg, err := editbot.LoadConfig(*configPath, !*noUpdate)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Initializing mautrix-editbot")

	bot, err := editbot.NewBot(cfg, *configPath, *log)
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to initialize bot")
		os.Exit(13)
	}
	if err = bot.Start(context.Background()); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to start bot")
		_ = bot.Stop(context.Background())
		os.Exit(14)
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"editbot": func(ctx context.Context) error {
				log.Info().Msg("Shutting down")
				return bot.Stop(ctx)
			},
		},
	)
	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("Exited")
	os.Exit(exitCode)
}
