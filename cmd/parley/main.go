// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// parley is a terminal Matrix client. It restores the saved session at
// startup, or shows a login form when there is none, then presents the
// joined rooms next to the active room's timeline.
//
// Diagnostics at warn and above appear in the status line; --log-output
// additionally writes every record at the configured level to a JSON
// file for post-mortem debugging.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/parley/chat"
	"github.com/bureau-foundation/parley/lib/chatui"
	"github.com/bureau-foundation/parley/lib/clock"
	"github.com/bureau-foundation/parley/lib/config"
	"github.com/bureau-foundation/parley/lib/process"
	"github.com/bureau-foundation/parley/lib/secret"
	"github.com/bureau-foundation/parley/lib/sessionstore"
	"github.com/bureau-foundation/parley/lib/synccache"
	"github.com/bureau-foundation/parley/lib/version"
)

// startupTimeout bounds the non-interactive login done before the TUI
// starts.
const startupTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var homeserver string
	var platformFlag string
	var username string
	var logOutput string

	flagSet := pflag.NewFlagSet("parley", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $PARLEY_CONFIG)")
	flagSet.StringVar(&homeserver, "homeserver", "", "homeserver URL or server name for the login form")
	flagSet.StringVar(&platformFlag, "platform", "", "layout: auto, wide, or compact (overrides the config file)")
	flagSet.StringVar(&username, "username", "", "log in as this user before starting, prompting for the password")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (in addition to the status line)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("parley")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if homeserver != "" {
		cfg.Homeserver = homeserver
	}
	if platformFlag != "" {
		cfg.Platform = platformFlag
	}
	if logOutput != "" {
		cfg.Log.Output = logOutput
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	compression, err := synccache.ParseCompression(cfg.Cache.Compression)
	if err != nil {
		return err
	}

	tuiHandler := chatui.NewLogHandler(max(level, slog.LevelWarn))
	var logger *slog.Logger
	if cfg.Log.Output != "" {
		fileHandler, fileCloser, fileErr := openFileLogHandler(cfg.Log.Output, level)
		if fileErr != nil {
			return fmt.Errorf("cannot open log file %s: %w", cfg.Log.Output, fileErr)
		}
		defer fileCloser()
		logger = slog.New(fanoutHandler{tuiHandler, fileHandler})
	} else {
		logger = slog.New(tuiHandler)
	}

	autoPlatform := cfg.Platform == config.PlatformAuto
	platform := initialPlatform(cfg.Platform)

	systemClock := clock.Real()
	store := sessionstore.New(sessionstore.Config{
		Path:             cfg.Session.File,
		SealIdentityFile: cfg.Session.SealIdentityFile,
		Logger:           logger,
	})
	dialer := &chat.MatrixDialer{
		DeviceDisplayName: "parley",
		Cache: synccache.Config{
			Directory:   cfg.Cache.Directory,
			Compression: compression,
			Logger:      logger,
		},
		DisableCache:      cfg.Cache.Disabled,
		MaxTimelineEvents: cfg.Timeline.Window,
		Clock:             systemClock,
		Logger:            logger,
	}
	controller, err := chat.New(chat.Config{
		Dialer:             dialer,
		Store:              store,
		Clock:              systemClock,
		Logger:             logger,
		Platform:           platform,
		TimelineWindow:     cfg.Timeline.Window,
		InitialHistory:     cfg.Timeline.InitialHistory,
		TypingDisplayLimit: cfg.Typing.DisplayLimit,
		Markdown:           cfg.Markdown,
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if username != "" {
		if err := promptLogin(ctx, controller, cfg.Homeserver, username); err != nil {
			return err
		}
	} else if err := controller.Resume(ctx); err != nil {
		// The login form takes over; the reason is in the log.
		logger.Warn("could not resume saved session", "error", err)
	}

	model := chatui.NewModel(controller, chatui.Options{
		Homeserver:     cfg.Homeserver,
		AutoPlatform:   autoPlatform,
		ColorProfile:   termenv.ColorProfile(),
		RequestTimeout: startupTimeout,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	tuiHandler.SetProgram(program)

	_, err = program.Run()
	return err
}

// loadConfig reads --config when given, otherwise $PARLEY_CONFIG, and
// falls back to the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// initialPlatform resolves the configured platform. For auto, the
// terminal width decides; the model re-derives it on every resize.
func initialPlatform(configured string) chat.Platform {
	if configured != config.PlatformAuto {
		platform, err := chat.ParsePlatform(configured)
		if err == nil {
			return platform
		}
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return chat.PlatformWide
	}
	return chatui.PlatformForWidth(width)
}

// promptLogin reads the password from the terminal without echo and
// logs in before the TUI starts.
func promptLogin(ctx context.Context, controller *chat.Controller, homeserver, username string) error {
	if strings.TrimSpace(homeserver) == "" {
		return errors.New("--username requires --homeserver or a homeserver in the config file")
	}
	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return errors.New("--username needs an interactive terminal for the password prompt")
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	raw, err := term.ReadPassword(descriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password, err := secret.NewFromBytes(raw)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	defer password.Close()

	if err := controller.Login(ctx, homeserver, username, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `parley is a terminal Matrix client.

On startup it restores the saved session (see session.file in the
configuration). Without one it shows a login form; --username logs in
from the command line instead, prompting for the password.

Usage:
  parley [flags]

Examples:
  # Start with the saved session, or the login form
  parley

  # Log in without the form
  parley --homeserver matrix.org --username alice

  # Force the single-pane layout and keep a debug log
  parley --platform compact --log-output /tmp/parley.jsonl

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// openFileLogHandler creates a slog.JSONHandler that writes to the
// given file path. The file is created or truncated.
func openFileLogHandler(path string, level slog.Level) (slog.Handler, func(), error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return handler, func() { file.Close() }, nil
}

// fanoutHandler is a slog.Handler that sends each record to multiple
// underlying handlers. A record is enabled if any sub-handler is
// enabled for that level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
