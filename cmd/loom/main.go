// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Loom is a terminal chat client for Matrix. It syncs one or more
// accounts in background goroutines and renders their rooms in a
// single TUI.
//
// On startup:
//  1. Loads the YAML configuration (--config or $LOOM_CONFIG).
//  2. Restores stored sessions from the state directory, prompting
//     for passwords of accounts that have no session and no
//     configured password.
//  3. Starts a connection supervisor per auto-connect account.
//  4. Runs the TUI until quit, then disconnects every account.
//
// The terminal belongs to the TUI while it runs, so log output goes
// to the file named by --log-output, or nowhere.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/loomchat/loom/bridge"
	"github.com/loomchat/loom/connection"
	"github.com/loomchat/loom/lib/chatui"
	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/config"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/lib/sessionstore"
	"github.com/loomchat/loom/lib/version"
	"github.com/loomchat/loom/timeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		logOutput   string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("loom", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the configuration file (default: $LOOM_CONFIG)")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("loom", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}

	logger, closeLog, err := openLogger(logOutput)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := sessionstore.New(filepath.Join(cfg.StateDir, "sessions"))
	if err != nil {
		return err
	}

	channel := bridge.New(bridge.DefaultCapacity)
	engine := timeline.NewEngine(timeline.EngineConfig{
		Clock:  clock.Real(),
		Logger: logger,
	})
	manager := connection.NewManager(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selfIDs := make(map[string]ref.UserID)
	for _, name := range cfg.AccountNames() {
		supervisor, userID, err := addAccount(manager, store, channel, logger, name, cfg.Accounts[name])
		if err != nil {
			return err
		}
		if !userID.IsZero() {
			selfIDs[name] = userID
		}
		if cfg.Accounts[name].AutoConnect {
			if err := supervisor.Connect(ctx); err != nil {
				return fmt.Errorf("connect %s: %w", name, err)
			}
		}
	}

	model := chatui.NewModel(chatui.Config{
		Bridge:    channel,
		Engine:    engine,
		Submitter: managerSubmitter{manager},
		SelfID:    selfIDs,
		Logger:    logger,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	_, runErr := program.Run()

	// Close the bridge before shutting supervisors down so workers
	// blocked on a full channel wake instead of deadlocking.
	channel.Close()
	manager.Shutdown()
	return runErr
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// openLogger builds the slog logger. The TUI owns the terminal, so
// without --log-output records are discarded.
func openLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(file, nil))
	return logger, func() { file.Close() }, nil
}

// addAccount registers one configured account with the manager,
// resuming its stored session when one exists. Returns the account's
// user ID when it is already known.
func addAccount(manager *connection.Manager, store *sessionstore.Store, channel *bridge.Bridge, logger *slog.Logger, name string, account config.Account) (*connection.Supervisor, ref.UserID, error) {
	supervisorConfig := connection.SupervisorConfig{
		Account:       name,
		HomeserverURL: account.HomeserverURL,
		Username:      account.User,
		Password:      account.Password,
		DeviceName:    account.DeviceName,
		Bridge:        channel,
		Logger:        logger,
		OnNextBatch: func(token string) {
			if err := store.UpdateNextBatch(name, token); err != nil {
				logger.Warn("persisting sync position failed", "account", name, "error", err)
			}
		},
		OnLogin: func(userID ref.UserID, accessToken, deviceID string) {
			err := store.Save(name, &sessionstore.Session{
				UserID:      userID,
				AccessToken: accessToken,
				DeviceID:    deviceID,
			})
			if err != nil {
				logger.Warn("persisting session failed", "account", name, "error", err)
			}
		},
	}

	var userID ref.UserID
	session, err := store.Load(name)
	switch {
	case err == nil:
		supervisorConfig.UserID = session.UserID
		supervisorConfig.AccessToken = session.AccessToken
		supervisorConfig.DeviceID = session.DeviceID
		supervisorConfig.Since = session.NextBatch
		userID = session.UserID
	case errors.Is(err, sessionstore.ErrNotFound):
		if account.Password == "" {
			password, promptErr := promptPassword(name, account.User)
			if promptErr != nil {
				return nil, ref.UserID{}, promptErr
			}
			supervisorConfig.Password = password
		}
	default:
		return nil, ref.UserID{}, fmt.Errorf("load session for %s: %w", name, err)
	}

	supervisor, err := manager.AddAccount(supervisorConfig)
	if err != nil {
		return nil, ref.UserID{}, err
	}
	return supervisor, userID, nil
}

// promptPassword reads a password from the terminal without echo.
// Runs before the TUI starts, so stdin is still a plain terminal.
func promptPassword(account, user string) (string, error) {
	fmt.Fprintf(os.Stderr, "password for %s (%s): ", account, user)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", fmt.Errorf("empty password for account %s", account)
	}
	return password, nil
}

// managerSubmitter routes chat actions to the account's supervisor.
type managerSubmitter struct {
	manager *connection.Manager
}

func (m managerSubmitter) Submit(account string, action connection.Action) error {
	supervisor := m.manager.Supervisor(account)
	if supervisor == nil {
		return fmt.Errorf("unknown account %s", account)
	}
	_, err := supervisor.Submit(action)
	return err
}
