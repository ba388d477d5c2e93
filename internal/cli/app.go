// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring of config, logging, storage and the session components.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/identity"
	"github.com/jeranaias/chatsync/internal/logging"
	"github.com/jeranaias/chatsync/internal/session"
	"github.com/jeranaias/chatsync/internal/storage"
)

// App holds the components one command invocation works with.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Local    storage.Local
	Store    *storage.SessionStore
	Identity identity.Provider
	Backend  api.Backend
	Manager  *session.Manager
	Acquirer *session.Acquirer

	JSON bool
	out  io.Writer

	closers []io.Closer
}

// NewApp loads configuration and builds the session components.
func NewApp(args Args, out io.Writer) (*App, error) {
	cfg, err := loadConfig(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewAppFromConfig(cfg, args, out)
}

// NewAppFromConfig builds the session components from an already loaded config.
func NewAppFromConfig(cfg *config.Config, args Args, out io.Writer) (*App, error) {
	logCfg := cfg.Log
	switch {
	case args.Verbose:
		logCfg.Level = "debug"
	case args.Quiet:
		logCfg.Level = "error"
	}
	log, logCloser, err := logging.New(logCfg)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	local, err := storage.Open(cfg)
	if err != nil {
		logCloser.Close()
		return nil, &CommandError{Command: "storage", Action: "open", Err: err}
	}

	ids := identity.FromConfig(cfg)
	backend := api.FromConfig(cfg, ids, logging.Component(log, "api"))
	store := storage.NewSessionStore(local, cfg.Storage.Key)

	manager := session.NewManager(store, backend, ids, session.ConfigFrom(cfg.Sync), logging.Component(log, "sync"))
	acquirer := session.NewAcquirer(store, backend, ids, logging.Component(log, "acquire")).
		WithBroker(manager.Broker())

	return &App{
		Config:   cfg,
		Log:      log,
		Local:    local,
		Store:    store,
		Identity: ids,
		Backend:  backend,
		Manager:  manager,
		Acquirer: acquirer,
		JSON:     args.JSON,
		out:      out,
		closers:  []io.Closer{local, logCloser},
	}, nil
}

// Close releases storage and the log file.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// print writes human output; it is silent in JSON mode.
func (a *App) print(format string, v ...any) {
	if a.JSON {
		return
	}
	fmt.Fprintf(a.out, format, v...)
}

func (a *App) respond(command string, data interface{}) error {
	if !a.JSON {
		return nil
	}
	return writeJSONResponse(a.out, NewJSONResponse(command, data))
}

// loadConfig reads path, or the default config location when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		return cfg, nil
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}
