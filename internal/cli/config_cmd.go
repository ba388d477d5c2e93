// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The config command: show, init, path.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatsync/internal/config"
)

func runConfig(out io.Writer, args Args) error {
	switch args.Subcommand {
	case "init":
		return configInit(out, args)
	case "path":
		return configPath(out, args)
	default:
		return configShow(out, args)
	}
}

// configShow prints the effective configuration with the token masked.
func configShow(out io.Writer, args Args) error {
	cfg, err := loadConfig(args.ConfigPath)
	if err != nil {
		return err
	}
	shown := *cfg
	shown.API.Token = maskToken(cfg.API.Token)

	if args.JSON {
		return writeJSONResponse(out, NewJSONResponse("config show", shown))
	}
	if err := toml.NewEncoder(out).Encode(shown); err != nil {
		return &CommandError{Command: "config", Action: "show", Err: err}
	}
	return nil
}

// configInit writes the default configuration, refusing to overwrite.
func configInit(out io.Writer, args Args) error {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("already exists")}
	}

	cfg := config.Default()
	if err := config.SaveTOML(cfg, path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	if args.JSON {
		return writeJSONResponse(out, NewJSONResponse("config init", map[string]string{"path": path}))
	}
	_, err := fmt.Fprint(out, okLine("wrote "+path))
	return err
}

func configPath(out io.Writer, args Args) error {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = p
	}
	if args.JSON {
		return writeJSONResponse(out, NewJSONResponse("config path", map[string]string{"path": path}))
	}
	_, err := fmt.Fprintln(out, path)
	return err
}

func maskToken(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return "****"
	default:
		return token[:4] + "****"
	}
}
