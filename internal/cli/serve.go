// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The serve command: the in-memory development session API.
package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jeranaias/chatsync/internal/logging"
	"github.com/jeranaias/chatsync/internal/server"
)

// shutdownTimeout bounds graceful shutdown of the dev server.
const shutdownTimeout = 5 * time.Second

// ParseTokens turns "user=token" pairs into the token to user map the
// server authenticates against.
func ParseTokens(pairs []string) (map[string]string, error) {
	tokens := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		user, token, ok := strings.Cut(pair, "=")
		user, token = strings.TrimSpace(user), strings.TrimSpace(token)
		if !ok || user == "" || token == "" {
			return nil, &UsageError{Message: fmt.Sprintf("invalid --token %q, want user=token", pair)}
		}
		if user == server.AnonymousUser {
			return nil, &UsageError{Message: fmt.Sprintf("user name %q is reserved", user)}
		}
		if _, dup := tokens[token]; dup {
			return nil, &UsageError{Message: fmt.Sprintf("token for %q is already assigned", user)}
		}
		tokens[token] = user
	}
	return tokens, nil
}

func runServe(ctx context.Context, out io.Writer, args Args) error {
	cfg, err := loadConfig(args.ConfigPath)
	if err != nil {
		return err
	}
	logCfg := cfg.Log
	if args.Verbose {
		logCfg.Level = "debug"
	}
	log, closer, err := logging.New(logCfg)
	if err != nil {
		return &ConfigError{Err: err}
	}
	defer closer.Close()

	tokens, err := ParseTokens(args.Tokens)
	if err != nil {
		return err
	}
	if args.NoAnon && len(tokens) == 0 {
		return &UsageError{Message: "--no-anonymous needs at least one --token"}
	}

	srv := server.NewServer(args.Addr, logging.Component(log, "server")).
		WithAuth(&server.AuthConfig{Tokens: tokens, AllowAnonymous: !args.NoAnon})

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return &CommandError{Command: "serve", Action: "listen", Err: err}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if !args.Quiet {
		fmt.Fprintf(out, "%s", okLine(fmt.Sprintf("session API on http://%s (%d token(s), anonymous %s)",
			ln.Addr(), len(tokens), yesNo(!args.NoAnon))))
	}

	select {
	case err := <-errCh:
		if err != nil {
			return &CommandError{Command: "serve", Action: "serve", Err: err}
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return &CommandError{Command: "serve", Action: "shutdown", Err: err}
	}
	return <-errCh
}
