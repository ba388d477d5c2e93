// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Argument parsing and command dispatch for chatsync.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdVersion
	CmdStatus
	CmdSync
	CmdSweep
	CmdSession
	CmdDaemon
	CmdWatch
	CmdServe
	CmdConfig
)

var commandNames = map[string]Command{
	"help":     CmdHelp,
	"version":  CmdVersion,
	"status":   CmdStatus,
	"s":        CmdStatus,
	"sync":     CmdSync,
	"sweep":    CmdSweep,
	"session":  CmdSession,
	"sessions": CmdSession,
	"daemon":   CmdDaemon,
	"watch":    CmdWatch,
	"serve":    CmdServe,
	"config":   CmdConfig,
}

// String returns the canonical command name.
func (c Command) String() string {
	switch c {
	case CmdVersion:
		return "version"
	case CmdStatus:
		return "status"
	case CmdSync:
		return "sync"
	case CmdSweep:
		return "sweep"
	case CmdSession:
		return "session"
	case CmdDaemon:
		return "daemon"
	case CmdWatch:
		return "watch"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool

	// Command-specific
	Subcommand string
	DryRun     bool
	Check      bool
	Addr       string
	Tokens     []string
	NoAnon     bool

	// Raw holds positional arguments after the subcommand
	Raw []string
}

const usageText = `chatsync - keep the client's chat session in step with the backend

Usage:
  chatsync status [--check]        Show the stored session (--check validates it)
  chatsync sync                    Validate now, then sweep orphaned sessions
  chatsync sweep [--dry-run]       Delete empty sessions left behind
  chatsync session new|show|clear  Manage the stored session
  chatsync daemon                  Run the sync manager in the foreground
  chatsync watch                   Interactive session monitor
  chatsync serve [--addr host:port] [--token user=token]...
                                   Run the development session API
  chatsync config show|init|path   Show, write or locate the configuration
  chatsync version                 Show version information

Global flags:
  -c, --config PATH   Config file (default ~/.chatsync/config.toml)
      --json          Machine-readable output
  -v, --verbose       Debug logging
  -q, --quiet         Errors only
  -h, --help          Show this help

Environment:
  CHATSYNC_HOME, CHATSYNC_API_URL, CHATSYNC_TOKEN, CHATSYNC_USER,
  CHATSYNC_STORAGE, CHATSYNC_STORAGE_PATH, CHATSYNC_LOG_LEVEL,
  CHATSYNC_GRACE_SECS
`

// Usage returns the help text.
func Usage() string { return usageText }

// Parse parses argv (without the program name) into a command and its args.
func Parse(argv []string) (Command, Args, error) {
	var args Args

	flagSet := pflag.NewFlagSet("chatsync", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVarP(&args.ConfigPath, "config", "c", "", "config file")
	flagSet.BoolVar(&args.JSON, "json", false, "JSON output")
	flagSet.BoolVarP(&args.Verbose, "verbose", "v", false, "debug logging")
	flagSet.BoolVarP(&args.Quiet, "quiet", "q", false, "errors only")
	flagSet.BoolVar(&args.DryRun, "dry-run", false, "plan without deleting")
	flagSet.BoolVar(&args.Check, "check", false, "validate against the backend")
	flagSet.StringVar(&args.Addr, "addr", "", "listen address")
	flagSet.StringArrayVar(&args.Tokens, "token", nil, "user=token pair accepted by serve")
	flagSet.BoolVar(&args.NoAnon, "no-anonymous", false, "reject requests without a token")
	help := flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return CmdHelp, args, nil
		}
		return CmdHelp, args, &UsageError{Message: err.Error()}
	}
	if *help {
		return CmdHelp, args, nil
	}
	if args.Verbose && args.Quiet {
		return CmdHelp, args, &UsageError{Message: "--verbose and --quiet are mutually exclusive"}
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return CmdHelp, args, nil
	}

	cmd, ok := commandNames[strings.ToLower(rest[0])]
	if !ok {
		return CmdHelp, args, &UsageError{Message: fmt.Sprintf("unknown command %q", rest[0])}
	}
	rest = rest[1:]

	switch cmd {
	case CmdSession:
		args.Subcommand = "show"
		if len(rest) > 0 {
			args.Subcommand = strings.ToLower(rest[0])
			rest = rest[1:]
		}
		switch args.Subcommand {
		case "new", "show", "clear":
		default:
			return cmd, args, &UsageError{Message: fmt.Sprintf("unknown session subcommand %q (want new, show or clear)", args.Subcommand)}
		}
	case CmdConfig:
		args.Subcommand = "show"
		if len(rest) > 0 {
			args.Subcommand = strings.ToLower(rest[0])
			rest = rest[1:]
		}
		switch args.Subcommand {
		case "show", "init", "path":
		default:
			return cmd, args, &UsageError{Message: fmt.Sprintf("unknown config subcommand %q (want show, init or path)", args.Subcommand)}
		}
	}

	args.Raw = rest
	return cmd, args, nil
}

// Run executes cmd, writing its output to out.
func Run(ctx context.Context, cmd Command, args Args, out io.Writer) error {
	switch cmd {
	case CmdHelp:
		_, err := io.WriteString(out, usageText)
		return err
	case CmdVersion:
		return runVersion(out, args)
	case CmdServe:
		return runServe(ctx, out, args)
	case CmdConfig:
		return runConfig(out, args)
	}

	// Log lines would tear through the monitor's screen.
	if cmd == CmdWatch && !args.Verbose {
		args.Quiet = true
	}

	app, err := NewApp(args, out)
	if err != nil {
		return err
	}
	defer app.Close()

	switch cmd {
	case CmdStatus:
		return app.runStatus(ctx, args)
	case CmdSync:
		return app.runSync(ctx)
	case CmdSweep:
		return app.runSweep(ctx, args)
	case CmdSession:
		return app.runSession(ctx, args)
	case CmdDaemon:
		return app.runDaemon(ctx)
	case CmdWatch:
		return app.runWatch(ctx)
	default:
		return &UsageError{Message: fmt.Sprintf("unhandled command %s", cmd)}
	}
}

func runVersion(out io.Writer, args Args) error {
	if args.JSON {
		return writeJSONResponse(out, NewJSONResponse("version", map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
		}))
	}
	_, err := fmt.Fprintf(out, "chatsync %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	return err
}
