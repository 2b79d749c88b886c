package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wallcrawler78/arenadocs/internal/config"
	"github.com/wallcrawler78/arenadocs/internal/db"
	"github.com/wallcrawler78/arenadocs/internal/logging"
	"github.com/wallcrawler78/arenadocs/internal/mcp"
	"github.com/wallcrawler78/arenadocs/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// docEnv names the document when --doc is not given.
const docEnv = "ARENADOCS_DOC"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"login": true, "logout": true, "status": true,
	"categories": true, "fields": true, "records": true,
	"insert": true, "tokens": true, "delete-token": true, "clear": true, "validate": true,
	"populate": true, "changes": true, "update": true,
	"autodetect": true, "generate": true, "set-key": true,
	"import": true, "export": true, "cache": true,
	"help": true,
}

// splitGlobal separates the leading --doc flag from the rest of args.
func splitGlobal(args []string) (doc string, rest []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--doc" || arg == "-d":
			if i+1 < len(args) {
				doc = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--doc="):
			doc = strings.TrimPrefix(arg, "--doc=")
		default:
			return doc, args[i:]
		}
	}
	return doc, nil
}

// firstArg returns the first argument after global flags.
func firstArg() string {
	if len(os.Args) < 2 {
		return ""
	}
	_, rest := splitGlobal(os.Args[1:])
	if len(rest) == 0 {
		return ""
	}
	return rest[0]
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	arg := firstArg()
	if arg == "" {
		return false // No command → MCP server
	}
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	arg := firstArg()
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// docPath resolves the document for MCP mode.
func docPath() string {
	if len(os.Args) > 1 {
		if doc, _ := splitGlobal(os.Args[1:]); doc != "" {
			return doc
		}
	}
	return os.Getenv(docEnv)
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
     _                              _
    / \   _ __ ___ _ __   __ _   __| | ___   ___ ___
   / _ \ | '__/ _ \ '_ \ / _' | / _' |/ _ \ / __/ __|
  / ___ \| | |  __/ | | | (_| || (_| | (_) | (__\__ \
 /_/   \_\_|  \___|_| |_|\__,_| \__,_|\___/ \___|___/

  PLM-linked document tokens

  Usage: arenadocs [--doc file.arenadoc] <command> [options]
         arenadocs --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, zap.NewNop())
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".arenadocs")

	cwd, err := os.Getwd()
	if err != nil {
		fatal("could not determine working directory: %v", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fatal("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(database, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if arg := firstArg(); arg != "" && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", arg)
		fmt.Fprintf(os.Stderr, "Run 'arenadocs --help' for usage.\n")
		database.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown), zap.Strings("known", mcp.KnownTypes))
	}

	rt, err := ops.Open(database, cfg, logger, docPath())
	if err != nil {
		database.Close()
		fatal("%v", err)
	}
	serveErr := mcp.Run(rt, Version)
	if err := rt.Close(); err != nil {
		logger.Error("saving document failed", zap.Error(err))
	}
	if serveErr != nil {
		database.Close()
		fatal("%v", serveErr)
	}
}
