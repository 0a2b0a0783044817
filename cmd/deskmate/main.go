package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
	"deskmate/internal/infra/tracer"
)

var errUsage = errors.New("invalid usage")

func main() {
	args, cfgPath := parseArgs(os.Args[1:])

	cmd := "chat"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "--help", "-h", "help":
		showUsage(os.Stdout)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, cmd, args, cfgPath, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "\nRun 'deskmate --help' for usage information.")
		}
		os.Exit(1)
	}
}

// dispatch runs one subcommand. Everything except doctor and encrypt needs
// the full application wired from config.
func dispatch(ctx context.Context, cmd string, args []string, cfgPath string, in io.Reader, out io.Writer) error {
	switch cmd {
	case "doctor":
		return runDoctor(ctx, cfgPath, out)
	case "encrypt":
		return runEncrypt(args, in, out)
	}
	run, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	return run(ctx, a, args, in, out)
}

type commandFunc func(ctx context.Context, a *app, args []string, in io.Reader, out io.Writer) error

var commands = map[string]commandFunc{
	"serve":    runServe,
	"route":    runRoute,
	"chat":     runChat,
	"export":   runExport,
	"import":   runImport,
	"stats":    runStats,
	"patterns": runPatterns,
	"agents":   runAgents,
	"backup":   runBackup,

	"intents":      runIntents,
	"interactions": runInteractions,
	"add-pattern":  runAddPattern,
}

// parseArgs strips --config from args and resolves the config path:
// flag, then DESKMATE_CONFIG, then ./config.yaml.
func parseArgs(args []string) ([]string, string) {
	var rest []string
	path := ""
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		default:
			rest = append(rest, args[i])
		}
	}
	if path == "" {
		path = os.Getenv("DESKMATE_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	return rest, path
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, `deskmate - routes workplace requests to the agent that can act on them

USAGE:
    deskmate [COMMAND] [ARGS] [--config PATH]

COMMANDS:
    chat                    Interactive console (default)
    serve                   Run the HTTP gateway and scheduled maintenance
    route <msg>...          Print the routing decision for each message
    agents                  List registered agents
    stats                   Show learned pattern statistics
    patterns [intent] [n]   Show the best learned patterns, for one intent or all
    intents                 List the intents that have learned patterns
    interactions [n]        Show the most recent interactions
    add-pattern <intent> <msg> [--agent ID]
                            Teach a phrasing for an intent by hand
    export <file>           Write a pattern snapshot ("-" for stdout)
    import <file> [--merge] Load a pattern snapshot, replacing by default
    backup                  Write a snapshot into the backup directory now
    doctor                  Check config, storage and the intent model
    encrypt [value]         Print an "enc:" secret for the config file

CONFIGURATION:
    Config file: ./config.yaml, or DESKMATE_CONFIG, or --config
    Environment: DESKMATE_* variables override the file
    Secrets:     "enc:" values are decrypted with DESKMATE_CONFIG_KEY
                 (create them with: DESKMATE_CONFIG_KEY=... deskmate encrypt)

EXAMPLES:
    deskmate route "email sarah about the report" "check the cluster health"
    deskmate patterns send_email 5
    deskmate add-pattern update_status "flip OCPQE-1 over to done"
    deskmate export backup.json
    deskmate import backup.json --merge`)
}
