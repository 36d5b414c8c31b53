// Command straddle selects option straddles and backtests them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"straddle-backtester/internal/cli"
	"straddle-backtester/internal/config"
	"straddle-backtester/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configDir := configDirFromArgs(args)
	cfg, err := config.Load(configDir)
	if err != nil {
		if errors.Is(err, config.ErrTemplateCreated) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, "Review the generated config.toml and run the command again.")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := logging.NewLoggerWithConfig(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(cfg, logger)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Warn().Msg("Interrupted")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// configDirFromArgs finds --config before cobra parses flags, since the
// config has to be loaded to build the commands.
func configDirFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
