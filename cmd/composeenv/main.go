// Command composeenv brings a compose test environment up or down outside a
// test binary, e.g. to keep one running across local test runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/composeenv/internal/shell/docker"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: composeenv [-config path] [-version] up|down|status\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("composeenv %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return ExitConfigError
	}
	command := flag.Arg(0)

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	logger.Debug("starting composeenv",
		"version", Version,
		"config", *configPath,
		"command", command,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := docker.NewLocalRuntime(ctx, cfg.Docker.Host, logger)
	if err != nil {
		logger.Error("failed to connect to docker", "error", err)
		return ExitDockerError
	}
	defer rt.Close()

	if err := runCommand(ctx, command, cfg, rt, os.Stdout, logger); err != nil {
		logger.Error("command failed", "command", command, "error", err)
		return exitCode(err)
	}
	return ExitSuccess
}
