// Package main provides the entry point for the opal agent process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/logging"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/rpc"
	"github.com/opencode-ai/opal/internal/supervisor"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	directory string
	logLevel  string
	logFile   bool
)

var rootCmd = &cobra.Command{
	Use:     "opal-agent",
	Short:   "opal agent core, speaking line-framed JSON-RPC over stdio",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.Flags().StringVarP(&directory, "directory", "C", "", "Working directory (defaults to cwd)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.Flags().BoolVar(&logFile, "log-file", false, "Write logs to /tmp/opencode-YYYYMMDD-HHMMSS.log")
	rootCmd.SetVersionTemplate(fmt.Sprintf("opal-agent %s (%s)\n", Version, BuildTime))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	logging.Init(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Output:    os.Stderr,
		LogToFile: logFile,
	})

	workDir := directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("creating data directories: %w", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	providers, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("failed to initialize some providers")
	}

	authStore, err := rpc.NewAuthStore(paths.AuthPath())
	if err != nil {
		return fmt.Errorf("loading auth store: %w", err)
	}

	eventBus := bus.New()
	conn := rpc.NewConn(os.Stdin, os.Stdout)

	// Notifier and checker each need the other: build the server (which
	// owns the Notifier) before the Checker, then wire the Checker back
	// into the Notifier once it exists, and only then hand the Checker
	// to the Supervisor every session's Deps will share.
	server := rpc.New(conn, eventBus, nil, providers, cfg, authStore)
	notifier := server.Notifier()
	checker := permission.NewChecker(notifier)
	notifier.SetChecker(checker)

	sup := supervisor.New(cfg, providers, eventBus, checker, server.QuestionRelay())
	server.SetSessions(sup)

	logging.Logger.Info().Str("directory", workDir).Msg("opal-agent starting")
	server.Serve(ctx)
	logging.Logger.Info().Msg("opal-agent stopped")
	return nil
}
