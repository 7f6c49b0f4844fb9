// Package cli implements the tiermem command line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/core"
)

var (
	dataDirFlag  string
	userFlag     string
	logLevelFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tiermem",
	Short: "Tiered long-term memory for conversational agents",
	Long: "tiermem maintains a two-tier memory store for conversational AI: a hot\n" +
		"vector store for active memories and an append-only JSONL archive for\n" +
		"pruned ones. Configuration comes from the environment (or a .env file);\n" +
		"flags override it per invocation.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: $TIERMEM_DATA_DIR or ~/.tiermem/data)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User id (default: $TIERMEM_USER_ID or \"default\")")
	RootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error (default warn)")
}

// loadConfig resolves configuration from the environment, then applies flag
// overrides.
func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if userFlag != "" {
		cfg.UserID = userFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	return cfg, nil
}

// openCoordinator builds and starts a coordinator for one command run. The
// caller stops it when done.
func openCoordinator(ctx context.Context) (*core.Coordinator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	coordinator, err := core.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := coordinator.Start(ctx); err != nil {
		return nil, err
	}
	return coordinator, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
