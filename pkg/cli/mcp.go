package cli

import (
	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/mcpserver"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP stdio",
		Long: "Starts a Model Context Protocol server on stdin/stdout exposing the\n" +
			"memory_search, memory_store, memory_get, memory_list, memory_forget and\n" +
			"memory_stats tools. Runs until the client disconnects.",
		Run: runMCP,
	}

	RootCmd.AddCommand(cmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	coordinator, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer coordinator.Stop(cmd.Context())

	server := mcpserver.New(coordinator)
	if err := server.Run(cmd.Context()); err != nil {
		exitErr("mcp server", err)
	}
}
