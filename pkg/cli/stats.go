package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		Run:   runStats,
	}

	cmd.Flags().Bool("json", false, "Output JSON instead of text")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	asJSON, _ := cmd.Flags().GetBool("json")

	coordinator, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer coordinator.Stop(cmd.Context())

	stats, err := coordinator.MemoryStats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if asJSON {
		b, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(b))
		return
	}

	fmt.Println(core.FormatStats(stats))
}
