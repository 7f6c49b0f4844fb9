package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/core"
)

const dashboardRecentLimit = 10

func init() {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show a combined snapshot: stats, recent memories and pending actions",
		Run:   runDashboard,
	}

	RootCmd.AddCommand(cmd)
}

func runDashboard(cmd *cobra.Command, args []string) {
	coordinator, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer coordinator.Stop(cmd.Context())

	stats, err := coordinator.MemoryStats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	memories, err := coordinator.MemoryList(cmd.Context(), core.MemoryListInput{
		Limit: dashboardRecentLimit,
	})
	if err != nil {
		exitErr("list", err)
	}

	fmt.Println("tiermem dashboard")
	fmt.Println("=================")
	fmt.Println()
	fmt.Println(core.FormatStats(stats))
	fmt.Println()

	fmt.Printf("Recent memories (%d):\n", len(memories))
	if len(memories) == 0 {
		fmt.Println("  (none)")
	}
	for i, m := range memories {
		fmt.Printf("  %d. [%s] %s\n", i+1, m.ID, m.Text)
	}
	fmt.Println()

	actions := coordinator.PendingActions()
	fmt.Printf("Pending actions (%d):\n", len(actions))
	if len(actions) == 0 {
		fmt.Println("  (none)")
	}
	for _, a := range actions {
		state := "waiting"
		if a.Fired {
			state = "fired"
		}
		fmt.Printf("  - %s [%s] fires %s: %s\n", a.ID, state, a.TriggerAt.Format("2006-01-02 15:04"), a.Message)
	}
}
