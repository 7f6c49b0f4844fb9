package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories, newest first",
		Run:   runList,
	}

	cmd.Flags().StringP("scope", "s", "all", "Scope: session, long-term or all")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("json", false, "Output JSON instead of text")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	coordinator, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer coordinator.Stop(cmd.Context())

	memories, err := coordinator.MemoryList(cmd.Context(), core.MemoryListInput{
		Scope: scope,
		Limit: limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if asJSON {
		b, _ := json.MarshalIndent(memories, "", "  ")
		fmt.Println(string(b))
		return
	}

	if len(memories) == 0 {
		fmt.Println("no memories stored")
		return
	}
	for _, m := range memories {
		fmt.Printf("%-20s  %s  %s\n", m.ID, m.CreatedAt.Format("2006-01-02"), m.Text)
	}
}
