package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("scope", "s", "all", "Scope: session, long-term or all")
	cmd.Flags().IntP("limit", "l", 0, "Max results per source (default: configured top_k)")
	cmd.Flags().Bool("deep", false, "Also scan the cold archive")
	cmd.Flags().Bool("json", false, "Output JSON instead of text")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	limit, _ := cmd.Flags().GetInt("limit")
	deep, _ := cmd.Flags().GetBool("deep")
	asJSON, _ := cmd.Flags().GetBool("json")

	coordinator, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer coordinator.Stop(cmd.Context())

	out, err := coordinator.MemorySearch(cmd.Context(), core.MemorySearchInput{
		Query: strings.Join(args, " "),
		Scope: scope,
		Limit: limit,
		Deep:  deep,
	})
	if err != nil {
		exitErr("search", err)
	}

	if asJSON {
		b, _ := json.MarshalIndent(out.Results, "", "  ")
		fmt.Println(string(b))
		return
	}

	fmt.Println(out.Preview)
}
