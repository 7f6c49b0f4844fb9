package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Import bounds: lines shorter than this are noise (headers, bullets,
// stray punctuation), and each line gets a few attempts before it counts
// as failed.
const (
	importMinLineChars = 5
	importMaxAttempts  = 3
)

func init() {
	cmd := &cobra.Command{
		Use:   "import-legacy <file>",
		Short: "Import a plain-text memory file, one memory per line",
		Long: "Reads a plain-text file and stores each non-trivial line as a long-term\n" +
			"memory through the regular dedup/merge pipeline. Lines shorter than 5\n" +
			"characters are skipped. Progress is reported to stderr every 10%.",
		Args: cobra.ExactArgs(1),
		Run:  runImportLegacy,
	}

	RootCmd.AddCommand(cmd)
}

func runImportLegacy(cmd *cobra.Command, args []string) {
	lines, err := readLegacyLines(args[0])
	if err != nil {
		exitErr("read file", err)
	}
	if len(lines) == 0 {
		fmt.Println("nothing to import")
		return
	}

	coordinator, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer coordinator.Stop(cmd.Context())

	var stored, duplicates, failed int
	lastMilestone := 0
	for i, line := range lines {
		out, err := storeWithRetry(cmd, coordinator, line)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "line %d failed: %v\n", i+1, err)
		case out.StoredCount == 0:
			duplicates++
		default:
			stored++
		}

		if milestone := (i + 1) * 100 / len(lines) / 10 * 10; milestone > lastMilestone {
			lastMilestone = milestone
			fmt.Fprintf(os.Stderr, "imported %d%% (%d/%d)\n", milestone, i+1, len(lines))
		}
	}

	fmt.Printf("imported %d lines: %d stored, %d duplicates, %d failed\n",
		len(lines), stored, duplicates, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// readLegacyLines loads the import file and drops trivial lines.
func readLegacyLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len([]rune(line)) < importMinLineChars {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// storeWithRetry pushes one line through the pipeline, retrying transient
// failures.
func storeWithRetry(cmd *cobra.Command, coordinator *core.Coordinator, line string) (*core.MemoryStoreOutput, error) {
	var lastErr error
	for attempt := 0; attempt < importMaxAttempts; attempt++ {
		out, err := coordinator.MemoryStore(cmd.Context(), core.MemoryStoreInput{Text: line})
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
