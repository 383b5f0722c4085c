package cli

import (
	"context"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/collabgraph/gitminer/internal/adapters/driven/storage/sqlite"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint progress for the harvest database",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "",
		"checkpoint database path (default ~/.gitminer/data/harvest.db)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	store, err := sqlite.NewStore(statusDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	checkpoints := store.CheckpointStore()

	done, failed, err := checkpoints.Counts(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Database", "Done", "Failed"})
	t.AppendRow(table.Row{store.Path(), done, failed})
	t.Render()

	if failed == 0 {
		return nil
	}

	failedKeys, err := checkpoints.Failed(ctx)
	if err != nil {
		return err
	}

	cmd.Println("Failed units:")
	keys := make([]string, 0, len(failedKeys))
	for key := range failedKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cmd.Printf("  %s: %s\n", key, failedKeys[key])
	}
	return nil
}
