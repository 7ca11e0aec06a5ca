package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the memory status snapshot",
		Long:  "Print aggregate entry counts, token usage per consumer, and the pending-operation queue depth. Pending operations are the primary signal of synchronization lag.",
		Run:   runStatus,
	}
	RootCmd.AddCommand(cmd)

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired entries",
		Run:   runPurge,
	}
	RootCmd.AddCommand(purge)
}

func runStatus(cmd *cobra.Command, args []string) {
	eng, store, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer store.Close()

	status, err := eng.GetMemoryStatus(context.Background())
	if err != nil {
		exitErr("status", err)
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		exitErr("encode status", err)
	}
	fmt.Println(string(out))
}

func runPurge(cmd *cobra.Command, args []string) {
	eng, store, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer store.Close()

	purged, err := eng.PurgeExpired(context.Background())
	if err != nil {
		exitErr("purge", err)
	}
	fmt.Printf("purged %d expired entries\n", purged)
}
