package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/memsync/internal/storage"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a memory entry for a consumer",
		Long:  "Fetch a memory entry as the given consumer would see it: entries that exceed the consumer's token budget come back compressed.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringP("tool", "t", "", "Requesting consumer (required)")
	cmd.MarkFlagRequired("tool")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	tool, _ := cmd.Flags().GetString("tool")

	eng, store, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer store.Close()

	entry, err := eng.Get(context.Background(), args[0], tool)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "not found")
			os.Exit(1)
		}
		exitErr("get", err)
	}

	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		exitErr("encode entry", err)
	}
	fmt.Println(string(out))
}
