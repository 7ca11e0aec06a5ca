package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete a memory entry",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	cmd.Flags().StringP("tool", "t", "", "Origin consumer (required)")
	cmd.MarkFlagRequired("tool")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	tool, _ := cmd.Flags().GetString("tool")

	eng, store, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer store.Close()

	removed, err := eng.Delete(context.Background(), args[0], tool)
	if err != nil {
		exitErr("rm", err)
	}
	if !removed {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
	fmt.Printf("%s deleted\n", args[0])
}
