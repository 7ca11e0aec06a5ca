package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/memsync/pkg/types"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Create or update a memory entry",
		Long:  "Create or update a memory entry. Content can be a positional arg or piped via stdin; pass --map to parse it as a JSON object.",
		Run:   runPut,
	}

	cmd.Flags().StringP("key", "k", "", "Entry key (required)")
	cmd.Flags().StringP("tool", "t", "", "Origin consumer (required)")
	cmd.Flags().String("type", string(types.MemoryShared), "Memory type: shared or tool_specific")
	cmd.Flags().String("scope", string(types.ScopeSession), "Scope: session or global")
	cmd.Flags().String("tier", string(types.TierHot), "Storage tier hint: hot, warm, or cold")
	cmd.Flags().IntP("priority", "p", 0, "Priority (higher is retained preferentially)")
	cmd.Flags().Int64("ttl", 0, "TTL in seconds (0 = no expiry)")
	cmd.Flags().Float64("relevance", 0, "Context relevance score")
	cmd.Flags().Bool("map", false, "Parse content as a JSON object")

	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("tool")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	key, _ := cmd.Flags().GetString("key")
	tool, _ := cmd.Flags().GetString("tool")
	memType, _ := cmd.Flags().GetString("type")
	scope, _ := cmd.Flags().GetString("scope")
	tier, _ := cmd.Flags().GetString("tier")
	priority, _ := cmd.Flags().GetInt("priority")
	ttl, _ := cmd.Flags().GetInt64("ttl")
	relevance, _ := cmd.Flags().GetFloat64("relevance")
	asMap, _ := cmd.Flags().GetBool("map")

	var raw string
	if len(args) > 0 {
		raw = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			raw = string(b)
		}
	}
	if strings.TrimSpace(raw) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	var content any = raw
	if asMap {
		m := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			exitErr("parse content as JSON object", err)
		}
		content = m
	}

	eng, store, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer store.Close()

	entry := &types.MemoryEntry{
		MemoryType:  types.MemoryType(memType),
		Scope:       types.Scope(scope),
		Priority:    priority,
		TTLSeconds:  ttl,
		Content:     content,
		StorageTier: types.StorageTier(tier),
		Metadata: types.MemoryMetadata{
			ContextRelevance: relevance,
		},
	}

	outcome, err := eng.Update(context.Background(), key, entry, tool)
	if err != nil {
		exitErr("put", err)
	}
	fmt.Printf("%s %s\n", key, outcome)
}
