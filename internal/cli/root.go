// Package cli implements the memsync CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/memsync/internal/budget"
	"github.com/scrypster/memsync/internal/config"
	"github.com/scrypster/memsync/internal/engine"
	"github.com/scrypster/memsync/internal/storage"
	badgerstore "github.com/scrypster/memsync/internal/storage/badger"
	memorystore "github.com/scrypster/memsync/internal/storage/memory"
	"github.com/scrypster/memsync/internal/storage/postgres"
	"github.com/scrypster/memsync/internal/storage/sqlite"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memsync",
	Short: "Shared memory synchronization for budgeted consumers",
	Long: "memsync keeps a pool of memory entries consistent across tools with " +
		"finite context windows, compressing entries to fit each tool's token budget.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MEMSYNC_CONFIG or env-only)")
}

// loadConfig resolves the config from the flag, the environment, or defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MEMSYNC_CONFIG")
	}
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

// openStore builds the storage backend selected by the config.
func openStore(cfg *config.Config) (storage.EntryStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystore.NewStore(), nil
	case "sqlite":
		return sqlite.NewStore(cfg.Storage.Path)
	case "badger":
		return badgerstore.NewStore(cfg.Storage.Path)
	case "postgres":
		return postgres.NewStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// openEngine builds a store, budget manager, and engine from the config.
// The caller owns closing the returned store.
func openEngine() (*engine.Engine, storage.EntryStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	budgets := budget.NewManager(cfg.Budget.CharsPerToken)
	for tool, ceiling := range cfg.Budget.Ceilings {
		budgets.SetCeiling(tool, ceiling)
	}

	eng, err := engine.New(store, budgets, cfg.EngineConfig())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return eng, store, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
