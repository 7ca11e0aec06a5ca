package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memsync/internal/adapter/wsadapter"
	"github.com/scrypster/memsync/internal/budget"
	"github.com/scrypster/memsync/internal/config"
	"github.com/scrypster/memsync/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization daemon",
		Long: "Run the background drain loop, delivering pending operations to the " +
			"WebSocket adapters listed in the config. The config file is watched for " +
			"changes so budget ceilings can be adjusted without a restart.",
		Run: runServe,
	}
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	budgets := budget.NewManager(cfg.Budget.CharsPerToken)
	for tool, ceiling := range cfg.Budget.Ceilings {
		budgets.SetCeiling(tool, ceiling)
	}

	eng, err := engine.New(store, budgets, cfg.EngineConfig())
	if err != nil {
		exitErr("create engine", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for consumer, endpoint := range cfg.Adapters {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		adapter, err := wsadapter.Dial(dialCtx, endpoint, 0)
		dialCancel()
		if err != nil {
			// The consumer stays registered: its deliveries queue up until
			// the endpoint comes back and the operator restarts.
			log.Printf("WARNING: failed to connect adapter for %s at %s: %v", consumer, endpoint, err)
			eng.RegisterConsumer(consumer)
			continue
		}
		defer adapter.Close()
		eng.RegisterAdapter(consumer, adapter)
		log.Printf("Registered adapter for %s at %s", consumer, endpoint)
	}

	if err := eng.Start(ctx); err != nil {
		exitErr("start engine", err)
	}

	var watcher *config.Watcher
	if path := resolveConfigPath(); path != "" {
		watcher = config.NewWatcher(path, func(updated *config.Config) {
			for tool, ceiling := range updated.Budget.Ceilings {
				budgets.SetCeiling(tool, ceiling)
			}
			log.Printf("Applied %d budget ceilings from reloaded config", len(updated.Budget.Ceilings))
		})
		if err := watcher.Start(); err != nil {
			log.Printf("WARNING: config watcher failed to start: %v", err)
			watcher = nil
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down...")

	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: shutdown error: %v", err)
	}
}

// resolveConfigPath returns the config file in effect, or "" for env-only.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("MEMSYNC_CONFIG")
}
