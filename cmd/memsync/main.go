// cmd/memsync is the entry point for the memsync CLI and daemon.
//
// The put/get/rm/status/purge commands operate on the configured storage
// backend directly; serve runs the synchronization daemon that drains
// pending operations to the consumers' WebSocket adapters.
package main

import (
	"os"

	"github.com/scrypster/memsync/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
