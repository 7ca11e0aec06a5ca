// Package wsadapter implements a ToolAdapter that pushes synchronized
// entries to a consumer over a WebSocket connection. Each delivery is one
// JSON frame; the consumer applies frames idempotently (overwrite by key),
// which is all the at-least-once delivery model requires.
package wsadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"        //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	"nhooyr.io/websocket/wsjson"

	"github.com/scrypster/memsync/pkg/types"
)

// Frame is one sync message on the wire.
type Frame struct {
	Op    string             `json:"op"` // create, update, delete
	Key   string             `json:"key"`
	Entry *types.MemoryEntry `json:"entry,omitempty"`
}

// Adapter delivers sync frames over an established WebSocket connection.
// Writes are serialized; nhooyr allows only one concurrent writer per conn.
type Adapter struct {
	mu           sync.Mutex
	conn         *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	writeTimeout time.Duration
}

// New wraps an established connection. writeTimeout bounds every delivery;
// zero means 10 seconds.
func New(conn *websocket.Conn, writeTimeout time.Duration) *Adapter {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Adapter{conn: conn, writeTimeout: writeTimeout}
}

// Dial connects to a consumer's WebSocket endpoint and wraps the result.
func Dial(ctx context.Context, url string, writeTimeout time.Duration) (*Adapter, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsadapter: failed to dial %s: %w", url, err)
	}
	return New(conn, writeTimeout), nil
}

// SyncCreate delivers a newly created entry.
func (a *Adapter) SyncCreate(ctx context.Context, key string, entry *types.MemoryEntry) error {
	return a.write(ctx, Frame{Op: "create", Key: key, Entry: entry})
}

// SyncUpdate delivers an updated entry.
func (a *Adapter) SyncUpdate(ctx context.Context, key string, entry *types.MemoryEntry) error {
	return a.write(ctx, Frame{Op: "update", Key: key, Entry: entry})
}

// SyncDelete removes the entry from the consumer's context.
func (a *Adapter) SyncDelete(ctx context.Context, key string) error {
	return a.write(ctx, Frame{Op: "delete", Key: key})
}

// Close closes the underlying connection.
func (a *Adapter) Close() error {
	return a.conn.Close(websocket.StatusNormalClosure, "")
}

// write sends one frame with the configured timeout.
func (a *Adapter) write(ctx context.Context, frame Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, a.conn, frame); err != nil {
		return fmt.Errorf("wsadapter: failed to write %s frame for %s: %w", frame.Op, frame.Key, err)
	}
	return nil
}
