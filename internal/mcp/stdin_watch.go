package mcp

import (
	"context"
	"os"
	"time"

	"gwpipe/internal/logging"
)

// WatchParent monitors for parent process death in a background
// goroutine and calls cancelFn when the parent PID changes (the MCP
// client disconnected or was restarted). This keeps orphaned server
// processes from accumulating while a long inference run is in flight.
//
// It must NOT read from stdin: the SDK's stdio transport owns stdin
// exclusively, and stealing bytes here would corrupt the JSON-RPC
// stream.
//
// The goroutine exits when ctx is canceled or parent death is detected.
func WatchParent(ctx context.Context, cancelFn context.CancelFunc) {
	ppid := os.Getppid()
	log := logging.New("mcp")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				if os.Getppid() != ppid {
					log.Warn("parent process died, shutting down", "was_pid", ppid)
					cancelFn()
					return
				}
			}
		}
	}()
}
