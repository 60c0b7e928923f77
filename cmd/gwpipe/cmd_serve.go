package main

import (
	"context"

	"github.com/spf13/cobra"

	"gwpipe/internal/logging"
	mcpserver "gwpipe/internal/mcp"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio for editor and agent integration",
	Long: `Starts an MCP server over stdin/stdout. An MCP client (Cursor, Claude
Desktop, any agent runner) connects and drives the pipeline through the
start_run, get_status, get_report and list_inputs tools.

The server monitors for parent process death. When the client disconnects
or restarts, the server self-terminates to prevent zombie processes.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	srv := mcpserver.NewServer()
	defer srv.Shutdown()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mcpserver.WatchParent(ctx, cancel)

	logging.New("mcp").Info("starting gwpipe MCP server over stdio (parent watchdog active)")
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
