package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Fortemi/fortemi-sub000/internal/adapters/driving/mcp"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server for AI assistant integration.

By default, the server communicates over stdio using JSON-RPC. Use --port
to serve streamable HTTP instead.

While serving, the maintenance scheduler keeps the graph fresh and edits
to the config file are applied without a restart.

Examples:
  # Stdio mode
  fortemi mcp serve

  # HTTP mode
  fortemi mcp serve --port 8080`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	ports := &mcp.Ports{
		Search:   searchService,
		Document: documentService,
		Links:    linkService,
		Pipeline: pipelineService,
		Graph:    graphService,
	}

	server, err := mcp.NewServer(ports)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	if scheduler != nil {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				logger.Error("Maintenance scheduler stopped: %v", err)
			}
		}()
		defer func() {
			if err := scheduler.Stop(); err != nil {
				logger.Warn("Stopping scheduler: %v", err)
			}
		}()
	}

	if watchConfig != nil {
		go func() {
			if err := watchConfig(ctx, reloadSettings); err != nil {
				logger.Warn("Config watch stopped: %v", err)
			}
		}()
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}

	return server.Run(ctx)
}
