package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/crawlspace-dev/crawlspace/internal/app"
	"github.com/crawlspace-dev/crawlspace/internal/common"
)

func main() {
	configPath := os.Getenv("CRAWLSPACE_CONFIG")
	if configPath == "" {
		configPath = "crawlspace.toml"
	}

	config, err := common.LoadFromFiles(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal logger for MCP (console only, warn level, keeps stdio clean)
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:       arbor_models.LogWriterTypeConsole,
		TimeFormat: "15:04:05",
	}).WithLevelFromString("warn")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	mcpServer := server.NewMCPServer(
		"crawlspace",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createScrapePageTool(), handleScrapePage(application.Coordinator, logger))
	mcpServer.AddTool(createMapSiteTool(), handleMapSite(application.Coordinator, logger))
	mcpServer.AddTool(createCrawlStatusTool(), handleCrawlStatus(application.Coordinator, logger))

	// Blocks on stdio
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
