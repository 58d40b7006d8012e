package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/coordinator"
	"github.com/crawlspace-dev/crawlspace/internal/services/mapper"
)

// handleScrapePage implements the scrape_page tool
func handleScrapePage(coord *coordinator.Coordinator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil || url == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: url parameter is required"),
				},
			}, nil
		}

		tenantID := request.GetString("tenant_id", "default")
		timeoutSeconds := request.GetInt("timeout_seconds", 60)

		doc, err := coord.Scrape(ctx, tenantID, coordinator.ScrapeRequest{
			URL:     url,
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		})
		if err != nil {
			logger.Error().Err(err).Str("url", url).Msg("Scrape failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Scrape error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatDocument(doc)),
			},
		}, nil
	}
}

// handleMapSite implements the map_site tool
func handleMapSite(coord *coordinator.Coordinator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil || url == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: url parameter is required"),
				},
			}, nil
		}

		tenantID := request.GetString("tenant_id", "default")
		limit := request.GetInt("limit", 100)

		result, err := coord.Map(ctx, tenantID, mapper.Request{
			URL:               url,
			Search:            request.GetString("search", ""),
			Limit:             limit,
			Sitemap:           request.GetString("sitemap", ""),
			IncludeSubdomains: request.GetBool("include_subdomains", false),
			UseIndex:          true,
		})
		if err != nil {
			logger.Error().Err(err).Str("url", url).Msg("Map failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Map error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatMapResult(url, result)),
			},
		}, nil
	}
}

// handleCrawlStatus implements the get_crawl_status tool
func handleCrawlStatus(coord *coordinator.Coordinator, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		crawlID, err := request.RequireString("crawl_id")
		if err != nil || crawlID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: crawl_id parameter is required"),
				},
			}, nil
		}

		page, err := coord.GetCrawlStatus(ctx, crawlID, 0, 20)
		if err != nil {
			logger.Error().Err(err).Str("crawl_id", crawlID).Msg("GetCrawlStatus failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Status error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatCrawlStatus(crawlID, page)),
			},
		}, nil
	}
}
