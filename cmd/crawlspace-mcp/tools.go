package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createScrapePageTool returns the scrape_page tool definition
func createScrapePageTool() mcp.Tool {
	return mcp.NewTool("scrape_page",
		mcp.WithDescription("Fetch a single URL and return its content as markdown with title, description and extracted links"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute URL to scrape (http or https)"),
		),
		mcp.WithString("tenant_id",
			mcp.Description("Tenant to bill the request against (default: default)"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Request budget in seconds (default: 60)"),
		),
	)
}

// createMapSiteTool returns the map_site tool definition
func createMapSiteTool() mcp.Tool {
	return mcp.NewTool("map_site",
		mcp.WithDescription("Discover the URLs of a website by combining sitemap traversal, the link index and search results"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Site origin to map"),
		),
		mcp.WithString("search",
			mcp.Description("Optional query; results are re-ranked by relevance to it"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum URLs to return (default: 100, max: 5000)"),
		),
		mcp.WithString("sitemap",
			mcp.Description("Sitemap mode: include (default), only, skip"),
		),
		mcp.WithBoolean("include_subdomains",
			mcp.Description("Keep links on sibling subdomains"),
		),
		mcp.WithString("tenant_id",
			mcp.Description("Tenant to bill the request against (default: default)"),
		),
	)
}

// createCrawlStatusTool returns the get_crawl_status tool definition
func createCrawlStatusTool() mcp.Tool {
	return mcp.NewTool("get_crawl_status",
		mcp.WithDescription("Report progress of a running or finished crawl: state, completed and total page counts, credits used"),
		mcp.WithString("crawl_id",
			mcp.Required(),
			mcp.Description("Crawl job ID returned when the crawl was started"),
		),
	)
}
