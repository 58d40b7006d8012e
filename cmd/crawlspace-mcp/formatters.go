package main

import (
	"fmt"
	"strings"

	"github.com/crawlspace-dev/crawlspace/internal/coordinator"
	"github.com/crawlspace-dev/crawlspace/internal/models"
	"github.com/crawlspace-dev/crawlspace/internal/services/mapper"
)

// formatDocument renders a scraped page as markdown for MCP clients
func formatDocument(doc *models.Document) string {
	var sb strings.Builder

	title := doc.Title
	if title == "" {
		title = doc.URL
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))
	sb.WriteString(fmt.Sprintf("**URL:** %s\n", doc.URL))
	if doc.ResolvedURL != "" && doc.ResolvedURL != doc.URL {
		sb.WriteString(fmt.Sprintf("**Resolved:** %s\n", doc.ResolvedURL))
	}
	sb.WriteString(fmt.Sprintf("**Status:** %d\n", doc.StatusCode))
	if doc.Description != "" {
		sb.WriteString(fmt.Sprintf("**Description:** %s\n", doc.Description))
	}
	sb.WriteString("\n")

	if !doc.Success {
		sb.WriteString(fmt.Sprintf("Scrape did not succeed: %s\n", doc.Error))
		return sb.String()
	}

	sb.WriteString("---\n\n")
	sb.WriteString(doc.Markdown)

	if len(doc.Links) > 0 {
		sb.WriteString("\n\n---\n\n## Links\n\n")
		for _, link := range doc.Links {
			sb.WriteString(fmt.Sprintf("- %s\n", link))
		}
	}

	return sb.String()
}

// formatMapResult renders a map response as a markdown URL listing
func formatMapResult(origin string, result *mapper.Result) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Map of %s\n\n", origin))
	sb.WriteString(fmt.Sprintf("Found %d URLs in %dms.\n\n", len(result.Links), result.TimeTakenMs))
	if result.Warning != "" {
		sb.WriteString(fmt.Sprintf("> %s\n\n", result.Warning))
	}

	for _, entry := range result.MapResults {
		if entry.Title != "" {
			sb.WriteString(fmt.Sprintf("- [%s](%s)", entry.Title, entry.URL))
		} else {
			sb.WriteString(fmt.Sprintf("- %s", entry.URL))
		}
		if entry.Description != "" {
			sb.WriteString(fmt.Sprintf(" - %s", entry.Description))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatCrawlStatus renders a crawl rollup as markdown
func formatCrawlStatus(crawlID string, page *coordinator.StatusPage) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Crawl %s\n\n", crawlID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", page.Status))
	sb.WriteString(fmt.Sprintf("**Progress:** %d/%d pages\n", page.Completed, page.Total))
	if page.CreditsUsed >= 0 {
		sb.WriteString(fmt.Sprintf("**Credits used:** %d\n", page.CreditsUsed))
	}
	if page.Warning != "" {
		sb.WriteString(fmt.Sprintf("\n> %s\n", page.Warning))
	}

	if len(page.Data) > 0 {
		sb.WriteString("\n## Completed pages\n\n")
		for _, doc := range page.Data {
			if doc.Title != "" {
				sb.WriteString(fmt.Sprintf("- %s (%s)\n", doc.Title, doc.URL))
			} else {
				sb.WriteString(fmt.Sprintf("- %s\n", doc.URL))
			}
		}
	}

	return sb.String()
}
