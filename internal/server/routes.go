package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Core API
	mux.HandleFunc("/v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.ScrapeHandler.Scrape,
		})
	})
	mux.HandleFunc("/v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.CrawlHandler.Start,
		})
	})
	mux.HandleFunc("/v1/crawl/", s.handleCrawlRoutes)
	mux.HandleFunc("/v1/map", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.MapHandler.Map,
		})
	})

	// System
	mux.HandleFunc("/health", s.app.APIHandler.Health)
	mux.HandleFunc("/version", s.app.APIHandler.Version)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleCrawlRoutes dispatches /v1/crawl/{id} and /v1/crawl/{id}/events
func (s *Server) handleCrawlRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/events") {
		s.app.EventsHandler.Events(w, r)
		return
	}
	RouteByMethod(w, r, MethodRouter{
		"GET":    s.app.CrawlHandler.Status,
		"DELETE": s.app.CrawlHandler.Cancel,
	})
}
