package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/crawlspace-dev/crawlspace/internal/common"
	"github.com/crawlspace-dev/crawlspace/internal/coordinator"
	"github.com/crawlspace-dev/crawlspace/internal/crawl"
	"github.com/crawlspace-dev/crawlspace/internal/handlers"
	"github.com/crawlspace-dev/crawlspace/internal/queue"
	"github.com/crawlspace-dev/crawlspace/internal/services/engine"
	"github.com/crawlspace-dev/crawlspace/internal/services/maintenance"
	"github.com/crawlspace-dev/crawlspace/internal/services/mapper"
	"github.com/crawlspace-dev/crawlspace/internal/services/robots"
	"github.com/crawlspace-dev/crawlspace/internal/services/searchprov"
	"github.com/crawlspace-dev/crawlspace/internal/services/sitemap"
	"github.com/crawlspace-dev/crawlspace/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB          *badger.BadgerDB
	Store       *badger.CoordStore
	Semaphore   *queue.Semaphore
	Waiting     *queue.WaitingQueue
	Ready       *queue.ReadyQueue
	Tracker     *crawl.Tracker
	Engine      *engine.Engine
	Robots      *robots.Service
	Sitemaps    *sitemap.Traverser
	Mapper      *mapper.Mapper
	Search      *searchprov.Client
	Coordinator *coordinator.Coordinator
	Maintenance *maintenance.Service

	ScrapeHandler *handlers.ScrapeHandler
	CrawlHandler  *handlers.CrawlHandler
	MapHandler    *handlers.MapHandler
	APIHandler    *handlers.APIHandler
	EventsHandler *handlers.EventsHandler
}

// New wires every component together in dependency order.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{Config: config, Logger: logger}

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.DB = db
	a.Store = badger.NewCoordStore(db, logger)

	crawlTTL := common.Duration(config.Crawl.RecordTTL, 24*time.Hour)

	a.Semaphore = queue.NewSemaphore(a.Store,
		common.Duration(config.Semaphore.TTL, 60*time.Second),
		config.Semaphore.SelfHosted, logger)
	a.Tracker = crawl.NewTracker(a.Store, crawlTTL, logger)
	a.Waiting = queue.NewWaitingQueue(a.Store, a.Semaphore, a.Tracker,
		common.Duration(config.Queue.RecordTTL, 24*time.Hour), logger)
	a.Ready = queue.NewReadyQueue(a.Store, logger)

	a.Engine = engine.New(engine.Options{
		UserAgent:      config.Engine.UserAgent,
		RequestTimeout: common.Duration(config.Engine.RequestTimeout, 30*time.Second),
		RequestDelay:   common.Duration(config.Engine.RequestDelay, 0),
		MaxBodyBytes:   config.Engine.MaxBodyBytes,
		EnableRender:   config.Engine.EnableRender,
	}, logger)

	a.Robots = robots.NewService(a.Engine, config.Engine.UserAgent, logger)
	a.Sitemaps = sitemap.NewTraverser(a.Engine,
		common.Duration(config.Map.SitemapBudget, 120*time.Second), logger)
	a.Search = searchprov.NewClient(a.Store, searchprov.Options{
		BaseURL:       config.Search.BaseURL,
		APIKey:        config.Search.APIKey,
		PageSize:      config.Search.PageSize,
		MaxPages:      config.Search.MaxPages,
		RatePerSecond: config.Search.RatePerSecond,
		CacheTTL:      common.Duration(config.Map.CacheTTL, 48*time.Hour),
	}, logger)

	index := badger.NewIndexStorage(db, logger)
	a.Mapper = mapper.NewMapper(a.Engine, a.Robots, a.Sitemaps, a.Search, index,
		mapper.Options{
			MaxLimit:    config.Map.MaxLimit,
			IndexWindow: common.Duration(config.Map.IndexWindow, 14*24*time.Hour),
		}, logger)

	tenants := common.NewTenantLoader(&config.Tenants, logger)
	a.Coordinator = coordinator.New(
		a.Store, a.Semaphore, a.Waiting, a.Ready, a.Tracker,
		a.Engine, a.Robots, a.Sitemaps, a.Mapper, index, tenants,
		coordinator.Options{
			Workers:           config.Queue.Workers,
			JobTimeout:        common.Duration(config.Queue.JobTimeout, time.Hour),
			RecordTTL:         crawlTTL,
			PreviewRecordTTL:  common.Duration(config.Crawl.PreviewRecordTTL, time.Hour),
			DefaultCrawlLimit: config.Crawl.DefaultLimit,
			DefaultTimeout:    common.Duration(config.Crawl.DefaultTimeout, 60*time.Second),
		}, logger)

	a.Maintenance = maintenance.NewService(a.Waiting, db.Raw(), logger)

	a.ScrapeHandler = handlers.NewScrapeHandler(a.Coordinator, logger)
	a.CrawlHandler = handlers.NewCrawlHandler(a.Coordinator, logger)
	a.MapHandler = handlers.NewMapHandler(a.Coordinator,
		common.Duration(config.Map.Timeout, 2*time.Minute), logger)
	a.APIHandler = handlers.NewAPIHandler(logger)
	a.EventsHandler = handlers.NewEventsHandler(a.Store, logger)

	return a, nil
}

// Start launches the background components.
func (a *App) Start() error {
	a.Coordinator.Start()
	if a.Config.Maintenance.Enabled {
		if err := a.Maintenance.Start(a.Config.Maintenance.Schedule); err != nil {
			return fmt.Errorf("failed to start maintenance: %w", err)
		}
	}
	return nil
}

// Close shuts components down in reverse dependency order.
func (a *App) Close() error {
	if a.Maintenance != nil && a.Config.Maintenance.Enabled {
		a.Maintenance.Stop()
	}
	if a.Coordinator != nil {
		a.Coordinator.Stop()
	}
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return nil
}
