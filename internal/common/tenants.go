package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/crawlspace-dev/crawlspace/internal/models"
)

// TenantLoader resolves tenant views from per-tenant yaml files in a
// directory, with a read-through cache so a view survives at least one
// request. Unknown tenants fall back to the configured defaults.
type TenantLoader struct {
	dir            string
	defaultLimit   int
	defaultCredits int64
	cacheTTL       time.Duration
	logger         arbor.ILogger

	mu    sync.RWMutex
	cache map[string]cachedTenant
}

type cachedTenant struct {
	view      *models.TenantView
	fetchedAt time.Time
}

// NewTenantLoader creates a tenant loader over a directory of yaml files.
func NewTenantLoader(config *TenantsConfig, logger arbor.ILogger) *TenantLoader {
	return &TenantLoader{
		dir:            config.Dir,
		defaultLimit:   config.DefaultLimit,
		defaultCredits: config.DefaultCredits,
		cacheTTL:       Duration(config.CacheTTL, time.Minute),
		logger:         logger,
		cache:          make(map[string]cachedTenant),
	}
}

// Lookup returns the tenant view for an id, reading through the cache.
func (l *TenantLoader) Lookup(ctx context.Context, tenantID string) (*models.TenantView, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("empty tenant id")
	}

	l.mu.RLock()
	if entry, ok := l.cache[tenantID]; ok && time.Since(entry.fetchedAt) < l.cacheTTL {
		l.mu.RUnlock()
		return entry.view, nil
	}
	l.mu.RUnlock()

	view := l.load(tenantID)

	l.mu.Lock()
	l.cache[tenantID] = cachedTenant{view: view, fetchedAt: time.Now()}
	l.mu.Unlock()

	return view, nil
}

func (l *TenantLoader) load(tenantID string) *models.TenantView {
	path := filepath.Join(l.dir, tenantID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Debug().
			Str("tenant_id", tenantID).
			Str("path", path).
			Msg("No tenant file, using defaults")
		return &models.TenantView{
			TenantID:         tenantID,
			ConcurrencyLimit: l.defaultLimit,
			CreditsAvailable: l.defaultCredits,
		}
	}

	var view models.TenantView
	if err := yaml.Unmarshal(data, &view); err != nil {
		l.logger.Warn().
			Err(err).
			Str("tenant_id", tenantID).
			Str("path", path).
			Msg("Failed to parse tenant file, using defaults")
		return &models.TenantView{
			TenantID:         tenantID,
			ConcurrencyLimit: l.defaultLimit,
			CreditsAvailable: l.defaultCredits,
		}
	}

	view.TenantID = tenantID
	if view.ConcurrencyLimit < 0 {
		view.ConcurrencyLimit = 0
	}
	return &view
}
