package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/hashgraphonline/holdesk/cache"
	"github.com/hashgraphonline/holdesk/log"
	"github.com/hashgraphonline/holdesk/store"
	"golang.org/x/time/rate"
)

// SyncResult summarizes one registry's sync outcome.
type SyncResult struct {
	Registry    string        `json:"registry"`
	Synced      bool          `json:"synced"`
	Skipped     bool          `json:"skipped"`
	ServerCount int           `json:"serverCount"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// SyncOptions configures a SyncService.
type SyncOptions struct {
	// Freshness skips registries that synced successfully within this window
	// (default one hour).
	Freshness time.Duration
	// FetchesPerMinute throttles outbound registry fetches (default 10).
	FetchesPerMinute int
	// Force syncs even fresh registries.
	Force bool
}

// SyncService pulls listings from each configured registry into the local
// cache and keeps the per-registry sync bookkeeping current.
type SyncService struct {
	cache     *cache.Manager
	fetchers  []Fetcher
	freshness time.Duration
	force     bool
	limiter   *rate.Limiter
}

// NewSyncService creates a sync service over the given fetchers.
func NewSyncService(c *cache.Manager, fetchers []Fetcher, opts SyncOptions) *SyncService {
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = time.Hour
	}
	perMinute := opts.FetchesPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	return &SyncService{
		cache:     c,
		fetchers:  fetchers,
		freshness: freshness,
		force:     opts.Force,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// SyncAll syncs every configured registry, skipping fresh ones unless forced.
// Failures are recorded per registry and never abort the remaining syncs.
func (s *SyncService) SyncAll(ctx context.Context) []SyncResult {
	results := make([]SyncResult, 0, len(s.fetchers))
	for _, f := range s.fetchers {
		results = append(results, s.syncOne(ctx, f))
	}
	return results
}

// Sync syncs the named registry. Unknown names are an error.
func (s *SyncService) Sync(ctx context.Context, name string) (SyncResult, error) {
	for _, f := range s.fetchers {
		if f.Name() == name {
			return s.syncOne(ctx, f), nil
		}
	}
	return SyncResult{}, fmt.Errorf("unknown registry: %s", name)
}

func (s *SyncService) syncOne(ctx context.Context, f Fetcher) SyncResult {
	name := f.Name()
	if !s.force && s.cache.IsRegistryFresh(ctx, name, s.freshness) {
		log.S().Debugw("registry is fresh, skipping sync", "registry", name)
		return SyncResult{Registry: name, Skipped: true}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return SyncResult{Registry: name, Error: err.Error()}
	}

	started := time.Now()
	servers, err := f.Fetch(ctx)
	elapsed := time.Since(started)
	if err != nil {
		log.S().Warnw("registry sync failed", "registry", name, "error", err)
		if uerr := s.cache.UpdateRegistrySync(ctx, name, store.SyncError, cache.SyncDetails{
			ErrorMessage: err.Error(),
		}); uerr != nil {
			log.S().Warnw("failed to record sync failure", "registry", name, "error", uerr)
		}
		return SyncResult{Registry: name, Duration: elapsed, Error: err.Error()}
	}

	s.cache.BulkCacheServers(ctx, servers)
	if err := s.cache.UpdateRegistrySync(ctx, name, store.SyncSuccess, cache.SyncDetails{
		ServerCount: len(servers),
	}); err != nil {
		log.S().Warnw("failed to record sync success", "registry", name, "error", err)
	}

	log.S().Infow("registry synced", "registry", name, "servers", len(servers), "elapsed", elapsed)
	return SyncResult{Registry: name, Synced: true, ServerCount: len(servers), Duration: elapsed}
}
