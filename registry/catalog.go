package registry

import (
	"context"
	"time"

	"github.com/hashgraphonline/holdesk/store"
)

// CatalogFetcher serves the bundled catalog of popular MCP servers. It is
// the offline fallback: always available, never stale-checked against a
// remote.
type CatalogFetcher struct{}

// NewCatalogFetcher creates the bundled catalog fetcher.
func NewCatalogFetcher() *CatalogFetcher { return &CatalogFetcher{} }

// Name implements Fetcher.
func (c *CatalogFetcher) Name() string { return "catalog" }

// Fetch implements Fetcher.
func (c *CatalogFetcher) Fetch(_ context.Context) ([]*store.ServerRecord, error) {
	now := time.Now().UTC()
	out := make([]*store.ServerRecord, len(bundledCatalog))
	for i, rec := range bundledCatalog {
		r := rec
		r.Registry = c.Name()
		r.IsActive = true
		r.LastFetched = now
		out[i] = &r
	}
	return out, nil
}

// bundledCatalog ships a minimal set of well-known servers so search works
// before any remote sync has ever succeeded.
var bundledCatalog = []store.ServerRecord{
	{
		ID:          "catalog:filesystem",
		Name:        "Filesystem",
		Description: "Read, write and watch files on the local machine",
		Tags:        []string{"files", "local"},
		PackageName: "@modelcontextprotocol/server-filesystem",
	},
	{
		ID:          "catalog:github",
		Name:        "GitHub",
		Description: "Repository search, issues and pull request management",
		Tags:        []string{"git", "development"},
		PackageName: "@modelcontextprotocol/server-github",
	},
	{
		ID:          "catalog:memory",
		Name:        "Memory",
		Description: "Knowledge-graph based persistent memory",
		Tags:        []string{"memory", "knowledge"},
		PackageName: "@modelcontextprotocol/server-memory",
	},
	{
		ID:          "catalog:fetch",
		Name:        "Fetch",
		Description: "Fetch and convert web content for agent consumption",
		Tags:        []string{"web", "http"},
		PackageName: "@modelcontextprotocol/server-fetch",
	},
	{
		ID:          "catalog:hedera",
		Name:        "Hedera",
		Description: "Hedera network queries and transaction tooling",
		Tags:        []string{"hedera", "blockchain"},
		PackageName: "@hashgraphonline/hedera-mcp-server",
	},
}
