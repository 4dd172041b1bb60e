// Package registry syncs MCP server listings from external registries into
// the local cache. Registries are independent: one failing never blocks the
// others.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashgraphonline/holdesk/log"
	"github.com/hashgraphonline/holdesk/store"
	"github.com/hashicorp/go-retryablehttp"
)

// Fetcher retrieves the server listings of one named registry.
type Fetcher interface {
	// Name is the registry identifier used in sync bookkeeping.
	Name() string
	// Fetch returns the registry's current server listings.
	Fetch(ctx context.Context) ([]*store.ServerRecord, error)
}

// PulseMCPBaseURL is the default PulseMCP API endpoint.
const PulseMCPBaseURL = "https://api.pulsemcp.com/v0beta"

// pulsePageSize is the page size requested from PulseMCP.
const pulsePageSize = 100

// pulseMaxPages caps pagination so a misbehaving endpoint cannot stall a
// sync indefinitely.
const pulseMaxPages = 10

// PulseMCPFetcher fetches listings from the PulseMCP registry API.
type PulseMCPFetcher struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewPulseMCPFetcher creates a fetcher against baseURL (empty for the public
// endpoint). Transient HTTP failures are retried with backoff.
func NewPulseMCPFetcher(baseURL string) *PulseMCPFetcher {
	if baseURL == "" {
		baseURL = PulseMCPBaseURL
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 30 * time.Second
	return &PulseMCPFetcher{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Name implements Fetcher.
func (f *PulseMCPFetcher) Name() string { return "pulsemcp" }

type pulseServer struct {
	Name                 string   `json:"name"`
	ShortDescription     string   `json:"short_description"`
	PackageName          string   `json:"package_name"`
	PackageDownloadCount int      `json:"package_download_count"`
	GithubStars          int      `json:"github_stars"`
	Tags                 []string `json:"tags"`
}

type pulsePage struct {
	Servers    []pulseServer `json:"servers"`
	TotalCount int           `json:"total_count"`
	Next       string        `json:"next"`
}

// Fetch pages through the PulseMCP listings.
func (f *PulseMCPFetcher) Fetch(ctx context.Context) ([]*store.ServerRecord, error) {
	var out []*store.ServerRecord
	for page := 0; page < pulseMaxPages; page++ {
		q := url.Values{}
		q.Set("count_per_page", strconv.Itoa(pulsePageSize))
		q.Set("offset", strconv.Itoa(page*pulsePageSize))

		body, err := f.get(ctx, f.baseURL+"/servers?"+q.Encode())
		if err != nil {
			return nil, err
		}

		var parsed pulsePage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse pulsemcp response: %w", err)
		}

		now := time.Now().UTC()
		for _, s := range parsed.Servers {
			if s.Name == "" {
				continue
			}
			payload, _ := json.Marshal(s)
			out = append(out, &store.ServerRecord{
				ID:           "pulsemcp:" + slugify(s.Name),
				Name:         s.Name,
				Description:  s.ShortDescription,
				Tags:         s.Tags,
				Registry:     f.Name(),
				PackageName:  s.PackageName,
				InstallCount: s.PackageDownloadCount,
				StarCount:    s.GithubStars,
				IsActive:     true,
				LastFetched:  now,
				Payload:      string(payload),
			})
		}

		if parsed.Next == "" || len(parsed.Servers) < pulsePageSize {
			break
		}
	}
	return out, nil
}

func (f *PulseMCPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		// retryablehttp echoes the request URL in its give-up error.
		return nil, fmt.Errorf("pulsemcp request failed: %s", log.SanitizeURLs(err.Error()))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pulsemcp returned status %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
