package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// SearchOptions describes one registry search. Equivalent option values must
// hash identically, so normalization happens before hashing.
type SearchOptions struct {
	Query    string   `json:"query"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
	Offset   int      `json:"offset"`
	Limit    int      `json:"limit"`
}

// DefaultSearchLimit is applied when the caller leaves Limit unset, before
// hashing, so explicit and implicit defaults share a cache row.
const DefaultSearchLimit = 20

// normalize returns a canonical copy: trimmed lowercase query and category,
// tags lowercased, deduplicated and sorted, default limit applied. Tag order
// is deliberately not significant (order-invariant hashing).
func (o SearchOptions) normalize() SearchOptions {
	n := SearchOptions{
		Query:    strings.ToLower(strings.TrimSpace(o.Query)),
		Category: strings.ToLower(strings.TrimSpace(o.Category)),
		Offset:   o.Offset,
		Limit:    o.Limit,
	}
	if n.Limit <= 0 {
		n.Limit = DefaultSearchLimit
	}
	if n.Offset < 0 {
		n.Offset = 0
	}

	seen := make(map[string]struct{}, len(o.Tags))
	for _, tag := range o.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		n.Tags = append(n.Tags, tag)
	}
	sort.Strings(n.Tags)
	return n
}

// QueryHash derives the deterministic cache key for a set of search options.
// The JSON encoding of the normalized struct has a fixed field order, so the
// hash is stable across processes.
func QueryHash(o SearchOptions) string {
	data, err := json.Marshal(o.normalize())
	if err != nil {
		// SearchOptions contains only marshallable fields; this cannot fail.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
