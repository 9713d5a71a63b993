package history

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
)

// currentCacheVersion defines the version of the cached history layout
const currentCacheVersion = 1

// maxCacheAge is how long a mined history stays fresh.
const maxCacheAge = 7 * 24 * time.Hour

// cachedHistory is the value stored for one mining pass.
type cachedHistory struct {
	Events  []schema.CommitEvent `json:"events"`
	Skipped int                  `json:"skipped"`
}

// checkCacheHit attempts to retrieve and validate a cached result
func checkCacheHit(store contract.CacheStore, key string) *cachedHistory {
	data, version, ts, err := store.Get(key)
	if err != nil {
		return nil // Cache miss
	}

	// Validate version and staleness
	if version != currentCacheVersion || time.Since(time.Unix(ts, 0)) > maxCacheAge {
		return nil
	}
	var result cachedHistory
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

// storeHistory writes a mining pass to the cache. Failures only cost a recomputation.
func storeHistory(store contract.CacheStore, key string, entry cachedHistory) {
	if data, err := json.Marshal(entry); err == nil {
		_ = store.Set(key, data, currentCacheVersion, time.Now().Unix())
	}
}

// generateCacheKey creates a unique key from everything that shapes the mined events.
// The resolved tip commit is part of the key, so new commits invalidate the entry
// and different refs never share one.
func generateCacheKey(repo, tip string, since, until time.Time, m *Miner) string {
	key := fmt.Sprintf("%s:%s:%d:%d:%s:%s:%s:%s",
		repo,
		tip,
		unixOrZero(since),
		unixOrZero(until),
		m.PathFilter,
		strings.Join(m.Excludes, ","),
		strings.Join(sources(m.Classifier.patterns), ","),
		strings.Join(sources(m.Classifier.exclusions), ","),
	)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
