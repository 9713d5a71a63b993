// Package iocache is for caching I/O calls and tracking runs.
package iocache

import (
	"sync"

	"github.com/huangsam/defectrisk/internal/contract"
)

// CacheStoreManager manages the history cache, the run store and the blob cache.
type CacheStoreManager struct {
	sync.RWMutex // Protects the store pointers during initialization
	history      contract.CacheStore
	runs         contract.RunStore
	blobs        contract.BlobCache
}

var _ contract.CacheManager = &CacheStoreManager{} // Compile-time check

// NewCacheStoreManager wraps already opened stores. Any of them may be nil.
func NewCacheStoreManager(history contract.CacheStore, runs contract.RunStore, blobs contract.BlobCache) *CacheStoreManager {
	return &CacheStoreManager{history: history, runs: runs, blobs: blobs}
}

// GetHistoryStore returns the mined history CacheStore.
func (mgr *CacheStoreManager) GetHistoryStore() contract.CacheStore {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.history
}

// GetRunStore returns the training RunStore.
func (mgr *CacheStoreManager) GetRunStore() contract.RunStore {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.runs
}

// GetBlobCache returns the source BlobCache.
func (mgr *CacheStoreManager) GetBlobCache() contract.BlobCache {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.blobs
}
