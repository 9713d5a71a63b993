package iocache

import (
	"fmt"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	bolt "go.etcd.io/bbolt"
)

const blobBucket = "source_blobs"

// BoltBlobCache keeps file contents at a commit in a single bbolt file.
// bbolt serializes writers, so concurrent extraction workers may share it.
type BoltBlobCache struct {
	db *bolt.DB
}

var _ contract.BlobCache = &BoltBlobCache{} // Compile-time check

// NewBlobCache opens (or creates) the blob cache file at path.
func NewBlobCache(path string) (*BoltBlobCache, error) {
	if path == "" {
		path = contract.GetBlobCacheFilePath()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open blob cache at %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(blobBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", blobBucket, err)
	}
	return &BoltBlobCache{db: db}, nil
}

func blobKey(commitID, path string) []byte {
	return []byte(commitID + ":" + path)
}

// GetBlob returns a copy of the cached content, if present.
func (c *BoltBlobCache) GetBlob(commitID, path string) ([]byte, bool) {
	var out []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(blobBucket))
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		if v := b.Get(blobKey(commitID, path)); v != nil {
			// v is only valid for the life of the transaction
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, out != nil
}

// PutBlob stores content for (commit, path).
func (c *BoltBlobCache) PutBlob(commitID, path string, content []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(blobBucket))
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		return b.Put(blobKey(commitID, path), content)
	})
}

// Len returns the number of cached blobs.
func (c *BoltBlobCache) Len() int {
	n := 0
	_ = c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(blobBucket)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// Close releases the file lock.
func (c *BoltBlobCache) Close() error {
	return c.db.Close()
}
