// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/patientportal/internal/util"
	"github.com/jmcleod/patientportal/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(bucket, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(bucket, key, value)
	return nil
}

func (r *Repository) putLocked(bucket, key string, value []byte) {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string][]byte)
	}
	r.data[bucket][key] = util.CopyBytes(value)
}

func (r *Repository) Get(bucket, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return util.CopyBytes(v), nil
}

func (r *Repository) Delete(bucket, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[bucket][key]; !ok {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	delete(r.data[bucket], key)
	return nil
}

func (r *Repository) List(bucket string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data[bucket]))
	for k := range r.data[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch executes fn while holding the write lock. On error, all writes are rolled back.
func (r *Repository) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)
	if err := fn(&memoryBatchTx{repo: r, bucket: bucket}); err != nil {
		if snapshot == nil {
			delete(r.data, bucket)
		} else {
			r.data[bucket] = snapshot
		}
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string][]byte {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = util.CopyBytes(v)
	}
	return cp
}

type memoryBatchTx struct {
	repo   *Repository
	bucket string
}

func (tx *memoryBatchTx) Put(key string, value []byte) error {
	tx.repo.putLocked(tx.bucket, key, value)
	return nil
}

func (tx *memoryBatchTx) Delete(key string) error {
	delete(tx.repo.data[tx.bucket], key)
	return nil
}
