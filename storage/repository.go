// Package storage provides the key/value abstraction behind the local
// session store. Values are opaque bytes grouped into named buckets.
package storage

import "errors"

// ErrNotFound is returned when a key is absent from its bucket.
var ErrNotFound = errors.New("record not found")

// BatchTx provides Put and Delete within an atomic transaction.
// The bucket is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error so that
	// clean-up batches stay idempotent.
	Delete(key string) error
}

// Repository defines the interface for durable local storage.
type Repository interface {
	Put(bucket, key string, value []byte) error
	Get(bucket, key string) ([]byte, error)
	Delete(bucket, key string) error
	List(bucket string) ([]string, error)
	// Batch runs fn in a single transaction. If fn returns an error no
	// write made through tx is visible.
	Batch(bucket string, fn func(tx BatchTx) error) error
}
