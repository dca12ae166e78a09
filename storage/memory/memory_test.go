package memory

import (
	"errors"
	"testing"

	"github.com/jmcleod/patientportal/storage"
	"github.com/jmcleod/patientportal/storage/storagetest"
)

var errRollback = errors.New("rollback")

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, NewRepository())
}

func TestBatchRollbackOfNewBucket(t *testing.T) {
	repo := NewRepository()
	_ = repo.Batch("fresh", func(tx storage.BatchTx) error {
		_ = tx.Put("k", []byte("v"))
		return errRollback
	})
	if _, ok := repo.data["fresh"]; ok {
		t.Error("bucket created inside a failed batch should not survive")
	}
}
