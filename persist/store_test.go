package persist

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/carcode/internal/crypto"
)

const testTenant = "test-tenant"

func makeTestContainer(batchID string, payload []byte) *BatchContainer {
	encodedData := base64.StdEncoding.EncodeToString(payload)
	checksum := crypto.CalculateChecksum(payload)

	return &BatchContainer{
		BatchID:          batchID,
		CreatedAt:        time.Now().UTC(),
		CodecVersion:     "1",
		EncryptionMethod: "argon2id+chacha20poly1305",
		TenantID:         testTenant,
		SealedData:       encodedData,
		Checksum:         checksum,
		LabelCount:       3,
	}
}

// Test the Common Store Functionality
func testStoreImplementation(t *testing.T, store Store) {
	container := makeTestContainer("test-batch-001", []byte("sealed-batch-data-here"))

	// Health and connectivity tests
	t.Run("Ping", func(t *testing.T) {
		err := store.Ping()
		assert.NoError(t, err, "Store should be reachable")
	})

	t.Run("GetType", func(t *testing.T) {
		storeType := store.GetType()
		assert.NotEmpty(t, storeType, "Store type should not be empty")
		t.Logf("Store type: %s", storeType)
	})

	// Batch operations
	t.Run("SaveBatch", func(t *testing.T) {
		err := store.SaveBatch(container)
		require.NoError(t, err)
	})

	t.Run("BatchExists", func(t *testing.T) {
		exists, err := store.BatchExists(container.BatchID)
		require.NoError(t, err)
		assert.True(t, exists, "Batch should exist after saving")
	})

	t.Run("SaveBatchRefusesOverwrite", func(t *testing.T) {
		err := store.SaveBatch(container)
		require.Error(t, err, "Saving a batch with an existing ID should fail")

		var existsErr BatchExistsError
		assert.ErrorAs(t, err, &existsErr)
	})

	t.Run("LoadBatch", func(t *testing.T) {
		loaded, err := store.LoadBatch(container.BatchID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, container.BatchID, loaded.BatchID)
		assert.Equal(t, container.SealedData, loaded.SealedData)
		assert.Equal(t, container.Checksum, loaded.Checksum)
		assert.Equal(t, container.CodecVersion, loaded.CodecVersion)
		assert.Equal(t, container.LabelCount, loaded.LabelCount)
		assert.Equal(t, testTenant, loaded.TenantID)
		assert.False(t, loaded.CreatedAt.IsZero(), "CreatedAt should be set")
	})

	t.Run("ListBatches", func(t *testing.T) {
		// Add a second batch so ordering is observable
		second := makeTestContainer("test-batch-002", []byte("another-sealed-batch"))
		second.CreatedAt = time.Now().UTC().Add(time.Second)
		require.NoError(t, store.SaveBatch(second))

		batches, err := store.ListBatches()
		require.NoError(t, err)
		require.Len(t, batches, 2, "Should list both saved batches")

		ids := []string{batches[0].BatchID, batches[1].BatchID}
		assert.Contains(t, ids, "test-batch-001")
		assert.Contains(t, ids, "test-batch-002")

		for _, info := range batches {
			assert.True(t, info.IsValid, "Batch %s should validate", info.BatchID)
			assert.Greater(t, info.FileSize, int64(0), "Batch %s should have a size", info.BatchID)
			assert.NotEmpty(t, info.Checksum)
		}

		// Newest first
		assert.Equal(t, "test-batch-002", batches[0].BatchID,
			"Batches should be sorted newest first")
	})

	// Tenant operations
	t.Run("ListTenants", func(t *testing.T) {
		tenants, err := store.ListTenants()
		require.NoError(t, err)
		assert.Len(t, tenants, 1, "Should have exactly one tenant")
		assert.True(t, strings.EqualFold(tenants[0], testTenant),
			"Tenant should be %s, got %s", testTenant, tenants[0])
	})

	t.Run("DeleteBatch", func(t *testing.T) {
		err := store.DeleteBatch("test-batch-002")
		require.NoError(t, err)

		exists, err := store.BatchExists("test-batch-002")
		require.NoError(t, err)
		assert.False(t, exists, "Batch should not exist after deletion")
	})

	// Error handling tests
	t.Run("ErrorHandling", func(t *testing.T) {
		t.Run("LoadNonexistentBatch", func(t *testing.T) {
			loaded, err := store.LoadBatch("nonexistent-batch-12345")
			assert.Error(t, err, "Loading nonexistent batch should return error")
			assert.Nil(t, loaded, "Container should be nil when error occurs")
			t.Logf("Got expected error: %v", err)
		})

		t.Run("DeleteNonexistentBatch", func(t *testing.T) {
			err := store.DeleteBatch("nonexistent-batch-12345")
			assert.Error(t, err, "Deleting nonexistent batch should return error")

			errorMsg := err.Error()
			assert.True(t,
				strings.Contains(errorMsg, "not found") ||
					strings.Contains(errorMsg, "does not exist") ||
					strings.Contains(errorMsg, "not exist"),
				"Error should indicate batch doesn't exist, got: %s", errorMsg)
		})

		t.Run("DeleteNonexistentTenant", func(t *testing.T) {
			err := store.DeleteTenant("nonexistent-tenant-12345")
			assert.Error(t, err, "Deleting nonexistent tenant should return error")
		})

		t.Run("DeleteCurrentTenant", func(t *testing.T) {
			err := store.DeleteTenant(testTenant)
			assert.Error(t, err, "Deleting the current tenant should be refused")
		})

		t.Run("SaveNilContainer", func(t *testing.T) {
			err := store.SaveBatch(nil)
			assert.Error(t, err, "Saving a nil container should return error")
		})

		t.Run("SaveBatchWithBadID", func(t *testing.T) {
			bad := makeTestContainer("../escape", []byte("data"))
			err := store.SaveBatch(bad)
			assert.Error(t, err, "Batch IDs with path traversal should be rejected")
		})

		t.Run("LoadBatchWithEmptyID", func(t *testing.T) {
			_, err := store.LoadBatch("")
			assert.Error(t, err, "Empty batch ID should be rejected")
		})
	})

	// Concurrency tests
	t.Run("ConcurrentOperations", func(t *testing.T) {
		var wg sync.WaitGroup
		errCh := make(chan error, 20)

		// Concurrent saves of distinct batches
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				c := makeTestContainer(fmt.Sprintf("concurrent-batch-%03d", id),
					[]byte(fmt.Sprintf("concurrent-data-%d", id)))
				if err := store.SaveBatch(c); err != nil {
					errCh <- err
				}
			}(i)
		}

		// Concurrent reads of the original batch
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.LoadBatch("test-batch-001"); err != nil {
					errCh <- err
				}
			}()
		}

		wg.Wait()
		close(errCh)

		for err := range errCh {
			t.Errorf("Concurrent operation failed: %v", err)
		}

		batches, err := store.ListBatches()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(batches), 11,
			"All concurrently saved batches should be listed")
	})

	// Corruption detection
	t.Run("ChecksumValidation", func(t *testing.T) {
		corrupt := makeTestContainer("corrupt-batch-001", []byte("original-data"))
		corrupt.Checksum = crypto.CalculateChecksum([]byte("different-data"))

		require.NoError(t, store.SaveBatch(corrupt))

		_, err := store.LoadBatch("corrupt-batch-001")
		assert.Error(t, err, "Loading a batch with a checksum mismatch should fail")
		assert.Contains(t, err.Error(), "checksum",
			"Error should mention the checksum mismatch")
	})
}
