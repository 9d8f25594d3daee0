package persist

import (
	"fmt"
	"time"
)

// Store defines the interface for persisting issued label batches.
// Batch payloads handed to this interface are already sealed by the issuer
// layer; stores only move opaque containers around and never see plaintext
// tag identifiers.
type Store interface {

	// Batch operations

	// SaveBatch stores a sealed batch container under its batch ID.
	// Parameters:
	// - container: A pointer to a BatchContainer holding the sealed batch data.
	// Returns:
	// - An error if the operation fails.
	SaveBatch(container *BatchContainer) error

	// LoadBatch retrieves a sealed batch container by its batch ID.
	// Parameters:
	// - batchID: The ID of the batch to load.
	// Returns:
	// - A pointer to the BatchContainer.
	// - An error if the operation fails or the batch does not exist.
	LoadBatch(batchID string) (*BatchContainer, error)

	// BatchExists checks whether a batch with the given ID is present.
	// Returns:
	// - A boolean indicating whether the batch exists.
	// - An error if the operation fails.
	BatchExists(batchID string) (bool, error)

	// ListBatches retrieves summary information for all stored batches.
	// Returns:
	// - A slice of BatchInfo structures.
	// - An error if the operation fails.
	ListBatches() ([]BatchInfo, error)

	// DeleteBatch removes the batch with the given ID.
	// Parameters:
	// - batchID: The ID of the batch to delete.
	// Returns:
	// - An error if the operation fails or the batch does not exist.
	DeleteBatch(batchID string) error

	// Tenants

	// ListTenants retrieves a list of tenant IDs that have batch data.
	// Returns:
	// - A slice of strings containing tenant IDs.
	// - An error if the operation fails.
	ListTenants() ([]string, error)

	// DeleteTenant removes all batch data for the specified tenant.
	// Parameters:
	// - tenantID: The ID of the tenant to be deleted.
	// Returns:
	// - An error if the operation fails, or if the tenant does not exist.
	DeleteTenant(tenantID string) error

	// Health and utilities

	// Ping tests the connectivity for remote backends.
	// Returns:
	// - An error if the connectivity test fails.
	Ping() error

	// Close closes the store and releases any resources it holds.
	// Returns:
	// - An error if the operation fails.
	Close() error

	// GetType retrieves the type of store being used.
	// Returns:
	// - A string indicating the type of store (e.g., "filesystem", "s3").
	GetType() string
}

// BatchContainer represents the outer storage format for a sealed label
// batch with its integrity metadata.
type BatchContainer struct {
	// BatchID is a universally unique identifier assigned to each issued
	// batch for tracking purposes.
	BatchID string `json:"batch_id"`

	// CreatedAt indicates the precise timestamp when the batch was issued.
	CreatedAt time.Time `json:"created_at"`

	// CodecVersion specifies the payload format version the labels in this
	// batch were built with. Parsers use it to pick the right decode path
	// if the wire format ever changes.
	CodecVersion string `json:"codec_version"`

	// Checksum is a SHA-256 hash of the sealed data, base64-decoded.
	// It allows detecting corruption without unsealing.
	Checksum string `json:"checksum"`

	// EncryptionMethod describes the method used for sealing the batch
	// data at rest, e.g. "argon2id+chacha20poly1305".
	EncryptionMethod string `json:"encryption_method"`

	// SealedData contains the sealed batch labels, base64 encoded so the
	// container can be safely stored and transmitted as JSON.
	SealedData string `json:"sealed_data"`

	// TenantID identifies the tenant the batch belongs to. Multi-tenant
	// deployments rely on this for data isolation.
	TenantID string `json:"tenant_id"`

	// LabelCount is the number of labels in the batch, kept outside the
	// sealed data so listings can show it without a passphrase.
	LabelCount int `json:"label_count"`
}

// BatchInfo holds metadata about a stored batch that is available without
// unsealing it. Useful for listings, monitoring, and retention decisions.
type BatchInfo struct {
	// BatchID uniquely identifies the batch instance.
	BatchID string `json:"batch_id"`

	// CreatedAt marks when the batch was issued.
	CreatedAt time.Time `json:"created_at"`

	// CodecVersion indicates the payload format version of the batch.
	CodecVersion string `json:"codec_version"`

	// EncryptionMethod describes how the batch contents are sealed.
	EncryptionMethod string `json:"encryption_method"`

	// LabelCount is the number of labels in the batch.
	LabelCount int `json:"label_count"`

	// FileSize represents the size of the stored container in bytes.
	FileSize int64 `json:"file_size"`

	// IsValid indicates the result of the checksum validation.
	IsValid bool `json:"is_valid"`

	// TenantID denotes the tenant the batch belongs to.
	TenantID string `json:"tenant_id"`

	Checksum string `json:"checksum"`

	StorePath string `json:"store_path"` // Store-agnostic path/identifier
}

// StoreConfig provides configuration for different storage backends.
//
// Example usage:
//
//	config := StoreConfig{
//	    Type:   StoreTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/data/batches"},
//	}
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	// This field must be one of the predefined StoreType constants.
	// Example values: "filesystem", "s3".
	Type StoreType `json:"type"`

	// Config contains configuration settings specific to the chosen storage
	// backend. For example, when using StoreTypeS3, this may include keys
	// like "bucket" and "region".
	Config map[string]interface{} `json:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	// StoreTypeFileSystem indicates that the local file system should be
	// used for storage.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 indicates that an S3-compatible object store should be
	// used as the storage backend.
	StoreTypeS3 StoreType = "s3"
)

// BatchExistsError is returned when saving a batch whose ID is already
// present. Batches are immutable once written; re-issuing under the same ID
// is always a caller bug.
type BatchExistsError struct {
	BatchID string
}

func (e BatchExistsError) Error() string {
	return fmt.Sprintf("batch %s already exists", e.BatchID)
}

func (e BatchExistsError) IsBatchExistsError() bool {
	return true
}
