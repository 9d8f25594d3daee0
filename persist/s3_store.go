package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"southwinds.dev/carcode/internal/debug"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements the Store interface using MinIO as the backend with multitenancy.
// S3 Object Structure (with multitenancy):
//
// bucketName/
// ├── [keyPrefix/]tenant1/
// │   ├── store.config                       # store configuration for tenant1
// │   └── batches/
// │       ├── <batch-id>.batch               # sealed batch container for tenant1
// │       └── ...
// ├── [keyPrefix/]tenant2/
// │   ├── store.config
// │   └── batches/
// │       └── ...
// └── [keyPrefix/]default/
//
//	├── store.config
//	└── batches/
type S3Store struct {
	// client is the MinIO client used to interact with the MinIO server.
	client *minio.Client

	// bucketName is the name of the S3 bucket used to store tenant batches.
	bucketName string

	// keyPrefix is an optional prefix for the keys in the bucket, allowing for
	// namespace separation if multiple applications use the same bucket.
	keyPrefix string

	// tenantID uniquely identifies the tenant whose batches are being stored.
	tenantID string
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string // The endpoint for the S3 service.
	AccessKeyID     string // The Access Key ID for accessing the S3 service.
	SecretAccessKey string // The Secret Access Key for accessing the S3 service.
	Bucket          string // The S3 bucket to use.
	KeyPrefix       string // The prefix for keys stored in the S3 bucket.
	UseSSL          bool   // Whether to use SSL for the connection.
	Region          string // The region of the S3 bucket.
}

// NewS3Store initializes a new S3Store instance using the provided S3
// configuration and tenant ID. It establishes a connection to a MinIO server
// and ensures that the specified bucket exists. If no tenant ID is provided,
// it defaults to "default".
func NewS3Store(config S3Config, tenantID string) (*S3Store, error) {
	if tenantID == "" {
		tenantID = "default"
	}

	// Validate tenant ID (basic security check)
	if err := validateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant ID: %w", err)
	}

	// Create MinIO client
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
		tenantID:   tenantID,
	}

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	if err = store.initializeStoreConfig(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store config: %w", err)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes a new S3Store instance from the given StoreConfig.
// It validates the store type and unmarshals the configuration.
func NewS3StoreFromConfig(config StoreConfig, tenantID string) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for MinIO: %s", config.Type)
	}

	// Parse the config map into S3Config
	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config, tenantID)
}

func (s3s *S3Store) initializeStoreConfig(ctx context.Context) error {
	objectName := s3s.buildTenantPath("store.config")

	debug.Print("initializeStoreConfig: object name: '%s'\n", objectName)

	// Check if config already exists
	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		// Check if it's a not found error
		if minioErr := minio.ToErrorResponse(err); minioErr.Code == "NoSuchKey" {
			// Config doesn't exist, create it
			config := storeConfigFile{
				Version:    "1.0.0",
				TenantID:   s3s.tenantID,
				CreatedAt:  time.Now().UTC(),
				LastAccess: time.Now().UTC(),
				Structure:  "v1", // Structure version for migrations
			}

			data, err := json.MarshalIndent(config, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal store config: %w", err)
			}

			_, err = s3s.client.PutObject(
				ctx,
				s3s.bucketName,
				objectName,
				bytes.NewReader(data),
				int64(len(data)),
				minio.PutObjectOptions{
					ContentType: "application/json",
					UserMetadata: map[string]string{
						"store-config":      "true",
						"data-type":         "store-config",
						"tenant-id":         s3s.tenantID,
						"version":           config.Version,
						"structure-version": config.Structure,
						"created-at":        config.CreatedAt.Format(time.RFC3339),
					},
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create store config: %w", err)
			}
		} else {
			return fmt.Errorf("failed to check store config: %w", err)
		}
	}

	return nil
}

// SaveBatch stores a sealed batch container as an S3 object
func (s3s *S3Store) SaveBatch(container *BatchContainer) error {
	if container == nil {
		return fmt.Errorf("batch container cannot be nil")
	}

	if err := validateBatchID(container.BatchID); err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}

	if container.TenantID == "" {
		container.TenantID = s3s.tenantID
	}

	objectPath := s3s.batchObjectName(container.BatchID)
	debug.Print("SaveBatch: saving to path: %s\n", objectPath)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// Batches are immutable; refuse to overwrite
	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectPath, minio.StatObjectOptions{})
	if err == nil {
		return BatchExistsError{BatchID: container.BatchID}
	} else if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to check for existing batch: %w", err)
	}

	data, err := json.Marshal(container)
	if err != nil {
		return fmt.Errorf("failed to marshal batch container: %w", err)
	}

	// Use consistent lowercase-hyphen keys for maximum portability across S3 backends
	metadata := map[string]string{
		"batch-id":          container.BatchID,
		"codec-version":     container.CodecVersion,
		"encryption-method": container.EncryptionMethod,
		"checksum":          container.Checksum,
		"tenant-id":         container.TenantID,
		"label-count":       fmt.Sprintf("%d", container.LabelCount),
		"created-at":        container.CreatedAt.Format(time.RFC3339),
	}

	putInfo, err := s3s.client.PutObject(ctx, s3s.bucketName, objectPath,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: metadata,
		})
	if err != nil {
		return fmt.Errorf("failed to save batch to S3: %w", err)
	}

	debug.Print("SaveBatch: successfully saved batch, size: %d\n", putInfo.Size)

	return nil
}

// LoadBatch retrieves and validates a batch container by ID
func (s3s *S3Store) LoadBatch(batchID string) (*BatchContainer, error) {
	if err := validateBatchID(batchID); err != nil {
		return nil, fmt.Errorf("invalid batch ID: %w", err)
	}

	objectName := s3s.batchObjectName(batchID)

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, fmt.Errorf("batch %s does not exist", batchID)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	defer object.Close()

	containerData, err := io.ReadAll(object)
	if err != nil {
		// GetObject is lazy; a missing key often surfaces here
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("batch %s does not exist", batchID)
		}
		return nil, fmt.Errorf("failed to read batch container: %w", err)
	}

	var container BatchContainer
	if err := json.Unmarshal(containerData, &container); err != nil {
		return nil, fmt.Errorf("failed to parse batch container: %w", err)
	}

	if isValid, validationError := validateBatchContainer(&container); !isValid {
		return nil, fmt.Errorf("invalid batch container: %s", validationError)
	}

	// Warn if batch is from a different tenant
	if container.TenantID != "" && container.TenantID != s3s.tenantID {
		debug.Print("LoadBatch: batch %s belongs to tenant %s, loaded by tenant %s\n",
			batchID, container.TenantID, s3s.tenantID)
	}

	return &container, nil
}

func (s3s *S3Store) BatchExists(batchID string) (bool, error) {
	if err := validateBatchID(batchID); err != nil {
		return false, fmt.Errorf("invalid batch ID: %w", err)
	}

	objectName := s3s.batchObjectName(batchID)

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check batch existence: %w", err)
	}

	return true, nil
}

// ListBatches returns summary info for all batches of the current tenant
func (s3s *S3Store) ListBatches() ([]BatchInfo, error) {
	prefix := s3s.buildTenantPath("batches") + "/"

	debug.Print("ListBatches: looking for batches with prefix: %s\n", prefix)

	var batches []BatchInfo

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix: prefix,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}

		// Skip if not a batch file
		if !strings.HasSuffix(object.Key, batchFileExt) {
			continue
		}

		debug.Print("ListBatches: found batch file: %s\n", object.Key)

		// Use StatObject to get metadata (ListObjects doesn't include user metadata)
		statInfo, err := s3s.client.StatObject(ctx, s3s.bucketName, object.Key, minio.StatObjectOptions{})
		if err != nil {
			debug.Print("ListBatches: failed to stat object %s: %v\n", object.Key, err)
			continue
		}

		objectInfo := minio.ObjectInfo{
			Key:          statInfo.Key,
			LastModified: statInfo.LastModified,
			Size:         statInfo.Size,
			ContentType:  statInfo.ContentType,
			UserMetadata: statInfo.UserMetadata,
		}

		// Extract batch info from metadata
		batchInfo, err := s3s.getBatchInfoFromMetadata(objectInfo)
		if err != nil {
			debug.Print("ListBatches: failed to extract metadata for %s: %v\n", object.Key, err)
			// Create a minimal BatchInfo for objects without usable metadata
			batchInfo = &BatchInfo{
				BatchID:   extractBatchIDFromPath(object.Key),
				CreatedAt: object.LastModified,
				TenantID:  s3s.tenantID,
				FileSize:  object.Size,
				IsValid:   false,
			}
		}

		batches = append(batches, *batchInfo)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})

	debug.Print("ListBatches: found %d total batches\n", len(batches))
	return batches, nil
}

// DeleteBatch removes the batch object with the given ID
func (s3s *S3Store) DeleteBatch(batchID string) error {
	if err := validateBatchID(batchID); err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}

	objectName := s3s.batchObjectName(batchID)

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// Check existence first so callers get a consistent not-found error
	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("batch %s does not exist", batchID)
		}
		return fmt.Errorf("failed to check batch existence: %w", err)
	}

	err = s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return fmt.Errorf("failed to delete batch '%s': %w", batchID, err)
		}
	}

	return nil
}

// ListTenants returns all tenant IDs that have batch data in the bucket
func (s3s *S3Store) ListTenants() ([]string, error) {
	basePrefix := s3s.keyPrefix
	if basePrefix != "" && !strings.HasSuffix(basePrefix, "/") {
		basePrefix = basePrefix + "/"
	}

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// List all objects to find tenant directories
	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    basePrefix,
		Recursive: true,
	})

	tenantSet := make(map[string]bool)
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}

		// Skip directory entries (objects ending with '/')
		if strings.HasSuffix(object.Key, "/") {
			continue
		}

		// Extract tenant ID from object path
		relativePath := strings.TrimPrefix(object.Key, basePrefix)
		parts := strings.Split(relativePath, "/")
		if len(parts) > 0 && parts[0] != "" {
			tenantSet[parts[0]] = true
		}
	}

	// Convert to sorted slice
	var tenants []string
	for tenant := range tenantSet {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)

	return tenants, nil
}

// DeleteTenant removes all data for a tenant (USE WITH EXTREME CAUTION)
func (s3s *S3Store) DeleteTenant(tenantID string) error {
	if err := validateTenantID(tenantID); err != nil {
		return fmt.Errorf("invalid tenant ID: %w", err)
	}

	if tenantID == s3s.tenantID {
		return fmt.Errorf("cannot delete current tenant")
	}

	// Build tenant prefix
	tenantPrefix := s3s.buildTenantPathForTenant(tenantID) + "/"

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// List all objects for this tenant
	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    tenantPrefix,
		Recursive: true,
	})

	// Collect object names to delete
	var objectNames []string
	for object := range objectCh {
		if object.Err != nil {
			return fmt.Errorf("failed to list tenant objects: %w", object.Err)
		}
		objectNames = append(objectNames, object.Key)
	}

	// Check if tenant exists (has any objects)
	if len(objectNames) == 0 {
		return fmt.Errorf("tenant %s not found or has no data", tenantID)
	}

	// Delete objects in batches
	for _, objectName := range objectNames {
		err := s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{})
		if err != nil {
			// Don't fail if object was already deleted
			if minioErr := minio.ToErrorResponse(err); minioErr.Code != "NoSuchKey" {
				return fmt.Errorf("failed to delete object %s: %w", objectName, err)
			}
		}
	}

	return nil
}

// Health and utilities
func (s3s *S3Store) Ping() error {
	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// For S3, test connectivity by checking if the bucket exists
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to ping S3: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	// Update last access time in config (similar to FileSystemStore)
	objectName := s3s.buildTenantPath("store.config")

	// Create a fresh context for this operation
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// Try to load existing config
	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err == nil {
		defer object.Close()

		if configData, err := io.ReadAll(object); err == nil {
			var config storeConfigFile
			if err := json.Unmarshal(configData, &config); err == nil {
				// Update last access time
				config.LastAccess = time.Now().UTC()

				if updatedData, err := json.MarshalIndent(config, "", "  "); err == nil {
					// Save updated config
					_, _ = s3s.client.PutObject(
						ctx,
						s3s.bucketName,
						objectName,
						bytes.NewReader(updatedData),
						int64(len(updatedData)),
						minio.PutObjectOptions{
							ContentType: "application/json",
							UserMetadata: map[string]string{
								"store-config": "true",
								"data-type":    "store-config",
								"tenant-id":    s3s.tenantID,
								"updated-at":   time.Now().UTC().Format(time.RFC3339),
							},
						},
					)
				}
			}
		}
	}
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

// Helper methods
func (s3s *S3Store) buildTenantPath(components ...string) string {
	return s3s.buildTenantPathForTenant(s3s.tenantID, components...)
}

func (s3s *S3Store) buildTenantPathForTenant(tenantID string, components ...string) string {
	var parts []string

	// Add key prefix if it exists and is not empty
	if s3s.keyPrefix != "" {
		// Clean the key prefix - remove leading/trailing slashes
		cleanPrefix := strings.Trim(s3s.keyPrefix, "/")
		if cleanPrefix != "" {
			parts = append(parts, cleanPrefix)
		}
	}

	// Add tenant ID if it exists and is not empty
	if tenantID != "" {
		parts = append(parts, tenantID)
	}

	// Add all components, skipping empty ones
	for _, component := range components {
		if component != "" {
			parts = append(parts, component)
		}
	}

	// Join all parts with single slashes
	return strings.Join(parts, "/")
}

func (s3s *S3Store) batchObjectName(batchID string) string {
	return s3s.buildTenantPath("batches", batchID+batchFileExt)
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s3s *S3Store) getBatchInfoFromMetadata(object minio.ObjectInfo) (*BatchInfo, error) {
	// Helper function for case-insensitive metadata lookup
	getMetadata := func(metadataMap map[string]string, key string) string {
		// Normalize the search key
		searchKey := strings.ToLower(strings.ReplaceAll(key, "_", "-"))

		for k, v := range metadataMap {
			// Normalize the metadata key
			normalizedKey := strings.ToLower(strings.ReplaceAll(k, "_", "-"))
			if normalizedKey == searchKey {
				return v
			}
		}
		return ""
	}

	// Extract metadata
	batchID := getMetadata(object.UserMetadata, "batch-id")
	codecVersion := getMetadata(object.UserMetadata, "codec-version")
	encryptionMethod := getMetadata(object.UserMetadata, "encryption-method")
	tenantID := getMetadata(object.UserMetadata, "tenant-id")
	checksum := getMetadata(object.UserMetadata, "checksum")
	labelCountStr := getMetadata(object.UserMetadata, "label-count")
	timestampStr := getMetadata(object.UserMetadata, "created-at")

	if batchID == "" {
		return nil, fmt.Errorf("object %s has no batch-id metadata", object.Key)
	}

	// Parse timestamp
	var createdAt time.Time
	if timestampStr != "" {
		if parsed, err := time.Parse(time.RFC3339, timestampStr); err == nil {
			createdAt = parsed
		} else {
			createdAt = object.LastModified
		}
	} else {
		createdAt = object.LastModified
	}

	labelCount := 0
	if labelCountStr != "" {
		_, _ = fmt.Sscanf(labelCountStr, "%d", &labelCount)
	}

	return &BatchInfo{
		BatchID:          batchID,
		CreatedAt:        createdAt,
		CodecVersion:     codecVersion,
		EncryptionMethod: encryptionMethod,
		LabelCount:       labelCount,
		TenantID:         tenantID,
		Checksum:         checksum,
		FileSize:         object.Size,
		IsValid:          true,
		StorePath:        object.Key, // Store the S3 object key as store path
	}, nil
}

// Helper function to extract batch ID from the object path when metadata is missing
func extractBatchIDFromPath(objectKey string) string {
	// Extract filename without extension
	parts := strings.Split(objectKey, "/")
	if len(parts) == 0 {
		return "unknown"
	}

	filename := parts[len(parts)-1]
	return strings.TrimSuffix(filename, batchFileExt)
}

func (s3s *S3Store) isNotFoundError(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
	}
	return false
}
