package persist

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"southwinds.dev/carcode/internal/crypto"
	"southwinds.dev/carcode/internal/debug"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	batchFileExt = ".batch"
)

// FileSystemStore implements Store for the local filesystem with multitenancy.
// Layout:
//
//	basePath/
//	├── tenant1/
//	│   ├── store.json                    # store configuration and metadata
//	│   ├── temp/                         # scratch space for atomic writes
//	│   └── batches/
//	│       ├── <batch-id>.batch          # sealed batch container (JSON)
//	│       └── ...
//	└── tenant2/
//	    └── ...
type FileSystemStore struct {
	basePath    string
	tenantID    string
	tenantPath  string // basePath/tenantID/
	batchesDir  string // basePath/tenantID/batches/
	tempDir     string // basePath/tenantID/temp/
	storeConfig string // basePath/tenantID/store.json
}

// storeConfigFile records when the tenant store was created and last touched
type storeConfigFile struct {
	Version     string    `json:"version"`
	TenantID    string    `json:"tenant_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	Structure   string    `json:"structure_version"`
	Description string    `json:"description,omitempty"`
}

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(basePath string, tenantID string) (*FileSystemStore, error) {
	if tenantID == "" {
		tenantID = "default"
	}

	// Validate tenant ID (basic security check)
	if err := validateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant ID: %w", err)
	}

	tenantPath := filepath.Join(basePath, tenantID)

	fs := &FileSystemStore{
		basePath:    basePath,
		tenantID:    tenantID,
		tenantPath:  tenantPath,
		batchesDir:  filepath.Join(tenantPath, "batches"),
		tempDir:     filepath.Join(tenantPath, "temp"),
		storeConfig: filepath.Join(tenantPath, "store.json"),
	}

	// Create necessary directories
	dirs := []string{
		fs.tenantPath,
		fs.batchesDir,
		fs.tempDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := fs.initializeStoreConfig(); err != nil {
		return nil, fmt.Errorf("failed to initialize store config: %w", err)
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig
func NewFileSystemStoreFromConfig(config StoreConfig, tenantID string) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}

	return NewFileSystemStore(basePath, tenantID)
}

func (fs *FileSystemStore) initializeStoreConfig() error {
	if _, err := os.Stat(fs.storeConfig); os.IsNotExist(err) {
		config := storeConfigFile{
			Version:    "1.0.0",
			TenantID:   fs.tenantID,
			CreatedAt:  time.Now(),
			LastAccess: time.Now(),
			Structure:  "v1",
		}

		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return err
		}

		return writeSecureFile(fs.storeConfig, data, FilePermissions)
	}
	return nil
}

// SaveBatch stores a sealed batch container as a JSON file
func (fs *FileSystemStore) SaveBatch(container *BatchContainer) error {
	if container == nil {
		return fmt.Errorf("batch container cannot be nil")
	}

	if err := validateBatchID(container.BatchID); err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}

	if container.TenantID == "" {
		container.TenantID = fs.tenantID
	}

	batchPath := fs.batchPath(container.BatchID)
	debug.Print("SaveBatch: writing batch %s to %s\n", container.BatchID, batchPath)

	// Batches are immutable; refuse to overwrite
	if exists, err := fileExists(batchPath); err != nil {
		return fmt.Errorf("failed to check for existing batch: %w", err)
	} else if exists {
		return BatchExistsError{BatchID: container.BatchID}
	}

	containerData, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch container: %w", err)
	}

	if err = os.MkdirAll(fs.batchesDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create batches directory: %w", err)
	}

	if err = writeSecureFile(batchPath, containerData, FilePermissions); err != nil {
		return fmt.Errorf("failed to write batch file: %w", err)
	}

	return nil
}

// LoadBatch reads and validates a batch container by ID
func (fs *FileSystemStore) LoadBatch(batchID string) (*BatchContainer, error) {
	if err := validateBatchID(batchID); err != nil {
		return nil, fmt.Errorf("invalid batch ID: %w", err)
	}

	batchPath := fs.batchPath(batchID)
	debug.Print("LoadBatch: reading batch %s from %s\n", batchID, batchPath)

	if _, err := os.Stat(batchPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("batch %s does not exist", batchID)
	}

	data, err := os.ReadFile(batchPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var container BatchContainer
	if err = json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	if isValid, validationError := validateBatchContainer(&container); !isValid {
		return nil, fmt.Errorf("invalid batch file: %s", validationError)
	}

	return &container, nil
}

func (fs *FileSystemStore) BatchExists(batchID string) (bool, error) {
	if err := validateBatchID(batchID); err != nil {
		return false, fmt.Errorf("invalid batch ID: %w", err)
	}
	return fileExists(fs.batchPath(batchID))
}

// ListBatches returns summary info for all batches of the current tenant
func (fs *FileSystemStore) ListBatches() ([]BatchInfo, error) {
	debug.Print("ListBatches: looking for batches in directory: %s\n", fs.batchesDir)

	if _, err := os.Stat(fs.batchesDir); os.IsNotExist(err) {
		return []BatchInfo{}, nil
	}

	entries, err := os.ReadDir(fs.batchesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read batches directory: %w", err)
	}

	var batches []BatchInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), batchFileExt) {
			continue
		}

		filePath := filepath.Join(fs.batchesDir, entry.Name())

		data, err := os.ReadFile(filePath)
		if err != nil {
			debug.Print("ListBatches: WARNING - failed to read batch file %s: %v\n", entry.Name(), err)
			continue
		}

		var container BatchContainer
		if err := json.Unmarshal(data, &container); err != nil {
			debug.Print("ListBatches: WARNING - failed to parse batch file %s: %v\n", entry.Name(), err)
			continue
		}

		isValid, validationError := validateBatchContainer(&container)

		info, err := entry.Info()
		if err != nil {
			debug.Print("ListBatches: WARNING - failed to get file info for %s: %v\n", entry.Name(), err)
			continue
		}

		batch := BatchInfo{
			BatchID:          container.BatchID,
			CreatedAt:        container.CreatedAt,
			CodecVersion:     container.CodecVersion,
			EncryptionMethod: container.EncryptionMethod,
			LabelCount:       container.LabelCount,
			FileSize:         info.Size(),
			IsValid:          isValid,
			TenantID:         container.TenantID,
			Checksum:         container.Checksum,
			StorePath:        entry.Name(),
		}

		if !isValid {
			debug.Print("ListBatches: WARNING - batch %s is invalid: %s\n", entry.Name(), validationError)
		}

		batches = append(batches, batch)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})

	return batches, nil
}

// DeleteBatch removes the batch file with the given ID
func (fs *FileSystemStore) DeleteBatch(batchID string) error {
	if err := validateBatchID(batchID); err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}

	batchPath := fs.batchPath(batchID)

	if _, err := os.Stat(batchPath); os.IsNotExist(err) {
		return fmt.Errorf("batch %s does not exist", batchID)
	}

	if err := os.Remove(batchPath); err != nil {
		return fmt.Errorf("failed to delete batch file: %w", err)
	}

	return nil
}

// ListTenants returns all tenant IDs that have stores in the base path
func (fs *FileSystemStore) ListTenants() ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var tenants []string
	for _, entry := range entries {
		if entry.IsDir() {
			storeConfigPath := filepath.Join(fs.basePath, entry.Name(), "store.json")
			if _, err := os.Stat(storeConfigPath); err == nil {
				tenants = append(tenants, entry.Name())
			}
		}
	}

	sort.Strings(tenants)
	return tenants, nil
}

// DeleteTenant removes all data for a tenant
func (fs *FileSystemStore) DeleteTenant(tenantID string) error {
	if err := validateTenantID(tenantID); err != nil {
		return fmt.Errorf("invalid tenant ID: %w", err)
	}

	tenantPath := filepath.Join(fs.basePath, tenantID)

	if tenantID == fs.tenantID {
		return fmt.Errorf("cannot delete current tenant")
	}

	// Check if the tenant directory exists
	if _, err := os.Stat(tenantPath); os.IsNotExist(err) {
		return fmt.Errorf("tenant %s does not exist", tenantID)
	} else if err != nil {
		return fmt.Errorf("failed to check tenant directory: %w", err)
	}

	if err := os.RemoveAll(tenantPath); err != nil {
		return fmt.Errorf("failed to delete tenant data: %w", err)
	}

	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// Health and utilities
func (fs *FileSystemStore) Ping() error {
	_, err := os.Stat(fs.tenantPath)
	return err
}

func (fs *FileSystemStore) Close() error {
	if configData, err := os.ReadFile(fs.storeConfig); err == nil {
		var config storeConfigFile
		if err := json.Unmarshal(configData, &config); err == nil {
			config.LastAccess = time.Now()
			if updatedData, err := json.MarshalIndent(config, "", "  "); err == nil {
				_ = writeSecureFile(fs.storeConfig, updatedData, FilePermissions)
			}
		}
	}
	return nil
}

func (fs *FileSystemStore) batchPath(batchID string) string {
	return filepath.Join(fs.batchesDir, batchID+batchFileExt)
}

// validateBatchContainer checks required fields and verifies the checksum
func validateBatchContainer(container *BatchContainer) (bool, string) {
	// Check required fields
	if container.BatchID == "" {
		return false, "missing BatchID"
	}
	if container.SealedData == "" {
		return false, "missing SealedData"
	}
	if container.Checksum == "" {
		return false, "missing Checksum"
	}

	// Validate base64 encoding
	sealedData, err := base64.StdEncoding.DecodeString(container.SealedData)
	if err != nil {
		return false, fmt.Sprintf("invalid base64 in SealedData: %v", err)
	}

	// Validate checksum
	actualChecksum := crypto.CalculateChecksum(sealedData)
	if actualChecksum != container.Checksum {
		return false, fmt.Sprintf("checksum mismatch - expected: %s, actual: %s",
			container.Checksum, actualChecksum)
	}

	return true, ""
}

// Helper functions
func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
