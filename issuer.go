package carcode

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"southwinds.dev/carcode/audit"
	"southwinds.dev/carcode/internal/crypto"
	"southwinds.dev/carcode/internal/misc"
	"southwinds.dev/carcode/persist"
)

// sealMethod identifies how batch contents are protected at rest. Recorded
// in every container so future format migrations can tell blobs apart.
const sealMethod = "argon2id+chacha20poly1305"

// Label pairs a canonical tag identifier with the wire payload printed
// inside its QR code.
type Label struct {
	TagID    string    `json:"tag_id"`
	Payload  string    `json:"payload"`
	IssuedAt time.Time `json:"issued_at"`
}

// LabelBatch is a set of labels issued together, typically corresponding to
// one print run of physical tags.
type LabelBatch struct {
	BatchID string `json:"batch_id"`

	// Description is free text naming the print run, e.g. "spring fleet
	// renewal". It travels inside the sealed blob, not in container metadata.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Labels      []Label   `json:"labels"`
}

// Issuer generates label batches and persists them sealed under a
// passphrase. The sealing is real cryptography, unlike the payload
// obfuscation: stored batches map payloads back to tag identifiers, and that
// mapping should not be readable straight off a disk or bucket.
type Issuer struct {
	codec CodecService
	store persist.Store
	audit audit.Logger
	mu    sync.Mutex

	closed bool
}

// NewIssuer creates an issuer over the given codec and storage backend.
// A nil audit logger is replaced with a no-op one. Storage connectivity is
// verified up front so issuance does not fail after labels were generated.
func NewIssuer(codec CodecService, store persist.Store, auditLogger audit.Logger) (*Issuer, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	if err := store.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	return &Issuer{
		codec: codec,
		store: store,
		audit: auditLogger,
	}, nil
}

// IssueBatch generates count fresh tag identifiers and their payloads.
// The batch exists only in memory until SaveBatch is called.
func (i *Issuer) IssueBatch(count int, description string) (*LabelBatch, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, fmt.Errorf("issuer is closed")
	}

	if count <= 0 {
		return nil, fmt.Errorf("label count must be positive, got %d", count)
	}

	now := time.Now().UTC()
	batch := &LabelBatch{
		BatchID:     uuid.NewString(),
		Description: description,
		CreatedAt:   now,
		Labels:      make([]Label, 0, count),
	}

	for n := 0; n < count; n++ {
		tagID := NewTagID()

		payload, err := i.codec.BuildPayload(tagID)
		if err != nil {
			_ = i.audit.Log("BATCH_ISSUE", false, map[string]interface{}{
				"batch_id": batch.BatchID,
				"error":    err.Error(),
			})
			return nil, fmt.Errorf("failed to build payload for %s: %w", tagID, err)
		}

		batch.Labels = append(batch.Labels, Label{
			TagID:    tagID,
			Payload:  payload,
			IssuedAt: now,
		})
	}

	_ = i.audit.Log("BATCH_ISSUE", true, map[string]interface{}{
		"batch_id":    batch.BatchID,
		"label_count": count,
	})

	return batch, nil
}

// SaveBatch seals the batch under the passphrase and persists it. Batches
// are immutable once stored; saving an existing batch ID fails.
func (i *Issuer) SaveBatch(batch *LabelBatch, passphrase string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("issuer is closed")
	}

	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}
	if batch.BatchID == "" {
		return fmt.Errorf("batch has no ID")
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase is required to seal a batch")
	}

	plaintext, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	sealed, err := crypto.SealWithPassphrase(plaintext, passphrase)
	if err != nil {
		_ = i.audit.Log("BATCH_SEAL", false, map[string]interface{}{
			"batch_id": batch.BatchID,
			"error":    err.Error(),
		})
		return fmt.Errorf("failed to seal batch: %w", err)
	}

	container := &persist.BatchContainer{
		BatchID:          batch.BatchID,
		CreatedAt:        batch.CreatedAt,
		CodecVersion:     fmt.Sprintf("%d", FormatVersion),
		Checksum:         crypto.CalculateChecksum(sealed),
		EncryptionMethod: sealMethod,
		SealedData:       base64.StdEncoding.EncodeToString(sealed),
		LabelCount:       len(batch.Labels),
	}

	if err = i.store.SaveBatch(container); err != nil {
		_ = i.audit.Log("BATCH_SEAL", false, map[string]interface{}{
			"batch_id": batch.BatchID,
			"error":    err.Error(),
		})
		return fmt.Errorf("failed to store batch: %w", err)
	}

	_ = i.audit.Log("BATCH_SEAL", true, map[string]interface{}{
		"batch_id":    batch.BatchID,
		"label_count": len(batch.Labels),
	})

	return nil
}

// LoadBatch retrieves and unseals a stored batch.
func (i *Issuer) LoadBatch(batchID, passphrase string) (*LabelBatch, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, fmt.Errorf("issuer is closed")
	}

	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required to unseal a batch")
	}

	container, err := i.store.LoadBatch(batchID)
	if err != nil {
		if misc.IsNotFoundError(err) {
			return nil, fmt.Errorf("batch %s does not exist", batchID)
		}
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(container.SealedData)
	if err != nil {
		return nil, fmt.Errorf("batch %s has corrupt sealed data: %w", batchID, err)
	}

	plaintext, err := crypto.UnsealWithPassphrase(sealed, passphrase)
	if err != nil {
		_ = i.audit.Log("BATCH_UNSEAL", false, map[string]interface{}{
			"batch_id": batchID,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("failed to unseal batch %s: %w", batchID, err)
	}

	var batch LabelBatch
	if err = json.Unmarshal(plaintext, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch %s: %w", batchID, err)
	}

	_ = i.audit.Log("BATCH_UNSEAL", true, map[string]interface{}{
		"batch_id":    batchID,
		"label_count": len(batch.Labels),
	})

	return &batch, nil
}

// ListBatches returns summary information for all stored batches. Summaries
// come from container metadata, so no passphrase is needed.
func (i *Issuer) ListBatches() ([]persist.BatchInfo, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, fmt.Errorf("issuer is closed")
	}

	return i.store.ListBatches()
}

// DeleteBatch removes a stored batch. The physical labels remain valid;
// only the stored identifier mapping is destroyed.
func (i *Issuer) DeleteBatch(batchID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("issuer is closed")
	}

	if err := i.store.DeleteBatch(batchID); err != nil {
		_ = i.audit.Log("BATCH_DELETE", false, map[string]interface{}{
			"batch_id": batchID,
			"error":    err.Error(),
		})
		return err
	}

	_ = i.audit.Log("BATCH_DELETE", true, map[string]interface{}{
		"batch_id": batchID,
	})

	return nil
}

// Close releases the storage backend. The codec is owned by the caller and
// stays open.
func (i *Issuer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	return i.store.Close()
}
