package carcode

import (
	"strings"
	"testing"

	"southwinds.dev/carcode/persist"
)

const testPassphrase = "correct-horse-battery-staple"

func newTestIssuer(t *testing.T) (*Issuer, CodecService) {
	t.Helper()

	codec := newTestCodec(t)

	store, err := persist.NewFileSystemStore(t.TempDir(), "test-tenant")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	issuer, err := NewIssuer(codec, store, nil)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}

	return issuer, codec
}

func TestIssueBatch(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()
	defer issuer.Close()

	batch, err := issuer.IssueBatch(10, "test run")
	if err != nil {
		t.Fatalf("Failed to issue batch: %v", err)
	}

	if batch.BatchID == "" {
		t.Error("Batch should have an ID")
	}
	if batch.Description != "test run" {
		t.Errorf("Batch description: expected %q, got %q", "test run", batch.Description)
	}
	if batch.CreatedAt.IsZero() {
		t.Error("Batch should have a creation timestamp")
	}
	if len(batch.Labels) != 10 {
		t.Fatalf("Expected 10 labels, got %d", len(batch.Labels))
	}

	seen := make(map[string]bool)
	for _, label := range batch.Labels {
		if err := ValidateTagID(label.TagID); err != nil {
			t.Errorf("Label has invalid tag identifier: %v", err)
		}
		if !strings.HasPrefix(label.Payload, "CC::1:") {
			t.Errorf("Label payload has wrong format: %q", label.Payload)
		}
		if seen[label.TagID] {
			t.Errorf("Duplicate tag identifier in batch: %q", label.TagID)
		}
		seen[label.TagID] = true

		// Every issued payload must scan back to its identifier
		parsed, err := codec.ParsePayload(label.Payload)
		if err != nil {
			t.Fatalf("Failed to parse issued payload: %v", err)
		}
		if parsed != label.TagID {
			t.Errorf("Issued payload does not round-trip: expected %q, got %q",
				label.TagID, parsed)
		}
	}
}

func TestIssueBatchInvalidCount(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()
	defer issuer.Close()

	for _, count := range []int{0, -1} {
		if _, err := issuer.IssueBatch(count, ""); err == nil {
			t.Errorf("IssueBatch(%d) should fail", count)
		}
	}
}

func TestSaveAndLoadBatch(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()
	defer issuer.Close()

	batch, err := issuer.IssueBatch(5, "roundtrip run")
	if err != nil {
		t.Fatalf("Failed to issue batch: %v", err)
	}

	if err = issuer.SaveBatch(batch, testPassphrase); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}

	loaded, err := issuer.LoadBatch(batch.BatchID, testPassphrase)
	if err != nil {
		t.Fatalf("Failed to load batch: %v", err)
	}

	if loaded.BatchID != batch.BatchID {
		t.Errorf("Batch ID mismatch: expected %q, got %q", batch.BatchID, loaded.BatchID)
	}
	if loaded.Description != batch.Description {
		t.Errorf("Description mismatch: expected %q, got %q", batch.Description, loaded.Description)
	}
	if len(loaded.Labels) != len(batch.Labels) {
		t.Fatalf("Label count mismatch: expected %d, got %d",
			len(batch.Labels), len(loaded.Labels))
	}
	for i, label := range loaded.Labels {
		if label.TagID != batch.Labels[i].TagID {
			t.Errorf("Label %d tag ID mismatch: expected %q, got %q",
				i, batch.Labels[i].TagID, label.TagID)
		}
		if label.Payload != batch.Labels[i].Payload {
			t.Errorf("Label %d payload mismatch", i)
		}
	}
}

func TestLoadBatchWrongPassphrase(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()
	defer issuer.Close()

	batch, err := issuer.IssueBatch(2, "")
	if err != nil {
		t.Fatalf("Failed to issue batch: %v", err)
	}
	if err = issuer.SaveBatch(batch, testPassphrase); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}

	if _, err = issuer.LoadBatch(batch.BatchID, "wrong-passphrase"); err == nil {
		t.Error("Loading with the wrong passphrase should fail")
	}
}

func TestSaveBatchValidation(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()
	defer issuer.Close()

	batch, err := issuer.IssueBatch(1, "")
	if err != nil {
		t.Fatalf("Failed to issue batch: %v", err)
	}

	if err = issuer.SaveBatch(nil, testPassphrase); err == nil {
		t.Error("Saving a nil batch should fail")
	}
	if err = issuer.SaveBatch(batch, ""); err == nil {
		t.Error("Saving without a passphrase should fail")
	}

	// Batches are immutable once stored
	if err = issuer.SaveBatch(batch, testPassphrase); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}
	if err = issuer.SaveBatch(batch, testPassphrase); err == nil {
		t.Error("Saving the same batch twice should fail")
	}
}

func TestListAndDeleteBatches(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()
	defer issuer.Close()

	first, err := issuer.IssueBatch(3, "first run")
	if err != nil {
		t.Fatalf("Failed to issue batch: %v", err)
	}
	second, err := issuer.IssueBatch(4, "second run")
	if err != nil {
		t.Fatalf("Failed to issue batch: %v", err)
	}

	if err = issuer.SaveBatch(first, testPassphrase); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}
	if err = issuer.SaveBatch(second, testPassphrase); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}

	infos, err := issuer.ListBatches()
	if err != nil {
		t.Fatalf("Failed to list batches: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(infos))
	}

	counts := map[string]int{first.BatchID: 3, second.BatchID: 4}
	for _, info := range infos {
		want, ok := counts[info.BatchID]
		if !ok {
			t.Errorf("Unexpected batch in listing: %q", info.BatchID)
			continue
		}
		if info.LabelCount != want {
			t.Errorf("Batch %q label count: expected %d, got %d",
				info.BatchID, want, info.LabelCount)
		}
		if !info.IsValid {
			t.Errorf("Batch %q should be valid", info.BatchID)
		}
	}

	if err = issuer.DeleteBatch(first.BatchID); err != nil {
		t.Fatalf("Failed to delete batch: %v", err)
	}

	infos, err = issuer.ListBatches()
	if err != nil {
		t.Fatalf("Failed to list batches: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 batch after deletion, got %d", len(infos))
	}

	if _, err = issuer.LoadBatch(first.BatchID, testPassphrase); err == nil {
		t.Error("Loading a deleted batch should fail")
	}
}

func TestClosedIssuer(t *testing.T) {
	issuer, codec := newTestIssuer(t)
	defer codec.Close()

	if err := issuer.Close(); err != nil {
		t.Fatalf("Failed to close issuer: %v", err)
	}

	if _, err := issuer.IssueBatch(1, ""); err == nil {
		t.Error("IssueBatch on a closed issuer should fail")
	}
	if _, err := issuer.ListBatches(); err == nil {
		t.Error("ListBatches on a closed issuer should fail")
	}
	if err := issuer.Close(); err != nil {
		t.Errorf("Second Close should not fail, got %v", err)
	}
}
