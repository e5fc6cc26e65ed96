package app

import "testing"

func TestSyncOperation(t *testing.T) {
	t.Run("new operation starts unpersisted with success status", func(t *testing.T) {
		op := NewSyncOperation("Download", "type-a")

		if op.Persisted() {
			t.Error("new operation should not be persisted")
		}
		if op.Status != "success" {
			t.Errorf("Status = %q, want %q", op.Status, "success")
		}
		if op.Operation != "Download" {
			t.Errorf("Operation = %q, want %q", op.Operation, "Download")
		}
		if op.Parameters != "type-a" {
			t.Errorf("Parameters = %q, want %q", op.Parameters, "type-a")
		}
	})

	t.Run("persisted after ID assignment", func(t *testing.T) {
		op := NewSyncOperation("Upload", "")
		op.ID = 7

		if !op.Persisted() {
			t.Error("operation with ID should be persisted")
		}
	})
}
