package store

import (
	"context"
	"testing"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/database"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

func setupBackupStore(t *testing.T) *BackupStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBackupStore(db)
}

func TestBackupCreateAndGet(t *testing.T) {
	bs := setupBackupStore(t)
	ctx := context.Background()

	b, err := bs.Create(ctx, "backup-20260827.db.enc", "snapshots/backup-20260827.db.enc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == "" {
		t.Error("expected generated id")
	}
	if b.Status != model.BackupStatusPending {
		t.Errorf("status = %q, want pending", b.Status)
	}

	got, err := bs.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.S3Key != b.S3Key {
		t.Fatalf("got %+v, want s3 key %s", got, b.S3Key)
	}

	absent, err := bs.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if absent != nil {
		t.Errorf("absent backup = %+v, want nil", absent)
	}
}

func TestBackupStatusTransitions(t *testing.T) {
	bs := setupBackupStore(t)
	ctx := context.Background()

	b, err := bs.Create(ctx, "f.db.enc", "snapshots/f.db.enc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := bs.UpdateStatus(ctx, b.ID, model.BackupStatusFailed, "upload refused"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := bs.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.BackupStatusFailed || got.ErrorMessage != "upload refused" {
		t.Errorf("got %q/%q, want failed/upload refused", got.Status, got.ErrorMessage)
	}

	if err := bs.UpdateCompleted(ctx, b.ID, 4096); err != nil {
		t.Fatalf("update completed: %v", err)
	}
	got, err = bs.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.BackupStatusCompleted || got.SizeBytes != 4096 || got.CompletedAt == nil {
		t.Errorf("completed backup = %+v", got)
	}
}

func TestBackupLatestCompleted(t *testing.T) {
	bs := setupBackupStore(t)
	ctx := context.Background()

	none, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest on empty store: %v", err)
	}
	if none != nil {
		t.Fatalf("latest on empty store = %+v, want nil", none)
	}

	first, err := bs.Create(ctx, "a.db.enc", "snapshots/a.db.enc")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := bs.UpdateCompleted(ctx, first.ID, 1); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	// Second one never completes.
	if _, err := bs.Create(ctx, "b.db.enc", "snapshots/b.db.enc"); err != nil {
		t.Fatalf("create second: %v", err)
	}

	latest, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != first.ID {
		t.Fatalf("latest = %+v, want %s", latest, first.ID)
	}
}

func TestBackupDeleteOlderThan(t *testing.T) {
	bs := setupBackupStore(t)
	ctx := context.Background()

	old, err := bs.Create(ctx, "old.db.enc", "snapshots/old.db.enc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	keys, err := bs.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(keys) != 1 || keys[0] != old.S3Key {
		t.Fatalf("keys = %v, want [%s]", keys, old.S3Key)
	}

	remaining, err := bs.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("%d records remain, want 0", len(remaining))
	}

	// Nothing older than a cutoff in the past.
	keys, err = bs.DeleteOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete with past cutoff: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}
