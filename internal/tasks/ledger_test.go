package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "tasks-test.db")
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewLedger(conn), conn
}

func TestCreate(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()

	task, errCreate := ledger.Create(ctx, nil, "birthday", datatypes.JSON(`{"name":"Ann"}`))
	if errCreate != nil {
		t.Fatalf("Create: %v", errCreate)
	}
	if task.CardID == "" {
		t.Fatalf("expected a generated card id")
	}
	if task.Status != models.TaskStatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.ExternalTaskID != nil {
		t.Fatalf("expected unbound external id")
	}
	if task.UserID != nil {
		t.Fatalf("expected anonymous task")
	}

	if _, errEmpty := ledger.Create(ctx, nil, "  ", nil); errEmpty == nil {
		t.Fatalf("expected error for blank card type")
	}

	// Empty params default to an empty object.
	bare, errBare := ledger.Create(ctx, nil, "birthday", nil)
	if errBare != nil {
		t.Fatalf("Create without params: %v", errBare)
	}
	if string(bare.Params) != "{}" {
		t.Fatalf("expected empty object params, got %s", bare.Params)
	}
}

func TestAttachExternalID(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()

	task, errCreate := ledger.Create(ctx, nil, "birthday", nil)
	if errCreate != nil {
		t.Fatalf("Create: %v", errCreate)
	}

	if errAttach := ledger.AttachExternalID(ctx, task.CardID, "ext-1"); errAttach != nil {
		t.Fatalf("AttachExternalID: %v", errAttach)
	}

	bound, errGet := ledger.GetByCardID(ctx, task.CardID)
	if errGet != nil {
		t.Fatalf("GetByCardID: %v", errGet)
	}
	if bound.Status != models.TaskStatusProcessing {
		t.Fatalf("expected processing, got %s", bound.Status)
	}
	if bound.ExternalTaskID == nil || *bound.ExternalTaskID != "ext-1" {
		t.Fatalf("expected external id ext-1, got %v", bound.ExternalTaskID)
	}

	// Rebinding the same id is a no-op.
	if errAgain := ledger.AttachExternalID(ctx, task.CardID, "ext-1"); errAgain != nil {
		t.Fatalf("idempotent AttachExternalID: %v", errAgain)
	}

	// Binding a different id to the same task fails.
	errConflict := ledger.AttachExternalID(ctx, task.CardID, "ext-2")
	if !errors.Is(errConflict, ErrExternalIDConflict) {
		t.Fatalf("expected ErrExternalIDConflict, got %v", errConflict)
	}

	if errMissing := ledger.AttachExternalID(ctx, "no-such-card", "ext-3"); !errors.Is(errMissing, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", errMissing)
	}
}

func TestGetByExternalID(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()

	task, errCreate := ledger.Create(ctx, nil, "holiday", nil)
	if errCreate != nil {
		t.Fatalf("Create: %v", errCreate)
	}
	if errAttach := ledger.AttachExternalID(ctx, task.CardID, "ext-9"); errAttach != nil {
		t.Fatalf("AttachExternalID: %v", errAttach)
	}

	loaded, errGet := ledger.GetByExternalID(ctx, "ext-9")
	if errGet != nil {
		t.Fatalf("GetByExternalID: %v", errGet)
	}
	if loaded.CardID != task.CardID {
		t.Fatalf("loaded wrong task: %s", loaded.CardID)
	}

	if _, errMissing := ledger.GetByExternalID(ctx, "unknown"); !errors.Is(errMissing, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", errMissing)
	}
	if _, errBlank := ledger.GetByExternalID(ctx, "  "); !errors.Is(errBlank, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for blank id, got %v", errBlank)
	}
}

func TestMarkSubmitFailed(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()

	task, errCreate := ledger.Create(ctx, nil, "birthday", nil)
	if errCreate != nil {
		t.Fatalf("Create: %v", errCreate)
	}

	if errMark := ledger.MarkSubmitFailed(ctx, task.CardID, "renderer unreachable"); errMark != nil {
		t.Fatalf("MarkSubmitFailed: %v", errMark)
	}

	failed, errGet := ledger.GetByCardID(ctx, task.CardID)
	if errGet != nil {
		t.Fatalf("GetByCardID: %v", errGet)
	}
	if failed.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorReason == nil || *failed.ErrorReason != "renderer unreachable" {
		t.Fatalf("unexpected error reason: %v", failed.ErrorReason)
	}

	// Terminal tasks cannot be failed again.
	if errAgain := ledger.MarkSubmitFailed(ctx, task.CardID, "later"); !errors.Is(errAgain, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound on terminal task, got %v", errAgain)
	}
}

func TestPurgeOrphaned(t *testing.T) {
	ledger, conn := openTestLedger(t)
	ctx := context.Background()

	old, errOld := ledger.Create(ctx, nil, "birthday", nil)
	if errOld != nil {
		t.Fatalf("Create old: %v", errOld)
	}
	bound, errBound := ledger.Create(ctx, nil, "birthday", nil)
	if errBound != nil {
		t.Fatalf("Create bound: %v", errBound)
	}
	if errAttach := ledger.AttachExternalID(ctx, bound.CardID, "ext-keep"); errAttach != nil {
		t.Fatalf("AttachExternalID: %v", errAttach)
	}
	fresh, errFresh := ledger.Create(ctx, nil, "birthday", nil)
	if errFresh != nil {
		t.Fatalf("Create fresh: %v", errFresh)
	}

	// Age the first task past the cutoff.
	aged := time.Now().UTC().Add(-48 * time.Hour)
	if errAge := conn.Model(&models.GenerationTask{}).
		Where("card_id = ?", old.CardID).
		Update("created_at", aged).Error; errAge != nil {
		t.Fatalf("age task: %v", errAge)
	}
	// The bound task is old too, but its external binding protects it.
	if errAge := conn.Model(&models.GenerationTask{}).
		Where("card_id = ?", bound.CardID).
		Update("created_at", aged).Error; errAge != nil {
		t.Fatalf("age bound task: %v", errAge)
	}

	purged, errPurge := ledger.PurgeOrphaned(ctx, time.Now().UTC().Add(-24*time.Hour))
	if errPurge != nil {
		t.Fatalf("PurgeOrphaned: %v", errPurge)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged task, got %d", purged)
	}

	if _, errGone := ledger.GetByCardID(ctx, old.CardID); !errors.Is(errGone, ErrTaskNotFound) {
		t.Fatalf("expected orphan to be gone, got %v", errGone)
	}
	if _, errKept := ledger.GetByCardID(ctx, bound.CardID); errKept != nil {
		t.Fatalf("bound task must survive: %v", errKept)
	}
	if _, errKept := ledger.GetByCardID(ctx, fresh.CardID); errKept != nil {
		t.Fatalf("fresh task must survive: %v", errKept)
	}
}
