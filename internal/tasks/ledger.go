package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sentinel errors for ledger operations.
var (
	// ErrTaskNotFound indicates no task matches the given identifier.
	ErrTaskNotFound = errors.New("tasks: task not found")
	// ErrExternalIDConflict indicates an attempt to bind a task to a second
	// external job, or the same external id to a second task. Surfaced
	// distinctly so operators can tell data corruption from normal retries.
	ErrExternalIDConflict = errors.New("tasks: external task id conflict")
)

// Ledger owns generation task records and their lifecycle transitions.
type Ledger struct {
	conn *gorm.DB
}

// NewLedger constructs a Ledger.
func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{conn: conn}
}

// Create inserts a task in pending state and returns it. The external task id
// stays unset until the renderer acknowledges the job; the renderer call and
// this write are deliberately not atomic with each other.
func (l *Ledger) Create(ctx context.Context, userID *uint64, cardType string, params datatypes.JSON) (*models.GenerationTask, error) {
	cardType = strings.TrimSpace(cardType)
	if cardType == "" {
		return nil, fmt.Errorf("tasks: card type is required")
	}
	if len(params) == 0 {
		params = datatypes.JSON([]byte("{}"))
	}

	now := time.Now().UTC()
	task := models.GenerationTask{
		CardID:     uuid.NewString(),
		UserID:     userID,
		CardType:   cardType,
		Params:     params,
		Status:     models.TaskStatusPending,
		ResultURLs: datatypes.JSON([]byte("[]")),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errCreate := l.conn.WithContext(ctx).Create(&task).Error; errCreate != nil {
		return nil, fmt.Errorf("tasks: create task: %w", errCreate)
	}
	return &task, nil
}

// AttachExternalID binds the renderer's task id to a pending task and moves it
// to processing. Rebinding the same id is a no-op; binding a different id to a
// task that already has one fails loudly instead of silently overwriting.
func (l *Ledger) AttachExternalID(ctx context.Context, cardID, externalTaskID string) error {
	externalTaskID = strings.TrimSpace(externalTaskID)
	if externalTaskID == "" {
		return fmt.Errorf("tasks: external task id is required")
	}

	task, errGet := l.GetByCardID(ctx, cardID)
	if errGet != nil {
		return errGet
	}
	if task.ExternalTaskID != nil {
		if *task.ExternalTaskID == externalTaskID {
			return nil
		}
		return fmt.Errorf("%w: task %s already bound to %s", ErrExternalIDConflict, cardID, *task.ExternalTaskID)
	}

	res := l.conn.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("card_id = ? AND external_task_id IS NULL AND status = ?", cardID, models.TaskStatusPending).
		Updates(map[string]any{
			"external_task_id": externalTaskID,
			"status":           models.TaskStatusProcessing,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error) {
			return fmt.Errorf("%w: external id %s already bound elsewhere", ErrExternalIDConflict, externalTaskID)
		}
		return fmt.Errorf("tasks: attach external id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Raced with another attach; reload and compare.
		current, errReload := l.GetByCardID(ctx, cardID)
		if errReload != nil {
			return errReload
		}
		if current.ExternalTaskID != nil && *current.ExternalTaskID == externalTaskID {
			return nil
		}
		return fmt.Errorf("%w: task %s changed concurrently", ErrExternalIDConflict, cardID)
	}
	return nil
}

// GetByCardID loads a task by its client-facing card id.
func (l *Ledger) GetByCardID(ctx context.Context, cardID string) (*models.GenerationTask, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return nil, ErrTaskNotFound
	}
	var task models.GenerationTask
	if errFind := l.conn.WithContext(ctx).Where("card_id = ?", cardID).First(&task).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("tasks: load task: %w", errFind)
	}
	return &task, nil
}

// GetByExternalID loads a task by the renderer's task id.
func (l *Ledger) GetByExternalID(ctx context.Context, externalTaskID string) (*models.GenerationTask, error) {
	externalTaskID = strings.TrimSpace(externalTaskID)
	if externalTaskID == "" {
		return nil, ErrTaskNotFound
	}
	var task models.GenerationTask
	if errFind := l.conn.WithContext(ctx).Where("external_task_id = ?", externalTaskID).First(&task).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("tasks: load task: %w", errFind)
	}
	return &task, nil
}

// MarkSubmitFailed moves a task that never reached the renderer to failed.
// The reason is stored verbatim for operators; callers surface a generic
// message to end users.
func (l *Ledger) MarkSubmitFailed(ctx context.Context, cardID, reason string) error {
	res := l.conn.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("card_id = ? AND status IN ?", cardID, []models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing}).
		Updates(map[string]any{
			"status":       models.TaskStatusFailed,
			"error_reason": reason,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("tasks: mark submit failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// PurgeOrphaned deletes tasks that were created before the cutoff and never
// reached a terminal state or an external binding. Maintenance only; completed
// and failed tasks are retained as usage history.
func (l *Ledger) PurgeOrphaned(ctx context.Context, before time.Time) (int64, error) {
	res := l.conn.WithContext(ctx).
		Where("status = ? AND external_task_id IS NULL AND created_at < ?", models.TaskStatusPending, before).
		Delete(&models.GenerationTask{})
	if res.Error != nil {
		return 0, fmt.Errorf("tasks: purge orphaned: %w", res.Error)
	}
	return res.RowsAffected, nil
}
