package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardforge/cardforge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// RenderSuccessCode is the result code the renderer sends for a successful job.
const RenderSuccessCode = 200

// errNoResultURL is stored when the renderer reports success without a result.
const errNoResultURL = "Task completed but no image URL provided."

// ApplyCompletion applies a renderer completion notice to the task bound to
// externalTaskID. Delivery is at-least-once, so the terminal transition is a
// conditional write keyed on the unique external id: redelivering the same
// outcome is a no-op, and a contradictory redelivery keeps the first-applied
// result and logs the conflict.
func (l *Ledger) ApplyCompletion(ctx context.Context, externalTaskID string, resultCode int, resultURLs []string, message string) (*models.GenerationTask, error) {
	status, resultURL, errorReason := resolveOutcome(resultCode, resultURLs, message)

	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == models.TaskStatusCompleted {
		urlsJSON, errMarshal := json.Marshal(resultURLs)
		if errMarshal != nil {
			return nil, fmt.Errorf("tasks: marshal result urls: %w", errMarshal)
		}
		updates["result_url"] = resultURL
		updates["result_urls"] = datatypes.JSON(urlsJSON)
		updates["error_reason"] = nil
	} else {
		updates["result_url"] = nil
		updates["error_reason"] = errorReason
	}

	res := l.conn.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("external_task_id = ? AND status IN ?", externalTaskID,
			[]models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing}).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("tasks: apply completion: %w", res.Error)
	}

	task, errLoad := l.GetByExternalID(ctx, externalTaskID)
	if errLoad != nil {
		return nil, errLoad
	}

	if res.RowsAffected == 0 && task.Status.Terminal() && task.Status != status {
		log.WithFields(log.Fields{
			"external_task_id": externalTaskID,
			"applied_status":   task.Status,
			"ignored_status":   status,
		}).Warn("tasks: contradictory webhook redelivery, keeping first terminal state")
	}
	return task, nil
}

// resolveOutcome maps a webhook payload to the target terminal state. A
// success code without a result URL is a failure: the code alone is not
// sufficient evidence of a usable result.
func resolveOutcome(resultCode int, resultURLs []string, message string) (models.TaskStatus, string, string) {
	if resultCode == RenderSuccessCode {
		if len(resultURLs) > 0 && resultURLs[0] != "" {
			return models.TaskStatusCompleted, resultURLs[0], ""
		}
		return models.TaskStatusFailed, "", errNoResultURL
	}
	if message != "" {
		return models.TaskStatusFailed, "", message
	}
	return models.TaskStatusFailed, "", fmt.Sprintf("Task failed with code %d.", resultCode)
}
