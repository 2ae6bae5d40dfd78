package tasks

import (
	"context"
	"errors"
	"testing"
)

func mustProcessingTask(t *testing.T, ledger *Ledger, externalTaskID string) string {
	t.Helper()
	ctx := context.Background()
	task, errCreate := ledger.Create(ctx, nil, "birthday", nil)
	if errCreate != nil {
		t.Fatalf("Create: %v", errCreate)
	}
	if errAttach := ledger.AttachExternalID(ctx, task.CardID, externalTaskID); errAttach != nil {
		t.Fatalf("AttachExternalID: %v", errAttach)
	}
	return task.CardID
}

func TestApplyCompletion_Success(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	mustProcessingTask(t, ledger, "ext-ok")

	task, errApply := ledger.ApplyCompletion(ctx, "ext-ok", RenderSuccessCode,
		[]string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"}, "")
	if errApply != nil {
		t.Fatalf("ApplyCompletion: %v", errApply)
	}
	if task.Status != "completed" {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if task.ResultURL == nil || *task.ResultURL != "https://cdn.example.com/a.png" {
		t.Fatalf("unexpected result url: %v", task.ResultURL)
	}
	if string(task.ResultURLs) != `["https://cdn.example.com/a.png","https://cdn.example.com/b.png"]` {
		t.Fatalf("unexpected result urls: %s", task.ResultURLs)
	}
	if task.ErrorReason != nil {
		t.Fatalf("completed task must carry no error reason")
	}
}

func TestApplyCompletion_SuccessWithoutURLFails(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	mustProcessingTask(t, ledger, "ext-empty")

	task, errApply := ledger.ApplyCompletion(ctx, "ext-empty", RenderSuccessCode, nil, "")
	if errApply != nil {
		t.Fatalf("ApplyCompletion: %v", errApply)
	}
	if task.Status != "failed" {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if task.ErrorReason == nil || *task.ErrorReason != "Task completed but no image URL provided." {
		t.Fatalf("unexpected error reason: %v", task.ErrorReason)
	}
}

func TestApplyCompletion_Failure(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	mustProcessingTask(t, ledger, "ext-fail")

	task, errApply := ledger.ApplyCompletion(ctx, "ext-fail", 500, nil, "render pipeline crashed")
	if errApply != nil {
		t.Fatalf("ApplyCompletion: %v", errApply)
	}
	if task.Status != "failed" {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if task.ErrorReason == nil || *task.ErrorReason != "render pipeline crashed" {
		t.Fatalf("unexpected error reason: %v", task.ErrorReason)
	}
}

func TestApplyCompletion_FailureWithoutMessage(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	mustProcessingTask(t, ledger, "ext-code")

	task, errApply := ledger.ApplyCompletion(ctx, "ext-code", 503, nil, "")
	if errApply != nil {
		t.Fatalf("ApplyCompletion: %v", errApply)
	}
	if task.ErrorReason == nil || *task.ErrorReason != "Task failed with code 503." {
		t.Fatalf("unexpected error reason: %v", task.ErrorReason)
	}
}

func TestApplyCompletion_RedeliveryIsNoOp(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	mustProcessingTask(t, ledger, "ext-redeliver")

	first, errFirst := ledger.ApplyCompletion(ctx, "ext-redeliver", RenderSuccessCode, []string{"https://cdn.example.com/a.png"}, "")
	if errFirst != nil {
		t.Fatalf("first ApplyCompletion: %v", errFirst)
	}
	second, errSecond := ledger.ApplyCompletion(ctx, "ext-redeliver", RenderSuccessCode, []string{"https://cdn.example.com/a.png"}, "")
	if errSecond != nil {
		t.Fatalf("second ApplyCompletion: %v", errSecond)
	}
	if second.Status != first.Status || second.ResultURL == nil || *second.ResultURL != *first.ResultURL {
		t.Fatalf("redelivery changed the record: %+v vs %+v", first, second)
	}
}

func TestApplyCompletion_ContradictoryRedeliveryKeepsFirst(t *testing.T) {
	ledger, _ := openTestLedger(t)
	ctx := context.Background()
	mustProcessingTask(t, ledger, "ext-flip")

	if _, errFirst := ledger.ApplyCompletion(ctx, "ext-flip", RenderSuccessCode, []string{"https://cdn.example.com/a.png"}, ""); errFirst != nil {
		t.Fatalf("first ApplyCompletion: %v", errFirst)
	}

	task, errSecond := ledger.ApplyCompletion(ctx, "ext-flip", 500, nil, "late failure notice")
	if errSecond != nil {
		t.Fatalf("contradictory ApplyCompletion: %v", errSecond)
	}
	if task.Status != "completed" {
		t.Fatalf("first terminal state must win, got %s", task.Status)
	}
	if task.ResultURL == nil || *task.ResultURL != "https://cdn.example.com/a.png" {
		t.Fatalf("result url must survive the redelivery: %v", task.ResultURL)
	}
}

func TestApplyCompletion_UnknownExternalID(t *testing.T) {
	ledger, _ := openTestLedger(t)

	_, errApply := ledger.ApplyCompletion(context.Background(), "never-seen", RenderSuccessCode, []string{"https://cdn.example.com/a.png"}, "")
	if !errors.Is(errApply, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", errApply)
	}
}

func TestResolveOutcome(t *testing.T) {
	status, url, reason := resolveOutcome(RenderSuccessCode, []string{"https://x/a.png"}, "")
	if status != "completed" || url != "https://x/a.png" || reason != "" {
		t.Fatalf("unexpected success outcome: %s %s %s", status, url, reason)
	}

	status, _, reason = resolveOutcome(RenderSuccessCode, []string{""}, "")
	if status != "failed" || reason != "Task completed but no image URL provided." {
		t.Fatalf("unexpected empty-url outcome: %s %s", status, reason)
	}

	status, _, reason = resolveOutcome(429, nil, "rate limited upstream")
	if status != "failed" || reason != "rate limited upstream" {
		t.Fatalf("unexpected failure outcome: %s %s", status, reason)
	}
}
