package gate

import (
	"context"
	"testing"
	"time"
)

func historyEntry(id, operation, status string) ExecutionRequest {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return ExecutionRequest{
		ID:        id,
		Operation: operation,
		Status:    status,
		Risk:      RiskMedium,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultApprovalTTL),
	}
}

func TestMemoryHistory_ListFilterAndLimit(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	entries := []ExecutionRequest{
		historyEntry("req_1", "deploy_application", StatusExecuted),
		historyEntry("req_2", "run_migration", StatusExecuted),
		historyEntry("req_3", "deploy_application", StatusRejected),
		historyEntry("req_4", "deploy_application", StatusExecuted),
	}
	for _, e := range entries {
		if err := h.Append(ctx, e); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	all, err := h.List(ctx, 0, "")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].ID != "req_1" || all[3].ID != "req_4" {
		t.Fatalf("order wrong: first=%s last=%s", all[0].ID, all[3].ID)
	}

	deploys, err := h.List(ctx, 0, "deploy_application")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(deploys) != 3 {
		t.Fatalf("filtered len = %d, want 3", len(deploys))
	}

	// Filter is insensitive to spacing and case.
	spaced, err := h.List(ctx, 0, "Deploy Application")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(spaced) != 3 {
		t.Fatalf("normalized filter len = %d, want 3", len(spaced))
	}

	tail, err := h.List(ctx, 2, "deploy_application")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != "req_3" || tail[1].ID != "req_4" {
		t.Fatalf("limit should keep the most recent tail, got %+v", tail)
	}
}

func TestMemoryHistory_AppendCopies(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	e := historyEntry("req_1", "deploy_application", StatusExecuted)
	e.Parameters = map[string]any{"image": "app:v1"}
	if err := h.Append(ctx, e); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	e.Parameters["image"] = "tampered"

	got, err := h.List(ctx, 0, "")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if got[0].Parameters["image"] != "app:v1" {
		t.Fatal("stored entry shares state with caller's value")
	}
}

func TestSQLiteHistory_RoundTrip(t *testing.T) {
	dsn := t.TempDir() + "/history.db"
	h, err := NewSQLiteHistory(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteHistory error: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	approvedAt := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)

	e := historyEntry("req_sql", "run_migration", StatusExecuted)
	e.Category = CategoryDatabase
	e.Risk = RiskCritical
	e.Environment = "production"
	e.Approved = true
	e.ApprovedAt = &approvedAt
	e.ApprovedBy = "alice"
	e.Executed = true
	e.RequiresConfirmation = true
	e.ConfirmationPhrase = "CONFIRM RUN_MIGRATION"
	e.Parameters = map[string]any{"version": "20250601"}
	e.Warnings = []Warning{{Level: RiskCritical, Title: "Schema migration"}}
	e.AffectedResources = []string{"db/app"}
	e.Result = &ExecutionResult{Success: true, Duration: 3 * time.Second}

	if err := h.Append(ctx, e); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	got, err := h.List(ctx, 0, "")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID != "req_sql" || r.Operation != "run_migration" || r.Status != StatusExecuted {
		t.Fatalf("identity fields: %+v", r)
	}
	if r.Category != CategoryDatabase || r.Risk != RiskCritical {
		t.Fatalf("classification fields: %+v", r)
	}
	if !r.Approved || r.ApprovedBy != "alice" || r.ApprovedAt == nil || !r.ApprovedAt.Equal(approvedAt) {
		t.Fatalf("approval fields: %+v", r)
	}
	if !r.RequiresConfirmation || r.ConfirmationPhrase != "CONFIRM RUN_MIGRATION" {
		t.Fatalf("confirmation fields: %+v", r)
	}
	if r.Parameters["version"] != "20250601" {
		t.Fatalf("parameters: %+v", r.Parameters)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Title != "Schema migration" {
		t.Fatalf("warnings: %+v", r.Warnings)
	}
	if r.Result == nil || !r.Result.Success || r.Result.Duration != 3*time.Second {
		t.Fatalf("result: %+v", r.Result)
	}
	if !r.CreatedAt.Equal(e.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", r.CreatedAt, e.CreatedAt)
	}
}

func TestSQLiteHistory_FilterAndLimit(t *testing.T) {
	dsn := t.TempDir() + "/history.db"
	h, err := NewSQLiteHistory(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteHistory error: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	for _, e := range []ExecutionRequest{
		historyEntry("req_1", "deploy_application", StatusExecuted),
		historyEntry("req_2", "run_migration", StatusExecuted),
		historyEntry("req_3", "deploy_application", StatusExpired),
		historyEntry("req_4", "deploy_application", StatusExecuted),
	} {
		if err := h.Append(ctx, e); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	deploys, err := h.List(ctx, 0, "Deploy Application")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(deploys) != 3 {
		t.Fatalf("filtered len = %d, want 3", len(deploys))
	}

	tail, err := h.List(ctx, 2, "deploy_application")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != "req_3" || tail[1].ID != "req_4" {
		t.Fatalf("limit should keep the most recent tail, got %d entries", len(tail))
	}
}

func TestSQLiteHistory_SurvivesReopen(t *testing.T) {
	dsn := t.TempDir() + "/history.db"
	ctx := context.Background()

	h, err := NewSQLiteHistory(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteHistory error: %v", err)
	}
	if err := h.Append(ctx, historyEntry("req_1", "restart_service", StatusExecuted)); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	reopened, err := NewSQLiteHistory(dsn)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.List(ctx, 0, "")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "req_1" {
		t.Fatalf("records lost across reopen: %+v", got)
	}
}
