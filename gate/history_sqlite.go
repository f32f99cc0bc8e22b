package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteHistory is a durable History backed by a local sqlite file, for
// callers that need the audit trail to survive restarts.
type SQLiteHistory struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteHistory(dsn string) (*SQLiteHistory, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	h := &SQLiteHistory{dsn: dsn}
	if err := h.open(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *SQLiteHistory) Append(ctx context.Context, req ExecutionRequest) error {
	if h == nil {
		return fmt.Errorf("nil history store")
	}
	if err := h.ensureOpen(); err != nil {
		return err
	}

	warningsJSON, _ := json.Marshal(req.Warnings)
	paramsJSON, _ := json.Marshal(req.Parameters)
	resourcesJSON, _ := json.Marshal(req.AffectedResources)
	var resultJSON []byte
	if req.Result != nil {
		resultJSON, _ = json.Marshal(req.Result)
	}

	_, err := h.db.ExecContext(ctx, `
INSERT INTO gate_history (
  id, operation, category, risk_level, description, environment, status,
  created_at_unix, expires_at_unix, approved, approved_at_unix, approved_by,
  executed, rejected_by, rejected_reason,
  warnings_json, parameters_json, affected_resources_json, result_json,
  rollback_plan, requires_confirmation, confirmation_phrase
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, req.ID, req.Operation, string(req.Category), req.Risk.String(), req.Description, req.Environment, req.Status,
		req.CreatedAt.Unix(), req.ExpiresAt.Unix(), boolInt(req.Approved), nullTimeUnix(req.ApprovedAt), req.ApprovedBy,
		boolInt(req.Executed), req.RejectedBy, req.RejectedReason,
		string(warningsJSON), string(paramsJSON), string(resourcesJSON), string(resultJSON),
		req.RollbackPlan, boolInt(req.RequiresConfirmation), req.ConfirmationPhrase,
	)
	return err
}

func (h *SQLiteHistory) List(ctx context.Context, limit int, operation string) ([]ExecutionRequest, error) {
	if h == nil {
		return nil, fmt.Errorf("nil history store")
	}
	if err := h.ensureOpen(); err != nil {
		return nil, err
	}

	q := `
SELECT
  id, operation, category, risk_level, description, environment, status,
  created_at_unix, expires_at_unix, approved, approved_at_unix, approved_by,
  executed, rejected_by, rejected_reason,
  warnings_json, parameters_json, affected_resources_json, result_json,
  rollback_plan, requires_confirmation, confirmation_phrase
FROM gate_history
`
	var args []any
	operation = normalizeOperation(operation)
	if operation != "" {
		// Match the filter the way normalizeOperation does, so lookups are
		// insensitive to case and spacing.
		q += "WHERE LOWER(REPLACE(operation, ' ', '_')) = ?\n"
		args = append(args, operation)
	}
	q += "ORDER BY rowid DESC\n"
	if limit > 0 {
		q += "LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRequest
	for rows.Next() {
		req, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come back newest-first for the LIMIT; callers expect most
	// recent last.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanHistoryRow(rows *sql.Rows) (ExecutionRequest, error) {
	var (
		req            ExecutionRequest
		category       string
		riskLevel      string
		createdAtUnix  int64
		expiresAtUnix  int64
		approved       int
		approvedAtUnix sql.NullInt64
		executed       int
		requiresConf   int
		warningsJSON   string
		paramsJSON     string
		resourcesJSON  string
		resultJSON     string
	)
	err := rows.Scan(
		&req.ID, &req.Operation, &category, &riskLevel, &req.Description, &req.Environment, &req.Status,
		&createdAtUnix, &expiresAtUnix, &approved, &approvedAtUnix, &req.ApprovedBy,
		&executed, &req.RejectedBy, &req.RejectedReason,
		&warningsJSON, &paramsJSON, &resourcesJSON, &resultJSON,
		&req.RollbackPlan, &requiresConf, &req.ConfirmationPhrase,
	)
	if err != nil {
		return ExecutionRequest{}, err
	}

	req.Category = OperationCategory(category)
	if lv, err := ParseRiskLevel(riskLevel); err == nil {
		req.Risk = lv
	}
	req.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	req.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	req.Approved = approved != 0
	if approvedAtUnix.Valid {
		t := time.Unix(approvedAtUnix.Int64, 0).UTC()
		req.ApprovedAt = &t
	}
	req.Executed = executed != 0
	req.RequiresConfirmation = requiresConf != 0

	_ = json.Unmarshal([]byte(warningsJSON), &req.Warnings)
	_ = json.Unmarshal([]byte(paramsJSON), &req.Parameters)
	_ = json.Unmarshal([]byte(resourcesJSON), &req.AffectedResources)
	if strings.TrimSpace(resultJSON) != "" {
		var res ExecutionResult
		if err := json.Unmarshal([]byte(resultJSON), &res); err == nil {
			req.Result = &res
		}
	}
	return req, nil
}

func (h *SQLiteHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

func (h *SQLiteHistory) open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", h.dsn)
	if err != nil {
		return err
	}
	h.db = db
	return h.migrate()
}

func (h *SQLiteHistory) ensureOpen() error {
	if h.db != nil {
		return nil
	}
	return h.open()
}

func (h *SQLiteHistory) migrate() error {
	if h.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := h.db.Exec(`
CREATE TABLE IF NOT EXISTS gate_history (
  id TEXT NOT NULL,
  operation TEXT NOT NULL,
  category TEXT,
  risk_level TEXT,
  description TEXT,
  environment TEXT,
  status TEXT,
  created_at_unix INTEGER NOT NULL,
  expires_at_unix INTEGER NOT NULL,
  approved INTEGER NOT NULL DEFAULT 0,
  approved_at_unix INTEGER,
  approved_by TEXT,
  executed INTEGER NOT NULL DEFAULT 0,
  rejected_by TEXT,
  rejected_reason TEXT,
  warnings_json TEXT,
  parameters_json TEXT,
  affected_resources_json TEXT,
  result_json TEXT,
  rollback_plan TEXT,
  requires_confirmation INTEGER NOT NULL DEFAULT 0,
  confirmation_phrase TEXT
);
CREATE INDEX IF NOT EXISTS idx_gate_history_operation ON gate_history(operation);
CREATE INDEX IF NOT EXISTS idx_gate_history_status ON gate_history(status);
`)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTimeUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Unix()
}

var _ History = (*SQLiteHistory)(nil)
