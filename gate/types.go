package gate

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RiskLevel orders operations by how much friction should precede
// execution. The zero value is RiskLow; levels compare with < and >.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

func (r RiskLevel) String() string {
	if s, ok := riskNames[r]; ok {
		return s
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	}
	return RiskLow, fmt.Errorf("unknown risk level: %q", s)
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lv, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = lv
	return nil
}

func (r *RiskLevel) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	lv, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = lv
	return nil
}

// maxRisk keeps escalation monotonic: the result is never below either input.
func maxRisk(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}

type OperationCategory string

const (
	CategoryDeployment     OperationCategory = "deployment"
	CategoryInfrastructure OperationCategory = "infrastructure"
	CategoryDatabase       OperationCategory = "database"
	CategorySecrets        OperationCategory = "secrets"
	CategoryCodeExecution  OperationCategory = "code_execution"
	CategoryOther          OperationCategory = "other"
)

// Warning is one advisory shown to an approver. Immutable once built:
// the classifier returns fresh values and nothing mutates them after.
type Warning struct {
	Level                RiskLevel `json:"level"`
	Title                string    `json:"title"`
	Message              string    `json:"message"`
	Details              []string  `json:"details,omitempty"`
	Mitigation           string    `json:"mitigation,omitempty"`
	RollbackAvailable    bool      `json:"rollback_available"`
	RollbackInstructions string    `json:"rollback_instructions,omitempty"`
}

// ExecutionRequest is the pending, time-boxed record of a not-yet-executed
// operation awaiting sign-off. It is owned by the Registry while pending;
// once terminal it is handed to History and never mutated again.
type ExecutionRequest struct {
	ID          string            `json:"id"`
	Operation   string            `json:"operation"`
	Category    OperationCategory `json:"category"`
	Risk        RiskLevel         `json:"risk_level"`
	Description string            `json:"description"`
	Warnings    []Warning         `json:"warnings,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
	Environment string            `json:"environment,omitempty"`

	DurationEstimate  time.Duration `json:"duration_estimate,omitempty"`
	AffectedResources []string      `json:"affected_resources,omitempty"`
	RollbackPlan      string        `json:"rollback_plan,omitempty"`

	RequiresConfirmation bool   `json:"requires_confirmation"`
	ConfirmationPhrase   string `json:"confirmation_phrase,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	Executed bool             `json:"executed"`
	Result   *ExecutionResult `json:"result,omitempty"`

	// Terminal disposition, set when the request leaves the pending set:
	// executed, rejected or expired.
	Status         string `json:"status,omitempty"`
	RejectedBy     string `json:"rejected_by,omitempty"`
	RejectedReason string `json:"rejected_reason,omitempty"`
}

// Terminal request statuses recorded in history.
const (
	StatusExecuted = "executed"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ExecutionResult is the outcome of one backend invocation. Execution-phase
// failures live in Error with Success=false; the result itself is always
// well formed.
type ExecutionResult struct {
	Success           bool          `json:"success"`
	Output            string        `json:"output,omitempty"`
	Error             string        `json:"error,omitempty"`
	TimedOut          bool          `json:"timed_out,omitempty"`
	Duration          time.Duration `json:"duration"`
	AffectedResources []string      `json:"affected_resources,omitempty"`
	RollbackCommand   string        `json:"rollback_command,omitempty"`
	RollbackID        string        `json:"rollback_id,omitempty"`
	Logs              []string      `json:"logs,omitempty"`
}

type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
	ActionNoop   ChangeAction = "noop"
)

// Change is a single planned modification to one resource.
type Change struct {
	Action       ChangeAction   `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceName string         `json:"resource_name,omitempty"`
	Address      string         `json:"address,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Plan is a dry-run preview: the ordered changes plus per-action tallies.
type Plan struct {
	Backend string   `json:"backend,omitempty"`
	Changes []Change `json:"changes,omitempty"`
	Creates int      `json:"creates"`
	Updates int      `json:"updates"`
	Deletes int      `json:"deletes"`
	Noops   int      `json:"noops"`
}

func (p *Plan) Add(c Change) {
	p.Changes = append(p.Changes, c)
	switch c.Action {
	case ActionCreate:
		p.Creates++
	case ActionUpdate:
		p.Updates++
	case ActionDelete:
		p.Deletes++
	case ActionNoop:
		p.Noops++
	}
}

func (p *Plan) Summary() string {
	return fmt.Sprintf("%d to create, %d to update, %d to delete", p.Creates, p.Updates, p.Deletes)
}

type MigrationInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Checksum  string     `json:"checksum,omitempty"`
}

type Backup struct {
	ID         string    `json:"id"`
	Database   string    `json:"database,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	Compressed bool      `json:"compressed"`
}

// NewRequestID returns an id like req_3f8a9c.... Collisions are not a
// practical concern at 12 random bytes.
func NewRequestID() string {
	return "req_" + randHex(12)
}

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 12
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
