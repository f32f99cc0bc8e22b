package gate

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed risk_table.yaml
var defaultRiskTableYAML []byte

// RiskTable is the reviewable data behind the classifier: one entry per
// known operation plus an explicit default for everything else.
type RiskTable struct {
	ProductionEnvironments []string                 `yaml:"production_environments"`
	Default                RiskEntry                `yaml:"default"`
	Operations             map[string]RiskEntry     `yaml:"operations"`
	Rollback               map[string]RollbackEntry `yaml:"rollback"`
}

type RiskEntry struct {
	Category           OperationCategory `yaml:"category"`
	Risk               RiskLevel         `yaml:"risk"`
	ProductionRisk     *RiskLevel        `yaml:"production_risk"`
	ConfirmationPhrase string            `yaml:"confirmation_phrase"`
	Warnings           []WarningTemplate `yaml:"warnings"`
}

// WarningTemplate carries the static copy for one warning; the classifier
// stamps the level and rollback annotations at classification time.
type WarningTemplate struct {
	Title      string   `yaml:"title"`
	Message    string   `yaml:"message"`
	Details    []string `yaml:"details"`
	Mitigation string   `yaml:"mitigation"`
}

type RollbackEntry struct {
	Available    bool   `yaml:"available"`
	Instructions string `yaml:"instructions"`
}

// DefaultRiskTable parses the embedded table. The embedded data is
// validated by tests, so a failure here is a build defect.
func DefaultRiskTable() (*RiskTable, error) {
	return parseRiskTable(defaultRiskTableYAML)
}

// LoadRiskTable reads a table override from disk.
func LoadRiskTable(path string) (*RiskTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk table: %w", err)
	}
	t, err := parseRiskTable(b)
	if err != nil {
		return nil, fmt.Errorf("parse risk table %s: %w", path, err)
	}
	return t, nil
}

func parseRiskTable(b []byte) (*RiskTable, error) {
	var t RiskTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *RiskTable) validate() error {
	if t.Default.Category == "" {
		return fmt.Errorf("risk table: default entry must set a category")
	}
	if len(t.Operations) == 0 {
		return fmt.Errorf("risk table: no operations defined")
	}
	for op, e := range t.Operations {
		if strings.TrimSpace(op) == "" {
			return fmt.Errorf("risk table: empty operation name")
		}
		if e.Category == "" {
			return fmt.Errorf("risk table: operation %s has no category", op)
		}
		for i, w := range e.Warnings {
			if strings.TrimSpace(w.Title) == "" {
				return fmt.Errorf("risk table: operation %s warning %d has no title", op, i)
			}
			if strings.TrimSpace(w.Message) == "" {
				return fmt.Errorf("risk table: operation %s warning %d has no message", op, i)
			}
		}
	}
	for op := range t.Rollback {
		if _, ok := t.Operations[op]; !ok {
			return fmt.Errorf("risk table: rollback entry for unknown operation %s", op)
		}
	}
	return nil
}

func (t *RiskTable) entry(operation string) (RiskEntry, bool) {
	e, ok := t.Operations[normalizeOperation(operation)]
	if !ok {
		return t.Default, false
	}
	return e, true
}

// OperationNames returns the known operations in sorted order.
func (t *RiskTable) OperationNames() []string {
	out := make([]string, 0, len(t.Operations))
	for op := range t.Operations {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

func normalizeOperation(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	return strings.ReplaceAll(op, " ", "_")
}
