package gate

import (
	"fmt"
	"strings"
)

// Classifier maps (operation, parameters, environment) to a risk level and
// an ordered warning list. It is a pure lookup over a table loaded once at
// startup; classification itself never fails (unknown operations take the
// table's default entry).
type Classifier struct {
	table *RiskTable
}

func NewClassifier(table *RiskTable) (*Classifier, error) {
	if table == nil {
		return nil, fmt.Errorf("nil risk table")
	}
	return &Classifier{table: table}, nil
}

// Classify returns the risk level for one operation. Production-like
// environments escalate: an explicit production override applies, otherwise
// the base risk is raised to at least high. Escalation only ever raises.
func (c *Classifier) Classify(operation string, params map[string]any, environment string) RiskLevel {
	_ = params
	e, _ := c.table.entry(operation)
	risk := e.Risk
	if c.ProductionLike(environment) {
		if e.ProductionRisk != nil {
			risk = maxRisk(risk, *e.ProductionRisk)
		} else {
			risk = maxRisk(risk, RiskHigh)
		}
	}
	return risk
}

// Warnings returns, in order: a production banner when the environment is
// production-like, then the operation's own warnings at the classified
// level, each annotated with rollback availability.
func (c *Classifier) Warnings(operation string, params map[string]any, environment string) []Warning {
	e, _ := c.table.entry(operation)
	level := c.Classify(operation, params, environment)
	rb := c.RollbackInfo(operation)

	var out []Warning
	if c.ProductionLike(environment) {
		out = append(out, Warning{
			Level:   RiskCritical,
			Title:   "Production environment",
			Message: fmt.Sprintf("This operation targets the %q environment.", environment),
			Details: []string{
				"Changes here affect live traffic and real data.",
			},
			Mitigation:           "Run the same operation against a staging environment first and double-check the target.",
			RollbackAvailable:    rb.Available,
			RollbackInstructions: rb.Instructions,
		})
	}
	for _, w := range e.Warnings {
		out = append(out, Warning{
			Level:                level,
			Title:                w.Title,
			Message:              w.Message,
			Details:              append([]string(nil), w.Details...),
			Mitigation:           w.Mitigation,
			RollbackAvailable:    rb.Available,
			RollbackInstructions: rb.Instructions,
		})
	}
	return out
}

func (c *Classifier) Category(operation string) OperationCategory {
	e, _ := c.table.entry(operation)
	return e.Category
}

// ConfirmationPhrase returns the phrase an approver must type, set only
// when the classified risk is critical. A table phrase wins (with {env}
// and {operation} placeholders filled in); the fallback is
// "CONFIRM <OPERATION>".
func (c *Classifier) ConfirmationPhrase(operation, environment string) (string, bool) {
	if c.Classify(operation, nil, environment) != RiskCritical {
		return "", false
	}
	e, _ := c.table.entry(operation)
	phrase := strings.TrimSpace(e.ConfirmationPhrase)
	if phrase == "" {
		return "CONFIRM " + strings.ToUpper(normalizeOperation(operation)), true
	}
	phrase = strings.ReplaceAll(phrase, "{env}", strings.ToUpper(strings.TrimSpace(environment)))
	phrase = strings.ReplaceAll(phrase, "{operation}", strings.ToUpper(normalizeOperation(operation)))
	return phrase, true
}

func (c *Classifier) RollbackInfo(operation string) RollbackEntry {
	return c.table.Rollback[normalizeOperation(operation)]
}

// ProductionLike reports whether env denotes a production target per the
// table's production_environments list.
func (c *Classifier) ProductionLike(environment string) bool {
	env := strings.ToLower(strings.TrimSpace(environment))
	if env == "" {
		return false
	}
	for _, p := range c.table.ProductionEnvironments {
		if env == strings.ToLower(strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

// Operations exposes the table's known operation names, mainly for
// property-style tests over the whole table.
func (c *Classifier) Operations() []string {
	return c.table.OperationNames()
}
