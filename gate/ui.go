package gate

import "time"

// Presentation is the hint bundle a UI derives purely from risk level.
type Presentation struct {
	Color string `json:"color"`
	Icon  string `json:"icon"`
	// RequireDelay asks the UI to hold the confirm control for a few
	// seconds; RequireAcknowledge asks for an explicit checkbox.
	RequireDelay       bool `json:"require_delay"`
	RequireAcknowledge bool `json:"require_acknowledge"`
	DelaySeconds       int  `json:"delay_seconds,omitempty"`
}

// PresentationFor returns the presentation bundle for a risk level. Every
// level maps to a complete bundle: critical always requires the
// acknowledgement checkbox, low never does.
func PresentationFor(level RiskLevel) Presentation {
	switch level {
	case RiskCritical:
		return Presentation{Color: "red", Icon: "⛔", RequireDelay: true, RequireAcknowledge: true, DelaySeconds: 5}
	case RiskHigh:
		return Presentation{Color: "orange", Icon: "⚠", RequireDelay: true, DelaySeconds: 3}
	case RiskMedium:
		return Presentation{Color: "yellow", Icon: "!"}
	default:
		return Presentation{Color: "green", Icon: "·"}
	}
}

// RequestView is the serializable collaborator/UI projection of a pending
// request. Parameters are redacted before they leave the gateway.
type RequestView struct {
	ID          string            `json:"id"`
	Operation   string            `json:"operation"`
	Category    OperationCategory `json:"category"`
	Risk        RiskLevel         `json:"risk_level"`
	Description string            `json:"description,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Warnings    []Warning         `json:"warnings,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`

	DurationEstimate  time.Duration `json:"duration_estimate,omitempty"`
	AffectedResources []string      `json:"affected_resources,omitempty"`
	RollbackPlan      string        `json:"rollback_plan,omitempty"`

	RequiresConfirmation bool   `json:"requires_confirmation"`
	ConfirmationPhrase   string `json:"confirmation_phrase,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`

	Presentation Presentation `json:"presentation"`
}

// FormatRequestForUI builds the UI view for one request. A nil redactor
// leaves parameters as-is.
func FormatRequestForUI(req *ExecutionRequest, redactor *Redactor) RequestView {
	params := req.Parameters
	if redactor != nil {
		params = redactor.RedactParams(params)
	}
	return RequestView{
		ID:                   req.ID,
		Operation:            req.Operation,
		Category:             req.Category,
		Risk:                 req.Risk,
		Description:          req.Description,
		Environment:          req.Environment,
		Warnings:             append([]Warning(nil), req.Warnings...),
		Parameters:           params,
		DurationEstimate:     req.DurationEstimate,
		AffectedResources:    append([]string(nil), req.AffectedResources...),
		RollbackPlan:         req.RollbackPlan,
		RequiresConfirmation: req.RequiresConfirmation,
		ConfirmationPhrase:   req.ConfirmationPhrase,
		ExpiresAt:            req.ExpiresAt,
		Presentation:         PresentationFor(req.Risk),
	}
}
