package streams

import (
	"embed"
	"fmt"
	"time"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Definition names one payload schema.
type Definition struct {
	EventType string
	Version   string
}

func (d Definition) file() string {
	return fmt.Sprintf("schemas/%s.%s.json", d.EventType, d.Version)
}

var baseDefinitions = []Definition{
	{EventType: EventInvestigationRequested, Version: PayloadV1},
	{EventType: EventInvestigationCompleted, Version: PayloadV1},
	{EventType: EventInvestigationFailed, Version: PayloadV1},
}

// RegisterBaseSchemas loads the built-in investigation schemas into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		raw, err := schemaFS.ReadFile(def.file())
		if err != nil {
			return fmt.Errorf("read %s: %w", def.file(), err)
		}
		if err := reg.Register(def.EventType, def.Version, raw); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// BudgetOverride tightens or relaxes the default budget for one request.
type BudgetOverride struct {
	MaxTokens  *int64   `json:"max_tokens,omitempty"`
	MaxCost    *float64 `json:"max_cost,omitempty"`
	MaxSeconds int64    `json:"max_seconds,omitempty"`
}

// InvestigationRequested asks a worker to run one investigation.
type InvestigationRequested struct {
	InvestigationID string          `json:"investigation_id"`
	TargetName      string          `json:"target_name"`
	TargetContext   string          `json:"target_context,omitempty"`
	RequestedBy     string          `json:"requested_by"`
	RequestedAt     time.Time       `json:"requested_at"`
	Budget          *BudgetOverride `json:"budget,omitempty"`
}

type TopicSummary struct {
	Title     string `json:"title"`
	Status    string `json:"status"`
	Rationale string `json:"rationale,omitempty"`
}

// InvestigationCompleted carries the report of a finished investigation.
type InvestigationCompleted struct {
	InvestigationID string         `json:"investigation_id"`
	TargetName      string         `json:"target_name"`
	RiskLevel       string         `json:"risk_level"`
	ReportHTML      string         `json:"report_html"`
	Interrupted     bool           `json:"interrupted"`
	Topics          []TopicSummary `json:"topics"`
	Notes           []string       `json:"notes,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	Tokens          int64          `json:"tokens"`
	Cost            float64        `json:"cost"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// InvestigationFailed reports an investigation that produced no report.
type InvestigationFailed struct {
	InvestigationID string    `json:"investigation_id"`
	TargetName      string    `json:"target_name,omitempty"`
	Error           string    `json:"error"`
	Kind            string    `json:"kind"`
	FailedAt        time.Time `json:"failed_at"`
}
