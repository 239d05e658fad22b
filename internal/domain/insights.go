package domain

import (
	"math"
	"time"
)

const Unknown = "Unknown"

// AIInsights is the generative view merged onto ProjectStatistics. Every
// field is optional: a failed sub-analysis leaves its field empty and adds a
// line to Failures.
type AIInsights struct {
	Provider             string                    `json:"provider"`
	Model                string                    `json:"model"`
	GeneratedAt          time.Time                 `json:"generated_at"`
	AnomalyPatterns      *AnomalyPatternAnalysis   `json:"anomaly_patterns,omitempty"`
	BottleneckPrediction *BottleneckPrediction     `json:"bottleneck_prediction,omitempty"`
	Recommendations      []Recommendation          `json:"recommendations,omitempty"`
	TabularInsight       map[string]string         `json:"tabular_insight,omitempty"`
	ForensicReports      map[string]ForensicReport `json:"forensic_reports,omitempty"`
	RefinedTickets       int                       `json:"refined_tickets"`
	TokensUsed           int                       `json:"tokens_used"`
	Failures             []string                  `json:"failures,omitempty"`
}

type AnomalyPatternAnalysis struct {
	Summary  string           `json:"summary"`
	Patterns []AnomalyPattern `json:"patterns"`
}

type AnomalyPattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type BottleneckPrediction struct {
	Summary     string   `json:"summary"`
	Predicted   []string `json:"predicted_bottlenecks"`
	Confidence  float64  `json:"confidence"`
	TimeHorizon string   `json:"time_horizon"`
}

type Recommendation struct {
	Title     string `json:"title"`
	Priority  string `json:"priority"`
	Rationale string `json:"rationale"`
}

// ForensicReport is the per-ticket analysis. A report stored in
// AIInsights.ForensicReports is always complete; missing parts carry Unknown
// or empty values rather than being absent.
type ForensicReport struct {
	TicketID          string            `json:"ticket_id"`
	EmployeeAnalysis  EmployeeAnalysis  `json:"employee_analysis"`
	ApplicantAnalysis ApplicantAnalysis `json:"applicant_analysis"`
	DelayAttribution  DelayAttribution  `json:"delay_analysis"`
	Narrative         string            `json:"ticket_summary"`
}

type EmployeeAnalysis struct {
	Summary     string   `json:"summary"`
	Responsible string   `json:"responsible"`
	Behavior    string   `json:"behavior"`
	Issues      []string `json:"issues"`
}

type ApplicantAnalysis struct {
	Summary    string   `json:"summary"`
	Compliance string   `json:"compliance"`
	Issues     []string `json:"issues"`
}

type DelayAttribution struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Citation   string   `json:"citation"`
}

// Complete fills every empty field with the Unknown sentinel or an empty
// slice so the report satisfies the full schema.
func (r ForensicReport) Complete() ForensicReport {
	r.EmployeeAnalysis.Summary = orUnknown(r.EmployeeAnalysis.Summary)
	r.EmployeeAnalysis.Responsible = orUnknown(r.EmployeeAnalysis.Responsible)
	r.EmployeeAnalysis.Behavior = orUnknown(r.EmployeeAnalysis.Behavior)
	if r.EmployeeAnalysis.Issues == nil {
		r.EmployeeAnalysis.Issues = []string{}
	}
	r.ApplicantAnalysis.Summary = orUnknown(r.ApplicantAnalysis.Summary)
	r.ApplicantAnalysis.Compliance = orUnknown(r.ApplicantAnalysis.Compliance)
	if r.ApplicantAnalysis.Issues == nil {
		r.ApplicantAnalysis.Issues = []string{}
	}
	if !r.DelayAttribution.Category.Valid() || r.DelayAttribution.Category == "" {
		r.DelayAttribution.Category = CategoryUncategorized
	}
	if c := r.DelayAttribution.Confidence; math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
		r.DelayAttribution.Confidence = 0
	}
	if r.DelayAttribution.Confidence > 1 {
		r.DelayAttribution.Confidence = 1
	}
	r.Narrative = orUnknown(r.Narrative)
	return r
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
