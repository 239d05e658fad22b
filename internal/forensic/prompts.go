package forensic

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"workflowaudit/internal/domain"
)

const systemPrompt = `You are a forensic auditor of government service workflows. You read workflow statistics and remark histories and explain delays precisely. Answer only with what the data supports. When asked for JSON, reply with a single JSON value and nothing else.`

var (
	anomalyTemplate = template.Must(template.New("anomaly").Parse(`Identify recurring anomaly patterns in this workflow dataset.

Statistics:
{{.Summary}}

High-risk applications:
{{.Risks}}

Behavioral red flags:
{{.Flags}}

Reply as JSON: {"summary": "...", "patterns": [{"name": "...", "description": "...", "severity": "Low|Medium|High"}]}`))

	bottleneckTemplate = template.Must(template.New("bottleneck").Parse(`Predict where this workflow will bottleneck next.

Statistics:
{{.Summary}}

Role performance (worst first):
{{.Roles}}

Reply as JSON: {"summary": "...", "predicted_bottlenecks": ["..."], "confidence": 0.0, "time_horizon": "..."}`))

	recommendationsTemplate = template.Must(template.New("recommendations").Parse(`Recommend concrete process improvements for this workflow.

Statistics:
{{.Summary}}

Department performance (worst first):
{{.Departments}}

Frequent remark topics: {{.Topics}}

Reply as JSON: {"recommendations": [{"title": "...", "priority": "High|Medium|Low", "rationale": "..."}]}`))

	tabularTemplate = template.Must(template.New("tabular").Parse(`Write an executive analysis of this workflow in five parts, each starting with its label on its own line:
PART 1: overall performance
PART 2: zones and departments
PART 3: staff behavior
PART 4: applicant-side issues
PART 5: priorities for the next quarter

Statistics:
{{.Summary}}

Zone performance:
{{.Zones}}

Red flags:
{{.Flags}}`))

	forensicTemplate = template.Must(template.New("forensic").Parse(`Analyze the remark history of ticket {{.TicketID}} ({{.Service}}) and attribute its delay.

Total days rested: {{printf "%.1f" .Days}}
{{if .Context}}Other recorded fields: {{.Context}}
{{end}}
History, oldest first:
{{.Transcript}}

Allowed delay categories: {{.Categories}}

Reply as JSON:
{"employee_analysis": {"summary": "...", "responsible": "...", "behavior": "...", "issues": ["..."]},
 "applicant_analysis": {"summary": "...", "compliance": "...", "issues": ["..."]},
 "delay_analysis": {"category": "...", "confidence": 0.0, "citation": "quote the remark that shows it"},
 "ticket_summary": "..."}`))

	refineTemplate = template.Must(template.New("refine").Parse(`A ticket remark may be in any language. Summarize it in English and classify the delay.

Ticket: {{.TicketID}}
Days rested: {{printf "%.1f" .Days}}
Rule category: {{.Category}}
Remark: {{.Remark}}

Allowed delay categories: {{.Categories}}

Reply as JSON: {"english_summary": "...", "category": "...", "employee_analysis": "...", "applicant_analysis": "..."}`))
)

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

// statsView is the slice of ProjectStatistics every aggregate prompt shares.
type statsView struct {
	Summary     string
	Risks       string
	Flags       string
	Roles       string
	Zones       string
	Departments string
	Topics      string
}

func newStatsView(s *domain.ProjectStatistics) statsView {
	summary := map[string]any{
		"total_steps":     s.TotalSteps,
		"total_tickets":   s.TotalTickets,
		"mean_days":       s.MeanDays,
		"max_days":        s.MaxDays,
		"std_dev_days":    s.StdDevDays,
		"completion_rate": s.CompletionRate,
		"anomaly_count":   s.AnomalyCount,
		"delay_trend":     s.DelayTrend,
	}
	if s.Bottleneck != nil {
		summary["bottleneck_role"] = s.Bottleneck.Role
		summary["bottleneck_avg_delay"] = s.Bottleneck.AvgDelay
	}

	var risks []string
	for _, r := range s.RiskApplications {
		risks = append(risks, fmt.Sprintf("- %s | %s | %s | %.1f days | z=%.1f | %s", r.TicketID, r.Service, r.Actor, r.Days, r.ZScore, r.Level))
	}
	var flags []string
	for _, f := range s.Behavior.RedFlags {
		flags = append(flags, fmt.Sprintf("- %s | %s | %s | %s", f.Entity, f.Type, f.Severity, f.Evidence))
	}
	topics := "none"
	if len(s.Behavior.Topics) > 0 {
		terms := make([]string, 0, len(s.Behavior.Topics))
		for _, t := range s.Behavior.Topics {
			terms = append(terms, t.Term)
		}
		topics = strings.Join(terms, ", ")
	}

	return statsView{
		Summary:     compactJSON(summary),
		Risks:       orNone(risks),
		Flags:       orNone(flags),
		Roles:       groupLines(s.RolePerformance),
		Zones:       groupLines(s.ZonePerformance),
		Departments: groupLines(s.DepartmentPerformance),
		Topics:      topics,
	}
}

func groupLines(groups []domain.GroupPerformance) string {
	var lines []string
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("- %s: %.1f days avg, %.0f%% on time, %d steps", g.Name, g.AvgDelay, g.OnTimePct, g.Count))
	}
	return orNone(lines)
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "none"
	}
	return strings.Join(lines, "\n")
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func categoryList() string {
	names := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

type forensicView struct {
	TicketID   string
	Service    string
	Days       float64
	Context    string
	Transcript string
	Categories string
}

type refineView struct {
	TicketID   string
	Days       float64
	Category   domain.Category
	Remark     string
	Categories string
}
