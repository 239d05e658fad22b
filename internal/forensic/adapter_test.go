package forensic

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"workflowaudit/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptReportNested(t *testing.T) {
	v := map[string]any{
		"employee_analysis": map[string]any{
			"summary":     "Clerk held the file",
			"responsible": "Clerk A",
			"behavior":    "Repeated pending remarks",
			"issues":      []any{"late forwarding"},
		},
		"applicant_analysis": map[string]any{"summary": "Submitted on time", "compliance": "Compliant", "issues": []any{}},
		"delay_analysis":     map[string]any{"category": "Documentation Issue", "confidence": 0.9, "citation": "Affidavit missing"},
		"ticket_summary":     "Waited on an affidavit",
	}
	r, shape, ok := AdaptReport("T1", v)
	require.True(t, ok)
	assert.Equal(t, ShapeNested, shape)
	assert.Equal(t, "T1", r.TicketID)
	assert.Equal(t, "Clerk A", r.EmployeeAnalysis.Responsible)
	assert.Equal(t, []string{"late forwarding"}, r.EmployeeAnalysis.Issues)
	assert.Equal(t, []string{}, r.ApplicantAnalysis.Issues)
	assert.Equal(t, domain.CategoryDocumentation, r.DelayAttribution.Category)
	assert.InDelta(t, 0.9, r.DelayAttribution.Confidence, 1e-9)
	assert.Equal(t, "Waited on an affidavit", r.Narrative)
}

func TestAdaptReportFlat(t *testing.T) {
	v := map[string]any{
		"employee_summary": "Slow verification",
		"delay_category":   "documentation",
		"confidence":       "80%",
	}
	r, shape, ok := AdaptReport("T2", v)
	require.True(t, ok)
	assert.Equal(t, ShapeFlat, shape)
	assert.Equal(t, "Slow verification", r.EmployeeAnalysis.Summary)
	assert.Equal(t, domain.Unknown, r.EmployeeAnalysis.Responsible)
	assert.Equal(t, domain.Unknown, r.ApplicantAnalysis.Summary)
	assert.Equal(t, domain.Unknown, r.Narrative)
	assert.Equal(t, domain.CategoryDocumentation, r.DelayAttribution.Category)
	assert.InDelta(t, 0.8, r.DelayAttribution.Confidence, 1e-9)
	assert.NotNil(t, r.EmployeeAnalysis.Issues)
}

func TestAdaptReportEnvelopesAndStrings(t *testing.T) {
	v := []any{
		"preamble",
		map[string]any{"forensic_report": map[string]any{
			"employee_analysis":  "Officer on leave",
			"applicant_analysis": "Fee not paid",
			"delay_analysis":     map[string]any{"category": "something odd", "confidence": 75},
		}},
	}
	r, shape, ok := AdaptReport("T3", v)
	require.True(t, ok)
	assert.Equal(t, ShapeFlat, shape)
	assert.Equal(t, "Officer on leave", r.EmployeeAnalysis.Summary)
	assert.Equal(t, "Fee not paid", r.ApplicantAnalysis.Summary)
	assert.Equal(t, domain.CategoryUncategorized, r.DelayAttribution.Category)
	assert.InDelta(t, 0.75, r.DelayAttribution.Confidence, 1e-9)
}

func TestAdaptReportUnrecognized(t *testing.T) {
	for _, v := range []any{
		nil,
		"text",
		[]any{1, 2},
		map[string]any{"foo": "bar"},
		map[string]any{},
	} {
		_, _, ok := AdaptReport("T", v)
		assert.False(t, ok, "%v", v)
	}
}

func TestTranscriptKeepsRowOrder(t *testing.T) {
	late := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := []domain.WorkflowStep{
		{TicketID: "T", RemarkBy: "Clerk", Role: "Clerk", Remark: "Forwarded   to\nofficer", AppliedAt: late, DaysRested: 2},
		{TicketID: "T", Role: "Officer", AppliedAt: early, DaysRested: 4.5},
		{TicketID: "T"},
	}
	got := Transcript(steps)
	want := "1. [Clerk] Forwarded to officer (role: Clerk, date: 2024-03-01, days: 2.0)\n" +
		"2. [Officer] (no remark) (role: Officer, date: 2024-01-01, days: 4.5)\n" +
		"3. [Unknown] (no remark) (role: -, date: -, days: 0.0)"
	assert.Equal(t, want, got)
}

func TestAdaptReportDropsNonFiniteConfidence(t *testing.T) {
	for _, raw := range []any{"NaN", "Inf", "-Infinity", "nan%"} {
		v := map[string]any{"delay_analysis": map[string]any{"category": "process", "confidence": raw}}
		r, _, ok := AdaptReport("T7", v)
		require.True(t, ok, raw)
		assert.Equal(t, domain.CategoryProcess, r.DelayAttribution.Category)
		assert.Zero(t, r.DelayAttribution.Confidence, raw)
		_, err := json.Marshal(r)
		require.NoError(t, err, "report with confidence %v must stay storable", raw)
	}
}

func TestTranscriptCutsLongRemarkOnRuneBoundary(t *testing.T) {
	// Each Devanagari rune is three bytes, so the byte limit falls mid-rune.
	remark := strings.Repeat("क", maxTranscriptRemark)
	got := Transcript([]domain.WorkflowStep{{TicketID: "T", RemarkBy: "Clerk", Remark: remark}})
	require.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "...")
	assert.Less(t, len(got), len(remark))
}

func TestTicketContextListsUnmappedColumns(t *testing.T) {
	steps := []domain.WorkflowStep{
		{TicketID: "T", Raw: map[string]string{
			"Application ID": "T",
			"Remarks":        "Pending",
			"Ward Office":    "  North\nblock ",
			"Fee Status":     "unpaid",
			"Channel":        "",
		}},
		{TicketID: "T", Raw: map[string]string{"Late Column": "ignored"}},
	}
	assert.Equal(t, "Fee Status: unpaid; Ward Office: North block", ticketContext(steps))
	assert.Empty(t, ticketContext(nil))
}
