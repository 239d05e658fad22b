package forensic

import (
	"math"
	"strings"

	"workflowaudit/internal/categorize"
	"workflowaudit/internal/domain"

	"github.com/spf13/cast"
)

// reportKeys are the top-level fields of the nested report. The parser
// rebuilds them one at a time when the whole document is beyond repair.
var reportKeys = []string{"employee_analysis", "applicant_analysis", "delay_analysis", "ticket_summary"}

// wrapperKeys are single-key envelopes some models put around the report.
var wrapperKeys = []string{"forensic_report", "forensic_analysis", "report", "analysis", "result"}

type Shape string

const (
	ShapeNested Shape = "nested"
	ShapeFlat   Shape = "flat"
)

// AdaptReport maps a recovered value onto the full report schema. The nested
// shape has employee_analysis, applicant_analysis and delay_analysis as
// objects. Anything else that carries at least one recognizable field,
// under either the nested names or flat ones such as employee_summary or
// delay_category, is treated as flat. Sub-analyses given as bare strings are
// taken as their summary. The report is always returned complete; ok is
// false when nothing recognizable was found.
func AdaptReport(ticketID string, v any) (domain.ForensicReport, Shape, bool) {
	m := unwrap(v)
	if m == nil {
		return domain.ForensicReport{}, "", false
	}

	empObj, empText := section(m, "employee_analysis", "employee")
	appObj, appText := section(m, "applicant_analysis", "applicant")
	delayObj, delayText := section(m, "delay_analysis", "delay_attribution", "delay")

	shape := ShapeFlat
	if empObj != nil && appObj != nil && delayObj != nil {
		shape = ShapeNested
	}

	var r domain.ForensicReport
	r.TicketID = ticketID
	r.EmployeeAnalysis = domain.EmployeeAnalysis{
		Summary:     first(empText, str(empObj, "summary", "analysis", "assessment"), str(m, "employee_summary")),
		Responsible: first(str(empObj, "responsible", "responsible_party", "officer", "employee"), str(m, "responsible", "responsible_employee", "responsible_party")),
		Behavior:    first(str(empObj, "behavior", "behaviour", "conduct"), str(m, "employee_behavior", "behavior", "behaviour")),
		Issues:      firstSlice(strs(empObj, "issues", "lapses"), strs(m, "employee_issues")),
	}
	r.ApplicantAnalysis = domain.ApplicantAnalysis{
		Summary:    first(appText, str(appObj, "summary", "analysis", "assessment"), str(m, "applicant_summary")),
		Compliance: first(str(appObj, "compliance", "status"), str(m, "applicant_compliance", "compliance")),
		Issues:     firstSlice(strs(appObj, "issues", "lapses"), strs(m, "applicant_issues")),
	}
	rawCategory := first(delayText, str(delayObj, "category", "primary_category", "delay_category"), str(m, "delay_category", "category", "primary_category"))
	if rawCategory != "" {
		r.DelayAttribution.Category = categorize.Normalize(rawCategory)
	}
	conf, hasConf := confidence(delayObj, "confidence", "confidence_score")
	if !hasConf {
		conf, hasConf = confidence(m, "confidence", "delay_confidence")
	}
	r.DelayAttribution.Confidence = conf
	r.DelayAttribution.Citation = first(str(delayObj, "citation", "evidence", "quote"), str(m, "citation", "evidence"))
	r.Narrative = str(m, "ticket_summary", "narrative", "summary", "overall_summary")

	recognized := r.EmployeeAnalysis.Summary != "" || r.EmployeeAnalysis.Responsible != "" ||
		r.EmployeeAnalysis.Behavior != "" || len(r.EmployeeAnalysis.Issues) > 0 ||
		r.ApplicantAnalysis.Summary != "" || r.ApplicantAnalysis.Compliance != "" ||
		len(r.ApplicantAnalysis.Issues) > 0 || rawCategory != "" || hasConf ||
		r.DelayAttribution.Citation != "" || r.Narrative != ""
	if !recognized {
		return domain.ForensicReport{}, "", false
	}
	return r.Complete(), shape, true
}

// unwrap finds the report object inside arrays and single-key envelopes.
func unwrap(v any) map[string]any {
	for depth := 0; depth < 3; depth++ {
		switch t := v.(type) {
		case []any:
			v = nil
			for _, item := range t {
				if _, ok := item.(map[string]any); ok {
					v = item
					break
				}
			}
		case map[string]any:
			inner, ok := envelope(t)
			if !ok {
				return t
			}
			v = inner
		default:
			return nil
		}
	}
	m, _ := v.(map[string]any)
	return m
}

func envelope(m map[string]any) (map[string]any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for _, key := range wrapperKeys {
		if inner, ok := m[key].(map[string]any); ok {
			return inner, true
		}
	}
	return nil, false
}

// section returns the value under the first present key, as an object or as
// text.
func section(m map[string]any, keys ...string) (map[string]any, string) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case map[string]any:
			return v, ""
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return nil, s
			}
		}
	}
	return nil, ""
}

// str reads the first non-empty scalar under keys. Lists of scalars are
// joined.
func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case map[string]any:
			continue
		case []any:
			s = strings.Join(strs(m, key), "; ")
		default:
			s = strings.TrimSpace(cast.ToString(t))
		}
		if s != "" {
			return s
		}
	}
	return ""
}

// strs reads a list of scalars under the first present key. A bare string
// becomes a one-element list.
func strs(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if _, nested := item.(map[string]any); nested {
					continue
				}
				if s := strings.TrimSpace(cast.ToString(item)); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

// confidence reads a number, a numeric string or a percentage and scales
// values above 1 down from percent.
func confidence(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f > 1 && f <= 100 {
			f /= 100
		}
		return f, true
	}
	return 0, false
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSlice(values ...[]string) []string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}
