// Package normalize maps heterogeneous upload rows onto domain.WorkflowStep.
// Malformed values never fail a row; they fall back to zero values.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"workflowaudit/internal/domain"

	"github.com/spf13/cast"
)

type field int

const (
	fieldTicket field = iota
	fieldOrgUnit
	fieldParentService
	fieldService
	fieldRole
	fieldZone
	fieldAppliedAt
	fieldDeliveredAt
	fieldDaysRested
	fieldRemark
	fieldRemarkBy
)

// columnAliases are compared after columnKey folding.
var columnAliases = map[field][]string{
	fieldTicket:        {"ticketid", "applicationid", "applid", "applicationno", "token", "ticket", "caseid"},
	fieldOrgUnit:       {"orgunit", "department", "dept", "office", "organization", "organisation", "ulb"},
	fieldParentService: {"parentservice", "parentservicename", "servicegroup", "scheme"},
	fieldService:       {"service", "servicename", "subservice"},
	fieldRole:          {"role", "post", "designation", "rolename", "taskname", "stage"},
	fieldZone:          {"zone", "zoneid", "zonename", "ward", "region"},
	fieldAppliedAt:     {"applicationdate", "applieddate", "appliedon", "date", "createdat", "receivedon"},
	fieldDeliveredAt:   {"deliverydate", "deliveredon", "completiondate", "closedon", "disposaldate"},
	fieldDaysRested:    {"daysrested", "days", "delaydays", "pendency", "pendingdays", "duration"},
	fieldRemark:        {"remark", "remarks", "comment", "comments", "note", "notes"},
	fieldRemarkBy:      {"remarkby", "remarkedby", "actionby", "employee", "employeename", "user", "officer"},
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"02-01-2006 15:04",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// columnKey folds a header so "Days Rested", "days_rested" and "DAYS-RESTED"
// compare equal.
func columnKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Known reports whether column is one of the aliases mapped onto a
// WorkflowStep field.
func Known(column string) bool {
	key := columnKey(column)
	for _, aliases := range columnAliases {
		for _, alias := range aliases {
			if key == alias {
				return true
			}
		}
	}
	return false
}

// Normalizer resolves column names once per header set and converts rows.
type Normalizer struct {
	columns map[field]string
	seq     map[string]int
	rows    int
}

// New builds a Normalizer for the given header. The first header matching an
// alias wins, so exact names should come before loose ones.
func New(header []string) *Normalizer {
	n := &Normalizer{
		columns: make(map[field]string),
		seq:     make(map[string]int),
	}
	keys := make(map[string]string, len(header))
	for _, h := range header {
		k := columnKey(h)
		if _, exists := keys[k]; !exists {
			keys[k] = h
		}
	}
	for f, aliases := range columnAliases {
		for _, alias := range aliases {
			if original, ok := keys[alias]; ok {
				n.columns[f] = original
				break
			}
		}
	}
	return n
}

// Row converts one input row. The row is stringified into Raw verbatim.
func (n *Normalizer) Row(row map[string]any) domain.WorkflowStep {
	n.rows++
	raw := make(map[string]string, len(row))
	for k, v := range row {
		raw[k] = cast.ToString(v)
	}

	step := domain.WorkflowStep{
		TicketID:      n.str(row, fieldTicket),
		OrgUnit:       n.str(row, fieldOrgUnit),
		ParentService: n.str(row, fieldParentService),
		Service:       n.str(row, fieldService),
		Role:          n.str(row, fieldRole),
		Zone:          n.str(row, fieldZone),
		Remark:        n.str(row, fieldRemark),
		RemarkBy:      n.str(row, fieldRemarkBy),
		Raw:           raw,
	}
	if step.TicketID == "" {
		step.TicketID = fmt.Sprintf("UNKNOWN-%d", n.rows)
	}
	step.AppliedAt = parseDate(n.value(row, fieldAppliedAt))
	if delivered := parseDate(n.value(row, fieldDeliveredAt)); !delivered.IsZero() {
		step.DeliveredAt = &delivered
	}

	days, ok := parseDays(n.value(row, fieldDaysRested))
	if !ok && !step.AppliedAt.IsZero() && step.DeliveredAt != nil {
		days = step.DeliveredAt.Sub(step.AppliedAt).Hours() / 24
	}
	if days < 0 || math.IsNaN(days) || math.IsInf(days, 0) {
		days = 0
	}
	step.DaysRested = days

	step.Seq = n.seq[step.TicketID]
	n.seq[step.TicketID]++
	return step
}

func (n *Normalizer) value(row map[string]any, f field) any {
	col, ok := n.columns[f]
	if !ok {
		return nil
	}
	return row[col]
}

func (n *Normalizer) str(row map[string]any, f field) string {
	return strings.TrimSpace(cast.ToString(n.value(row, f)))
}

// Rows normalizes a batch of map rows. The header is the union of the keys
// in sorted order, so alias resolution is deterministic.
func Rows(rows []map[string]any) []domain.WorkflowStep {
	seen := make(map[string]bool)
	var header []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)
	n := New(header)
	steps := make([]domain.WorkflowStep, 0, len(rows))
	for _, row := range rows {
		steps = append(steps, n.Row(row))
	}
	return steps
}

// Records normalizes CSV-style records sharing one header.
func Records(header []string, records [][]string) []domain.WorkflowStep {
	n := New(header)
	steps := make([]domain.WorkflowStep, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		steps = append(steps, n.Row(row))
	}
	return steps
}

func parseDays(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "days"))
		if s == "" {
			return 0, false
		}
		v = s
	}
	days, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return days, true
}

func parseDate(v any) time.Time {
	switch t := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return t
	}
	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
