package categorize

import (
	"fmt"
	"math"
	"strings"

	"workflowaudit/internal/domain"
)

const unnamed = "Unspecified"

// BuildHierarchy groups steps by org unit, parent service and service, in
// first-seen order, and attaches one entry per ticket per service. The entry
// keeps the latest non-empty remark and the summed delay of its steps.
func (rs RuleSet) BuildHierarchy(steps []domain.WorkflowStep) *domain.Hierarchy {
	h := &domain.Hierarchy{Departments: []*domain.DepartmentNode{}}

	depts := make(map[string]*domain.DepartmentNode)
	parents := make(map[[2]string]*domain.ParentServiceNode)
	services := make(map[[3]string]*domain.ServiceNode)
	tickets := make(map[[4]string]*domain.TicketEntry)
	serviceDelay := make(map[*domain.ServiceNode]float64)

	for _, step := range steps {
		dName := label(step.OrgUnit)
		pName := label(step.ParentService)
		sName := label(step.Service)

		dept, ok := depts[dName]
		if !ok {
			dept = &domain.DepartmentNode{Name: dName}
			depts[dName] = dept
			h.Departments = append(h.Departments, dept)
		}
		pKey := [2]string{dName, pName}
		parent, ok := parents[pKey]
		if !ok {
			parent = &domain.ParentServiceNode{Name: pName}
			parents[pKey] = parent
			dept.ParentServices = append(dept.ParentServices, parent)
		}
		sKey := [3]string{dName, pName, sName}
		svc, ok := services[sKey]
		if !ok {
			svc = &domain.ServiceNode{Name: sName}
			services[sKey] = svc
			parent.Services = append(parent.Services, svc)
		}

		tKey := [4]string{dName, pName, sName, step.TicketID}
		entry, ok := tickets[tKey]
		if !ok {
			entry = &domain.TicketEntry{TicketID: step.TicketID}
			tickets[tKey] = entry
			svc.Tickets = append(svc.Tickets, entry)
		}
		entry.Steps++
		entry.DaysRested += step.DaysRested
		if remark := strings.TrimSpace(step.Remark); remark != "" {
			entry.Remark = remark
		}
		serviceDelay[svc] += step.DaysRested
	}

	for _, ticket := range h.Tickets() {
		ticket.Category = rs.Classify(ticket.Remark)
		ticket.DaysRested = math.Round(ticket.DaysRested*100) / 100
	}
	for svc, total := range serviceDelay {
		svc.Count = len(svc.Tickets)
		if svc.Count > 0 {
			svc.AvgDelay = math.Round(total/float64(svc.Count)*100) / 100
		}
		svc.Insight = fmt.Sprintf("Avg delay %.1f days across %d tickets", svc.AvgDelay, svc.Count)
	}
	return h
}

// RefinementCandidates returns the entries the rules could not place, plus
// any whose total delay exceeds threshold days, in tree order.
func RefinementCandidates(h *domain.Hierarchy, threshold float64) []*domain.TicketEntry {
	if h == nil {
		return nil
	}
	var out []*domain.TicketEntry
	for _, ticket := range h.Tickets() {
		if ticket.Category == domain.CategoryUncategorized || ticket.DaysRested > threshold {
			out = append(out, ticket)
		}
	}
	return out
}

func label(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unnamed
	}
	return s
}
