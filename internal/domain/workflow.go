package domain

import "time"

// WorkflowStep is one normalized transition on a ticket. Steps are
// identified by (TicketID, Seq); Seq is the emission order within the ticket.
type WorkflowStep struct {
	TicketID      string
	OrgUnit       string
	ParentService string
	Service       string
	Role          string
	Zone          string
	AppliedAt     time.Time
	DeliveredAt   *time.Time
	DaysRested    float64
	Remark        string
	RemarkBy      string
	Seq           int
	Raw           map[string]string
}

// Delivered reports whether the step carries a delivery date.
func (s WorkflowStep) Delivered() bool {
	return s.DeliveredAt != nil && !s.DeliveredAt.IsZero()
}

// Actor is the party credited with the step: the remark author when known,
// otherwise the role.
func (s WorkflowStep) Actor() string {
	if s.RemarkBy != "" {
		return s.RemarkBy
	}
	return s.Role
}

// GroupByTicket returns the ticket ids in first-seen order and the steps of
// each ticket in row order. Row order is authoritative; steps are never
// re-sorted by timestamp.
func GroupByTicket(steps []WorkflowStep) ([]string, map[string][]WorkflowStep) {
	var order []string
	byTicket := make(map[string][]WorkflowStep)
	for _, step := range steps {
		if _, ok := byTicket[step.TicketID]; !ok {
			order = append(order, step.TicketID)
		}
		byTicket[step.TicketID] = append(byTicket[step.TicketID], step)
	}
	return order, byTicket
}
