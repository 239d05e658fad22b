package domain

// Category is one of the fixed delay categories assigned to a ticket.
type Category string

const (
	CategoryDocumentation Category = "Documentation Issue"
	CategoryCommunication Category = "Communication Gap"
	CategoryProcess       Category = "Process Delay"
	CategoryApplicant     Category = "Applicant-Side Delay"
	CategoryEmployee      Category = "Employee/System-Side Delay"
	CategoryExternal      Category = "External Dependency"
	CategoryComplexity    Category = "Complexity"
	CategoryUncategorized Category = "Uncategorized"
)

// Categories lists the fixed categories in rule order, without Uncategorized.
var Categories = []Category{
	CategoryDocumentation,
	CategoryCommunication,
	CategoryProcess,
	CategoryApplicant,
	CategoryEmployee,
	CategoryExternal,
	CategoryComplexity,
}

func (c Category) Valid() bool {
	if c == CategoryUncategorized {
		return true
	}
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Hierarchy struct {
	Departments []*DepartmentNode `json:"departments"`
}

type DepartmentNode struct {
	Name           string               `json:"name"`
	ParentServices []*ParentServiceNode `json:"parent_services"`
}

type ParentServiceNode struct {
	Name     string         `json:"name"`
	Services []*ServiceNode `json:"services"`
}

type ServiceNode struct {
	Name     string         `json:"name"`
	Insight  string         `json:"insight"`
	AvgDelay float64        `json:"avg_delay"`
	Count    int            `json:"count"`
	Tickets  []*TicketEntry `json:"tickets"`
}

// TicketEntry is one ticket under a service. Refinement stays nil until the
// generative stage fills it.
type TicketEntry struct {
	TicketID   string            `json:"ticket_id"`
	Remark     string            `json:"remark"`
	Category   Category          `json:"category"`
	DaysRested float64           `json:"days_rested"`
	Steps      int               `json:"steps"`
	Refinement *TicketRefinement `json:"refinement,omitempty"`
}

type TicketRefinement struct {
	EnglishSummary    string   `json:"english_summary"`
	Category          Category `json:"category"`
	EmployeeAnalysis  string   `json:"employee_analysis"`
	ApplicantAnalysis string   `json:"applicant_analysis"`
}

// Tickets walks the hierarchy and returns every ticket entry in tree order.
func (h *Hierarchy) Tickets() []*TicketEntry {
	var out []*TicketEntry
	for _, dept := range h.Departments {
		for _, parent := range dept.ParentServices {
			for _, svc := range parent.Services {
				out = append(out, svc.Tickets...)
			}
		}
	}
	return out
}
