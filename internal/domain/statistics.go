package domain

type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

type RiskLevel string

const (
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Rank orders risk levels so callers can compare them.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

type FlagType string

const (
	FlagRepeatedRemark FlagType = "repeated_remark"
	FlagDelayOutlier   FlagType = "delay_outlier"
)

type Severity string

const (
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// ProjectStatistics is computed once per upload. AI is attached once after
// the generative stage; everything else is append-only.
type ProjectStatistics struct {
	TotalSteps     int     `json:"total_steps"`
	TotalTickets   int     `json:"total_tickets"`
	MeanDays       float64 `json:"mean_days"`
	MinDays        float64 `json:"min_days"`
	MaxDays        float64 `json:"max_days"`
	StdDevDays     float64 `json:"std_dev_days"`
	CompletionRate float64 `json:"completion_rate"`
	AnomalyCount   int     `json:"anomaly_count"`
	DelayTrend     Trend   `json:"delay_trend"`

	Bottleneck            *Bottleneck        `json:"bottleneck,omitempty"`
	TopPerformers         []Performer        `json:"top_performers"`
	RiskApplications      []RiskApplication  `json:"risk_applications"`
	ZonePerformance       []GroupPerformance `json:"zone_performance"`
	DepartmentPerformance []GroupPerformance `json:"department_performance"`
	RolePerformance       []GroupPerformance `json:"role_performance"`
	Behavior              BehavioralMetrics  `json:"behavior"`
	Hierarchy             Hierarchy          `json:"hierarchy"`
	AI                    *AIInsights        `json:"ai,omitempty"`
}

type Bottleneck struct {
	Role         string  `json:"role"`
	AvgDelay     float64 `json:"avg_delay"`
	SampleSize   int     `json:"sample_size"`
	PctOverSLA   float64 `json:"pct_over_sla"`
	SLAThreshold float64 `json:"sla_threshold"`
}

type Performer struct {
	Name     string  `json:"name"`
	Tasks    int     `json:"tasks"`
	AvgDelay float64 `json:"avg_delay"`
}

type RiskApplication struct {
	TicketID  string    `json:"ticket_id"`
	Service   string    `json:"service"`
	Role      string    `json:"role"`
	Actor     string    `json:"actor"`
	Days      float64   `json:"days"`
	ZScore    float64   `json:"z_score"`
	RiskScore float64   `json:"risk_score"`
	Level     RiskLevel `json:"level"`
	Applicant bool      `json:"applicant"`
}

type GroupPerformance struct {
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	AvgDelay  float64 `json:"avg_delay"`
	OnTimePct float64 `json:"on_time_pct"`
}

type BehavioralMetrics struct {
	Profiles []EmployeeProfile `json:"profiles"`
	RedFlags []RedFlag         `json:"red_flags"`
	Topics   []TopicCount      `json:"topics"`
}

type EmployeeProfile struct {
	Name           string   `json:"name"`
	Remarks        int      `json:"remarks"`
	TopRemark      string   `json:"top_remark"`
	TopRemarkCount int      `json:"top_remark_count"`
	RepetitionRate float64  `json:"repetition_rate"`
	AvgDelay       float64  `json:"avg_delay"`
	DelayOutlier   bool     `json:"delay_outlier"`
	AnomalyScore   float64  `json:"anomaly_score"`
	Flags          []string `json:"flags,omitempty"`
}

type RedFlag struct {
	Entity   string   `json:"entity"`
	Type     FlagType `json:"type"`
	Evidence string   `json:"evidence"`
	Severity Severity `json:"severity"`
}

type TopicCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}
