package stats

import (
	"math"
	"sort"
	"strings"

	"workflowaudit/internal/domain"
)

const (
	riskKeepZ       = 1.5
	riskZWeight     = 10.0
	applicantOffset = 25.0
	maxRiskRows     = 15
)

var applicantTerms = []string{"applicant", "citizen"}

// IsApplicant reports whether the acting party on the step is the applicant
// rather than staff.
func IsApplicant(step domain.WorkflowStep) bool {
	for _, field := range []string{step.Role, step.RemarkBy} {
		lower := strings.ToLower(field)
		for _, term := range applicantTerms {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

// RankRisk scores every step against the population mean/sd and keeps the
// notable ones: applicant rows first, then by descending z.
func RankRisk(steps []domain.WorkflowStep, m, sd float64) []domain.RiskApplication {
	out := []domain.RiskApplication{}
	for _, step := range steps {
		z := ZScore(step.DaysRested, m, sd)
		applicant := IsApplicant(step)
		if math.Abs(z) <= riskKeepZ && !applicant {
			continue
		}
		score := math.Abs(z) * riskZWeight
		if applicant {
			score += applicantOffset
		}
		out = append(out, domain.RiskApplication{
			TicketID:  step.TicketID,
			Service:   step.Service,
			Role:      step.Role,
			Actor:     step.Actor(),
			Days:      step.DaysRested,
			ZScore:    round(z, 2),
			RiskScore: round(clamp(score, 0, 100), 2),
			Level:     Classify(z),
			Applicant: applicant,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Applicant != out[j].Applicant {
			return out[i].Applicant
		}
		return out[i].ZScore > out[j].ZScore
	})
	if len(out) > maxRiskRows {
		out = out[:maxRiskRows]
	}
	return out
}
