// Package stats turns normalized workflow steps into deterministic
// performance and risk signals. Nothing here fails: empty or degenerate
// input yields zeroed aggregates.
package stats

import (
	"math"
	"sort"
	"strings"

	"workflowaudit/internal/domain"
)

const (
	defaultSLADays       = 5.0
	minBottleneckSamples = 5  // strictly more than this
	minPerformerTasks    = 10 // at least this
	topPerformerCount    = 5
	groupTopN            = 10
)

// nonStaffRoles never count as a bottleneck role.
var nonStaffRoles = map[string]bool{
	"applicant": true,
	"citizen":   true,
	"system":    true,
	"unknown":   true,
	"":          true,
}

// excludedActorTerms are matched as substrings against lower-cased actor names.
var excludedActorTerms = []string{"applicant", "citizen", "system", "unknown", "auto", "n/a", "admin"}

type Options struct {
	SLADays float64
}

func (o Options) withDefaults() Options {
	if o.SLADays <= 0 {
		o.SLADays = defaultSLADays
	}
	return o
}

// Compute builds the deterministic part of ProjectStatistics. The hierarchy
// is left empty; the categorizer fills it.
func Compute(steps []domain.WorkflowStep, opts Options) *domain.ProjectStatistics {
	opts = opts.withDefaults()
	out := &domain.ProjectStatistics{
		DelayTrend:            domain.TrendStable,
		TopPerformers:         []domain.Performer{},
		RiskApplications:      []domain.RiskApplication{},
		ZonePerformance:       []domain.GroupPerformance{},
		DepartmentPerformance: []domain.GroupPerformance{},
		RolePerformance:       []domain.GroupPerformance{},
		Behavior: domain.BehavioralMetrics{
			Profiles: []domain.EmployeeProfile{},
			RedFlags: []domain.RedFlag{},
			Topics:   []domain.TopicCount{},
		},
	}
	if len(steps) == 0 {
		return out
	}

	days := make([]float64, len(steps))
	delivered := 0
	for i, step := range steps {
		days[i] = step.DaysRested
		if step.Delivered() {
			delivered++
		}
	}
	tickets, _ := domain.GroupByTicket(steps)

	m := mean(days)
	sd := stdDev(days)
	out.TotalSteps = len(steps)
	out.TotalTickets = len(tickets)
	out.MeanDays = round(m, 2)
	out.StdDevDays = round(sd, 2)
	out.MinDays, out.MaxDays = minMax(days)
	out.CompletionRate = round(float64(delivered)/float64(len(steps))*100, 2)
	out.DelayTrend = Trend(days)
	for _, d := range days {
		if math.Abs(ZScore(d, m, sd)) > AnomalyZ {
			out.AnomalyCount++
		}
	}

	out.Bottleneck = bottleneck(steps, opts.SLADays)
	out.TopPerformers = topPerformers(steps)
	out.RiskApplications = RankRisk(steps, m, sd)
	out.ZonePerformance = groupPerformance(steps, func(s domain.WorkflowStep) string { return s.Zone }, opts.SLADays)
	out.DepartmentPerformance = groupPerformance(steps, func(s domain.WorkflowStep) string { return s.OrgUnit }, opts.SLADays)
	out.RolePerformance = groupPerformance(steps, func(s domain.WorkflowStep) string { return s.Role }, opts.SLADays)
	out.Behavior = Behavior(steps, m, sd)
	return out
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

type group struct {
	name  string
	delay []float64
}

// groupBy buckets delays by key in first-seen order, skipping empty keys.
func groupBy(steps []domain.WorkflowStep, key func(domain.WorkflowStep) string) []*group {
	var order []*group
	byKey := make(map[string]*group)
	for _, step := range steps {
		k := strings.TrimSpace(key(step))
		if k == "" {
			continue
		}
		g, ok := byKey[k]
		if !ok {
			g = &group{name: k}
			byKey[k] = g
			order = append(order, g)
		}
		g.delay = append(g.delay, step.DaysRested)
	}
	return order
}

func bottleneck(steps []domain.WorkflowStep, sla float64) *domain.Bottleneck {
	var best *group
	bestMean := math.Inf(-1)
	for _, g := range groupBy(steps, func(s domain.WorkflowStep) string { return s.Role }) {
		if nonStaffRoles[strings.ToLower(g.name)] || len(g.delay) <= minBottleneckSamples {
			continue
		}
		if m := mean(g.delay); m > bestMean {
			best, bestMean = g, m
		}
	}
	if best == nil {
		return nil
	}
	over := 0
	for _, d := range best.delay {
		if d > sla {
			over++
		}
	}
	return &domain.Bottleneck{
		Role:         best.name,
		AvgDelay:     round(bestMean, 2),
		SampleSize:   len(best.delay),
		PctOverSLA:   round(float64(over)/float64(len(best.delay))*100, 2),
		SLAThreshold: sla,
	}
}

func excludedActor(name string) bool {
	lower := strings.ToLower(name)
	for _, term := range excludedActorTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func topPerformers(steps []domain.WorkflowStep) []domain.Performer {
	out := []domain.Performer{}
	for _, g := range groupBy(steps, domain.WorkflowStep.Actor) {
		if len(g.delay) < minPerformerTasks || excludedActor(g.name) {
			continue
		}
		out = append(out, domain.Performer{
			Name:     g.name,
			Tasks:    len(g.delay),
			AvgDelay: round(mean(g.delay), 2),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AvgDelay < out[j].AvgDelay
	})
	if len(out) > topPerformerCount {
		out = out[:topPerformerCount]
	}
	return out
}

// groupPerformance reports the worst groups first.
func groupPerformance(steps []domain.WorkflowStep, key func(domain.WorkflowStep) string, sla float64) []domain.GroupPerformance {
	out := []domain.GroupPerformance{}
	for _, g := range groupBy(steps, key) {
		onTime := 0
		for _, d := range g.delay {
			if d <= sla {
				onTime++
			}
		}
		out = append(out, domain.GroupPerformance{
			Name:      g.name,
			Count:     len(g.delay),
			AvgDelay:  round(mean(g.delay), 2),
			OnTimePct: round(float64(onTime)/float64(len(g.delay))*100, 2),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AvgDelay > out[j].AvgDelay
	})
	if len(out) > groupTopN {
		out = out[:groupTopN]
	}
	return out
}
