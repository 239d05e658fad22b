package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"workflowaudit/internal/domain"
)

const (
	minBehaviorSamples  = 5 // strictly more than this
	repetitionThreshold = 0.6
	repetitionHigh      = 0.8
	repetitionWeight    = 0.7
	outlierWeight       = 0.3
)

// Behavior profiles each actor's remark history and flags repetition and
// delay outliers against the global mean m and sd.
func Behavior(steps []domain.WorkflowStep, m, sd float64) domain.BehavioralMetrics {
	out := domain.BehavioralMetrics{
		Profiles: []domain.EmployeeProfile{},
		RedFlags: []domain.RedFlag{},
		Topics:   Topics(steps, topicCount),
	}

	type history struct {
		name    string
		remarks map[string]int
		order   []string
		total   int
		delay   []float64
	}
	var actors []*history
	byActor := make(map[string]*history)
	for _, step := range steps {
		name := strings.TrimSpace(step.Actor())
		if name == "" {
			continue
		}
		h, ok := byActor[name]
		if !ok {
			h = &history{name: name, remarks: make(map[string]int)}
			byActor[name] = h
			actors = append(actors, h)
		}
		h.delay = append(h.delay, step.DaysRested)
		remark := normalizeRemark(step.Remark)
		if remark == "" {
			continue
		}
		if h.remarks[remark] == 0 {
			h.order = append(h.order, remark)
		}
		h.remarks[remark]++
		h.total++
	}

	outlierLimit := m + sd
	for _, h := range actors {
		profile := domain.EmployeeProfile{
			Name:     h.name,
			Remarks:  h.total,
			AvgDelay: round(mean(h.delay), 2),
		}
		for _, remark := range h.order {
			if h.remarks[remark] > profile.TopRemarkCount {
				profile.TopRemark = remark
				profile.TopRemarkCount = h.remarks[remark]
			}
		}
		if h.total > 0 {
			profile.RepetitionRate = round(float64(profile.TopRemarkCount)/float64(h.total), 3)
		}

		if profile.RepetitionRate > repetitionThreshold && h.total > minBehaviorSamples {
			severity := domain.SeverityMedium
			if profile.RepetitionRate > repetitionHigh {
				severity = domain.SeverityHigh
			}
			profile.Flags = append(profile.Flags, string(domain.FlagRepeatedRemark))
			out.RedFlags = append(out.RedFlags, domain.RedFlag{
				Entity:   h.name,
				Type:     domain.FlagRepeatedRemark,
				Evidence: fmt.Sprintf("%q used in %d of %d remarks (%.0f%%)", profile.TopRemark, profile.TopRemarkCount, h.total, profile.RepetitionRate*100),
				Severity: severity,
			})
		}

		if len(h.delay) > minBehaviorSamples && mean(h.delay) > outlierLimit {
			profile.DelayOutlier = true
			severity := domain.SeverityMedium
			if mean(h.delay) > 2*m {
				severity = domain.SeverityHigh
			}
			profile.Flags = append(profile.Flags, string(domain.FlagDelayOutlier))
			out.RedFlags = append(out.RedFlags, domain.RedFlag{
				Entity:   h.name,
				Type:     domain.FlagDelayOutlier,
				Evidence: fmt.Sprintf("average delay %.1f days vs global %.1f (+1 sd = %.1f) over %d steps", mean(h.delay), m, outlierLimit, len(h.delay)),
				Severity: severity,
			})
		}

		outlier := 0.0
		if profile.DelayOutlier {
			outlier = 1
		}
		profile.AnomalyScore = round(math.Min(1, repetitionWeight*profile.RepetitionRate+outlierWeight*outlier), 3)
		out.Profiles = append(out.Profiles, profile)
	}

	sort.SliceStable(out.Profiles, func(i, j int) bool {
		return out.Profiles[i].AnomalyScore > out.Profiles[j].AnomalyScore
	})
	return out
}

func normalizeRemark(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
