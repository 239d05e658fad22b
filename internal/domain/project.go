package domain

import (
	"errors"
	"fmt"
	"time"
)

type ProjectState string

const (
	StateCreated              ProjectState = "created"
	StateStatisticsComputed   ProjectState = "statistics_computed"
	StateGenerativeInProgress ProjectState = "generative_in_progress"
	StateEnriched             ProjectState = "enriched"
	StateEnrichedPartial      ProjectState = "enriched_partial"
)

var ErrStateRegression = errors.New("project state cannot move backwards")

// allowedTransitions lists the forward moves. EnrichedPartial may still be
// upgraded to Enriched by a later re-enrichment run.
var allowedTransitions = map[ProjectState][]ProjectState{
	StateCreated:              {StateStatisticsComputed},
	StateStatisticsComputed:   {StateGenerativeInProgress},
	StateGenerativeInProgress: {StateEnriched, StateEnrichedPartial},
	StateEnrichedPartial:      {StateEnriched},
}

type Project struct {
	ID        string
	Name      string
	State     ProjectState
	CreatedAt time.Time
	UpdatedAt time.Time
	Stats     *ProjectStatistics
}

// Advance moves the project to next, rejecting anything that is not a
// forward transition.
func (p *Project) Advance(next ProjectState) error {
	for _, allowed := range allowedTransitions[p.State] {
		if allowed == next {
			p.State = next
			p.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrStateRegression, p.State, next)
}
