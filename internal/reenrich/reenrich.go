// Package reenrich periodically retries the generative stage for projects
// left partially enriched.
package reenrich

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"workflowaudit/internal/domain"
	"workflowaudit/internal/metrics"
	"workflowaudit/internal/storage/sqlite"

	"go.uber.org/zap"
)

// Enricher is satisfied by *forensic.Orchestrator.
type Enricher interface {
	Enrich(ctx context.Context, project *domain.Project, steps []domain.WorkflowStep) error
}

// Result tracks one pass over the partial projects.
type Result struct {
	Picked       int
	Enriched     int
	StillPartial int
	Errors       []string
}

// RunOnce re-enriches every EnrichedPartial project and saves the outcome. A
// failing project is recorded and the pass moves on to the next one.
func RunOnce(ctx context.Context, db *sql.DB, enricher Enricher, logger *zap.Logger, m *metrics.Metrics) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	projects, err := sqlite.ListProjectsByState(db, domain.StateEnrichedPartial)
	if err != nil {
		return Result{}, fmt.Errorf("listing partial projects: %w", err)
	}

	var result Result
	for _, p := range projects {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Picked++
		steps, err := sqlite.LoadSteps(db, p.ID)
		if err != nil {
			m.Reenrich.WithLabelValues("error").Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: loading steps: %v", p.ID, err))
			continue
		}

		enrichErr := enricher.Enrich(ctx, p, steps)
		if enrichErr != nil {
			logger.Warn("reenrich project failed", zap.String("project", p.ID), zap.Error(enrichErr))
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p.ID, enrichErr))
		}
		if err := sqlite.SaveProject(db, p); err != nil {
			m.Reenrich.WithLabelValues("error").Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: saving: %v", p.ID, err))
			continue
		}

		switch p.State {
		case domain.StateEnriched:
			result.Enriched++
			m.Reenrich.WithLabelValues("enriched").Inc()
		default:
			result.StillPartial++
			m.Reenrich.WithLabelValues("partial").Inc()
		}
		logger.Info("reenrich project done", zap.String("project", p.ID), zap.String("state", string(p.State)))
	}
	return result, nil
}

func FormatSummary(r Result) string {
	if r.Picked == 0 {
		return "Re-enrichment: no partially enriched projects"
	}
	msg := fmt.Sprintf("Re-enrichment: %d picked, %d enriched, %d still partial", r.Picked, r.Enriched, r.StillPartial)
	if len(r.Errors) > 0 {
		msg += fmt.Sprintf("\nWarnings:\n%s", strings.Join(r.Errors, "\n"))
	}
	return msg
}
