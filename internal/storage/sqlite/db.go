// Package sqlite persists projects, their normalized steps and the
// per-ticket forensic reports.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workflowaudit/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

var ErrProjectNotFound = errors.New("project not found")

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL,
		stats_json TEXT DEFAULT '',
		provider   TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_state ON projects(state);

	CREATE TABLE IF NOT EXISTS workflow_steps (
		project_id     TEXT NOT NULL,
		row_order      INTEGER NOT NULL,
		ticket_id      TEXT NOT NULL,
		seq            INTEGER NOT NULL,
		org_unit       TEXT DEFAULT '',
		parent_service TEXT DEFAULT '',
		service        TEXT DEFAULT '',
		role           TEXT DEFAULT '',
		zone           TEXT DEFAULT '',
		applied_at     DATETIME,
		delivered_at   DATETIME,
		days_rested    REAL NOT NULL DEFAULT 0,
		remark         TEXT DEFAULT '',
		remark_by      TEXT DEFAULT '',
		raw_json       TEXT DEFAULT '',
		PRIMARY KEY (project_id, row_order)
	);
	CREATE INDEX IF NOT EXISTS idx_steps_ticket ON workflow_steps(project_id, ticket_id, seq);

	CREATE TABLE IF NOT EXISTS forensic_reports (
		project_id  TEXT NOT NULL,
		ticket_id   TEXT NOT NULL,
		category    TEXT NOT NULL,
		report_json TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (project_id, ticket_id)
	);
	`
	if _, err = db.Exec(schema); err != nil {
		return nil, err
	}

	return db, nil
}

// SaveProject inserts or updates the project row and replaces its forensic
// reports with those on p.Stats.AI.
func SaveProject(db *sql.DB, p *domain.Project) error {
	statsJSON := ""
	provider := ""
	if p.Stats != nil {
		data, err := json.Marshal(p.Stats)
		if err != nil {
			return fmt.Errorf("encoding statistics: %w", err)
		}
		statsJSON = string(data)
		if p.Stats.AI != nil {
			provider = p.Stats.AI.Provider
		}
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO projects (id, name, state, stats_json, provider, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			stats_json = excluded.stats_json,
			provider = excluded.provider,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, string(p.State), statsJSON, provider, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}

	if p.Stats == nil || p.Stats.AI == nil {
		return tx.Commit()
	}
	if _, err := tx.Exec(`DELETE FROM forensic_reports WHERE project_id = ?`, p.ID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO forensic_reports (project_id, ticket_id, category, report_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for ticket, report := range p.Stats.AI.ForensicReports {
		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encoding report %s: %w", ticket, err)
		}
		if _, err := stmt.Exec(p.ID, ticket, string(report.DelayAttribution.Category), string(data)); err != nil {
			return fmt.Errorf("saving report %s: %w", ticket, err)
		}
	}
	return tx.Commit()
}

func LoadProject(db *sql.DB, id string) (*domain.Project, error) {
	row := db.QueryRow(
		`SELECT id, name, state, stats_json, created_at, updated_at FROM projects WHERE id = ?`, id,
	)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p, err
}

// ListProjectsByState returns projects in the given state, oldest first.
func ListProjectsByState(db *sql.DB, state domain.ProjectState) ([]*domain.Project, error) {
	rows, err := db.Query(
		`SELECT id, name, state, stats_json, created_at, updated_at
		 FROM projects WHERE state = ? ORDER BY created_at, id`,
		string(state),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*domain.Project, error) {
	var (
		p         domain.Project
		state     string
		statsJSON sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Name, &state, &statsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.State = domain.ProjectState(state)
	if statsJSON.Valid && statsJSON.String != "" {
		var stats domain.ProjectStatistics
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			return nil, fmt.Errorf("decoding statistics of %s: %w", p.ID, err)
		}
		p.Stats = &stats
	}
	return &p, nil
}

// SaveSteps replaces the stored steps of a project, keeping their order.
func SaveSteps(db *sql.DB, projectID string, steps []domain.WorkflowStep) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM workflow_steps WHERE project_id = ?`, projectID); err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO workflow_steps (project_id, row_order, ticket_id, seq, org_unit, parent_service, service, role, zone,
			applied_at, delivered_at, days_rested, remark, remark_by, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for i, step := range steps {
		raw, err := json.Marshal(step.Raw)
		if err != nil {
			return inserted, err
		}
		var applied, delivered sql.NullTime
		if !step.AppliedAt.IsZero() {
			applied = sql.NullTime{Time: step.AppliedAt, Valid: true}
		}
		if step.Delivered() {
			delivered = sql.NullTime{Time: *step.DeliveredAt, Valid: true}
		}
		_, err = stmt.Exec(
			projectID, i, step.TicketID, step.Seq, step.OrgUnit, step.ParentService, step.Service, step.Role, step.Zone,
			applied, delivered, step.DaysRested, step.Remark, step.RemarkBy, string(raw),
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}

// LoadSteps returns a project's steps in the order they were saved.
func LoadSteps(db *sql.DB, projectID string) ([]domain.WorkflowStep, error) {
	rows, err := db.Query(
		`SELECT ticket_id, seq, org_unit, parent_service, service, role, zone,
			applied_at, delivered_at, days_rested, remark, remark_by, raw_json
		 FROM workflow_steps WHERE project_id = ? ORDER BY row_order`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.WorkflowStep
	for rows.Next() {
		var (
			step               domain.WorkflowStep
			applied, delivered sql.NullTime
			raw                sql.NullString
		)
		err := rows.Scan(
			&step.TicketID, &step.Seq, &step.OrgUnit, &step.ParentService, &step.Service, &step.Role, &step.Zone,
			&applied, &delivered, &step.DaysRested, &step.Remark, &step.RemarkBy, &raw,
		)
		if err != nil {
			return nil, err
		}
		if applied.Valid {
			step.AppliedAt = applied.Time
		}
		if delivered.Valid {
			t := delivered.Time
			step.DeliveredAt = &t
		}
		if raw.Valid && raw.String != "" && raw.String != "null" {
			if err := json.Unmarshal([]byte(raw.String), &step.Raw); err != nil {
				return nil, fmt.Errorf("decoding raw row of %s: %w", step.TicketID, err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetForensicReports returns the stored reports of a project keyed by ticket.
func GetForensicReports(db *sql.DB, projectID string) (map[string]domain.ForensicReport, error) {
	rows, err := db.Query(`SELECT ticket_id, report_json FROM forensic_reports WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.ForensicReport)
	for rows.Next() {
		var ticket, data string
		if err := rows.Scan(&ticket, &data); err != nil {
			return nil, err
		}
		var report domain.ForensicReport
		if err := json.Unmarshal([]byte(data), &report); err != nil {
			return nil, fmt.Errorf("decoding report %s: %w", ticket, err)
		}
		out[ticket] = report
	}
	return out, rows.Err()
}

// CountReportsByCategory summarizes stored reports by delay category.
func CountReportsByCategory(db *sql.DB, projectID string) (map[domain.Category]int, error) {
	rows, err := db.Query(
		`SELECT category, COUNT(*) FROM forensic_reports WHERE project_id = ? GROUP BY category`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Category]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		out[domain.Category(category)] = n
	}
	return out, rows.Err()
}
