package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"workflowaudit/internal/domain"
	"workflowaudit/internal/httpx"
	slacknotify "workflowaudit/internal/integrations/slack"
	"workflowaudit/internal/normalize"
	"workflowaudit/internal/storage/sqlite"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		name      string
		overrides runOverrides
	)
	cmd := &cobra.Command{
		Use:   "analyze <workflow.csv>",
		Short: "Analyze a workflow log export and store the enriched project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			project, err := rt.analyzeFile(cmd.Context(), args[0], name, overrides)
			if project != nil {
				fmt.Fprintln(cmd.OutOrStdout(), formatProject(project))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to the file name)")
	cmd.Flags().StringVar(&overrides.provider, "provider", "", "text-generation provider for this run")
	cmd.Flags().StringVar(&overrides.apiKey, "api-key", "", "credential for --provider, used for this run only")
	cmd.Flags().Float64Var(&overrides.slaDays, "sla-days", 0, "SLA in days (default 5)")
	return cmd
}

// analyzeFile ingests one CSV export and runs both stages. A project left
// EnrichedPartial is saved and reported without an error so the
// re-enrichment job can pick it up.
func (rt *runtime) analyzeFile(ctx context.Context, path, name string, o runOverrides) (*domain.Project, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	steps := normalize.Records(header, records)
	if len(steps) == 0 {
		return nil, fmt.Errorf("%s has no workflow rows", path)
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:        uuid.NewString(),
		Name:      name,
		State:     domain.StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := sqlite.SaveSteps(rt.db, project.ID, steps); err != nil {
		return nil, fmt.Errorf("saving steps: %w", err)
	}
	rt.logger.Info("workflow ingested", zap.String("project", project.ID), zap.String("file", path), zap.Int("steps", len(steps)))

	orch := rt.orchestrator(o)
	if rt.cfg.SlackConfigured() {
		api := slack.New(rt.cfg.SlackBotToken, slack.OptionHTTPClient(httpx.ExternalHTTPClient()))
		orch.WithSink(slacknotify.New(api, rt.cfg.SlackProgressChannel, project.Name, rt.logger))
	}

	runErr := orch.Analyze(ctx, project, steps)
	if project.State == domain.StateCreated {
		return nil, runErr
	}
	if err := sqlite.SaveProject(rt.db, project); err != nil {
		return project, errors.Join(runErr, fmt.Errorf("saving project: %w", err))
	}
	if runErr != nil && project.State == domain.StateEnrichedPartial {
		rt.logger.Warn("project saved partially enriched", zap.String("project", project.ID), zap.Error(runErr))
		return project, nil
	}
	return project, runErr
}

// readCSV returns the header and data rows of a CSV file. Rows may have
// fewer or more fields than the header.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv is empty")
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv rows: %w", err)
	}
	return header, records, nil
}

func formatProject(p *domain.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s (%s): %s\n", p.Name, p.ID, p.State)
	if p.Stats == nil {
		return b.String()
	}
	s := p.Stats
	fmt.Fprintf(&b, "Steps: %d | Tickets: %d | Mean delay: %.1f days | Anomalies: %d\n",
		s.TotalSteps, s.TotalTickets, s.MeanDays, s.AnomalyCount)
	if ai := s.AI; ai != nil {
		fmt.Fprintf(&b, "Provider: %s | Forensic reports: %d | Refined: %d | Tokens: %d\n",
			ai.Provider, len(ai.ForensicReports), ai.RefinedTickets, ai.TokensUsed)
		for _, f := range ai.Failures {
			fmt.Fprintf(&b, "  warning: %s\n", f)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
