// Package forensic drives one project's enrichment: the deterministic
// statistics, then the generative sub-analyses against a text-generation
// provider, with a single whole-stage retry on the default provider.
package forensic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"workflowaudit/internal/categorize"
	"workflowaudit/internal/domain"
	"workflowaudit/internal/integrations/llm"
	"workflowaudit/internal/llmparse"
	"workflowaudit/internal/metrics"
	"workflowaudit/internal/stats"

	"go.uber.org/zap"
)

// Gateway is the part of llm.Registry the orchestrator uses.
type Gateway interface {
	Client(name string) (llm.Client, error)
	WithCredential(name, apiKey string) (llm.Client, error)
	Default() llm.Provider
}

type Options struct {
	// Provider is tried first. Fallback is used for the retry and defaults
	// to the gateway's default provider.
	Provider string
	Fallback string
	// APIKey overrides the configured credential of Provider for this run.
	APIKey string

	Temperature *float64
	SLADays     float64
	Rules       categorize.RuleSet

	// MaxTickets caps per-ticket analysis; zero analyzes every ticket.
	MaxTickets        int
	TicketBatchSize   int
	TicketConcurrency int
	TicketCooldown    time.Duration

	RefineBatchSize int
	RefineCooldown  time.Duration
	RefineThreshold float64

	Clock Clock
}

const (
	defaultRefineBatchSize = 3
	defaultRefineCooldown  = 2 * time.Second
	defaultRefineThreshold = 15
)

func (o Options) withDefaults() Options {
	if len(o.Rules.Rules) == 0 {
		o.Rules = categorize.DefaultRules
	}
	if o.TicketBatchSize < 1 {
		o.TicketBatchSize = 1
	}
	if o.TicketConcurrency < 1 {
		o.TicketConcurrency = 1
	}
	if o.RefineBatchSize < 1 {
		o.RefineBatchSize = defaultRefineBatchSize
	}
	if o.RefineCooldown < 0 {
		o.RefineCooldown = 0
	} else if o.RefineCooldown == 0 {
		o.RefineCooldown = defaultRefineCooldown
	}
	if o.RefineThreshold <= 0 {
		o.RefineThreshold = defaultRefineThreshold
	}
	return o
}

type Orchestrator struct {
	gateway Gateway
	opts    Options
	tickets *Scheduler
	refine  *Scheduler
	sink    ProgressSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(gw Gateway, opts Options, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		gateway: gw,
		opts:    opts,
		tickets: NewScheduler(opts.TicketBatchSize, opts.TicketConcurrency, opts.TicketCooldown, opts.Clock),
		// Refinement groups run one ticket at a time; the cooldown spaces
		// the groups.
		refine:  NewScheduler(opts.RefineBatchSize, 1, opts.RefineCooldown, opts.Clock),
		sink:    nopSink{},
		logger:  logger,
		metrics: m,
	}
}

// WithSink sets the progress sink.
func (o *Orchestrator) WithSink(sink ProgressSink) *Orchestrator {
	if sink != nil {
		o.sink = sink
	}
	return o
}

// Analyze runs both stages. The returned error only concerns the generative
// stage; project.Stats is valid either way.
func (o *Orchestrator) Analyze(ctx context.Context, project *domain.Project, steps []domain.WorkflowStep) error {
	if err := o.ComputeStatistics(ctx, project, steps); err != nil {
		return err
	}
	return o.Enrich(ctx, project, steps)
}

// ComputeStatistics is the deterministic stage. It cannot fail on any input;
// the only error is a project that is already past it.
func (o *Orchestrator) ComputeStatistics(ctx context.Context, project *domain.Project, steps []domain.WorkflowStep) error {
	s := stats.Compute(steps, stats.Options{SLADays: o.opts.SLADays})
	s.Hierarchy = *o.opts.Rules.BuildHierarchy(steps)
	if err := project.Advance(domain.StateStatisticsComputed); err != nil {
		return err
	}
	project.Stats = s
	o.logger.Info("forensic statistics computed",
		zap.String("project", project.ID),
		zap.Int("steps", s.TotalSteps),
		zap.Int("tickets", s.TotalTickets),
		zap.Int("anomalies", s.AnomalyCount))
	o.progress(ctx, "statistics", 10, fmt.Sprintf("%d steps across %d tickets", s.TotalSteps, s.TotalTickets))
	return nil
}

// Enrich runs the generative stage on a project whose statistics are
// computed, or re-runs it on a partially enriched one. A provider failure
// retries the whole stage once on the fallback provider; a second failure
// is returned and the project is left EnrichedPartial with whatever the
// second attempt produced. On a rerun, results of earlier runs survive
// unless the new attempt replaces them.
func (o *Orchestrator) Enrich(ctx context.Context, project *domain.Project, steps []domain.WorkflowStep) error {
	if project.Stats == nil {
		return errors.New("enrich: project has no statistics")
	}
	rerun := project.State == domain.StateEnrichedPartial
	if !rerun {
		if err := project.Advance(domain.StateGenerativeInProgress); err != nil {
			return err
		}
	}

	primary := o.opts.Provider
	if primary == "" {
		primary = string(o.gateway.Default())
	}
	r, err := o.attempt(ctx, project, steps, primary, o.opts.APIKey)
	if err != nil && ctx.Err() == nil {
		fallback := o.opts.Fallback
		if fallback == "" {
			fallback = string(o.gateway.Default())
		}
		o.logger.Warn("forensic generative stage failed, retrying on fallback",
			zap.String("project", project.ID),
			zap.String("provider", primary),
			zap.String("fallback", fallback),
			zap.Error(err))
		r, err = o.attempt(ctx, project, steps, fallback, "")
	}
	insights := r.insights
	if err != nil {
		insights.Failures = append(insights.Failures, "generative stage: "+err.Error())
	}
	if rerun && project.Stats.AI != nil {
		insights = mergeInsights(project.Stats.AI, insights, err != nil)
	}

	// Only the attempt whose insights are kept touches the hierarchy.
	for _, re := range r.refined {
		ref := re.refinement
		re.entry.Refinement = &ref
		if re.entry.Category == domain.CategoryUncategorized {
			re.entry.Category = ref.Category
		}
	}
	project.Stats.AI = insights
	next := domain.StateEnriched
	if len(insights.Failures) > 0 {
		next = domain.StateEnrichedPartial
	}
	if !(rerun && next == domain.StateEnrichedPartial) {
		if advErr := project.Advance(next); advErr != nil {
			return errors.Join(err, advErr)
		}
	}
	o.logger.Info("forensic enrichment finished",
		zap.String("project", project.ID),
		zap.String("state", string(project.State)),
		zap.String("provider", insights.Provider),
		zap.Int("reports", len(insights.ForensicReports)),
		zap.Int("refined", insights.RefinedTickets),
		zap.Int("failures", len(insights.Failures)),
		zap.Int("tokens", insights.TokensUsed))
	o.progress(ctx, "done", 100, string(project.State))
	if err != nil {
		return fmt.Errorf("generative stage: %w", err)
	}
	return nil
}

// mergeInsights lays a rerun's results over the previous ones. Sub-analyses
// the rerun did not produce keep their earlier value and forensic reports
// are merged per ticket. Failures always describe the latest run. When the
// rerun failed at provider level, the previous provider and model stay.
func mergeInsights(prev, next *domain.AIInsights, providerFailed bool) *domain.AIInsights {
	merged := *next
	if providerFailed {
		merged.Provider, merged.Model, merged.GeneratedAt = prev.Provider, prev.Model, prev.GeneratedAt
	}
	if merged.AnomalyPatterns == nil {
		merged.AnomalyPatterns = prev.AnomalyPatterns
	}
	if merged.BottleneckPrediction == nil {
		merged.BottleneckPrediction = prev.BottleneckPrediction
	}
	if len(merged.Recommendations) == 0 {
		merged.Recommendations = prev.Recommendations
	}
	if len(merged.TabularInsight) == 0 {
		merged.TabularInsight = prev.TabularInsight
	}
	reports := make(map[string]domain.ForensicReport, len(prev.ForensicReports)+len(next.ForensicReports))
	for id, report := range prev.ForensicReports {
		reports[id] = report
	}
	for id, report := range next.ForensicReports {
		reports[id] = report
	}
	merged.ForensicReports = reports
	merged.RefinedTickets = max(prev.RefinedTickets, next.RefinedTickets)
	return &merged
}

// run holds the state of one attempt at the generative stage.
type run struct {
	o        *Orchestrator
	client   llm.Client
	project  *domain.Project
	mu       sync.Mutex
	insights *domain.AIInsights
	refined  []refinedEntry
}

// refinedEntry is a refinement waiting to be applied to the hierarchy.
type refinedEntry struct {
	entry      *domain.TicketEntry
	refinement domain.TicketRefinement
}

// attempt runs every sub-analysis in order on one provider. It returns an
// error only for provider failures; unparseable replies are recorded in
// Failures and skipped.
func (o *Orchestrator) attempt(ctx context.Context, project *domain.Project, steps []domain.WorkflowStep, provider, apiKey string) (*run, error) {
	insights := &domain.AIInsights{
		Provider:        provider,
		GeneratedAt:     time.Now().UTC(),
		ForensicReports: map[string]domain.ForensicReport{},
	}
	r := &run{o: o, project: project, insights: insights}
	client, err := o.gateway.WithCredential(provider, apiKey)
	if err != nil {
		o.metrics.StageRuns.WithLabelValues(provider, "failed").Inc()
		return r, err
	}
	r.client = client
	insights.Provider = string(client.Provider())

	if err := r.all(ctx, steps); err != nil {
		o.metrics.StageRuns.WithLabelValues(insights.Provider, "failed").Inc()
		return r, err
	}
	o.metrics.StageRuns.WithLabelValues(insights.Provider, "ok").Inc()
	return r, nil
}

func (r *run) all(ctx context.Context, steps []domain.WorkflowStep) error {
	view := newStatsView(r.project.Stats)
	sub := []struct {
		stage   string
		percent int
		fn      func(context.Context, statsView) error
	}{
		{"anomaly_patterns", 20, r.anomalyPatterns},
		{"bottleneck_prediction", 30, r.bottleneckPrediction},
		{"recommendations", 40, r.recommendations},
		{"tabular_insight", 50, r.tabularInsight},
	}
	for _, s := range sub {
		r.o.progress(ctx, s.stage, s.percent, r.insights.Provider)
		if err := s.fn(ctx, view); err != nil {
			return fmt.Errorf("%s: %w", s.stage, err)
		}
	}
	if err := r.forensicReports(ctx, steps); err != nil {
		return fmt.Errorf("forensic reports: %w", err)
	}
	if err := r.refineHierarchy(ctx); err != nil {
		return fmt.Errorf("hierarchy refinement: %w", err)
	}
	return nil
}

// generate calls the provider and folds the reply's model and token count
// into the insights.
func (r *run) generate(ctx context.Context, prompt string, format llm.Format) (string, error) {
	resp, err := r.client.Generate(ctx, prompt, llm.GenerateOptions{
		System:      systemPrompt,
		Temperature: r.o.opts.Temperature,
		Format:      format,
	})
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	if r.insights.Model == "" {
		r.insights.Model = resp.Model
	}
	if resp.TokenCount != nil {
		r.insights.TokensUsed += *resp.TokenCount
	}
	r.mu.Unlock()
	return resp.Content, nil
}

func (r *run) fail(what string, err error) {
	r.mu.Lock()
	r.insights.Failures = append(r.insights.Failures, what+": "+err.Error())
	r.mu.Unlock()
}

// decode parses text into out and counts the stage that recovered it.
func (r *run) decode(what, text string, out any, keys ...string) bool {
	stage, err := llmparse.Decode(text, out, keys...)
	if err != nil {
		r.o.metrics.ParseResults.WithLabelValues("unrecoverable").Inc()
		r.o.logger.Warn("forensic response unrecoverable", zap.String("analysis", what), zap.Int("size", len(text)))
		r.fail(what, err)
		return false
	}
	r.o.metrics.ParseResults.WithLabelValues(string(stage)).Inc()
	if stage != llmparse.StageStrict {
		r.o.logger.Debug("forensic response repaired", zap.String("analysis", what), zap.String("stage", string(stage)))
	}
	return true
}

func (r *run) anomalyPatterns(ctx context.Context, view statsView) error {
	prompt, err := render(anomalyTemplate, view)
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, prompt, llm.FormatJSON)
	if err != nil {
		return err
	}
	var out domain.AnomalyPatternAnalysis
	if r.decode("anomaly_patterns", text, &out, "patterns") {
		r.insights.AnomalyPatterns = &out
	}
	return nil
}

func (r *run) bottleneckPrediction(ctx context.Context, view statsView) error {
	prompt, err := render(bottleneckTemplate, view)
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, prompt, llm.FormatJSON)
	if err != nil {
		return err
	}
	var out domain.BottleneckPrediction
	if r.decode("bottleneck_prediction", text, &out, "predicted_bottlenecks") {
		r.insights.BottleneckPrediction = &out
	}
	return nil
}

func (r *run) recommendations(ctx context.Context, view statsView) error {
	prompt, err := render(recommendationsTemplate, view)
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, prompt, llm.FormatJSON)
	if err != nil {
		return err
	}
	res, err := llmparse.Parse(text, "recommendations")
	if err != nil {
		r.o.metrics.ParseResults.WithLabelValues("unrecoverable").Inc()
		r.fail("recommendations", err)
		return nil
	}
	r.o.metrics.ParseResults.WithLabelValues(string(res.Stage)).Inc()

	list := res.Value
	if m, ok := list.(map[string]any); ok {
		list = m["recommendations"]
	}
	items, _ := list.([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := domain.Recommendation{
			Title:     str(m, "title", "recommendation", "action"),
			Priority:  str(m, "priority"),
			Rationale: str(m, "rationale", "reason", "description"),
		}
		if rec.Title != "" {
			r.insights.Recommendations = append(r.insights.Recommendations, rec)
		}
	}
	if len(r.insights.Recommendations) == 0 {
		r.fail("recommendations", errors.New("no recommendations in response"))
	}
	return nil
}

const tabularParts = 5

func (r *run) tabularInsight(ctx context.Context, view statsView) error {
	prompt, err := render(tabularTemplate, view)
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, prompt, llm.FormatText)
	if err != nil {
		return err
	}
	sections := make(map[string]string, tabularParts)
	for i := 1; i <= tabularParts; i++ {
		label := fmt.Sprintf("PART %d", i)
		if body := llmparse.ExtractSection(text, label); body != "" {
			sections[label] = body
		}
	}
	if len(sections) == 0 {
		r.fail("tabular_insight", errors.New("no labeled sections in response"))
		return nil
	}
	r.insights.TabularInsight = sections
	return nil
}

// forensicReports analyzes tickets in first-seen order. An unrecoverable reply
// skips its ticket; only a provider failure stops the batch.
func (r *run) forensicReports(ctx context.Context, steps []domain.WorkflowStep) error {
	order, byTicket := domain.GroupByTicket(steps)
	if r.o.opts.MaxTickets > 0 && len(order) > r.o.opts.MaxTickets {
		order = order[:r.o.opts.MaxTickets]
	}
	total := len(order)
	var done int

	return r.o.tickets.Run(ctx, total, func(ctx context.Context, i int) error {
		ticket := order[i]
		err := r.forensicReport(ctx, ticket, byTicket[ticket])

		r.mu.Lock()
		done++
		n := done
		r.mu.Unlock()
		r.o.progress(ctx, "forensic_reports", 50+35*n/total, fmt.Sprintf("%d/%d tickets", n, total))
		return err
	})
}

func (r *run) forensicReport(ctx context.Context, ticket string, steps []domain.WorkflowStep) error {
	var days float64
	for _, s := range steps {
		days += s.DaysRested
	}
	prompt, err := render(forensicTemplate, forensicView{
		TicketID:   ticket,
		Service:    orDash(steps[0].Service),
		Days:       days,
		Context:    ticketContext(steps),
		Transcript: Transcript(steps),
		Categories: categoryList(),
	})
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, prompt, llm.FormatJSON)
	if err != nil {
		r.o.metrics.Tickets.WithLabelValues("provider_error").Inc()
		return fmt.Errorf("ticket %s: %w", ticket, err)
	}

	res, err := llmparse.Parse(text, reportKeys...)
	if err != nil {
		r.o.metrics.ParseResults.WithLabelValues("unrecoverable").Inc()
		r.o.metrics.Tickets.WithLabelValues("skipped").Inc()
		r.o.logger.Warn("forensic ticket skipped", zap.String("ticket", ticket), zap.Error(err))
		r.fail("ticket "+ticket, err)
		return nil
	}
	r.o.metrics.ParseResults.WithLabelValues(string(res.Stage)).Inc()

	report, shape, ok := AdaptReport(ticket, res.Value)
	if !ok {
		r.o.metrics.Tickets.WithLabelValues("skipped").Inc()
		r.o.logger.Warn("forensic ticket skipped", zap.String("ticket", ticket), zap.String("reason", "no recognizable fields"))
		r.fail("ticket "+ticket, errors.New("no recognizable report fields"))
		return nil
	}
	r.o.metrics.Tickets.WithLabelValues(string(shape)).Inc()
	r.o.logger.Debug("forensic ticket analyzed",
		zap.String("ticket", ticket),
		zap.String("shape", string(shape)),
		zap.String("stage", string(res.Stage)))

	r.mu.Lock()
	r.insights.ForensicReports[ticket] = report
	r.mu.Unlock()
	return nil
}

type refinement struct {
	EnglishSummary    string `json:"english_summary"`
	Category          string `json:"category"`
	EmployeeAnalysis  string `json:"employee_analysis"`
	ApplicantAnalysis string `json:"applicant_analysis"`
}

// refineHierarchy asks for an English summary and a category for every
// uncategorized or long-delayed ticket entry, in paced groups.
func (r *run) refineHierarchy(ctx context.Context) error {
	candidates := categorize.RefinementCandidates(&r.project.Stats.Hierarchy, r.o.opts.RefineThreshold)
	total := len(candidates)
	if total == 0 {
		return nil
	}
	var done int

	return r.o.refine.Run(ctx, total, func(ctx context.Context, i int) error {
		entry := candidates[i]
		prompt, err := render(refineTemplate, refineView{
			TicketID:   entry.TicketID,
			Days:       entry.DaysRested,
			Category:   entry.Category,
			Remark:     orDash(entry.Remark),
			Categories: categoryList(),
		})
		if err != nil {
			return err
		}
		text, err := r.generate(ctx, prompt, llm.FormatJSON)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", entry.TicketID, err)
		}

		var out refinement
		if r.decode("refine "+entry.TicketID, text, &out) {
			category := categorize.Normalize(out.Category)
			if category == domain.CategoryUncategorized {
				category = entry.Category
			}
			r.mu.Lock()
			r.refined = append(r.refined, refinedEntry{entry: entry, refinement: domain.TicketRefinement{
				EnglishSummary:    out.EnglishSummary,
				Category:          category,
				EmployeeAnalysis:  out.EmployeeAnalysis,
				ApplicantAnalysis: out.ApplicantAnalysis,
			}})
			r.insights.RefinedTickets++
			r.mu.Unlock()
		}

		r.mu.Lock()
		done++
		n := done
		r.mu.Unlock()
		r.o.progress(ctx, "hierarchy_refinement", 85+14*n/total, fmt.Sprintf("%d/%d tickets", n, total))
		return nil
	})
}

func (o *Orchestrator) progress(ctx context.Context, stage string, percent int, detail string) {
	if err := o.sink.Report(ctx, Progress{Stage: stage, Percent: percent, Detail: detail}); err != nil {
		o.logger.Debug("forensic progress not delivered", zap.String("stage", stage), zap.Error(err))
	}
}
