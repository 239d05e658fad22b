package forensic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"workflowaudit/internal/domain"
	"workflowaudit/internal/integrations/llm"
	"workflowaudit/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	provider llm.Provider
	err      error
	fail     func(prompt string) error
	reply    func(prompt string) string

	mu    sync.Mutex
	calls int
}

func (c *scriptedClient) Provider() llm.Provider { return c.provider }

func (c *scriptedClient) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (*llm.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.fail != nil {
		if err := c.fail(prompt); err != nil {
			return nil, err
		}
	}
	tokens := 10
	return &llm.Response{Content: c.reply(prompt), Model: string(c.provider) + "-model", TokenCount: &tokens}, nil
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.Response, error) {
	return c.Generate(ctx, messages[len(messages)-1].Content, llm.GenerateOptions{})
}

func (c *scriptedClient) Ping(context.Context) error { return c.err }

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeGateway struct {
	clients map[llm.Provider]llm.Client
	def     llm.Provider

	mu          sync.Mutex
	credentials []string
}

func (g *fakeGateway) Client(name string) (llm.Client, error) {
	c, ok := g.clients[llm.Provider(name)]
	if !ok {
		return nil, fmt.Errorf("no client for %s", name)
	}
	return c, nil
}

func (g *fakeGateway) WithCredential(name, apiKey string) (llm.Client, error) {
	g.mu.Lock()
	g.credentials = append(g.credentials, apiKey)
	g.mu.Unlock()
	return g.Client(name)
}

func (g *fakeGateway) Default() llm.Provider { return g.def }

const (
	nestedReport = `{"employee_analysis": {"summary": "Clerk held the file", "responsible": "Clerk A", "behavior": "slow", "issues": ["late"]},
 "applicant_analysis": {"summary": "ok", "compliance": "Compliant", "issues": []},
 "delay_analysis": {"category": "Documentation Issue", "confidence": 0.9, "citation": "Affidavit missing"},
 "ticket_summary": "Waited on an affidavit"}`
	flatReport = `Here you go: {"employee_summary": "Slow verification", "delay_category": "process", "confidence": "80%"}`
)

// replies answers each prompt kind with a realistic, sometimes malformed,
// model reply.
func replies(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Identify recurring anomaly"):
		return "```json\n{\"summary\": \"Verification stalls\", \"patterns\": [{\"name\": \"pending loop\", \"description\": \"d\", \"severity\": \"High\"}]}\n```"
	case strings.HasPrefix(prompt, "Predict where"):
		return `{"summary": "Clerk desk", "predicted_bottlenecks": ["Clerk",], "confidence": 0.7, "time_horizon": "30 days"}`
	case strings.HasPrefix(prompt, "Recommend concrete"):
		return `[{"title": "Add a second verifier", "priority": "High", "rationale": "queue"}]`
	case strings.HasPrefix(prompt, "Write an executive"):
		return "**PART 1:** steady\nPART 2: zone A lags\nPART 3: clerk repeats remarks\nPART 4: few applicant issues\nPART 5: fix verification"
	case strings.Contains(prompt, "ticket T1 ("):
		return nestedReport
	case strings.Contains(prompt, "ticket T2 ("):
		return flatReport
	case strings.Contains(prompt, "ticket T3 ("):
		return "I could not analyze this ticket."
	case strings.HasPrefix(prompt, "A ticket remark"):
		return `{"english_summary": "Waiting for the land survey", "category": "External Dependency", "employee_analysis": "e", "applicant_analysis": "a"}`
	}
	return ""
}

func testSteps(withBroken bool) []domain.WorkflowStep {
	steps := []domain.WorkflowStep{
		{TicketID: "T1", OrgUnit: "Revenue", ParentService: "Land", Service: "Mutation", Role: "Clerk", RemarkBy: "Clerk A", Remark: "Affidavit missing", DaysRested: 3, Seq: 1},
		{TicketID: "T1", OrgUnit: "Revenue", ParentService: "Land", Service: "Mutation", Role: "Officer", RemarkBy: "Officer B", Remark: "Affidavit missing", DaysRested: 3, Seq: 2},
		{TicketID: "T2", OrgUnit: "Revenue", ParentService: "Land", Service: "Mutation", Role: "Clerk", RemarkBy: "Clerk A", Remark: "Verification pending", DaysRested: 20, Seq: 1},
	}
	if withBroken {
		steps = append(steps, domain.WorkflowStep{TicketID: "T3", OrgUnit: "Revenue", ParentService: "Land", Service: "Survey", Role: "Surveyor", Remark: "xyz", DaysRested: 2, Seq: 1})
	}
	return steps
}

func newTestOrchestrator(gw Gateway, opts Options, m *metrics.Metrics) *Orchestrator {
	opts.Clock = &fakeClock{}
	return New(gw, opts, nil, m)
}

func TestAnalyzeEnrichesEveryStage(t *testing.T) {
	client := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}

	var progress []Progress
	o := newTestOrchestrator(gw, Options{}, nil).WithSink(ProgressFunc(func(_ context.Context, p Progress) error {
		progress = append(progress, p)
		return nil
	}))

	project := &domain.Project{ID: "p1", State: domain.StateCreated}
	require.NoError(t, o.Analyze(context.Background(), project, testSteps(false)))

	assert.Equal(t, domain.StateEnriched, project.State)
	require.NotNil(t, project.Stats)
	ai := project.Stats.AI
	require.NotNil(t, ai)
	assert.Empty(t, ai.Failures)
	assert.Equal(t, "ollama", ai.Provider)
	assert.Equal(t, "ollama-model", ai.Model)

	require.NotNil(t, ai.AnomalyPatterns)
	assert.Equal(t, "pending loop", ai.AnomalyPatterns.Patterns[0].Name)
	require.NotNil(t, ai.BottleneckPrediction)
	assert.Equal(t, []string{"Clerk"}, ai.BottleneckPrediction.Predicted)
	require.Len(t, ai.Recommendations, 1)
	assert.Equal(t, "Add a second verifier", ai.Recommendations[0].Title)
	assert.Len(t, ai.TabularInsight, 5)
	assert.Equal(t, "steady", ai.TabularInsight["PART 1"])
	assert.Equal(t, "fix verification", ai.TabularInsight["PART 5"])

	require.Len(t, ai.ForensicReports, 2)
	assert.Equal(t, "Clerk A", ai.ForensicReports["T1"].EmployeeAnalysis.Responsible)
	assert.Equal(t, domain.CategoryProcess, ai.ForensicReports["T2"].DelayAttribution.Category)
	assert.Equal(t, domain.Unknown, ai.ForensicReports["T2"].ApplicantAnalysis.Compliance)

	// T2 exceeds the delay threshold and is the only refinement candidate.
	assert.Equal(t, 1, ai.RefinedTickets)
	tickets := project.Stats.Hierarchy.Tickets()
	require.Len(t, tickets, 2)
	assert.Nil(t, tickets[0].Refinement)
	require.NotNil(t, tickets[1].Refinement)
	assert.Equal(t, "Waiting for the land survey", tickets[1].Refinement.EnglishSummary)
	assert.Equal(t, domain.CategoryExternal, tickets[1].Refinement.Category)
	assert.Equal(t, domain.CategoryProcess, tickets[1].Category)

	assert.Equal(t, 7, client.Calls())
	assert.Equal(t, 70, ai.TokensUsed)

	require.NotEmpty(t, progress)
	assert.Equal(t, "statistics", progress[0].Stage)
	assert.Equal(t, Progress{Stage: "done", Percent: 100, Detail: string(domain.StateEnriched)}, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Percent, progress[i-1].Percent)
	}
}

func TestAnalyzeSkipsUnrecoverableTicket(t *testing.T) {
	client := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}
	m := metrics.Nop()
	o := newTestOrchestrator(gw, Options{}, m)

	project := &domain.Project{ID: "p2", State: domain.StateCreated}
	require.NoError(t, o.Analyze(context.Background(), project, testSteps(true)))

	assert.Equal(t, domain.StateEnrichedPartial, project.State)
	ai := project.Stats.AI
	assert.Contains(t, ai.ForensicReports, "T1")
	assert.Contains(t, ai.ForensicReports, "T2")
	assert.NotContains(t, ai.ForensicReports, "T3")
	require.Len(t, ai.Failures, 1)
	assert.True(t, strings.HasPrefix(ai.Failures[0], "ticket T3"))

	// T3 is uncategorized by the rules, so refinement still classifies it.
	assert.Equal(t, 2, ai.RefinedTickets)
	for _, entry := range project.Stats.Hierarchy.Tickets() {
		assert.True(t, entry.Category.Valid())
		if entry.TicketID == "T3" {
			assert.Equal(t, domain.CategoryExternal, entry.Category)
		}
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tickets.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tickets.WithLabelValues(string(ShapeNested))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tickets.WithLabelValues(string(ShapeFlat))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseResults.WithLabelValues("unrecoverable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseResults.WithLabelValues("repaired")))
}

func TestEnrichRetriesOnFallbackProvider(t *testing.T) {
	primary := &scriptedClient{provider: llm.ProviderOpenAI, err: &llm.ProviderError{Provider: llm.ProviderOpenAI, Op: "generate", StatusCode: 429, Err: errors.New("rate limited")}}
	fallback := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{
		clients: map[llm.Provider]llm.Client{llm.ProviderOpenAI: primary, llm.ProviderOllama: fallback},
		def:     llm.ProviderOllama,
	}
	m := metrics.Nop()
	o := newTestOrchestrator(gw, Options{Provider: "openai", APIKey: "caller-key"}, m)

	project := &domain.Project{ID: "p3", State: domain.StateCreated}
	require.NoError(t, o.Analyze(context.Background(), project, testSteps(false)))

	assert.Equal(t, domain.StateEnriched, project.State)
	assert.Equal(t, "ollama", project.Stats.AI.Provider)
	assert.Empty(t, project.Stats.AI.Failures)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 70, project.Stats.AI.TokensUsed)
	assert.Equal(t, []string{"caller-key", ""}, gw.credentials)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("openai", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("ollama", "ok")))
}

func TestEnrichDiscardsRefinementsOfFailedAttempt(t *testing.T) {
	primary := &scriptedClient{
		provider: llm.ProviderOpenAI,
		fail: func(prompt string) error {
			if strings.HasPrefix(prompt, "A ticket remark") && strings.Contains(prompt, "Ticket: T2") {
				return &llm.ProviderError{Provider: llm.ProviderOpenAI, Op: "generate", StatusCode: 503, Err: errors.New("unavailable")}
			}
			return nil
		},
		reply: func(prompt string) string {
			if strings.HasPrefix(prompt, "A ticket remark") {
				return `{"english_summary": "primary guess", "category": "Complexity"}`
			}
			return replies(prompt)
		},
	}
	fallback := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{
		clients: map[llm.Provider]llm.Client{llm.ProviderOpenAI: primary, llm.ProviderOllama: fallback},
		def:     llm.ProviderOllama,
	}
	o := newTestOrchestrator(gw, Options{Provider: "openai"}, nil)

	// T3 comes first so the primary refines it before failing on T2.
	all := testSteps(true)
	steps := append([]domain.WorkflowStep{all[3]}, all[:3]...)
	project := &domain.Project{ID: "p9", State: domain.StateCreated}
	require.NoError(t, o.Analyze(context.Background(), project, steps))

	ai := project.Stats.AI
	assert.Equal(t, "ollama", ai.Provider)
	assert.Equal(t, 2, ai.RefinedTickets)
	var t3 *domain.TicketEntry
	for _, entry := range project.Stats.Hierarchy.Tickets() {
		if entry.TicketID == "T3" {
			t3 = entry
		}
	}
	require.NotNil(t, t3)
	require.NotNil(t, t3.Refinement)
	assert.Equal(t, "Waiting for the land survey", t3.Refinement.EnglishSummary)
	assert.Equal(t, domain.CategoryExternal, t3.Category)
}

func TestEnrichRerunKeepsEarlierResultsOnProviderFailure(t *testing.T) {
	good := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: good}, def: llm.ProviderOllama}
	project := &domain.Project{ID: "p10", State: domain.StateCreated}
	steps := testSteps(true)
	require.NoError(t, newTestOrchestrator(gw, Options{}, nil).Analyze(context.Background(), project, steps))
	require.Equal(t, domain.StateEnrichedPartial, project.State)

	down := &llm.ProviderError{Provider: llm.ProviderOllama, Op: "generate", Err: errors.New("connection refused")}
	gw.clients[llm.ProviderOllama] = &scriptedClient{provider: llm.ProviderOllama, err: down}
	require.Error(t, newTestOrchestrator(gw, Options{}, nil).Enrich(context.Background(), project, steps))

	ai := project.Stats.AI
	assert.Equal(t, domain.StateEnrichedPartial, project.State)
	assert.Equal(t, "ollama-model", ai.Model)
	assert.Contains(t, ai.ForensicReports, "T1")
	assert.Contains(t, ai.ForensicReports, "T2")
	require.Len(t, ai.Recommendations, 1)
	assert.NotNil(t, ai.AnomalyPatterns)
	assert.Len(t, ai.TabularInsight, 5)
	assert.Equal(t, 2, ai.RefinedTickets)
	require.NotEmpty(t, ai.Failures)
	assert.True(t, strings.HasPrefix(ai.Failures[len(ai.Failures)-1], "generative stage: "))
}

func TestEnrichSecondFailureKeepsStatistics(t *testing.T) {
	down := &llm.ProviderError{Provider: llm.ProviderOllama, Op: "generate", Err: errors.New("connection refused")}
	client := &scriptedClient{provider: llm.ProviderOllama, err: down}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}
	o := newTestOrchestrator(gw, Options{}, nil)

	project := &domain.Project{ID: "p4", State: domain.StateCreated}
	err := o.Analyze(context.Background(), project, testSteps(false))
	require.Error(t, err)
	var perr *llm.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, llm.ProviderOllama, perr.Provider)

	assert.Equal(t, 2, client.Calls())
	assert.Equal(t, domain.StateEnrichedPartial, project.State)
	require.NotNil(t, project.Stats)
	assert.Equal(t, 3, project.Stats.TotalSteps)
	assert.Equal(t, 2, project.Stats.TotalTickets)
	require.NotNil(t, project.Stats.AI)
	assert.Len(t, project.Stats.AI.Failures, 1)
	assert.Empty(t, project.Stats.AI.ForensicReports)
}

func TestEnrichUpgradesPartialProject(t *testing.T) {
	client := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}
	o := newTestOrchestrator(gw, Options{}, nil)

	project := &domain.Project{ID: "p5", State: domain.StateCreated}
	steps := testSteps(false)
	require.NoError(t, o.ComputeStatistics(context.Background(), project, steps))
	project.State = domain.StateEnrichedPartial

	require.NoError(t, o.Enrich(context.Background(), project, steps))
	assert.Equal(t, domain.StateEnriched, project.State)
}

func TestEnrichPartialRerunStaysPartial(t *testing.T) {
	client := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}
	o := newTestOrchestrator(gw, Options{}, nil)

	project := &domain.Project{ID: "p6", State: domain.StateCreated}
	steps := testSteps(true)
	require.NoError(t, o.ComputeStatistics(context.Background(), project, steps))
	project.State = domain.StateEnrichedPartial

	require.NoError(t, o.Enrich(context.Background(), project, steps))
	assert.Equal(t, domain.StateEnrichedPartial, project.State)
}

func TestAnalyzeRejectsFinishedProject(t *testing.T) {
	gw := &fakeGateway{def: llm.ProviderOllama}
	o := newTestOrchestrator(gw, Options{}, nil)
	project := &domain.Project{ID: "p7", State: domain.StateEnriched}
	err := o.Analyze(context.Background(), project, testSteps(false))
	require.ErrorIs(t, err, domain.ErrStateRegression)
	assert.Nil(t, project.Stats)
}

func TestEnrichRequiresStatistics(t *testing.T) {
	o := newTestOrchestrator(&fakeGateway{def: llm.ProviderOllama}, Options{}, nil)
	require.Error(t, o.Enrich(context.Background(), &domain.Project{State: domain.StateStatisticsComputed}, nil))
}

func TestMaxTicketsCapsForensicReports(t *testing.T) {
	client := &scriptedClient{provider: llm.ProviderOllama, reply: replies}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}
	o := newTestOrchestrator(gw, Options{MaxTickets: 1}, nil)

	project := &domain.Project{ID: "p8", State: domain.StateCreated}
	require.NoError(t, o.Analyze(context.Background(), project, testSteps(false)))
	assert.Len(t, project.Stats.AI.ForensicReports, 1)
	assert.Contains(t, project.Stats.AI.ForensicReports, "T1")
}

func TestForensicPromptCarriesUnmappedColumns(t *testing.T) {
	var mu sync.Mutex
	var forensicPrompt string
	client := &scriptedClient{provider: llm.ProviderOllama, reply: func(prompt string) string {
		if strings.Contains(prompt, "ticket T1 (") {
			mu.Lock()
			forensicPrompt = prompt
			mu.Unlock()
		}
		return replies(prompt)
	}}
	gw := &fakeGateway{clients: map[llm.Provider]llm.Client{llm.ProviderOllama: client}, def: llm.ProviderOllama}
	o := newTestOrchestrator(gw, Options{}, nil)

	steps := testSteps(false)
	steps[0].Raw = map[string]string{"Application ID": "T1", "Remarks": "Affidavit missing", "Fee Status": "unpaid"}
	project := &domain.Project{ID: "p11", State: domain.StateCreated}
	require.NoError(t, o.Analyze(context.Background(), project, steps))

	assert.Contains(t, forensicPrompt, "Other recorded fields: Fee Status: unpaid\n")
	assert.NotContains(t, forensicPrompt, "Application ID:")
}
