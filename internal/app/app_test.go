package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workflowaudit/internal/config"
	"workflowaudit/internal/domain"
	"workflowaudit/internal/integrations/llm"
	"workflowaudit/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowCSV = "\ufeffApplication ID,Department,Service Name,Role,Remark By,Remarks,Days Rested,Application Date\n" +
	"A-1,Revenue,Mutation,Clerk,Clerk A,Affidavit missing,3,2024-01-05\n" +
	"A-1,Revenue,Mutation,Officer,Officer B,Approved,2,2024-01-08\n" +
	"A-2,Revenue,Mutation,Clerk,Clerk A,Verification pending,4\n"

func TestParseCSVStripsBOMAndKeepsRaggedRows(t *testing.T) {
	header, records, err := parseCSV(strings.NewReader(workflowCSV))
	require.NoError(t, err)
	assert.Equal(t, "Application ID", header[0])
	require.Len(t, records, 3)
	assert.Len(t, records[2], 7)
}

func TestParseCSVEmpty(t *testing.T) {
	_, _, err := parseCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
	_, err := newLogger("loud")
	require.Error(t, err)
}

func TestFormatProject(t *testing.T) {
	p := &domain.Project{ID: "p-1", Name: "march", State: domain.StateEnrichedPartial, Stats: &domain.ProjectStatistics{
		TotalSteps: 3, TotalTickets: 2, MeanDays: 3, AnomalyCount: 1,
		AI: &domain.AIInsights{Provider: "ollama", TokensUsed: 12, Failures: []string{"ticket A-2: unrecoverable"}},
	}}
	out := formatProject(p)
	assert.Contains(t, out, "Project march (p-1): enriched_partial")
	assert.Contains(t, out, "Mean delay: 3.0 days")
	assert.Contains(t, out, "Provider: ollama")
	assert.Contains(t, out, "warning: ticket A-2: unrecoverable")
}

// newFakeOllama answers /api/generate by prompt kind.
func newFakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var reply string
		switch {
		case strings.HasPrefix(req.Prompt, "Identify recurring anomaly"):
			reply = `{"summary": "Verification stalls", "patterns": []}`
		case strings.HasPrefix(req.Prompt, "Predict where"):
			reply = `{"summary": "Clerk desk", "predicted_bottlenecks": ["Clerk"], "confidence": 0.6}`
		case strings.HasPrefix(req.Prompt, "Recommend concrete"):
			reply = `[{"title": "Add a verifier", "priority": "High"}]`
		case strings.HasPrefix(req.Prompt, "Write an executive"):
			reply = "PART 1: steady\nPART 2: even\nPART 3: fine\nPART 4: none\nPART 5: keep going"
		case strings.HasPrefix(req.Prompt, "A ticket remark"):
			reply = `{"english_summary": "Approved after affidavit", "category": "Documentation Issue"}`
		default:
			reply = `{"employee_summary": "Clerk held the file", "delay_category": "Documentation Issue", "confidence": 0.8}`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "llama3", "response": reply, "prompt_eval_count": 5, "eval_count": 5})
	}))
	t.Cleanup(server.Close)
	return server
}

func setTestEnv(t *testing.T, ollamaURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DB_PATH", filepath.Join(dir, "audit.db"))
	t.Setenv("OLLAMA_URL", ollamaURL)
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_FALLBACK_PROVIDER", "ollama")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_PROGRESS_CHANNEL", "")
	t.Setenv("CATEGORY_RULES_PATH", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestAnalyzeCommandStoresEnrichedProject(t *testing.T) {
	server := newFakeOllama(t)
	dir := setTestEnv(t, server.URL)
	csvPath := filepath.Join(dir, "march.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(workflowCSV), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"analyze", csvPath})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Project march")

	db, err := sqlite.InitDB(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer db.Close()

	projects, err := sqlite.ListProjectsByState(db, domain.StateEnriched)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	p := projects[0]
	assert.Equal(t, "march", p.Name)
	require.NotNil(t, p.Stats)
	assert.Equal(t, 3, p.Stats.TotalSteps)
	require.NotNil(t, p.Stats.AI)
	assert.Equal(t, "ollama", p.Stats.AI.Provider)
	assert.Len(t, p.Stats.AI.ForensicReports, 2)

	steps, err := sqlite.LoadSteps(db, p.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestAnalyzeCommandKeepsPartialProjectWhenProviderIsDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)
	dir := setTestEnv(t, down.URL)
	csvPath := filepath.Join(dir, "april.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(workflowCSV), 0o644))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"analyze", "--name", "april", csvPath})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "enriched_partial")

	// The reenrich command picks the project up again and reports it.
	cmd = NewRootCommand()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"reenrich"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1 picked, 0 enriched, 1 still partial")
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")
	rt, err := setup()
	require.NoError(t, err)
	defer rt.Close()
	rt.metrics.Tickets.WithLabelValues("nested").Inc()

	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body.String(), `workflowaudit_forensic_tickets_total{outcome="nested"} 1`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShowCommandPrintsStoredAttribution(t *testing.T) {
	server := newFakeOllama(t)
	dir := setTestEnv(t, server.URL)
	csvPath := filepath.Join(dir, "may.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(workflowCSV), 0o644))

	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"analyze", csvPath})
	require.NoError(t, cmd.Execute())

	db, err := sqlite.InitDB(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	projects, err := sqlite.ListProjectsByState(db, domain.StateEnriched)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Len(t, projects, 1)

	cmd = NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show", "--reports", projects[0].ID})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Project may")
	assert.Contains(t, out.String(), "Delay attribution:\n  Documentation Issue: 2")
	assert.Contains(t, out.String(), "A-1 [Documentation Issue 80%]")
	assert.Contains(t, out.String(), "A-2 [Documentation Issue 80%]")

	cmd = NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"show", "missing"})
	err = cmd.Execute()
	require.ErrorIs(t, err, sqlite.ErrProjectNotFound)
}

func TestHandlerReadinessFollowsProvider(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models": []}`))
	}))
	defer ollama.Close()

	for _, tc := range []struct {
		name string
		url  string
		want int
	}{
		{"provider up", ollama.URL, http.StatusOK},
		{"provider down", "http://127.0.0.1:1", http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			setTestEnv(t, tc.url)
			rt, err := setup()
			require.NoError(t, err)
			defer rt.Close()

			srv := httptest.NewServer(rt.handler())
			defer srv.Close()
			resp, err := http.Get(srv.URL + "/readyz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestLLMSettingsModelFollowsPrimaryProvider(t *testing.T) {
	s := llmSettings(config.Config{LLMProvider: "gemini", LLMFallbackProvider: "ollama", LLMModel: "gemini-2.0-pro"})
	assert.Equal(t, llm.ProviderOllama, s.Default)
	assert.Equal(t, llm.ProviderGemini, s.ModelProvider)
	assert.Equal(t, "gemini-2.0-pro", s.Model)
}
