package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborintel/port-research/internal/approval"
	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/quality"
	"github.com/harborintel/port-research/internal/research"
	"github.com/harborintel/port-research/internal/store"
	"github.com/harborintel/port-research/internal/validate"
	"github.com/harborintel/port-research/pkg/anthropic"
)

type stubProvider struct {
	content string
	sources []string
	onQuery func()
}

func (p *stubProvider) ExecuteResearchQuery(ctx context.Context, query, queryName, systemPrompt, model string) (*research.QueryResult, error) {
	if p.onQuery != nil {
		p.onQuery()
	}
	return &research.QueryResult{Content: p.content, Sources: p.sources}, nil
}

type stubLLM struct {
	extraction string
}

func (l *stubLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	text := "{}"
	if strings.Contains(req.System, "extracting structured facts") {
		text = l.extraction
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

type testEnv struct {
	store    *store.SQLiteStore
	server   *Server
	provider *stubProvider
	port     *model.Port
	op       *model.TerminalOperator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	ctx := context.Background()
	cluster := &model.Cluster{Name: "North Sea"}
	require.NoError(t, st.CreateCluster(ctx, cluster))
	port := &model.Port{
		ClusterID:   cluster.ID,
		Name:        "Rotterdam",
		Country:     "Netherlands",
		Size:        model.PortSizeLarge,
		Coordinates: &model.Coordinates{Latitude: 51.9244, Longitude: 4.4777},
	}
	require.NoError(t, st.CreatePort(ctx, port))
	op := &model.TerminalOperator{
		PortID:       port.ID,
		Name:         "ECT",
		OperatorType: model.OperatorTypeTerminalOperator,
	}
	require.NoError(t, st.CreateOperator(ctx, op))

	provider := &stubProvider{
		content: "ECT operates deep-sea container terminals at Maasvlakte according to the port authority.",
		sources: []string{"https://www.portofrotterdam.com"},
	}
	llm := &stubLLM{extraction: `{"operator_type": {"value": "terminal operator", "confidence": 0.9, "quality": "explicit"}}`}
	orch := research.NewOrchestrator(provider, llm, "claude-sonnet-4-5", st,
		validate.DefaultVocabulary(), research.OrchestratorConfig{RetryDelay: time.Millisecond})

	srv := NewServer(st, orch,
		approval.NewService(st, nil, model.Coordinates{Latitude: 51.9244, Longitude: 4.4777}),
		quality.NewChecker(st), []string{"*"})

	return &testEnv{store: st, server: srv, provider: provider, port: port, op: op}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestEnqueueJobs_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"entityIds": []string{}, "type": "port",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "entityIds is required")

	rec = env.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"entityIds": []string{env.port.ID}, "type": "vessel",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `unknown job type "vessel"`)
}

func TestEnqueueJobs_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"entityIds": []string{env.port.ID},
		"type":      "port",
		"clusterId": env.port.ClusterID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[struct {
		JobIDs []string `json:"jobIds"`
	}](t, rec)
	require.Len(t, created.JobIDs, 1)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+created.JobIDs[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[model.ResearchJob](t, rec)
	assert.Equal(t, model.JobTypePort, job.Type)
	assert.Equal(t, env.port.ID, job.EntityID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	rec = env.do(t, http.MethodGet, "/api/jobs?status=pending&type=port", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Jobs []model.ResearchJob `json:"jobs"`
	}](t, rec)
	require.Len(t, list.Jobs, 1)

	rec = env.do(t, http.MethodGet, "/api/jobs?status=completed", nil)
	list = decodeBody[struct {
		Jobs []model.ResearchJob `json:"jobs"`
	}](t, rec)
	assert.Empty(t, list.Jobs)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jobs/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortApply_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/ports/"+env.port.ID+"/research", map[string]any{
		"data_to_update": map[string]any{
			"size":        "major",
			"notes":       "Largest port in Europe",
			"coordinates": map[string]any{"latitude": 51.95, "longitude": 4.05},
		},
		"approved_fields": []string{"size", "coordinates"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeBody[model.Port](t, rec)
	assert.Equal(t, model.PortSizeMajor, updated.Size)
	require.NotNil(t, updated.Coordinates)
	assert.Equal(t, 51.95, updated.Coordinates.Latitude)
	// notes was not in the approved set
	assert.Empty(t, updated.Notes)
}

func TestPortApply_RequiresData(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/ports/"+env.port.ID+"/research", map[string]any{
		"data_to_update": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "data_to_update is required")
}

func TestOperatorApply_LegacyApplyAll(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/operators/"+env.op.ID+"/research", map[string]any{
		"data_to_update": map[string]any{
			"capacity": "4.5M TEU",
			"notes":    "updated by research",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeBody[model.TerminalOperator](t, rec)
	assert.Equal(t, "4.5M TEU", updated.Capacity)
	assert.Equal(t, "updated by research", updated.Notes)
}

func TestProposalBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateProposals(ctx, []model.DiscoveryProposal{
		{
			ID: "prop-1", Kind: model.ProposalKindOperator, PortID: env.port.ID,
			Name: "APM Terminals", Status: model.ProposalStatusPending,
		},
		{
			ID: "prop-2", Kind: model.ProposalKindOperator, PortID: env.port.ID,
			Name: "RWG", Status: model.ProposalStatusPending,
		},
	}))

	rec := env.do(t, http.MethodPost, "/api/proposals/batch", map[string]any{
		"proposalIds": []string{"prop-1"}, "action": "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[approval.BatchResult](t, rec)
	assert.Equal(t, 1, result.ApprovedCount)
	require.Len(t, result.CreatedEntities, 1)

	rec = env.do(t, http.MethodPost, "/api/proposals/batch", map[string]any{
		"proposalIds": []string{"prop-2"}, "action": "reject",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decodeBody[approval.BatchResult](t, rec)
	assert.Equal(t, 1, result.RejectedCount)

	rec = env.do(t, http.MethodGet, "/api/proposals?status=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Proposals []model.DiscoveryProposal `json:"proposals"`
	}](t, rec)
	require.Len(t, list.Proposals, 1)
	assert.Equal(t, "prop-1", list.Proposals[0].ID)
}

func TestProposePort_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ports/"+env.port.ID+"/proposals", map[string]any{
		"proposals": []map[string]any{
			{"name": "APM Terminals", "kind": "operator"},
			{"name": "ect"}, // duplicate of the seeded operator
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	result := decodeBody[approval.ProposeResult](t, rec)
	assert.Equal(t, 1, result.CreatedCount)
	assert.Equal(t, 1, result.SkippedCount)
	require.Len(t, result.Proposals, 1)
	assert.NotEmpty(t, result.Proposals[0].ID)

	rec = env.do(t, http.MethodGet, "/api/proposals?status=pending&portId="+env.port.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Proposals []model.DiscoveryProposal `json:"proposals"`
	}](t, rec)
	require.Len(t, list.Proposals, 1)
	assert.Equal(t, "APM Terminals", list.Proposals[0].Name)

	// Resubmitting the same name is deduplicated against the stored proposal.
	rec = env.do(t, http.MethodPost, "/api/ports/"+env.port.ID+"/proposals", map[string]any{
		"proposals": []map[string]any{{"name": "apm terminals"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	result = decodeBody[approval.ProposeResult](t, rec)
	assert.Equal(t, 0, result.CreatedCount)
	assert.Equal(t, 1, result.SkippedCount)
}

func TestProposePort_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ports/"+env.port.ID+"/proposals", map[string]any{
		"proposals": []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "proposals is required")

	rec = env.do(t, http.MethodPost, "/api/ports/no-such-port/proposals", map[string]any{
		"proposals": []map[string]any{{"name": "APM Terminals"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProposalBatch_BadAction(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreateProposals(context.Background(), []model.DiscoveryProposal{
		{ID: "prop-1", Kind: model.ProposalKindOperator, PortID: env.port.ID,
			Name: "APM Terminals", Status: model.ProposalStatusPending},
	}))

	rec := env.do(t, http.MethodPost, "/api/proposals/batch", map[string]any{
		"proposalIds": []string{"prop-1"}, "action": "defer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQualityReport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/quality", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[quality.Report](t, rec)
	assert.Equal(t, 1, report.ClusterCount)
	assert.Equal(t, 1, report.PortCount)
	assert.Equal(t, 1, report.OperatorCount)
	assert.Equal(t, 0, report.MissingCoords)
	assert.Empty(t, report.Orphaned)
}

func TestOperatorResearch_Streams(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/operators/"+env.op.ID+"/research", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	// Scan the raw SSE body for event names and the final payloads.
	var names []string
	var lastData string
	scanner := bufio.NewScanner(rec.Body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") {
			lastData = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, names)
	assert.Equal(t, "status", names[0])
	assert.Contains(t, names, "preview")
	assert.Equal(t, "complete", names[len(names)-1])

	var final research.Event
	require.NoError(t, json.Unmarshal([]byte(lastData), &final))
	assert.Equal(t, research.EventComplete, final.Type)
	assert.Equal(t, 100, final.Progress)

	// The run persisted its report onto the operator row.
	op, err := env.store.GetOperator(context.Background(), env.op.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, op.ResearchReport)
	assert.NotNil(t, op.ResearchedAt)
}

func TestOperatorResearch_FinishesAfterClientDisconnect(t *testing.T) {
	env := newTestEnv(t)

	// The request context dies mid-run, standing in for a disconnected
	// client. The run and its report persistence must still finish.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.provider.onQuery = cancel
	req := httptest.NewRequest(http.MethodPost,
		"/api/operators/"+env.op.ID+"/research", strings.NewReader("")).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	op, err := env.store.GetOperator(context.Background(), env.op.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, op.ResearchReport)
}

func TestPortResearch_UnknownPort(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ports/no-such-port/research", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
