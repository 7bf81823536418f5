// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/traylinx/omniAgentLocal/internal/config"
	"github.com/traylinx/omniAgentLocal/internal/events"
	"github.com/traylinx/omniAgentLocal/internal/ledger"
	"github.com/traylinx/omniAgentLocal/internal/lock"
	"github.com/traylinx/omniAgentLocal/internal/orchestrator"
	"github.com/traylinx/omniAgentLocal/internal/provider"
	"github.com/traylinx/omniAgentLocal/internal/safety"
	"github.com/traylinx/omniAgentLocal/internal/store"
	"github.com/traylinx/omniAgentLocal/internal/swarm"
	"github.com/traylinx/omniAgentLocal/internal/trim"
	"github.com/traylinx/omniAgentLocal/internal/vcs"
)

const testSource = "function foo() {\n  return 1;\n}\n"

const wellFormedPatch = "REPLACE-START\nfunction foo() {\nWITH-MARK\n// improved\nfunction foo() {\nBLOCK-END"

const planReply = `{"summary":"add a comment","sections":["foo"],"risk":"low","focus":"add a comment above foo"}`

type stageAdapter struct {
	genReply string
}

func (a *stageAdapter) Identifier() string { return "fake" }

func (a *stageAdapter) Complete(_ context.Context, req provider.CompletionRequest) (*provider.NormalizedCompletion, error) {
	switch {
	case strings.Contains(req.System, "planning stage"):
		return &provider.NormalizedCompletion{Text: planReply, Provider: "fake"}, nil
	case strings.Contains(req.System, "generation stage"):
		return &provider.NormalizedCompletion{Text: a.genReply, Provider: "fake"}, nil
	default:
		return &provider.NormalizedCompletion{Text: "looks fine", Provider: "fake"}, nil
	}
}

type fakeGateway struct {
	proposed []vcs.Change
}

func (g *fakeGateway) GetFile(_ context.Context, path, _ string) (*vcs.File, error) {
	return &vcs.File{Path: path, SHA: "base-sha", Content: []byte(testSource)}, nil
}

func (g *fakeGateway) ProposeChange(_ context.Context, change vcs.Change) (*vcs.PullRequest, error) {
	g.proposed = append(g.proposed, change)
	return &vcs.PullRequest{Number: len(g.proposed), URL: "https://example.test/pull/1", Branch: change.Branch, SHA: "commit-sha"}, nil
}

type fixture struct {
	server *Server
	store  store.Store
	ledger *ledger.Ledger
	lock   *lock.Lock
}

func newFixture(t *testing.T, cfg *config.Config, genReply string) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	st := store.NewMemoryStore()
	led := ledger.New(st)
	registry := provider.NewRegistry()
	registry.Register(&stageAdapter{genReply: genReply})
	locker := lock.New(st, time.Minute)
	bus := events.NewBus()
	orch := orchestrator.New(orchestrator.Options{
		Config:    orchestrator.Config{TargetPath: "agent.js"},
		Store:     st,
		Providers: []provider.Descriptor{{Name: "fake", FallbackEligible: true}},
		Rotator:   provider.NewRotator(registry, led),
		Selector:  provider.NewSelector(led),
		Registry:  registry,
		Ledger:    led,
		Swarm:     swarm.New(swarm.Config{MinSize: 2, MaxSize: 7, Timeout: time.Second}),
		Validator: safety.New(safety.Config{}, nil),
		Lock:      locker,
		Gateway:   &fakeGateway{},
		Bus:       bus,
		Estimator: trim.NewEstimator(),
	})
	srv := NewServer(Options{Config: cfg, Orchestrator: orch, Ledger: led, Bus: bus})
	return &fixture{server: srv, store: st, ledger: led, lock: locker}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProposeGetApproveFlow(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/edits", map[string]string{"instruction": "add a comment"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var proposal orchestrator.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proposal))
	require.NotEmpty(t, proposal.ID)
	assert.Equal(t, orchestrator.StageAwaitingApproval, proposal.Stage)
	assert.Equal(t, wellFormedPatch, proposal.Patch)

	rec = doJSON(t, h, http.MethodGet, "/v1/edits/"+proposal.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"`+proposal.ID+`"`)

	rec = doJSON(t, h, http.MethodPost, "/v1/edits/"+proposal.ID+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"pull_request"`)

	// Consumed after commit.
	rec = doJSON(t, h, http.MethodGet, "/v1/edits/"+proposal.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProposeRequiresInstruction(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/edits", map[string]string{"instruction": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRejectsAndAcceptsBearerKeys(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{APIKeys: []string{string(hash)}}
	f := newFixture(t, cfg, wellFormedPatch)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/usage", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/usage", nil, map[string]string{"Authorization": "Bearer wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/usage", nil, map[string]string{"Authorization": "Bearer secret-key"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays reachable without a key.
	rec = doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApproveWhileLockedReturnsConflict(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/edits", map[string]string{"instruction": "change foo"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var proposal orchestrator.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proposal))

	acquired, err := f.lock.Acquire(context.Background(), "self-edit", "other-owner")
	require.NoError(t, err)
	require.True(t, acquired)

	rec = doJSON(t, h, http.MethodPost, "/v1/edits/"+proposal.ID+"/approve", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidationFailureReturnsUnprocessable(t *testing.T) {
	unsafePatch := "REPLACE-START\nreturn 1;\nWITH-MARK\nreturn eval(input);\nBLOCK-END"
	f := newFixture(t, nil, unsafePatch)
	h := f.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/edits", map[string]string{"instruction": "evaluate input"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var proposal orchestrator.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proposal))

	rec = doJSON(t, h, http.MethodPost, "/v1/edits/"+proposal.ID+"/approve", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failures"`)
}

func TestUnknownEditReturnsNotFound(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/edits/no-such-edit", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsageReportsLedgerSnapshot(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	require.NoError(t, f.ledger.Increment(context.Background(), "groq"))
	require.NoError(t, f.ledger.Increment(context.Background(), "groq"))

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/usage", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"groq":2`)
}

func TestEventStreamDeliversApprovalStages(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/v1/edits", map[string]string{"instruction": "change foo"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var proposal orchestrator.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proposal))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/edits/" + proposal.ID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/v1/edits/"+proposal.ID+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stages []string
	for len(stages) < 4 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, proposal.ID, ev.EditID)
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []string{
		orchestrator.StageApplying, orchestrator.StageValidating,
		orchestrator.StageCommitting, orchestrator.StageDone,
	}, stages)
}

func TestEventStreamUnknownEdit(t *testing.T) {
	f := newFixture(t, nil, wellFormedPatch)
	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/v1/edits/no-such-edit/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
