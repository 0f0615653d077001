package controlplane

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/escrowd/internal/auth"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/keeper"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/logging"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/fentz26/escrowd/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Unix(1_700_000_000, 0).UTC()

type testServer struct {
	t       *testing.T
	clock   *ledger.ManualClock
	service *Service
	server  *Server
	handler http.Handler

	authority *auth.Identity
	creator   *auth.Identity
	agent     *auth.Identity
	treasury  models.Address
}

func identity(t *testing.T, b byte) *auth.Identity {
	t.Helper()
	id, err := auth.FromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return id
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := ledger.NewManualClock(start)
	bus := events.NewBus()
	engine := escrow.New(ledger.NewMemory(clock), escrow.WithBus(bus), escrow.WithLogger(logging.Discard()))
	service := NewService(engine, bus, FaucetConfig{Enabled: true, MaxAmount: 100_000}, logging.Discard())

	verifier := auth.NewVerifier(time.Minute)
	verifier.Now = clock.Now
	server := NewServer(service, "127.0.0.1:0", verifier, logging.Discard())

	return &testServer{
		t:         t,
		clock:     clock,
		service:   service,
		server:    server,
		handler:   server.Handler(),
		authority: identity(t, 1),
		creator:   identity(t, 2),
		agent:     identity(t, 3),
		treasury:  models.Address{0xfe},
	}
}

// do sends a request, signed by id when id is non-nil.
func (ts *testServer) do(id *auth.Identity, method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(ts.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	if id != nil {
		id.SignRequest(req, data, ts.clock.Now())
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) op(id *auth.Identity, op string, body any) OpResponse {
	ts.t.Helper()
	rec := ts.do(id, http.MethodPost, "/v1/ops/"+op, body)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp OpResponse
	require.NoError(ts.t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(ts.t, op, resp.Op)
	return resp
}

func (ts *testServer) refused(id *auth.Identity, op string, body any) (int, ErrorResponse) {
	ts.t.Helper()
	rec := ts.do(id, http.MethodPost, "/v1/ops/"+op, body)
	var resp ErrorResponse
	require.NoError(ts.t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func (ts *testServer) bootstrap() {
	ts.t.Helper()
	ts.op(ts.authority, OpInitializePlatform, escrow.PlatformParams{
		FeeBps:              250,
		MinBounty:           1000,
		DisputeVotingPeriod: 3600,
		DisputeMinVotes:     1,
		ClaimGracePeriod:    600,
		Treasury:            ts.treasury,
	})
	rec := ts.do(ts.creator, http.MethodPost, "/v1/faucet", FaucetRequest{Amount: 50_000})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	ts.op(ts.agent, OpRegisterAgent, SkillsRequest{SkillTags: 1})
}

func (ts *testServer) createTask(index uint64, bounty uint64) models.Address {
	ts.t.Helper()
	resp := ts.op(ts.creator, OpCreateTask, escrow.CreateTaskParams{
		Title:     "Label images",
		Bounty:    bounty,
		TaskIndex: index,
		Deadline:  start.Add(time.Hour).Unix(),
	})
	require.NotNil(ts.t, resp.Address)
	return *resp.Address
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealthEndpoint_OK(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decodeBody[HealthResponse](t, rec)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.NotEmpty(t, health.Version)
	assert.NotEmpty(t, health.Time)
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(ts.creator, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnsignedOperationRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(nil, http.MethodPost, "/v1/ops/"+OpPausePlatform, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(nil, http.MethodGet, "/v1/ops", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ops := decodeBody[[]string](t, rec)
	assert.Len(t, ops, 19)
	assert.Contains(t, ops, OpResolveDispute)
}

func TestSettlementOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()

	task := ts.createTask(0, 5000)
	ts.op(ts.agent, OpClaimTask, TaskRequest{Task: task})
	ts.op(ts.agent, OpSubmitDeliverable, SubmitRequest{Task: task, DeliverableHash: models.ContentHash([]byte("labels.csv"))})

	rec := ts.do(nil, http.MethodGet, "/v1/tasks/"+task.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[escrow.TaskEntry](t, rec)
	assert.Equal(t, models.TaskStatusSubmitted, entry.Task.Status)
	assert.Equal(t, uint64(5000), entry.Balance)

	resp := ts.op(ts.creator, OpApproveAndSettle, TaskRequest{Task: task})
	require.NotNil(t, resp.Settlement)
	assert.Equal(t, uint64(4875), resp.Settlement.Payout)
	assert.Equal(t, uint64(125), resp.Settlement.Fee)

	rec = ts.do(nil, http.MethodGet, "/v1/tasks/"+task.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "settled task record is closed")

	rec = ts.do(nil, http.MethodGet, "/v1/balances/"+ts.agent.Address().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(4875), decodeBody[BalanceResponse](t, rec).Balance)

	rec = ts.do(nil, http.MethodGet, "/v1/agents/"+ts.agent.Address().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody[models.AgentProfile](t, rec)
	assert.Equal(t, uint64(1), profile.TasksCompleted)

	rec = ts.do(nil, http.MethodGet, "/v1/creators/"+ts.creator.Address().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counter := decodeBody[models.CreatorCounter](t, rec)
	assert.Equal(t, ts.creator.Address(), counter.Authority)
	assert.Equal(t, uint64(1), counter.TaskCount)

	rec = ts.do(nil, http.MethodGet, "/v1/creators/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(nil, http.MethodGet, "/v1/events?subject="+task.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, env := range decodeBody[[]events.Envelope](t, rec) {
		names = append(names, env.Name)
	}
	assert.Equal(t, []string{
		events.NameTaskCreated,
		events.NameTaskClaimed,
		events.NameDeliverableSubmitted,
		events.NameTaskSettled,
	}, names)
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()

	tests := []struct {
		name   string
		id     *auth.Identity
		op     string
		body   any
		status int
		code   string
	}{
		{"validation", ts.creator, OpCreateTask, escrow.CreateTaskParams{Title: "x", Bounty: 1, Deadline: start.Add(time.Hour).Unix()}, http.StatusBadRequest, "BountyTooLow"},
		{"authorization", ts.creator, OpPausePlatform, nil, http.StatusForbidden, "NotPlatformAuthority"},
		{"not found", ts.agent, OpClaimTask, TaskRequest{Task: models.Address{0x42}}, http.StatusNotFound, "AccountNotFound"},
		{"conflict", ts.authority, OpInitializePlatform, escrow.PlatformParams{DisputeVotingPeriod: 60, DisputeMinVotes: 1, Treasury: ts.treasury}, http.StatusConflict, "AccountExists"},
		{"state", ts.authority, OpResumePlatform, nil, http.StatusConflict, "PlatformNotPaused"},
		{"unknown op", ts.creator, "mint-everything", nil, http.StatusNotFound, "UnknownOperation"},
		{"unknown field", ts.creator, OpClaimTask, map[string]string{"tsak": "00"}, http.StatusBadRequest, "BadRequest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := ts.refused(tt.id, tt.op, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestTimingRefusalIsUnprocessable(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()
	task := ts.createTask(0, 2000)

	status, resp := ts.refused(ts.agent, OpExpireTask, TaskRequest{Task: task})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "DeadlineNotReached", resp.Code)
	assert.Equal(t, string(escrow.KindTiming), resp.Kind)

	ts.clock.Advance(time.Hour)
	out := ts.op(ts.agent, OpExpireTask, TaskRequest{Task: task})
	require.NotNil(t, out.Refunded)
	assert.Equal(t, uint64(2000), *out.Refunded)
}

func TestFaucet(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(ts.creator, http.MethodPost, "/v1/faucet", FaucetRequest{Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[FaucetResponse](t, rec)
	assert.Equal(t, ts.creator.Address(), resp.Account)
	assert.Equal(t, uint64(500), resp.Balance)

	rec = ts.do(ts.creator, http.MethodPost, "/v1/faucet", FaucetRequest{Amount: 100_001})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(nil, http.MethodPost, "/v1/faucet", FaucetRequest{Amount: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.service.faucet.Enabled = false
	rec = ts.do(ts.creator, http.MethodPost, "/v1/faucet", FaucetRequest{Amount: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListTasksQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()

	first := ts.createTask(0, 1000)
	ts.createTask(1, 3000)
	ts.op(ts.agent, OpClaimTask, TaskRequest{Task: first})

	rec := ts.do(nil, http.MethodGet, "/v1/tasks?status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decodeBody[[]escrow.TaskEntry](t, rec)
	require.Len(t, open, 1)
	assert.Equal(t, uint64(3000), open[0].Task.Bounty)

	rec = ts.do(nil, http.MethodGet, "/v1/tasks?agent="+ts.agent.Address().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decodeBody[[]escrow.TaskEntry](t, rec)
	require.Len(t, claimed, 1)
	assert.Equal(t, first, claimed[0].Address)

	rec = ts.do(nil, http.MethodGet, "/v1/tasks?min_bounty=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.do(nil, http.MethodGet, "/v1/tasks?creator=nothex", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisputeReads(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()
	task := ts.createTask(0, 4000)
	ts.op(ts.agent, OpClaimTask, TaskRequest{Task: task})
	ts.op(ts.agent, OpSubmitDeliverable, SubmitRequest{Task: task, DeliverableHash: models.Hash{1}})

	opened := ts.op(ts.creator, OpOpenDispute, escrow.OpenDisputeParams{Task: task, Reason: models.ReasonQualityIssue})
	require.NotNil(t, opened.Address)
	dispute := *opened.Address

	voter := identity(t, 9)
	ts.op(voter, OpRegisterAgent, SkillsRequest{})
	ts.op(voter, OpCastVote, VoteRequest{Dispute: dispute, Ruling: models.RulingSplit})

	rec := ts.do(nil, http.MethodGet, "/v1/disputes/"+dispute.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[escrow.DisputeEntry](t, rec)
	assert.Equal(t, task, entry.Dispute.Task)
	require.Len(t, entry.Votes, 1)
	assert.Equal(t, voter.Address(), entry.Votes[0].Arbitrator)

	rec = ts.do(nil, http.MethodGet, "/v1/disputes/"+dispute.String()+"/votes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.ArbitratorVote](t, rec), 1)

	status, resp := ts.refused(ts.agent, OpResolveDispute, DisputeRequest{Dispute: dispute})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VotingPeriodNotEnded", resp.Code)

	ts.clock.Advance(time.Hour)
	res := ts.op(ts.agent, OpResolveDispute, DisputeRequest{Dispute: dispute})
	require.NotNil(t, res.Resolution)
	assert.Equal(t, models.RulingSplit, res.Resolution.Ruling)
}

func TestTemplatesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()

	made := ts.op(ts.creator, OpCreateTemplate, escrow.TemplateParams{
		Title:         "Translate abstract",
		DefaultBounty: 2500,
		Category:      models.CategoryTranslation,
	})
	require.NotNil(t, made.Address)
	ts.op(ts.creator, OpDeactivateTemplate, TemplateRequest{Template: *made.Address})

	rec := ts.do(nil, http.MethodGet, "/v1/templates?creator="+ts.creator.Address().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]escrow.TemplateEntry](t, rec), 1)

	rec = ts.do(nil, http.MethodGet, "/v1/templates?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]escrow.TemplateEntry](t, rec))
}

type fixedStats keeper.Stats

func (f fixedStats) Stats() keeper.Stats { return keeper.Stats(f) }

func TestKeeperEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(nil, http.MethodGet, "/v1/keeper", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.service.SetKeeper(fixedStats{Sweeps: 3, Expired: 2})
	rec = ts.do(nil, http.MethodGet, "/v1/keeper", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[keeper.Stats](t, rec)
	assert.Equal(t, uint64(3), stats.Sweeps)
	assert.Equal(t, uint64(2), stats.Expired)
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.bootstrap()
	task := ts.createTask(0, 2000)

	rec := ts.do(nil, http.MethodGet, "/v1/search?q=images", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	idx, err := search.New(ts.service.Engine(), logging.Discard())
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Rebuild(context.Background()))
	ts.service.SetSearch(idx)

	rec = ts.do(nil, http.MethodGet, "/v1/search?q=images&kind=task", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hits := decodeBody[[]search.Hit](t, rec)
	require.Len(t, hits, 1)
	assert.Equal(t, task, hits[0].Address)
	assert.Equal(t, "Label images", hits[0].Title)

	rec = ts.do(nil, http.MethodGet, "/v1/search?q=essays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]search.Hit](t, rec))

	rec = ts.do(nil, http.MethodGet, "/v1/search?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/stream?name="+events.NamePlatformInitialized, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription is registered before the headers are flushed.
	ts.bootstrap()

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)
	var env events.Envelope
	require.NoError(t, json.Unmarshal([]byte(data), &env))
	assert.Equal(t, events.NamePlatformInitialized, env.Name)
}

func TestShutdownEndsEventStreams(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ts.server.Shutdown(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err, "stream ends cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after shutdown")
	}
}
