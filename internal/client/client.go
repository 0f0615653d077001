// Package client is a Go client for the escrowd HTTP API. Mutating calls
// are signed with the client's identity.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/escrowd/internal/auth"
	"github.com/fentz26/escrowd/internal/controlplane"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/keeper"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/fentz26/escrowd/internal/search"
)

// DefaultTimeout is the default timeout for API requests.
const DefaultTimeout = 10 * time.Second

// APIError is a refusal reported by the server.
type APIError struct {
	Status  int
	Code    string
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

// Client talks to one escrowd daemon.
type Client struct {
	baseURL  string
	http     *http.Client
	identity *auth.Identity
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock sets the clock used for signature timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client for baseURL. id may be nil for read-only use.
func New(baseURL string, id *auth.Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: DefaultTimeout},
		identity: id,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the signing identity, or nil.
func (c *Client) Identity() *auth.Identity { return c.identity }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		if c.identity == nil {
			return fmt.Errorf("%s %s requires a signing identity", method, path)
		}
		c.identity.SignRequest(req, body, c.now())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		var er controlplane.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Code != "" {
			apiErr.Code, apiErr.Kind, apiErr.Message = er.Code, er.Kind, er.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Health checks the daemon. The parsed payload is returned alongside the
// error when the daemon reports itself unhealthy.
func (c *Client) Health(ctx context.Context) (*controlplane.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, health.DB)
	}
	return &health, nil
}

// Op runs a named operation with req as its body.
func (c *Client) Op(ctx context.Context, op string, req any) (controlplane.OpResponse, error) {
	var resp controlplane.OpResponse
	err := c.do(ctx, http.MethodPost, "/v1/ops/"+op, req, &resp)
	return resp, err
}

func (c *Client) opAddress(ctx context.Context, op string, req any) (models.Address, error) {
	resp, err := c.Op(ctx, op, req)
	if err != nil {
		return models.Address{}, err
	}
	if resp.Address == nil {
		return models.Address{}, fmt.Errorf("%s: response carried no address", op)
	}
	return *resp.Address, nil
}

func (c *Client) opRefund(ctx context.Context, op string, req any) (uint64, error) {
	resp, err := c.Op(ctx, op, req)
	if err != nil {
		return 0, err
	}
	if resp.Refunded == nil {
		return 0, fmt.Errorf("%s: response carried no refund", op)
	}
	return *resp.Refunded, nil
}

func (c *Client) opOnly(ctx context.Context, op string, req any) error {
	_, err := c.Op(ctx, op, req)
	return err
}

// --- Platform ---

func (c *Client) InitializePlatform(ctx context.Context, p escrow.PlatformParams) error {
	return c.opOnly(ctx, controlplane.OpInitializePlatform, p)
}

func (c *Client) PausePlatform(ctx context.Context) error {
	return c.opOnly(ctx, controlplane.OpPausePlatform, nil)
}

func (c *Client) ResumePlatform(ctx context.Context) error {
	return c.opOnly(ctx, controlplane.OpResumePlatform, nil)
}

func (c *Client) UpdatePlatform(ctx context.Context, p escrow.PlatformParams) error {
	return c.opOnly(ctx, controlplane.OpUpdatePlatform, p)
}

// --- Agents ---

// RegisterAgent creates the caller's profile and returns its address.
func (c *Client) RegisterAgent(ctx context.Context, skillTags uint8) (models.Address, error) {
	return c.opAddress(ctx, controlplane.OpRegisterAgent, controlplane.SkillsRequest{SkillTags: skillTags})
}

func (c *Client) UpdateAgentSkills(ctx context.Context, skillTags uint8) error {
	return c.opOnly(ctx, controlplane.OpUpdateAgentSkills, controlplane.SkillsRequest{SkillTags: skillTags})
}

// --- Tasks ---

// CreateTask escrows a bounty into a new task and returns its address.
func (c *Client) CreateTask(ctx context.Context, p escrow.CreateTaskParams) (models.Address, error) {
	return c.opAddress(ctx, controlplane.OpCreateTask, p)
}

func (c *Client) CreateTaskFromTemplate(ctx context.Context, p escrow.TemplateTaskParams) (models.Address, error) {
	return c.opAddress(ctx, controlplane.OpCreateTaskFromTemplate, p)
}

func (c *Client) ClaimTask(ctx context.Context, task models.Address) error {
	return c.opOnly(ctx, controlplane.OpClaimTask, controlplane.TaskRequest{Task: task})
}

func (c *Client) SubmitDeliverable(ctx context.Context, task models.Address, deliverable models.Hash) error {
	return c.opOnly(ctx, controlplane.OpSubmitDeliverable, controlplane.SubmitRequest{Task: task, DeliverableHash: deliverable})
}

func (c *Client) ApproveAndSettle(ctx context.Context, task models.Address) (escrow.Settlement, error) {
	resp, err := c.Op(ctx, controlplane.OpApproveAndSettle, controlplane.TaskRequest{Task: task})
	if err != nil {
		return escrow.Settlement{}, err
	}
	if resp.Settlement == nil {
		return escrow.Settlement{}, fmt.Errorf("%s: response carried no settlement", controlplane.OpApproveAndSettle)
	}
	return *resp.Settlement, nil
}

func (c *Client) RejectSubmission(ctx context.Context, task models.Address, reason models.Hash) error {
	return c.opOnly(ctx, controlplane.OpRejectSubmission, controlplane.RejectRequest{Task: task, ReasonHash: reason})
}

// CancelTask returns the amount refunded to the creator.
func (c *Client) CancelTask(ctx context.Context, task models.Address) (uint64, error) {
	return c.opRefund(ctx, controlplane.OpCancelTask, controlplane.TaskRequest{Task: task})
}

// ExpireTask returns the amount refunded to the creator.
func (c *Client) ExpireTask(ctx context.Context, task models.Address) (uint64, error) {
	return c.opRefund(ctx, controlplane.OpExpireTask, controlplane.TaskRequest{Task: task})
}

// --- Templates ---

func (c *Client) CreateTemplate(ctx context.Context, p escrow.TemplateParams) (models.Address, error) {
	return c.opAddress(ctx, controlplane.OpCreateTemplate, p)
}

func (c *Client) DeactivateTemplate(ctx context.Context, template models.Address) error {
	return c.opOnly(ctx, controlplane.OpDeactivateTemplate, controlplane.TemplateRequest{Template: template})
}

// --- Disputes ---

func (c *Client) OpenDispute(ctx context.Context, p escrow.OpenDisputeParams) (models.Address, error) {
	return c.opAddress(ctx, controlplane.OpOpenDispute, p)
}

func (c *Client) CastVote(ctx context.Context, dispute models.Address, ruling models.Ruling) error {
	return c.opOnly(ctx, controlplane.OpCastVote, controlplane.VoteRequest{Dispute: dispute, Ruling: ruling})
}

func (c *Client) ResolveDispute(ctx context.Context, dispute models.Address) (escrow.Resolution, error) {
	resp, err := c.Op(ctx, controlplane.OpResolveDispute, controlplane.DisputeRequest{Dispute: dispute})
	if err != nil {
		return escrow.Resolution{}, err
	}
	if resp.Resolution == nil {
		return escrow.Resolution{}, fmt.Errorf("%s: response carried no resolution", controlplane.OpResolveDispute)
	}
	return *resp.Resolution, nil
}

// Faucet credits the caller with amount on a devnet daemon.
func (c *Client) Faucet(ctx context.Context, amount uint64) (controlplane.FaucetResponse, error) {
	var resp controlplane.FaucetResponse
	err := c.do(ctx, http.MethodPost, "/v1/faucet", controlplane.FaucetRequest{Amount: amount}, &resp)
	return resp, err
}

// --- Reads ---

func (c *Client) Platform(ctx context.Context) (*models.Platform, error) {
	var p models.Platform
	if err := c.do(ctx, http.MethodGet, "/v1/platform", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Task(ctx context.Context, addr models.Address) (*escrow.TaskEntry, error) {
	var entry escrow.TaskEntry
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+addr.String(), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListTasks returns live tasks matching f.
func (c *Client) ListTasks(ctx context.Context, f escrow.TaskFilter) ([]escrow.TaskEntry, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if !f.Creator.IsZero() {
		q.Set("creator", f.Creator.String())
	}
	if !f.Agent.IsZero() {
		q.Set("agent", f.Agent.String())
	}
	if f.MinBounty > 0 {
		q.Set("min_bounty", strconv.FormatUint(f.MinBounty, 10))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var tasks []escrow.TaskEntry
	err := c.do(ctx, http.MethodGet, withQuery("/v1/tasks", q), nil, &tasks)
	return tasks, err
}

func (c *Client) Agent(ctx context.Context, owner models.Address) (*models.AgentProfile, error) {
	var p models.AgentProfile
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+owner.String(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatorCounter returns the creator's task counter; TaskCount is the index
// their next task must use.
func (c *Client) CreatorCounter(ctx context.Context, creator models.Address) (*models.CreatorCounter, error) {
	var counter models.CreatorCounter
	if err := c.do(ctx, http.MethodGet, "/v1/creators/"+creator.String(), nil, &counter); err != nil {
		return nil, err
	}
	return &counter, nil
}

func (c *Client) Templates(ctx context.Context, creator models.Address, activeOnly bool) ([]escrow.TemplateEntry, error) {
	q := url.Values{}
	if !creator.IsZero() {
		q.Set("creator", creator.String())
	}
	if activeOnly {
		q.Set("active", "true")
	}
	var out []escrow.TemplateEntry
	err := c.do(ctx, http.MethodGet, withQuery("/v1/templates", q), nil, &out)
	return out, err
}

func (c *Client) Dispute(ctx context.Context, addr models.Address) (*escrow.DisputeEntry, error) {
	var d escrow.DisputeEntry
	if err := c.do(ctx, http.MethodGet, "/v1/disputes/"+addr.String(), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Balance(ctx context.Context, addr models.Address) (uint64, error) {
	var resp controlplane.BalanceResponse
	err := c.do(ctx, http.MethodGet, "/v1/balances/"+addr.String(), nil, &resp)
	return resp.Balance, err
}

// Events returns journal entries matching q.
func (c *Client) Events(ctx context.Context, q events.Query) ([]events.Envelope, error) {
	v := url.Values{}
	if q.Name != "" {
		v.Set("name", q.Name)
	}
	if !q.Subject.IsZero() {
		v.Set("subject", q.Subject.String())
	}
	if q.AfterSeq > 0 {
		v.Set("after", strconv.FormatInt(q.AfterSeq, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out []events.Envelope
	err := c.do(ctx, http.MethodGet, withQuery("/v1/events", v), nil, &out)
	return out, err
}

func (c *Client) KeeperStats(ctx context.Context) (keeper.Stats, error) {
	var stats keeper.Stats
	err := c.do(ctx, http.MethodGet, "/v1/keeper", nil, &stats)
	return stats, err
}

// Search queries the daemon's title index.
func (c *Client) Search(ctx context.Context, q search.Query) ([]search.Hit, error) {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("q", q.Text)
	set("kind", q.Kind)
	set("status", q.Status)
	set("category", q.Category)
	if !q.Creator.IsZero() {
		v.Set("creator", q.Creator.String())
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out []search.Hit
	err := c.do(ctx, http.MethodGet, withQuery("/v1/search", v), nil, &out)
	return out, err
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
