package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/escrowd/internal/auth"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/fentz26/escrowd/internal/search"
)

// Version is reported by /health. Overridden at build time.
var Version = "0.1.0-dev"

const (
	maxBodyBytes       = 1 << 20
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// FaucetResponse is the body of a successful POST /v1/faucet.
type FaucetResponse struct {
	Account models.Address `json:"account"`
	Minted  uint64         `json:"minted"`
	Balance uint64         `json:"balance"`
}

// BalanceResponse is the body of GET /v1/balances/{addr}.
type BalanceResponse struct {
	Address models.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

// Server provides the HTTP API for escrowd.
type Server struct {
	service  *Service
	verifier *auth.Verifier
	addr     string
	logger   *slog.Logger
	server   *http.Server

	// closing ends open event streams on Shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new HTTP server. Mutating requests must be signed
// and are checked by verifier.
func NewServer(service *Service, addr string, verifier *auth.Verifier, logger *slog.Logger) *Server {
	if verifier == nil {
		verifier = auth.NewVerifier(auth.DefaultMaxSkew)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:  service,
		verifier: verifier,
		addr:     addr,
		logger:   logger,
		closing:  make(chan struct{}),
	}
}

// Handler returns the API routes wrapped in signature verification.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Operations
	mux.HandleFunc("/v1/ops", s.handleOps)
	mux.HandleFunc("/v1/ops/", s.handleOps)
	mux.HandleFunc("/v1/faucet", s.handleFaucet)

	// Reads
	mux.HandleFunc("/v1/platform", s.handlePlatform)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskByAddr)
	mux.HandleFunc("/v1/agents/", s.handleAgent)
	mux.HandleFunc("/v1/creators/", s.handleCreator)
	mux.HandleFunc("/v1/templates", s.handleTemplates)
	mux.HandleFunc("/v1/disputes/", s.handleDispute)
	mux.HandleFunc("/v1/balances/", s.handleBalance)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/events/stream", s.handleEventStream)
	mux.HandleFunc("/v1/keeper", s.handleKeeper)
	mux.HandleFunc("/v1/search", s.handleSearch)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	return s.verifier.Middleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting escrowd daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown ends open event streams, then gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Code: "MethodNotAllowed", Kind: "request"})
}

// pathAddr parses the single address segment following prefix.
func pathAddr(path, prefix string) (models.Address, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return models.Address{}, "", fmt.Errorf("%w: address required", ErrBadRequest)
	}
	addr, err := models.ParseAddress(parts[0])
	if err != nil {
		return models.Address{}, "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	return addr, sub, nil
}

func queryAddr(r *http.Request, key string) (models.Address, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return models.Address{}, nil
	}
	addr, err := models.ParseAddress(v)
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: %s: %v", ErrBadRequest, key, err)
	}
	return addr, nil
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
	}
	return n, nil
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Operations ---

// handleOps handles GET /v1/ops and POST /v1/ops/{op}
func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/ops"), "/")
	if op == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Operations())
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	resp, err := s.service.Execute(r.Context(), op, caller, body)
	if err != nil {
		s.logger.Debug("operation refused", "op", op, "caller", caller.Short(), "code", escrow.CodeOf(err))
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	balance, err := s.service.Mint(r.Context(), caller, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FaucetResponse{Account: caller, Minted: req.Amount, Balance: balance})
}

// --- Reads ---

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p, err := s.service.Engine().Platform(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleTasks handles GET /v1/tasks?status=&creator=&agent=&min_bounty=&limit=
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	filter := escrow.TaskFilter{Status: models.TaskStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.Creator, err = queryAddr(r, "creator"); err != nil {
		s.fail(w, r, err)
		return
	}
	if filter.Agent, err = queryAddr(r, "agent"); err != nil {
		s.fail(w, r, err)
		return
	}
	minBounty, err := queryInt(r, "min_bounty")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filter.MinBounty = uint64(minBounty)
	filter.Limit = int(limit)

	tasks, err := s.service.Engine().ListTasks(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []escrow.TaskEntry{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskByAddr handles GET /v1/tasks/{addr}
func (s *Server) handleTaskByAddr(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	addr, _, err := pathAddr(r.URL.Path, "/v1/tasks/")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.service.Engine().Task(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleAgent handles GET /v1/agents/{owner}
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	owner, _, err := pathAddr(r.URL.Path, "/v1/agents/")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.service.Engine().Agent(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleCreator handles GET /v1/creators/{addr}
func (s *Server) handleCreator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	creator, _, err := pathAddr(r.URL.Path, "/v1/creators/")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	counter, err := s.service.Engine().CreatorCounter(r.Context(), creator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

// handleTemplates handles GET /v1/templates?creator=&active=true
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	creator, err := queryAddr(r, "creator")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	templates, err := s.service.Engine().Templates(r.Context(), creator, activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if templates == nil {
		templates = []escrow.TemplateEntry{}
	}
	writeJSON(w, http.StatusOK, templates)
}

// handleDispute handles GET /v1/disputes/{addr} and /v1/disputes/{addr}/votes
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	addr, sub, err := pathAddr(r.URL.Path, "/v1/disputes/")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch sub {
	case "":
		d, err := s.service.Engine().Dispute(r.Context(), addr)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case "votes":
		votes, err := s.service.Engine().Votes(r.Context(), addr)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if votes == nil {
			votes = []models.ArbitratorVote{}
		}
		writeJSON(w, http.StatusOK, votes)
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "NotFound", Kind: "request"})
	}
}

// handleBalance handles GET /v1/balances/{addr}
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	addr, _, err := pathAddr(r.URL.Path, "/v1/balances/")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.service.Engine().Balance(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: addr, Balance: balance})
}

func eventsQuery(r *http.Request) (events.Query, error) {
	q := events.Query{Name: r.URL.Query().Get("name")}
	var err error
	if q.Subject, err = queryAddr(r, "subject"); err != nil {
		return q, err
	}
	if q.AfterSeq, err = queryInt(r, "after"); err != nil {
		return q, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return q, err
	}
	switch {
	case limit == 0:
		q.Limit = defaultEventsLimit
	case limit > maxEventsLimit:
		q.Limit = maxEventsLimit
	default:
		q.Limit = int(limit)
	}
	return q, nil
}

// handleEvents handles GET /v1/events?name=&subject=&after=&limit=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, err := eventsQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	envs, err := s.service.Engine().History(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if envs == nil {
		envs = []events.Envelope{}
	}
	writeJSON(w, http.StatusOK, envs)
}

// handleEventStream streams committed events as server-sent events until
// the client disconnects or the server shuts down.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, err := eventsQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, errors.New("streaming unsupported"))
		return
	}
	feed, cancel, ok := s.service.Subscribe(64)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "event bus not configured", Code: "NoEventBus", Kind: "request"})
		return
	}
	defer cancel()

	// The stream outlives the server's write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case env, ok := <-feed:
			if !ok {
				return
			}
			if !q.Matches(env) {
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Warn("encoding streamed event", "seq", env.Seq, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.Seq, env.Name, data)
			flusher.Flush()
		}
	}
}

// handleSearch handles GET /v1/search?q=&kind=&status=&category=&creator=&limit=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	creator, err := queryAddr(r, "creator")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v := r.URL.Query()
	hits, ok, err := s.service.Search(r.Context(), search.Query{
		Text:     v.Get("q"),
		Kind:     v.Get("kind"),
		Status:   v.Get("status"),
		Category: v.Get("category"),
		Creator:  creator,
		Limit:    int(limit),
	})
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "search index is not running", Code: "SearchDisabled", Kind: "request"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleKeeper(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, ok := s.service.KeeperStats()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "keeper is not running", Code: "KeeperDisabled", Kind: "request"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
