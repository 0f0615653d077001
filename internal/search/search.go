// Package search keeps a full-text index of live task and template titles.
// The index is derived state: it is rebuilt from the ledger on start and
// refreshed from committed events, so it may briefly lag the ledger.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

// Document kinds.
const (
	KindTask     = "task"
	KindTemplate = "template"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	followBuffer = 256
)

// Source is the read side of the escrow engine the index is built from.
type Source interface {
	Task(ctx context.Context, addr models.Address) (*escrow.TaskEntry, error)
	ListTasks(ctx context.Context, f escrow.TaskFilter) ([]escrow.TaskEntry, error)
	Templates(ctx context.Context, creator models.Address, activeOnly bool) ([]escrow.TemplateEntry, error)
}

// document is what gets indexed per record.
type document struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Category string `json:"category"`
	Creator  string `json:"creator"`
}

// Query narrows a search. Empty Text matches every document.
type Query struct {
	Text     string
	Kind     string
	Status   string
	Category string
	Creator  models.Address
	Limit    int
}

// Hit is one search result.
type Hit struct {
	Address models.Address `json:"address"`
	Kind    string         `json:"kind"`
	Title   string         `json:"title"`
	Status  string         `json:"status,omitempty"`
	Score   float64        `json:"score"`
}

// Index is an in-memory bleve index over a Source.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	source Source
	logger *slog.Logger
}

// New creates an empty in-memory index.
func New(source Source, logger *slog.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{index: idx, source: source, logger: logger}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	doc.AddFieldMappingsAt("title", title)

	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = true
	doc.AddFieldMappingsAt("kind", keyword)
	doc.AddFieldMappingsAt("status", keyword)
	doc.AddFieldMappingsAt("category", keyword)
	doc.AddFieldMappingsAt("creator", keyword)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// Rebuild indexes every live task and template in one batch.
func (x *Index) Rebuild(ctx context.Context) error {
	tasks, err := x.source.ListTasks(ctx, escrow.TaskFilter{})
	if err != nil {
		return err
	}
	templates, err := x.source.Templates(ctx, models.ZeroAddress, false)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.index.NewBatch()
	for _, t := range tasks {
		if err := batch.Index(t.Address.String(), taskDocument(t)); err != nil {
			return err
		}
	}
	for _, t := range templates {
		if err := batch.Index(t.Address.String(), templateDocument(t)); err != nil {
			return err
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	x.logger.Debug("search index rebuilt", "tasks", len(tasks), "templates", len(templates))
	return nil
}

func taskDocument(t escrow.TaskEntry) document {
	return document{
		Kind:    KindTask,
		Title:   t.Task.Title,
		Status:  string(t.Task.Status),
		Creator: t.Task.Creator.String(),
	}
}

func templateDocument(t escrow.TemplateEntry) document {
	status := "inactive"
	if t.Template.Active {
		status = "active"
	}
	return document{
		Kind:     KindTemplate,
		Title:    t.Template.Title,
		Status:   status,
		Category: string(t.Template.Category),
		Creator:  t.Template.Creator.String(),
	}
}

// Follow subscribes to bus and applies envelopes in the background until
// ctx is done. The returned channel closes when the loop exits.
func (x *Index) Follow(ctx context.Context, bus *events.Bus) <-chan struct{} {
	ch, cancel := bus.Subscribe(followBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				if err := x.Apply(ctx, env); err != nil {
					x.logger.Warn("search index update failed", "event", env.Name, "seq", env.Seq, "error", err)
				}
			}
		}
	}()
	return done
}

// Apply refreshes the documents an envelope touches.
func (x *Index) Apply(ctx context.Context, env events.Envelope) error {
	switch env.Name {
	case events.NameTaskCreated, events.NameTaskClaimed, events.NameDeliverableSubmitted,
		events.NameSubmissionRejected:
		return x.refreshTask(ctx, env.Subject)
	case events.NameTaskSettled, events.NameTaskCancelled, events.NameTaskExpired:
		return x.remove(env.Subject)
	case events.NameDisputeOpened:
		var ev events.DisputeOpened
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return x.refreshTask(ctx, ev.Task)
	case events.NameDisputeResolved:
		var ev events.DisputeResolved
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return x.refreshTask(ctx, ev.Task)
	case events.NameTemplateCreated, events.NameTemplateDeactivated:
		return x.refreshTemplate(ctx, env.Subject)
	}
	return nil
}

func (x *Index) refreshTask(ctx context.Context, addr models.Address) error {
	entry, err := x.source.Task(ctx, addr)
	if escrow.KindOf(err) == escrow.KindNotFound {
		return x.remove(addr)
	}
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Index(addr.String(), taskDocument(*entry))
}

func (x *Index) refreshTemplate(ctx context.Context, addr models.Address) error {
	templates, err := x.source.Templates(ctx, models.ZeroAddress, false)
	if err != nil {
		return err
	}
	for _, t := range templates {
		if t.Address == addr {
			x.mu.Lock()
			defer x.mu.Unlock()
			return x.index.Index(addr.String(), templateDocument(t))
		}
	}
	return x.remove(addr)
}

func (x *Index) remove(addr models.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Delete(addr.String())
}

// Count returns the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

// Search runs q against the index, best match first.
func (x *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	var text query.Query
	if q.Text == "" {
		text = bleve.NewMatchAllQuery()
	} else {
		match := bleve.NewMatchQuery(q.Text)
		match.SetField("title")
		text = match
	}
	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(text)
	addTerm(boolQuery, "kind", q.Kind)
	addTerm(boolQuery, "status", q.Status)
	addTerm(boolQuery, "category", q.Category)
	if !q.Creator.IsZero() {
		addTerm(boolQuery, "creator", q.Creator.String())
	}

	req := bleve.NewSearchRequestOptions(boolQuery, limit, 0, false)
	req.Fields = []string{"kind", "title", "status"}

	x.mu.RLock()
	res, err := x.index.SearchInContext(ctx, req)
	x.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		addr, err := models.ParseAddress(h.ID)
		if err != nil {
			continue
		}
		hit := Hit{Address: addr, Score: h.Score}
		hit.Kind, _ = h.Fields["kind"].(string)
		hit.Title, _ = h.Fields["title"].(string)
		hit.Status, _ = h.Fields["status"].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}

func addTerm(b *query.BooleanQuery, field, value string) {
	if value == "" {
		return
	}
	term := bleve.NewTermQuery(value)
	term.SetField(field)
	b.AddMust(term)
}

// Close releases the index.
func (x *Index) Close() error {
	return x.index.Close()
}
