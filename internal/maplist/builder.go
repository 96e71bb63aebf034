package maplist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/observability"
)

const defaultPerPage = 30

// TopicStore executes a topic query. Results are ordered by most recently
// bumped first.
type TopicStore interface {
	ListTopics(ctx context.Context, q domain.TopicQuery) ([]domain.Topic, error)
}

// TopicList is one page of the map listing.
type TopicList struct {
	Topics     []domain.Topic `json:"topics"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	MoreTopics bool           `json:"more_topics"`
}

// Builder produces the map listing from a base topic query.
type Builder struct {
	filters *Registry
	store   TopicStore
	perPage int
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewBuilder creates a Builder. perPage <= 0 selects the default page size.
func NewBuilder(filters *Registry, store TopicStore, perPage int, metrics *observability.Metrics, logger *slog.Logger) *Builder {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &Builder{
		filters: filters,
		store:   store,
		perPage: perPage,
		metrics: metrics,
		logger:  logger,
	}
}

// Build restricts base to topics with coordinates, then applies every
// registered filter. A failing filter degrades the listing to empty. The
// has-location restriction is re-asserted after the chain so no filter can
// widen the result.
func (b *Builder) Build(base domain.TopicQuery, opts ListOptions) domain.TopicQuery {
	b.metrics.MapListBuilds.Inc()

	restricted := base.Where(domain.HasGeoLocation())
	q, err := b.filters.ApplyAll(restricted, opts)
	if err != nil {
		name := "unknown"
		var fe *FilterError
		if errors.As(err, &fe) {
			name = fe.Filter
		}
		b.metrics.MapListFilterErrors.WithLabelValues(name).Inc()
		b.logger.Warn("map list filter failed, returning empty listing", "filter", name, "error", err)
		return restricted.None()
	}

	if !q.Has(domain.ConditionHasGeoLocation) {
		q = q.Where(domain.HasGeoLocation())
	}
	return q
}

// List builds the query for the requested page and executes it.
func (b *Builder) List(ctx context.Context, base domain.TopicQuery, opts ListOptions) (TopicList, error) {
	page := opts.Page
	if page < 0 {
		page = 0
	}
	perPage := opts.PerPage
	if perPage <= 0 || perPage > b.perPage {
		perPage = b.perPage
	}

	// One extra row tells us whether another page exists.
	q := b.Build(base, opts).Page(perPage+1, page*perPage)
	topics, err := b.store.ListTopics(ctx, q)
	if err != nil {
		return TopicList{}, fmt.Errorf("list map topics: %w", err)
	}

	list := TopicList{Page: page, PerPage: perPage, Topics: topics}
	if len(topics) > perPage {
		list.Topics = topics[:perPage]
		list.MoreTopics = true
	}
	if list.Topics == nil {
		list.Topics = []domain.Topic{}
	}
	return list, nil
}
