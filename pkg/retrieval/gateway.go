package retrieval

import (
	"context"

	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const defaultTopK = 5

// Gateway executes policy-scoped knowledge searches. It never runs an
// unscoped query: a nil scope is rejected before the store is touched.
type Gateway struct {
	store KnowledgeStore
	cache *Cache
	topK  int
}

type GatewayOption func(*Gateway)

// WithTopK overrides the result count
func WithTopK(k int) GatewayOption {
	return func(g *Gateway) {
		g.topK = k
	}
}

// WithCache adds an evidence cache in front of the store
func WithCache(c *Cache) GatewayOption {
	return func(g *Gateway) {
		g.cache = c
	}
}

// NewGateway creates a retrieval gateway backed by the given store
func NewGateway(store KnowledgeStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store: store,
		topK:  defaultTopK,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Search runs a scoped retrieval. An unrestricted scope takes the hybrid
// index path; a restricted scope takes the direct structured-query path
// so the row-level filter is applied inside the store. Empty Evidence
// with a nil error means no results (distinct from a backend error).
func (g *Gateway) Search(ctx context.Context, query string, scope *model.AccessScope) (model.Evidence, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if scope == nil {
		return nil, ErrScopeMissing
	}

	if g.cache != nil {
		if ev, ok := g.cache.Get(ctx, query, *scope); ok {
			logging.From(ctx).Debug("evidence cache hit", "query", query)
			return ev, nil
		}
	}

	var (
		evidence model.Evidence
		err      error
	)
	if scope.IsUnrestricted() {
		evidence, err = g.store.HybridSearch(ctx, query, g.topK, *scope)
	} else {
		evidence, err = g.store.StructuredQuery(ctx, query, g.topK, *scope)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "knowledge store query failed", goerr.V("query", query))
	}

	if g.cache != nil && len(evidence) > 0 {
		g.cache.Set(ctx, query, *scope, evidence)
	}

	return evidence, nil
}
