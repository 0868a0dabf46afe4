package retrieval

import (
	"context"

	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrScopeMissing means a search was attempted without a resolved
	// access scope. The gateway fails closed on it.
	ErrScopeMissing = goerr.New("security context missing")

	// ErrEmptyQuery means the search query was blank
	ErrEmptyQuery = goerr.New("search query is empty")
)

// KnowledgeStore is the storage backend behind the gateway. Both paths
// honor the same AccessScope contract and return the same Evidence shape.
type KnowledgeStore interface {
	// HybridSearch combines vector similarity and keyword matching
	HybridSearch(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error)

	// StructuredQuery is the direct filtered-query path used for
	// security-scoped retrieval
	StructuredQuery(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error)
}
