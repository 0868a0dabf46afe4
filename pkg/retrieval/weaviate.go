package retrieval

import (
	"context"
	"strconv"

	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultFactClass is the Weaviate class holding knowledge facts
const DefaultFactClass = "Fact"

// WeaviateStore implements KnowledgeStore on a Weaviate cluster. The
// hybrid path uses the hybrid (vector + BM25) operator; the structured
// path uses BM25 with the access scope translated into a where filter.
type WeaviateStore struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateStore connects to a Weaviate instance
func NewWeaviateStore(host, scheme, class string) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create weaviate client")
	}

	if class == "" {
		class = DefaultFactClass
	}

	return &WeaviateStore{client: client, class: class}, nil
}

func (s *WeaviateStore) HybridSearch(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	builder := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(evidenceFields()...).
		WithHybrid(s.client.GraphQL().HybridArgumentBuilder().WithQuery(query)).
		WithLimit(topK)

	if where := translateScope(scope); where != nil {
		builder = builder.WithWhere(where)
	}

	return s.run(ctx, builder)
}

func (s *WeaviateStore) StructuredQuery(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	builder := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(evidenceFields()...).
		WithBM25(s.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(topK)

	if where := translateScope(scope); where != nil {
		builder = builder.WithWhere(where)
	}

	return s.run(ctx, builder)
}

func (s *WeaviateStore) run(ctx context.Context, builder *graphql.GetBuilder) (model.Evidence, error) {
	result, err := builder.Do(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "weaviate query failed")
	}
	if len(result.Errors) > 0 {
		return nil, goerr.New("weaviate query error", goerr.V("message", result.Errors[0].Message))
	}

	return s.parse(result.Data)
}

func evidenceFields() []graphql.Field {
	return []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "page"},
		{Name: "_additional { score }"},
	}
}

// translateScope converts the abstract filter tree into a Weaviate where
// filter. A match-all scope needs no filter at all.
func translateScope(scope model.AccessScope) *filters.WhereBuilder {
	if scope.IsUnrestricted() {
		return nil
	}
	return translateTerm(scope.Root, scope.Params)
}

func translateTerm(term model.ScopeTerm, params map[string]string) *filters.WhereBuilder {
	switch term.Op {
	case model.OpOr:
		operands := make([]*filters.WhereBuilder, 0, len(term.Terms))
		for _, child := range term.Terms {
			if w := translateTerm(child, params); w != nil {
				operands = append(operands, w)
			}
		}
		return filters.Where().WithOperator(filters.Or).WithOperands(operands)

	case model.OpAbsent:
		return filters.Where().
			WithPath([]string{term.Field}).
			WithOperator(filters.IsNull).
			WithValueBoolean(true)

	case model.OpEq:
		return filters.Where().
			WithPath([]string{term.Field}).
			WithOperator(filters.Equal).
			WithValueString(params[term.Param])

	case model.OpContains:
		return filters.Where().
			WithPath([]string{term.Field}).
			WithOperator(filters.ContainsAny).
			WithValueText(params[term.Param])

	default:
		return nil
	}
}

func (s *WeaviateStore) parse(data map[string]models.JSONObject) (model.Evidence, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}

	objects, ok := get[s.class].([]any)
	if !ok {
		return nil, nil
	}

	evidence := make(model.Evidence, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}

		item := model.EvidenceItem{
			Content: stringField(m, "content"),
			Source:  stringField(m, "source"),
			Page:    stringField(m, "page"),
		}

		if add, ok := m["_additional"].(map[string]any); ok {
			item.Score = scoreField(add)
		}

		evidence = append(evidence, item)
	}

	return evidence, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// Weaviate returns hybrid scores as strings and certainty as numbers
func scoreField(additional map[string]any) float64 {
	switch v := additional["score"].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
