package tool

import (
	"context"
	"fmt"

	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/policy"
	"github.com/knowhq/sable/pkg/retrieval"
	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// KnowledgeSearchName is the function name the model calls for retrieval
const KnowledgeSearchName = "knowledge_graph_search"

// KnowledgeSearch is the retrieval tool: it derives the caller's access
// scope and runs a policy-gated hybrid search. Without a resolvable
// identity it fails closed, returning the security marker as tool text
// so the model can explain the limitation.
type KnowledgeSearch struct {
	engine  *policy.Engine
	gateway *retrieval.Gateway
}

// NewKnowledgeSearch wires the retrieval tool to the policy engine and gateway
func NewKnowledgeSearch(engine *policy.Engine, gateway *retrieval.Gateway) *KnowledgeSearch {
	return &KnowledgeSearch{
		engine:  engine,
		gateway: gateway,
	}
}

func (t *KnowledgeSearch) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name: KnowledgeSearchName,
				Description: "Useful for answering questions about company policies, employee hierarchy, " +
					"project ownership, or specific document details. " +
					"Uses a hybrid vector + graph approach. " +
					"Input should be a clear, specific question.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "The natural language query to search for. Be specific about entities (e.g., 'Project Apollo', 'Alice Smith').",
						},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}

func (t *KnowledgeSearch) Prompt(ctx context.Context) string {
	return ""
}

func (t *KnowledgeSearch) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	query, _ := fc.Args["query"].(string)
	if query == "" {
		return nil, goerr.New("knowledge search requires a query argument")
	}

	identity, ok := model.IdentityFrom(ctx)
	if !ok {
		// Fail closed: no identity, no store access
		logging.From(ctx).Warn("knowledge search without security context", "query", query)
		return response(fc, model.SecurityContextMissingMarker), nil
	}

	scope := t.engine.DeriveScope(ctx, identity)

	evidence, err := t.gateway.Search(ctx, query, &scope)
	if err != nil {
		// Surface backend faults as tool text so the turn continues
		logging.From(ctx).Error("knowledge retrieval failed", "error", err, "query", query)
		return response(fc, fmt.Sprintf("Error querying knowledge base: %v", err)), nil
	}

	return response(fc, evidence.Format()), nil
}

func response(fc genai.FunctionCall, text string) *genai.FunctionResponse {
	return &genai.FunctionResponse{
		ID:       fc.ID,
		Name:     fc.Name,
		Response: map[string]any{"result": text},
	}
}
