package grader

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/knowhq/sable/pkg/adapter"
	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/grade.md
var gradePromptRaw string

// ErrInvocation marks a grading model call or schema-parse failure.
// Callers treat the evidence as relevant on this error so a flaky grader
// cannot trap the conversation in a retry loop.
var ErrInvocation = goerr.New("grader invocation failed")

// Grader scores whether retrieved evidence answers the question
type Grader struct {
	gemini adapter.Gemini
}

// New creates a relevance grader on the given model
func New(gemini adapter.Gemini) *Grader {
	return &Grader{gemini: gemini}
}

var gradeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"is_relevant": {
			Type:        genai.TypeBoolean,
			Description: "True if the context is relevant to the question",
		},
		"reason": {
			Type:        genai.TypeString,
			Description: "Brief explanation of why it is relevant or not",
		},
	},
	Required: []string{"is_relevant", "reason"},
}

// Grade classifies one evidence set against the user question. The
// canonical empty-evidence marker is graded not relevant without a model
// call: deterministic, and no tokens spent on a known-empty result.
func (g *Grader) Grade(ctx context.Context, question, evidenceText string) (*model.GradeDecision, error) {
	if evidenceText == model.NoEvidenceMarker {
		return &model.GradeDecision{
			IsRelevant: false,
			Reason:     "retrieval returned no results",
		}, nil
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(gradePromptRaw, ""),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    gradeSchema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	prompt := fmt.Sprintf("User Question: %s\n\nRetrieved Context: %s", question, evidenceText)
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := g.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(ErrInvocation, "grading model call failed", goerr.V("cause", err))
	}

	raw := adapter.ResponseText(resp)
	if raw == "" {
		return nil, goerr.Wrap(ErrInvocation, "grading model returned no content")
	}

	var decision model.GradeDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, goerr.Wrap(ErrInvocation, "grading response did not match schema", goerr.V("raw", raw))
	}

	return &decision, nil
}
