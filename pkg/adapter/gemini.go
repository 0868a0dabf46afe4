package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini is the language model interface consumed by the agent loop and
// the grader. Structured output is requested through the config's
// ResponseSchema; tool calling through config.Tools.
type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}
	return resp, nil
}

// ResponseText concatenates the text parts of the first candidate
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text
}
