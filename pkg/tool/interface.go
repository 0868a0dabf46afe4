package tool

import (
	"context"

	"google.golang.org/genai"
)

// Tool represents an external capability that can be called by the LLM
type Tool interface {
	// Spec returns the tool specification for Gemini function calling
	Spec() *genai.Tool

	// Execute runs the tool with the given function call and returns the response.
	// Recoverable faults are surfaced inside the response text so the model
	// can react; a returned error means the invocation itself broke.
	Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string
}
