package tool

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

var errToolNotFound = goerr.New("tool not found")

// Registry manages available tools for the LLM
type Registry struct {
	tools    map[string]Tool
	allTools []Tool
	specs    []*genai.Tool
}

// New creates a new tool registry with the given tools
func New(tools ...Tool) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		allTools: tools,
	}

	for _, t := range tools {
		spec := t.Spec()
		if spec == nil || len(spec.FunctionDeclarations) == 0 {
			continue
		}
		r.specs = append(r.specs, spec)
		for _, fd := range spec.FunctionDeclarations {
			r.tools[fd.Name] = t
		}
	}

	return r
}

// Specs returns all tool specifications for Gemini function calling
func (r *Registry) Specs() []*genai.Tool {
	return r.specs
}

// Names returns the registered function names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.allTools {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Execute runs the tool with the given function call
func (r *Registry) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	t, ok := r.tools[fc.Name]
	if !ok {
		return nil, goerr.Wrap(errToolNotFound, "tool not found", goerr.V("name", fc.Name))
	}

	return t.Execute(ctx, fc)
}
