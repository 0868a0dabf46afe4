package graph_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knowhq/sable/pkg/adapter"
	"github.com/knowhq/sable/pkg/grader"
	"github.com/knowhq/sable/pkg/graph"
	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/policy"
	"github.com/knowhq/sable/pkg/repository"
	"github.com/knowhq/sable/pkg/retrieval"
	"github.com/knowhq/sable/pkg/sanitize"
	"github.com/knowhq/sable/pkg/tool"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// scriptedGemini plays back a fixed sequence of model responses
type scriptedGemini struct {
	mu     sync.Mutex
	calls  int
	script []*genai.GenerateContentResponse
}

func (s *scriptedGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.script) {
		return nil, errors.New("scripted model exhausted")
	}
	resp := s.script[s.calls]
	s.calls++
	return resp, nil
}

type failingGemini struct{}

func (failingGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return nil, errors.New("model unavailable")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func toolCallResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						{FunctionCall: &genai.FunctionCall{Name: name, Args: args}},
					},
				},
			},
		},
	}
}

func relevantJSON() *genai.GenerateContentResponse {
	return textResponse(`{"is_relevant": true, "reason": "context answers the question"}`)
}

func notRelevantJSON() *genai.GenerateContentResponse {
	return textResponse(`{"is_relevant": false, "reason": "context is off topic"}`)
}

// trackingStore records whether the retrieval backend was ever reached
type trackingStore struct {
	inner   *retrieval.MemoryStore
	touched bool
}

func (s *trackingStore) HybridSearch(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	s.touched = true
	return s.inner.HybridSearch(ctx, query, topK, scope)
}

func (s *trackingStore) StructuredQuery(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	s.touched = true
	return s.inner.StructuredQuery(ctx, query, topK, scope)
}

func seedStore() *retrieval.MemoryStore {
	store := retrieval.NewMemoryStore()
	store.Add(retrieval.Fact{
		Content: "The travel policy allows business class for flights over 6 hours.",
		Source:  "TravelPolicy.pdf",
		Page:    "2",
	})
	return store
}

func newTestMachine(t *testing.T, agentLLM, graderLLM adapter.Gemini, store retrieval.KnowledgeStore, repo repository.Repository) *graph.Machine {
	engine, err := policy.New(context.Background())
	gt.NoError(t, err)

	sanitizer, err := sanitize.New()
	gt.NoError(t, err)

	registry := tool.New(
		tool.NewKnowledgeSearch(engine, retrieval.NewGateway(store)),
		tool.NewCalculator(),
	)

	return graph.New(graph.NewInput{
		Gemini:    agentLLM,
		Repo:      repo,
		Registry:  registry,
		Sanitizer: sanitizer,
		Grader:    grader.New(graderLLM),
	})
}

func salesIdentity() *model.UserIdentity {
	id := model.NewUserIdentity("u-1", "u1@example.com", "sales", nil)
	return &id
}

type eventLog struct {
	mu     sync.Mutex
	events []model.StreamEvent
}

func (l *eventLog) sink() model.EventSink {
	return func(ev model.StreamEvent) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
	}
}

func (l *eventLog) has(ty model.EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == ty {
			return true
		}
	}
	return false
}

func graderEntries(trace []graph.Transition) []graph.EntryReason {
	var reasons []graph.EntryReason
	for _, tr := range trace {
		if tr.From == graph.StateGrader && tr.To == graph.StateAgent {
			reasons = append(reasons, tr.Reason)
		}
	}
	return reasons
}

func TestTurnGreeting(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		textResponse("Hello! How can I help you today?"),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, &scriptedGemini{}, seedStore(), repo)

	var log eventLog
	result, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "hi there",
		Identity: salesIdentity(),
		Events:   log.sink(),
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Answer, "Hello! How can I help you today?")

	// Guard always runs; no tools, no grader
	gt.A(t, result.Trace).Length(2)
	gt.Equal(t, result.Trace[0], graph.Transition{From: graph.StateGuard, To: graph.StateAgent, Reason: graph.EntryFirst})
	gt.Equal(t, result.Trace[1], graph.Transition{From: graph.StateAgent, To: graph.StateEnd, Reason: graph.EntryFirst})

	gt.True(t, log.has(model.EventDone))
	gt.False(t, log.has(model.EventToolStart))

	conv, err := repo.GetConversation(context.Background(), result.Thread)
	gt.NoError(t, err)
	gt.A(t, conv.Messages).Length(2)
}

func TestTurnRedactsAndRetrieves(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		toolCallResponse(tool.KnowledgeSearchName, map[string]any{"query": "travel policy business class"}),
		textResponse("Business class is allowed for flights over 6 hours [1]."),
	}}
	graderLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		relevantJSON(),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, graderLLM, seedStore(), repo)

	var log eventLog
	result, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "My email is bob@corp.com. What is the travel policy for long flights?",
		Identity: salesIdentity(),
		Events:   log.sink(),
	})
	gt.NoError(t, err)
	gt.S(t, result.Answer).Contains("Business class is allowed")

	reasons := graderEntries(result.Trace)
	gt.A(t, reasons).Length(1)
	gt.Equal(t, reasons[0], graph.EntrySynthesize)

	conv, err := repo.GetConversation(context.Background(), result.Thread)
	gt.NoError(t, err)

	// The raw address never reaches the checkpoint
	human := conv.Messages[0]
	gt.Equal(t, human.Role, model.RoleHuman)
	gt.S(t, human.Content).Contains(sanitize.PlaceholderEmail)
	gt.S(t, human.Content).NotContains("bob@corp.com")

	gt.True(t, log.has(model.EventToolStart))
	gt.True(t, log.has(model.EventToolEnd))
}

func TestTurnRetriesThenSynthesizes(t *testing.T) {
	searchArgs := map[string]any{"query": "travel policy"}
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		toolCallResponse(tool.KnowledgeSearchName, searchArgs),
		toolCallResponse(tool.KnowledgeSearchName, searchArgs),
		toolCallResponse(tool.KnowledgeSearchName, searchArgs),
		textResponse("I could not find a confident answer in the knowledge base."),
	}}
	graderLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		notRelevantJSON(),
		notRelevantJSON(),
		notRelevantJSON(),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, graderLLM, seedStore(), repo)

	result, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "What is the travel policy?",
		Identity: salesIdentity(),
		Events:   nil,
	})
	gt.NoError(t, err)
	gt.S(t, result.Answer).Contains("could not find")

	// Two corrective retries, then forced synthesis. Never a fourth loop.
	reasons := graderEntries(result.Trace)
	gt.A(t, reasons).Length(3)
	gt.Equal(t, reasons[0], graph.EntryRetry)
	gt.Equal(t, reasons[1], graph.EntryRetry)
	gt.Equal(t, reasons[2], graph.EntrySynthesize)
	gt.Equal(t, graderLLM.calls, 3)
	gt.Equal(t, agentLLM.calls, 4)

	conv, err := repo.GetConversation(context.Background(), result.Thread)
	gt.NoError(t, err)
	gt.Equal(t, conv.RetryCount, 0)

	// Corrective feedback lands as a tool result tied to the failed call
	var feedback int
	for _, msg := range conv.Messages {
		if msg.Role == model.RoleTool && strings.Contains(msg.Content, "previous search was not relevant") {
			feedback++
			gt.True(t, msg.ToolCallID != "")
		}
	}
	gt.Equal(t, feedback, 2)
}

func TestTurnWithoutIdentityFailsClosed(t *testing.T) {
	store := &trackingStore{inner: seedStore()}
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		toolCallResponse(tool.KnowledgeSearchName, map[string]any{"query": "travel policy"}),
		textResponse("I cannot access the knowledge base without a verified identity."),
	}}
	graderLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		relevantJSON(),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, graderLLM, store, repo)

	result, err := m.Run(context.Background(), graph.TurnInput{
		Message: "What is the travel policy?",
	})
	gt.NoError(t, err)
	gt.False(t, store.touched)

	conv, err := repo.GetConversation(context.Background(), result.Thread)
	gt.NoError(t, err)

	var toolMsg *model.Message
	for i := range conv.Messages {
		if conv.Messages[i].Role == model.RoleTool {
			toolMsg = &conv.Messages[i]
			break
		}
	}
	gt.V(t, toolMsg).NotNil()
	gt.Equal(t, toolMsg.Content, model.SecurityContextMissingMarker)
}

func TestTurnGraderFaultSynthesizes(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		toolCallResponse(tool.KnowledgeSearchName, map[string]any{"query": "travel policy"}),
		textResponse("Business class is allowed over 6 hours [1]."),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, failingGemini{}, seedStore(), repo)

	result, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "What is the travel policy?",
		Identity: salesIdentity(),
	})
	gt.NoError(t, err)

	// A flaky grader never triggers the corrective loop
	reasons := graderEntries(result.Trace)
	gt.A(t, reasons).Length(1)
	gt.Equal(t, reasons[0], graph.EntrySynthesize)
	gt.Equal(t, agentLLM.calls, 2)
}

func TestTurnThreadContinuity(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		textResponse("Nice to meet you, I will remember this thread."),
		textResponse("You asked about greetings earlier."),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, &scriptedGemini{}, seedStore(), repo)

	first, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "hello",
		Identity: salesIdentity(),
	})
	gt.NoError(t, err)
	gt.True(t, first.Thread != "")

	second, err := m.Run(context.Background(), graph.TurnInput{
		Thread:   first.Thread,
		Message:  "what did I just say?",
		Identity: salesIdentity(),
	})
	gt.NoError(t, err)
	gt.Equal(t, second.Thread, first.Thread)

	conv, err := repo.GetConversation(context.Background(), first.Thread)
	gt.NoError(t, err)
	gt.A(t, conv.Messages).Length(4)
}

type brokenRepo struct{}

func (brokenRepo) GetConversation(ctx context.Context, thread model.ThreadID) (*model.Conversation, error) {
	return nil, repository.ErrConversationNotFound
}

func (brokenRepo) PutConversation(ctx context.Context, conv *model.Conversation) error {
	return errors.New("disk full")
}

func TestTurnCheckpointFailureIsFatal(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		textResponse("hello"),
	}}
	m := newTestMachine(t, agentLLM, &scriptedGemini{}, seedStore(), brokenRepo{})

	var log eventLog
	_, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "hi",
		Identity: salesIdentity(),
		Events:   log.sink(),
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, repository.ErrCheckpointFailed))
	gt.True(t, log.has(model.EventError))
	gt.False(t, log.has(model.EventDone))
}

func TestTurnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := repository.NewMemory()
	m := newTestMachine(t, &scriptedGemini{}, &scriptedGemini{}, seedStore(), repo)

	var log eventLog
	_, err := m.Run(ctx, graph.TurnInput{
		Thread:   "t-canceled",
		Message:  "hi",
		Identity: salesIdentity(),
		Events:   log.sink(),
	})
	gt.Error(t, err)
	gt.True(t, log.has(model.EventError))

	// Nothing was checkpointed for the aborted turn
	_, err = repo.GetConversation(context.Background(), "t-canceled")
	gt.Error(t, err)
}

// slowTool blocks until its delay elapses or the call context expires
type slowTool struct {
	delay time.Duration
}

func (s *slowTool) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "slow_lookup",
				Description: "Lookup that takes a while",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {Type: genai.TypeString},
					},
				},
			},
		},
	}
}

func (s *slowTool) Prompt(ctx context.Context) string { return "" }

func (s *slowTool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	select {
	case <-time.After(s.delay):
		return &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"result": "too late"},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestTurnToolTimeoutBecomesErrorResult(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		toolCallResponse("slow_lookup", map[string]any{"query": "anything"}),
		textResponse("The lookup did not complete in time."),
	}}
	graderLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		relevantJSON(),
	}}

	sanitizer, err := sanitize.New()
	gt.NoError(t, err)

	repo := repository.NewMemory()
	m := graph.New(graph.NewInput{
		Gemini:    agentLLM,
		Repo:      repo,
		Registry:  tool.New(&slowTool{delay: time.Second}),
		Sanitizer: sanitizer,
		Grader:    grader.New(graderLLM),
		Config:    graph.Config{CallTimeout: 20 * time.Millisecond},
	})

	result, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "look something up",
		Identity: salesIdentity(),
	})
	gt.NoError(t, err)

	conv, err := repo.GetConversation(context.Background(), result.Thread)
	gt.NoError(t, err)

	var toolMsg *model.Message
	for i := range conv.Messages {
		if conv.Messages[i].Role == model.RoleTool {
			toolMsg = &conv.Messages[i]
			break
		}
	}
	gt.V(t, toolMsg).NotNil()
	gt.Equal(t, toolMsg.Content, "Error: tool slow_lookup timed out")
}

func TestTurnsOnSameThreadSerialize(t *testing.T) {
	agentLLM := &scriptedGemini{script: []*genai.GenerateContentResponse{
		textResponse("first answer"),
		textResponse("second answer"),
	}}
	repo := repository.NewMemory()
	m := newTestMachine(t, agentLLM, &scriptedGemini{}, seedStore(), repo)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Run(context.Background(), graph.TurnInput{
				Thread:   "t-serial",
				Message:  "hello",
				Identity: salesIdentity(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		gt.NoError(t, err)
	}

	// Each turn loads the checkpoint after the previous one committed,
	// so both human messages and both answers survive in order
	conv, err := repo.GetConversation(context.Background(), "t-serial")
	gt.NoError(t, err)
	gt.A(t, conv.Messages).Length(4)
	gt.Equal(t, conv.Messages[0].Role, model.RoleHuman)
	gt.Equal(t, conv.Messages[1].Role, model.RoleAI)
	gt.Equal(t, conv.Messages[2].Role, model.RoleHuman)
	gt.Equal(t, conv.Messages[3].Role, model.RoleAI)
}

func TestTurnAgentFailureIsFatal(t *testing.T) {
	repo := repository.NewMemory()
	m := newTestMachine(t, failingGemini{}, &scriptedGemini{}, seedStore(), repo)

	var log eventLog
	_, err := m.Run(context.Background(), graph.TurnInput{
		Message:  "hi",
		Identity: salesIdentity(),
		Events:   log.sink(),
	})
	gt.Error(t, err)
	gt.True(t, log.has(model.EventError))
}
