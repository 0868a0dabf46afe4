package graph

import (
	"context"
	_ "embed"
	"errors"
	"sync"
	"time"

	"github.com/knowhq/sable/pkg/adapter"
	"github.com/knowhq/sable/pkg/grader"
	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/repository"
	"github.com/knowhq/sable/pkg/sanitize"
	"github.com/knowhq/sable/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/agent.md
var agentPromptRaw string

// State identifies a node of the conversation state machine
type State string

const (
	StateGuard  State = "guard"
	StateAgent  State = "agent"
	StateTools  State = "tools"
	StateGrader State = "grader"
	StateEnd    State = "end"
)

// EntryReason tags why control entered the Agent state, so callers and
// tests can tell a retry continuation from final synthesis without
// pattern-matching message content.
type EntryReason string

const (
	EntryFirst      EntryReason = "first"
	EntryRetry      EntryReason = "retry"
	EntrySynthesize EntryReason = "synthesize"
)

// transitions is the explicit routing table: every edge a node may take.
// Node functions pick one of the listed targets; anything else is a bug
// caught at runtime.
var transitions = map[State][]State{
	StateGuard:  {StateAgent},
	StateAgent:  {StateTools, StateEnd},
	StateTools:  {StateGrader},
	StateGrader: {StateAgent},
}

// Transition records one executed edge for the turn trace
type Transition struct {
	From   State
	To     State
	Reason EntryReason
}

// Config tunes the state machine
type Config struct {
	// MaxRetries bounds the grader's corrective loop
	MaxRetries int
	// TokenBudget limits the history passed to each agent call
	TokenBudget int
	// CallTimeout is the upper bound for one LLM or tool invocation
	CallTimeout time.Duration
	// SystemPrompt overrides the embedded agent instruction
	SystemPrompt string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = defaultTokenBudget
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = agentPromptRaw
	}
	return c
}

// Machine orchestrates one conversation turn through
// Guard → Agent → {Tools → Grader → Agent | End}, checkpointing after
// every node transition.
type Machine struct {
	gemini    adapter.Gemini
	repo      repository.Repository
	registry  *tool.Registry
	sanitizer sanitize.Sanitizer
	grader    *grader.Grader
	cfg       Config

	mu    sync.Mutex
	locks map[model.ThreadID]*sync.Mutex
}

// NewInput contains the machine's dependencies
type NewInput struct {
	Gemini    adapter.Gemini
	Repo      repository.Repository
	Registry  *tool.Registry
	Sanitizer sanitize.Sanitizer
	Grader    *grader.Grader
	Config    Config
}

// New builds a conversation state machine
func New(input NewInput) *Machine {
	return &Machine{
		gemini:    input.Gemini,
		repo:      input.Repo,
		registry:  input.Registry,
		sanitizer: input.Sanitizer,
		grader:    input.Grader,
		cfg:       input.Config.withDefaults(),
		locks:     make(map[model.ThreadID]*sync.Mutex),
	}
}

// TurnInput is one user message bound for a thread. A nil Identity runs
// the turn without a security context: scoped tools then fail closed.
type TurnInput struct {
	Thread   model.ThreadID
	Message  string
	Identity *model.UserIdentity
	Events   model.EventSink
}

// TurnResult is the outcome of a completed turn
type TurnResult struct {
	Thread model.ThreadID
	Answer string
	Trace  []Transition
}

// turn carries the mutable state of one in-flight turn
type turn struct {
	conv   *model.Conversation
	events model.EventSink
	answer string
	reason EntryReason
	trace  []Transition
}

// threadLock returns the mutex serializing turns on a thread. Turns on
// different threads are independent; at most one turn runs per thread.
func (m *Machine) threadLock(thread model.ThreadID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[thread]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[thread] = lock
	}
	return lock
}

// Run executes one turn. Recoverable faults stay inside the conversation;
// only persistence and LLM infrastructure failures are returned, after an
// error event distinct from a normal completion.
func (m *Machine) Run(ctx context.Context, input TurnInput) (*TurnResult, error) {
	thread := input.Thread
	if thread == "" {
		thread = model.NewThreadID()
	}

	lock := m.threadLock(thread)
	lock.Lock()
	defer lock.Unlock()

	if input.Identity != nil {
		ctx = model.WithIdentity(ctx, *input.Identity)
	}

	conv, err := m.repo.GetConversation(ctx, thread)
	if err != nil {
		if !errors.Is(err, repository.ErrConversationNotFound) {
			input.Events.Emit(model.StreamEvent{Type: model.EventError, Message: "failed to load conversation"})
			return nil, goerr.Wrap(err, "failed to load checkpoint", goerr.V("thread", thread))
		}
		conv = model.NewConversation(thread)
	}

	t := &turn{
		conv:   conv,
		events: input.Events,
		reason: EntryFirst,
	}
	conv.Append(model.NewMessage(model.RoleHuman, input.Message))

	state := StateGuard
	for state != StateEnd {
		if err := ctx.Err(); err != nil {
			// Canceled mid-turn: abort without committing a partial checkpoint
			input.Events.Emit(model.StreamEvent{Type: model.EventError, Message: "turn canceled"})
			return nil, goerr.Wrap(err, "turn canceled", goerr.V("thread", thread), goerr.V("state", state))
		}

		next, err := m.runNode(ctx, state, t)
		if err != nil {
			input.Events.Emit(model.StreamEvent{Type: model.EventError, Message: err.Error()})
			return nil, err
		}

		if !validEdge(state, next) {
			return nil, goerr.New("invalid state transition", goerr.V("from", state), goerr.V("to", next))
		}

		if err := m.checkpoint(ctx, t); err != nil {
			input.Events.Emit(model.StreamEvent{Type: model.EventError, Message: "checkpoint failed"})
			return nil, err
		}

		t.trace = append(t.trace, Transition{From: state, To: next, Reason: t.reason})
		state = next
	}

	input.Events.Emit(model.StreamEvent{Type: model.EventDone})

	return &TurnResult{
		Thread: thread,
		Answer: t.answer,
		Trace:  t.trace,
	}, nil
}

func (m *Machine) runNode(ctx context.Context, state State, t *turn) (State, error) {
	switch state {
	case StateGuard:
		return m.runGuard(ctx, t)
	case StateAgent:
		return m.runAgent(ctx, t)
	case StateTools:
		return m.runTools(ctx, t)
	case StateGrader:
		return m.runGrader(ctx, t)
	default:
		return StateEnd, goerr.New("unknown state", goerr.V("state", state))
	}
}

// checkpoint writes the conversation after a node transition. A canceled
// context never commits; a write failure is fatal to the turn.
func (m *Machine) checkpoint(ctx context.Context, t *turn) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "skipping checkpoint on canceled turn")
	}
	if err := m.repo.PutConversation(ctx, t.conv); err != nil {
		return goerr.Wrap(repository.ErrCheckpointFailed, "failed to persist conversation",
			goerr.V("thread", t.conv.Thread), goerr.V("cause", err))
	}
	return nil
}

func validEdge(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

