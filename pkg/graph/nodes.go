package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/knowhq/sable/pkg/grader"
	"github.com/knowhq/sable/pkg/model"
	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// correctiveFeedback is injected as a tool result when graded evidence is
// not relevant and the retry budget allows another attempt
const correctiveFeedback = "[System]: The previous search was not relevant. Please try a broader query or different keywords."

// runGuard sanitizes the most recent human message in place, preserving
// the message ID so the model never sees the raw PII. Always proceeds to
// Agent; a degraded sanitizer pass is logged, not fatal.
func (m *Machine) runGuard(ctx context.Context, t *turn) (State, error) {
	last := t.conv.LastHuman()
	if last == nil {
		return StateAgent, nil
	}

	res := m.sanitizer.Sanitize(ctx, last.Content)
	if res.Degraded {
		logging.From(ctx).Warn("sanitizer degraded, message passed unscrubbed",
			"thread", t.conv.Thread)
	}
	if res.Redacted {
		logging.From(ctx).Info("PII detected and redacted", "thread", t.conv.Thread)
		t.conv.ReplaceContent(last.ID, res.Text)
	}

	return StateAgent, nil
}

// runAgent trims the history to the token budget, re-injects the system
// instruction, and invokes the model with tool calling enabled. Tool
// calls route to Tools; a plain response ends the turn.
func (m *Machine) runAgent(ctx context.Context, t *turn) (State, error) {
	trimmed := trimHistory(t.conv.Messages, m.cfg.TokenBudget)
	contents := toContents(trimmed)

	systemPrompt := m.cfg.SystemPrompt
	if toolPrompts := m.registry.Prompts(ctx); toolPrompts != "" {
		systemPrompt += "\n\n" + toolPrompts
	}

	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
		Temperature:       &temperature,
		Tools:             m.registry.Specs(),
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	resp, err := m.gemini.GenerateContent(callCtx, contents, config)
	if err != nil {
		return StateEnd, goerr.Wrap(err, "agent model call failed", goerr.V("thread", t.conv.Thread))
	}

	msg := model.NewMessage(model.RoleAI, "")
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
				t.answer += part.Text
				t.events.Emit(model.StreamEvent{Type: model.EventToken, Text: part.Text})
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = uuid.New().String()
				}
				msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
					ID:   id,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}
	t.conv.Append(msg)

	if len(msg.ToolCalls) > 0 {
		// Tool results will replace whatever text came with the call request
		t.answer = ""
		return StateTools, nil
	}
	return StateEnd, nil
}

// runTools executes the requested tool calls concurrently. Results are
// order-matched to their originating calls; a failed or timed-out call
// becomes an error-marker tool result rather than aborting the turn.
func (m *Machine) runTools(ctx context.Context, t *turn) (State, error) {
	last := t.conv.Last()
	if last == nil || last.Role != model.RoleAI || len(last.ToolCalls) == 0 {
		return StateGrader, nil
	}

	results := make([]model.Message, len(last.ToolCalls))
	var wg sync.WaitGroup
	for i, call := range last.ToolCalls {
		wg.Add(1)
		go func(i int, call model.ToolCall) {
			defer wg.Done()
			results[i] = m.executeToolCall(ctx, t, call)
		}(i, call)
	}
	wg.Wait()

	t.conv.Append(results...)
	return StateGrader, nil
}

func (m *Machine) executeToolCall(ctx context.Context, t *turn, call model.ToolCall) model.Message {
	t.events.Emit(model.StreamEvent{Type: model.EventToolStart, Tool: call.Name})
	defer t.events.Emit(model.StreamEvent{Type: model.EventToolEnd, Tool: call.Name})

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	msg := model.NewMessage(model.RoleTool, "")
	msg.ToolCallID = call.ID
	msg.ToolName = call.Name

	resp, err := m.registry.Execute(callCtx, genai.FunctionCall{
		ID:   call.ID,
		Name: call.Name,
		Args: call.Args,
	})
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		logging.From(ctx).Warn("tool call timed out", "tool", call.Name)
		msg.Content = fmt.Sprintf("Error: tool %s timed out", call.Name)
	case err != nil:
		logging.From(ctx).Error("tool call failed", "tool", call.Name, "error", err)
		msg.Content = fmt.Sprintf("Error: %v", err)
	default:
		if result, ok := resp.Response["result"].(string); ok {
			msg.Content = result
		}
	}

	return msg
}

// runGrader inspects only the most recent tool result. Irrelevant
// evidence under the retry budget injects corrective feedback and loops
// to Agent; everything else resets the counter and proceeds to final
// synthesis. A grader fault conservatively counts as relevant so a flaky
// grader cannot loop the turn forever.
func (m *Machine) runGrader(ctx context.Context, t *turn) (State, error) {
	last := t.conv.Last()
	if last == nil || last.Role != model.RoleTool {
		t.conv.RetryCount = 0
		t.reason = EntrySynthesize
		return StateAgent, nil
	}

	question := "Unknown"
	if human := t.conv.LastHuman(); human != nil {
		question = human.Content
	}

	decision, err := m.grader.Grade(ctx, question, last.Content)
	if err != nil {
		if errors.Is(err, grader.ErrInvocation) {
			logging.From(ctx).Error("grader invocation failed, treating evidence as relevant", "error", err)
			t.conv.RetryCount = 0
			t.reason = EntrySynthesize
			return StateAgent, nil
		}
		return StateEnd, goerr.Wrap(err, "grading failed")
	}

	if !decision.IsRelevant && t.conv.RetryCount < m.cfg.MaxRetries {
		logging.From(ctx).Info("evidence graded not relevant, retrying",
			"reason", decision.Reason, "retry", t.conv.RetryCount+1, "max", m.cfg.MaxRetries)

		feedback := model.NewMessage(model.RoleTool, correctiveFeedback)
		feedback.ToolCallID = last.ToolCallID
		feedback.ToolName = last.ToolName
		t.conv.Append(feedback)
		t.conv.RetryCount++
		t.reason = EntryRetry
		return StateAgent, nil
	}

	t.conv.RetryCount = 0
	t.reason = EntrySynthesize
	return StateAgent, nil
}

// toContents converts the message history to genai contents. Consecutive
// tool results join into a single user content, matching how function
// responses are returned to the model.
func toContents(msgs []model.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	var pendingResponses []*genai.Part

	flush := func() {
		if len(pendingResponses) > 0 {
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: pendingResponses,
			})
			pendingResponses = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleHuman:
			flush()
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case model.RoleAI:
			flush()
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args},
				})
			}
			contents = append(contents, content)

		case model.RoleTool:
			pendingResponses = append(pendingResponses, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"result": msg.Content},
				},
			})
		}
	}
	flush()

	return contents
}
