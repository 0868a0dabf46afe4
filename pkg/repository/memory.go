package repository

import (
	"context"
	"sync"

	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Memory is an in-process Repository for tests and local runs
type Memory struct {
	mu            sync.RWMutex
	conversations map[model.ThreadID]*model.Conversation
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[model.ThreadID]*model.Conversation),
	}
}

func (r *Memory) GetConversation(ctx context.Context, thread model.ThreadID) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[thread]
	if !ok {
		return nil, goerr.Wrap(ErrConversationNotFound, "no checkpoint for thread", goerr.V("thread", thread))
	}

	return conv.Clone(), nil
}

func (r *Memory) PutConversation(ctx context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conversations[conv.Thread] = conv.Clone()
	return nil
}
