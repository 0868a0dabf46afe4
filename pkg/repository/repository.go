package repository

import (
	"context"

	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrConversationNotFound means no checkpoint exists for the thread
	ErrConversationNotFound = goerr.New("conversation not found")

	// ErrCheckpointFailed marks a persistence fault. Fatal to the turn:
	// no partial-state progress is acceptable.
	ErrCheckpointFailed = goerr.New("checkpoint write failed")
)

// Repository is the durable checkpoint store for conversation state,
// keyed by thread identifier
type Repository interface {
	// GetConversation loads the latest checkpoint for a thread
	GetConversation(ctx context.Context, thread model.ThreadID) (*model.Conversation, error)

	// PutConversation durably writes a checkpoint
	PutConversation(ctx context.Context, conv *model.Conversation) error
}
