package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/knowhq/sable/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const conversationCollection = "conversations"

// Firestore implements Repository on a Firestore database. One document
// per thread; a checkpoint replaces the whole document, which keeps the
// write atomic per node transition.
type Firestore struct {
	client *firestore.Client
}

// New creates a Firestore-backed checkpoint repository
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) GetConversation(ctx context.Context, thread model.ThreadID) (*model.Conversation, error) {
	doc, err := r.client.Collection(conversationCollection).Doc(string(thread)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrConversationNotFound, "no checkpoint for thread", goerr.V("thread", thread))
		}
		return nil, goerr.Wrap(err, "failed to load checkpoint", goerr.V("thread", thread))
	}

	var conv model.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, goerr.Wrap(err, "failed to decode checkpoint", goerr.V("thread", thread))
	}

	return &conv, nil
}

func (r *Firestore) PutConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := r.client.Collection(conversationCollection).Doc(string(conv.Thread)).Set(ctx, conv)
	if err != nil {
		return goerr.Wrap(ErrCheckpointFailed, "firestore write failed", goerr.V("thread", conv.Thread), goerr.V("cause", err))
	}
	return nil
}
