package connectors

import (
	"context"

	"pharmatrack/internal"
)

// MailConnector opens one mailbox session per sync run.
type MailConnector interface {
	Open(ctx context.Context) (MailSession, error)
}

// MailSession lists, fetches and flags messages. Search returns messages
// in mailbox order; callers consume the list once.
type MailSession interface {
	Search(ctx context.Context, subject string) ([]internal.MessageRef, error)
	Fetch(ctx context.Context, ref internal.MessageRef) ([]byte, error)
	MarkSeen(ctx context.Context, ref internal.MessageRef) error
	Logout() error
}
