package ingest

import (
	"context"

	"github.com/emersion/go-imap/v2"
)

// Message is one fetched mailbox message: the envelope fields the
// scanner gates on, plus the raw RFC 2822 bytes for the extractor.
type Message struct {
	UID     imap.UID
	Subject string
	From    string
	Raw     []byte
}

// Mailbox is the remote-mailbox session contract the ingestion loop
// runs against. Implementations hold one authenticated session with
// the target folder selected; Close releases it and must be called on
// every exit path.
type Mailbox interface {
	// SearchUnseen returns the UIDs of messages not yet flagged seen.
	SearchUnseen(ctx context.Context) ([]imap.UID, error)

	// SearchAll returns all UIDs in the folder in mailbox order.
	SearchAll(ctx context.Context) ([]imap.UID, error)

	// Fetch retrieves the full content of one message.
	Fetch(ctx context.Context, uid imap.UID) (*Message, error)

	// MarkSeen sets the seen/processed flag on one message.
	MarkSeen(ctx context.Context, uid imap.UID) error

	// Close logs out and releases the session.
	Close() error
}
