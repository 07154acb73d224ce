package scan

import (
	"context"
	"time"
)

// Credentials are transient per-call mail credentials. They are never
// persisted and never written to logs, events, or error messages.
type Credentials struct {
	Username string
	Password string
}

// ConnectConfig describes how to reach the mail server for one request.
type ConnectConfig struct {
	Host           string
	Port           int
	TLS            bool
	Credentials    Credentials
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// MailboxStatus carries the message counts used for progress estimation.
type MailboxStatus struct {
	Messages uint32
	Unseen   uint32
}

// SearchCriteria is the UID search predicate. UIDGreaterThan takes precedence
// over SinceDate when both are set.
type SearchCriteria struct {
	SinceDate       time.Time
	UIDGreaterThan  uint32
	FromContains    string
	SubjectContains string
}

// Address is one envelope address.
type Address struct {
	Name    string
	Address string
}

// Envelope holds the summary header fields of a message, fetched without body
// content.
type Envelope struct {
	Subject string
	From    []Address
	Date    time.Time
}

// MessageData is the per-message payload of a batch fetch. Structure is nil
// when the server reported no parseable body structure; RawSource is only
// populated when requested.
type MessageData struct {
	UID       uint32
	Envelope  Envelope
	Structure *MimeNode
	RawSource []byte
}

// Session is the mail-session collaborator contract. One session serves one
// scan or retrieval end-to-end and is owned exclusively by its request.
// Close is idempotent and safe to call after a failure.
type Session interface {
	Status(ctx context.Context, mailbox string) (MailboxStatus, error)
	Open(ctx context.Context, mailbox string) error
	SearchUIDs(ctx context.Context, criteria SearchCriteria) ([]uint32, error)
	// FetchBatch fetches envelope and structure data for the given UIDs,
	// optionally including the raw message source. Unfetchable messages are
	// omitted from the result rather than failing the batch.
	FetchBatch(ctx context.Context, uids []uint32, withSource bool) ([]MessageData, error)
	// DownloadPart fetches the raw (still transfer-encoded) content of one
	// body part addressed by its dotted part path.
	DownloadPart(ctx context.Context, uid uint32, partPath string) ([]byte, error)
	Close() error
}

// Dialer opens fresh mail sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg ConnectConfig) (Session, error)
}
