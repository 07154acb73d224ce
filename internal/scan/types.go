// Package scan implements the mailbox scanning core: MIME structure walking,
// PDF attachment discovery, the resumable scan orchestrator, and attachment
// retrieval with fallback rediscovery.
package scan

import (
	"time"
)

// MimeNode is one node of a message's MIME structure tree as reported by the
// mail server's BODYSTRUCTURE response. A node is owned by the message it was
// fetched for and is never mutated after construction.
type MimeNode struct {
	// Kind is the lowercased type/subtype, e.g. "application/pdf" or
	// "multipart/mixed".
	Kind string
	// Filename is the resolved part filename: the disposition parameter if
	// present, otherwise the content-type name parameter, otherwise empty.
	Filename string
	// SizeBytes is the encoded size of the part body.
	SizeBytes int64
	// TransferEncoding is the Content-Transfer-Encoding of the part
	// ("base64", "quoted-printable", "7bit", ...).
	TransferEncoding string
	// Children holds the ordered child parts for multipart containers.
	Children []*MimeNode
}

// IsMultipart reports whether the node is a multipart container.
func (n *MimeNode) IsMultipart() bool {
	return len(n.Kind) > len("multipart/") && n.Kind[:len("multipart/")] == "multipart/"
}

// PdfAttachmentDescriptor describes a discovered PDF part within a message.
// Descriptors are derived from the structure tree on every fetch and are never
// cached across sessions.
type PdfAttachmentDescriptor struct {
	Filename         string `json:"filename"`
	MimeType         string `json:"mime_type"`
	SizeBytes        int64  `json:"size_bytes"`
	PartPath         string `json:"part_path"`
	TransferEncoding string `json:"transfer_encoding,omitempty"`
}

// Request describes one scan invocation. Exactly one of TimeRangeDays
// (full/date-bounded scan) or SinceUID (incremental scan) is active; when
// SinceUID is set the date bound is ignored entirely.
type Request struct {
	// Mailbox is the mailbox to scan. Empty means INBOX.
	Mailbox string
	// TimeRangeDays bounds a full scan to messages received in the last N
	// days. Values above MaxTimeRangeDays are clamped, not rejected.
	TimeRangeDays int
	// SinceUID switches to incremental mode: only messages with UID greater
	// than this value are considered.
	SinceUID uint32
	// MaxResults caps the number of PDF-bearing messages returned. Scanning
	// and counting continue past the cap; it limits payload volume only.
	// Zero means unlimited.
	MaxResults int
	// ResumeAfterUID resumes an interrupted newest-first scan: messages with
	// UID at or above this value were already processed and are skipped
	// without counting.
	ResumeAfterUID uint32
	// PreviousScannedCount and PreviousPdfCount seed the cumulative totals
	// when continuing an earlier partial run.
	PreviousScannedCount int
	PreviousPdfCount     int
	// FromContains and SubjectContains optionally narrow the server-side
	// search.
	FromContains    string
	SubjectContains string
}

// Incremental reports whether the request is an incremental (UID-bounded)
// scan rather than a date-bounded one.
func (r Request) Incremental() bool {
	return r.SinceUID > 0
}

// MessageSummary is one PDF-bearing message as returned by a scan.
type MessageSummary struct {
	UID         uint32                    `json:"uid"`
	Subject     string                    `json:"subject"`
	From        string                    `json:"from"`
	Date        time.Time                 `json:"date"`
	Attachments []PdfAttachmentDescriptor `json:"attachments"`
}

// Result is the aggregate outcome of a non-streaming scan. LastUID is the
// oldest UID processed this invocation (the resume point for continuing an
// interrupted run); HighestUID is the newest UID covered by the search (the
// incremental cursor for the next scan).
type Result struct {
	Messages     []MessageSummary `json:"messages"`
	TotalScanned int              `json:"total_scanned"`
	TotalWithPdf int              `json:"total_with_pdf"`
	LastUID      uint32           `json:"last_uid"`
	HighestUID   uint32           `json:"highest_uid"`
}

// Detail is the assembled single-message view.
type Detail struct {
	UID         uint32                    `json:"uid"`
	Subject     string                    `json:"subject"`
	From        string                    `json:"from"`
	Date        time.Time                 `json:"date"`
	Attachments []PdfAttachmentDescriptor `json:"attachments"`
	TextBody    string                    `json:"text_body"`
	HTMLBody    string                    `json:"html_body"`
	Snippet     string                    `json:"snippet"`
}
