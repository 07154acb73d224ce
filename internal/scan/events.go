package scan

// Event type constants, in emission order. Every scan emits exactly one
// scan_started first and exactly one of scan_complete or scan_error last.
const (
	EventTypeStart    = "scan_started"
	EventTypeProgress = "scan_progress"
	EventTypePdfBatch = "pdf_batch"
	EventTypeComplete = "scan_complete"
	EventTypeError    = "scan_error"
)

// Event is one element of the scan event sequence. Data holds the immutable
// typed payload for the event's Type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EmitFunc consumes scan events. Returning an error aborts the scan; the
// orchestrator treats it like any other terminal failure.
type EmitFunc func(Event) error

// StartData is emitted once the candidate UID set is known.
type StartData struct {
	Mailbox         string `json:"mailbox"`
	MailboxMessages uint32 `json:"mailbox_messages"`
	Candidates      int    `json:"candidates"`
	Incremental     bool   `json:"incremental"`
}

// ProgressData is emitted every 50 messages scanned in the current
// invocation. Percent is capped at 99 until the scan is terminal.
type ProgressData struct {
	Scanned    int    `json:"scanned"`
	Total      int    `json:"total"`
	WithPdf    int    `json:"with_pdf"`
	Percent    int    `json:"percent"`
	LastUID    uint32 `json:"last_uid"`
	EtaSeconds int    `json:"eta_seconds"`
}

// PdfBatchData carries up to ten accumulated PDF-bearing messages.
type PdfBatchData struct {
	Messages []MessageSummary `json:"messages"`
}

// CompleteData carries the final counts and the two UID boundaries the caller
// needs: LastUID is the oldest UID processed this invocation, for continuing
// an interrupted newest-first run via ResumeAfterUID; HighestUID is the newest
// UID covered by the search, the boundary an incremental cursor must store so
// the next scan only sees newer messages.
type CompleteData struct {
	TotalScanned int    `json:"total_scanned"`
	TotalWithPdf int    `json:"total_with_pdf"`
	Returned     int    `json:"returned"`
	LastUID      uint32 `json:"last_uid"`
	HighestUID   uint32 `json:"highest_uid"`
}

// ErrorData is the single terminal error payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
