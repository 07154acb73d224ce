package api

import (
	"time"

	"mailscan/internal/config"
	"mailscan/internal/scan"
)

// ConnectionParams carries the per-request mail server coordinates and
// credentials. Credentials are used for the duration of the request only and
// are never persisted or logged.
type ConnectionParams struct {
	Host     string `json:"host" validate:"omitempty,hostname_rfc1123"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username string `json:"username" validate:"required,min=1,max=320"`
	Password string `json:"password" validate:"required,min=1"`
	TLS      *bool  `json:"tls,omitempty"`
	Mailbox  string `json:"mailbox,omitempty" validate:"omitempty,max=255"`
}

// ScanRequest is the request body for POST /api/v1/scans and
// /api/v1/scans/stream.
type ScanRequest struct {
	Connection ConnectionParams `json:"connection" validate:"required"`
	// Account, when set together with a configured cursor store, resumes
	// from the stored cursor and persists the new position on completion.
	Account              string `json:"account,omitempty" validate:"omitempty,max=320"`
	DaysBack             int    `json:"days_back,omitempty" validate:"omitempty,min=1"`
	SinceUID             uint32 `json:"since_uid,omitempty"`
	MaxResults           int    `json:"max_results,omitempty" validate:"omitempty,min=0"`
	ResumeAfterUID       uint32 `json:"resume_after_uid,omitempty"`
	PreviousScannedCount int    `json:"previous_scanned_count,omitempty" validate:"omitempty,min=0"`
	PreviousPdfCount     int    `json:"previous_pdf_count,omitempty" validate:"omitempty,min=0"`
	FromContains         string `json:"from_contains,omitempty" validate:"omitempty,max=255"`
	SubjectContains      string `json:"subject_contains,omitempty" validate:"omitempty,max=255"`
}

// MessageDetailRequest is the request body for POST /api/v1/messages/detail.
type MessageDetailRequest struct {
	Connection ConnectionParams `json:"connection" validate:"required"`
	UID        uint32           `json:"uid" validate:"required,min=1"`
}

// AttachmentRequest is the request body for POST /api/v1/attachments/download
// and /api/v1/attachments/archive.
type AttachmentRequest struct {
	Connection ConnectionParams `json:"connection" validate:"required"`
	// Account namespaces archived objects; required for archive requests.
	Account  string `json:"account,omitempty" validate:"omitempty,max=320"`
	UID      uint32 `json:"uid" validate:"required,min=1"`
	PartPath string `json:"part_path" validate:"required,max=64"`
	Filename string `json:"filename,omitempty" validate:"omitempty,max=255"`
}

// CursorPutRequest is the request body for PUT /api/v1/cursors/{account}.
type CursorPutRequest struct {
	Mailbox      string `json:"mailbox,omitempty" validate:"omitempty,max=255"`
	LastUID      uint32 `json:"last_uid" validate:"required,min=1"`
	ScannedCount int    `json:"scanned_count,omitempty" validate:"omitempty,min=0"`
	WithPdfCount int    `json:"with_pdf_count,omitempty" validate:"omitempty,min=0"`
}

// connectConfig resolves request connection parameters against the configured
// defaults.
func (p ConnectionParams) connectConfig(defaults config.IMAPConfig) scan.ConnectConfig {
	host := p.Host
	if host == "" {
		host = defaults.DefaultHost
	}
	port := p.Port
	if port == 0 {
		port = defaults.DefaultPort
	}
	useTLS := defaults.DefaultTLS
	if p.TLS != nil {
		useTLS = *p.TLS
	}
	return scan.ConnectConfig{
		Host: host,
		Port: port,
		TLS:  useTLS,
		Credentials: scan.Credentials{
			Username: p.Username,
			Password: p.Password,
		},
		DialTimeout:    defaults.DialTimeout,
		CommandTimeout: defaults.CommandTimeout,
	}
}

// scanRequest maps the DTO onto the orchestrator's request type.
func (r ScanRequest) scanRequest() scan.Request {
	return scan.Request{
		Mailbox:              r.Connection.Mailbox,
		TimeRangeDays:        r.DaysBack,
		SinceUID:             r.SinceUID,
		MaxResults:           r.MaxResults,
		ResumeAfterUID:       r.ResumeAfterUID,
		PreviousScannedCount: r.PreviousScannedCount,
		PreviousPdfCount:     r.PreviousPdfCount,
		FromContains:         r.FromContains,
		SubjectContains:      r.SubjectContains,
	}
}

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the error detail in an APIResponse.
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}
