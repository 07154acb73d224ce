package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"mailscan/internal/config"
	"mailscan/internal/cursor"
	"mailscan/internal/metrics"
	"mailscan/internal/sanitizer"
	"mailscan/internal/scan"
	"mailscan/internal/sse"
	"mailscan/internal/storage"
)

// Error codes not covered by the scan error taxonomy.
const (
	CodeArchiveDisabled = "ARCHIVE_DISABLED"
	CodeCursorsDisabled = "CURSOR_STORE_DISABLED"
)

// Handler serves the scan API endpoints.
type Handler struct {
	dialer       scan.Dialer
	orchestrator *scan.Orchestrator
	retriever    *scan.Retriever
	cursors      *cursor.Store
	archive      *storage.ArchiveService
	sanitizer    *sanitizer.HTMLSanitizer
	imapDefaults config.IMAPConfig
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewHandler creates a Handler. cursors and archive may be nil when the
// corresponding features are not configured.
func NewHandler(
	dialer scan.Dialer,
	orchestrator *scan.Orchestrator,
	retriever *scan.Retriever,
	cursors *cursor.Store,
	archive *storage.ArchiveService,
	htmlSanitizer *sanitizer.HTMLSanitizer,
	imapDefaults config.IMAPConfig,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dialer:       dialer,
		orchestrator: orchestrator,
		retriever:    retriever,
		cursors:      cursors,
		archive:      archive,
		sanitizer:    htmlSanitizer,
		imapDefaults: imapDefaults,
		validate:     validator.New(),
		logger:       logger,
	}
}

// Scan handles POST /api/v1/scans. The whole scan runs server-side and the
// aggregate result is returned in one response.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}

	sreq := req.scanRequest()
	h.applyCursor(r.Context(), req.Account, &sreq)
	mode := scanMode(sreq)

	sess, err := h.dial(r.Context(), req.Connection)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(mode, "error").Inc()
		h.writeScanError(w, err)
		return
	}
	defer sess.Close()

	start := time.Now()
	result, err := h.orchestrator.Scan(r.Context(), sess, sreq)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(mode, "error").Inc()
		h.writeScanError(w, err)
		return
	}

	metrics.ScansTotal.WithLabelValues(mode, "ok").Inc()
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	metrics.MessagesScanned.Add(float64(result.TotalScanned - sreq.PreviousScannedCount))
	metrics.PdfsFound.Add(float64(result.TotalWithPdf - sreq.PreviousPdfCount))

	h.persistCursor(r.Context(), req.Account, sreq.Mailbox, result.HighestUID, result.TotalScanned, result.TotalWithPdf)
	h.writeSuccess(w, http.StatusOK, result)
}

// ScanStream handles POST /api/v1/scans/stream. Progress, PDF batches, and
// the terminal event are delivered over Server-Sent Events as the scan runs.
func (h *Handler) ScanStream(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}

	sreq := req.scanRequest()
	h.applyCursor(r.Context(), req.Account, &sreq)
	mode := scanMode(sreq)

	// Dial before switching to the event stream so connection and auth
	// failures still produce a plain JSON error response.
	sess, err := h.dial(r.Context(), req.Connection)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(mode, "error").Inc()
		h.writeScanError(w, err)
		return
	}
	defer sess.Close()

	stream, err := sse.NewStream(w)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, string(scan.CategoryInternal), "Streaming is not supported by this connection", nil)
		return
	}
	stopHeartbeat := stream.Heartbeat(sse.DefaultHeartbeatInterval)
	defer stopHeartbeat()

	var complete *scan.CompleteData
	emit := func(ev scan.Event) error {
		if data, ok := ev.Data.(scan.CompleteData); ok {
			c := data
			complete = &c
		}
		return stream.Send(ev.Type, ev.Data)
	}

	start := time.Now()
	if err := h.orchestrator.Stream(r.Context(), sess, sreq, emit); err != nil {
		// The terminal scan_error event has already been sent.
		metrics.ScansTotal.WithLabelValues(mode, "error").Inc()
		h.logger.Warn("Streaming scan failed", "error", err, "mode", mode)
		return
	}

	metrics.ScansTotal.WithLabelValues(mode, "ok").Inc()
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	if complete != nil {
		metrics.MessagesScanned.Add(float64(complete.TotalScanned - sreq.PreviousScannedCount))
		metrics.PdfsFound.Add(float64(complete.TotalWithPdf - sreq.PreviousPdfCount))
		h.persistCursor(r.Context(), req.Account, sreq.Mailbox, complete.HighestUID, complete.TotalScanned, complete.TotalWithPdf)
	}
}

// MessageDetail handles POST /api/v1/messages/detail.
func (h *Handler) MessageDetail(w http.ResponseWriter, r *http.Request) {
	var req MessageDetailRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.dial(r.Context(), req.Connection)
	if err != nil {
		h.writeScanError(w, err)
		return
	}
	defer sess.Close()

	if err := sess.Open(r.Context(), mailboxOrDefault(req.Connection.Mailbox)); err != nil {
		h.writeScanError(w, err)
		return
	}

	msgs, err := sess.FetchBatch(r.Context(), []uint32{req.UID}, true)
	if err != nil {
		h.writeScanError(w, err)
		return
	}
	if len(msgs) == 0 {
		h.writeError(w, http.StatusNotFound, string(scan.CategoryNotFound), "Message not found", nil)
		return
	}

	detail := scan.BuildDetail(msgs[0])
	detail.HTMLBody = h.sanitizer.Sanitize(detail.HTMLBody)
	h.writeSuccess(w, http.StatusOK, detail)
}

// AttachmentDownload handles POST /api/v1/attachments/download. The verified
// PDF bytes are served directly as application/pdf.
func (h *Handler) AttachmentDownload(w http.ResponseWriter, r *http.Request) {
	var req AttachmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	data, err := h.fetchAttachment(r.Context(), req)
	if err != nil {
		h.writeScanError(w, err)
		return
	}

	filename := safeFilename(req.Filename)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// AttachmentArchive handles POST /api/v1/attachments/archive. The attachment
// is retrieved, stored in the configured object store, and a presigned
// download URL is returned.
func (h *Handler) AttachmentArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeArchiveDisabled, "Attachment archiving is not configured", nil)
		return
	}

	var req AttachmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Account == "" {
		h.writeError(w, http.StatusBadRequest, string(scan.CategoryInvalidRequest), "account is required for archiving", nil)
		return
	}

	data, err := h.fetchAttachment(r.Context(), req)
	if err != nil {
		h.writeScanError(w, err)
		return
	}

	archived, err := h.archive.Archive(r.Context(), req.Account, req.UID, req.PartPath, safeFilename(req.Filename), data)
	if err != nil {
		h.logger.Error("Failed to archive attachment", "error", err, "uid", req.UID, "part_path", req.PartPath)
		h.writeError(w, http.StatusBadGateway, string(scan.CategoryDownload), "Failed to archive attachment", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, archived)
}

// GetCursor handles GET /api/v1/cursors/{account}.
func (h *Handler) GetCursor(w http.ResponseWriter, r *http.Request) {
	if h.cursors == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeCursorsDisabled, "Cursor store is not configured", nil)
		return
	}

	account := chi.URLParam(r, "account")
	c, err := h.cursors.Get(r.Context(), account)
	if err != nil {
		h.logger.Error("Failed to load cursor", "error", err, "account", account)
		h.writeError(w, http.StatusInternalServerError, string(scan.CategoryInternal), "Failed to load cursor", nil)
		return
	}
	if c == nil {
		h.writeError(w, http.StatusNotFound, string(scan.CategoryNotFound), "No cursor stored for account", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, c)
}

// PutCursor handles PUT /api/v1/cursors/{account}.
func (h *Handler) PutCursor(w http.ResponseWriter, r *http.Request) {
	if h.cursors == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeCursorsDisabled, "Cursor store is not configured", nil)
		return
	}

	var req CursorPutRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := cursor.Cursor{
		Account:      chi.URLParam(r, "account"),
		Mailbox:      mailboxOrDefault(req.Mailbox),
		LastUID:      req.LastUID,
		ScannedCount: req.ScannedCount,
		WithPdfCount: req.WithPdfCount,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := h.cursors.Put(r.Context(), c); err != nil {
		h.logger.Error("Failed to store cursor", "error", err, "account", c.Account)
		h.writeError(w, http.StatusInternalServerError, string(scan.CategoryInternal), "Failed to store cursor", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, c)
}

// DeleteCursor handles DELETE /api/v1/cursors/{account}.
func (h *Handler) DeleteCursor(w http.ResponseWriter, r *http.Request) {
	if h.cursors == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeCursorsDisabled, "Cursor store is not configured", nil)
		return
	}

	account := chi.URLParam(r, "account")
	if err := h.cursors.Delete(r.Context(), account); err != nil {
		h.logger.Error("Failed to delete cursor", "error", err, "account", account)
		h.writeError(w, http.StatusInternalServerError, string(scan.CategoryInternal), "Failed to delete cursor", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]any{"account": account, "deleted": true})
}

// fetchAttachment dials, opens the mailbox, and retrieves the verified PDF
// bytes for one attachment request.
func (h *Handler) fetchAttachment(ctx context.Context, req AttachmentRequest) ([]byte, error) {
	sess, err := h.dial(ctx, req.Connection)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Open(ctx, mailboxOrDefault(req.Connection.Mailbox)); err != nil {
		return nil, err
	}

	data, err := h.retriever.Retrieve(ctx, sess, req.UID, req.PartPath)
	if err != nil {
		metrics.AttachmentDownloads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AttachmentDownloads.WithLabelValues("ok").Inc()
	metrics.AttachmentBytes.Observe(float64(len(data)))
	return data, nil
}

// applyCursor seeds incremental resume state from the stored cursor. An
// explicit since_uid in the request takes precedence; store errors only
// disable auto-resume for this request.
func (h *Handler) applyCursor(ctx context.Context, account string, sreq *scan.Request) {
	if account == "" || h.cursors == nil || sreq.SinceUID > 0 {
		return
	}
	c, err := h.cursors.Get(ctx, account)
	if err != nil {
		h.logger.Warn("Cursor lookup failed, running full scan", "error", err, "account", account)
		return
	}
	if c == nil || c.LastUID == 0 {
		return
	}
	sreq.SinceUID = c.LastUID
	sreq.PreviousScannedCount = c.ScannedCount
	sreq.PreviousPdfCount = c.WithPdfCount
	if sreq.Mailbox == "" {
		sreq.Mailbox = c.Mailbox
	}
}

// persistCursor stores the post-scan position for later auto-resume. The
// stored LastUID is the highest UID the completed scan covered, so the next
// auto-resumed scan only considers newer messages. A scan that covered
// nothing leaves the existing cursor in place.
func (h *Handler) persistCursor(ctx context.Context, account, mailbox string, highestUID uint32, scanned, withPdf int) {
	if account == "" || h.cursors == nil || highestUID == 0 {
		return
	}
	c := cursor.Cursor{
		Account:      account,
		Mailbox:      mailboxOrDefault(mailbox),
		LastUID:      highestUID,
		ScannedCount: scanned,
		WithPdfCount: withPdf,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := h.cursors.Put(ctx, c); err != nil {
		h.logger.Warn("Failed to persist scan cursor", "error", err, "account", account)
	}
}

func (h *Handler) dial(ctx context.Context, params ConnectionParams) (scan.Session, error) {
	sess, err := h.dialer.Dial(ctx, params.connectConfig(h.imapDefaults))
	if err != nil {
		metrics.IMAPDialsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.IMAPDialsTotal.WithLabelValues("ok").Inc()
	return sess, nil
}

// decode parses and validates the JSON request body, writing the error
// response itself when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, string(scan.CategoryInvalidRequest), "Invalid request body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, string(scan.CategoryInvalidRequest), "Request validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string][]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = append(details[fe.Field()], fmt.Sprintf("failed %s validation", fe.Tag()))
	}
	return details
}

// writeScanError maps a categorized scan error onto an HTTP error response.
func (h *Handler) writeScanError(w http.ResponseWriter, err error) {
	category := scan.CategoryOf(err)
	status := statusForCategory(category)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err, "category", category)
	}
	h.writeError(w, status, string(category), err.Error(), nil)
}

func statusForCategory(c scan.Category) int {
	switch c {
	case scan.CategoryInvalidRequest:
		return http.StatusBadRequest
	case scan.CategoryAuth:
		return http.StatusUnauthorized
	case scan.CategoryNotFound:
		return http.StatusNotFound
	case scan.CategoryConnect, scan.CategorySearch, scan.CategoryFetch, scan.CategoryDownload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func scanMode(req scan.Request) string {
	if req.Incremental() {
		return "incremental"
	}
	return "full"
}

func mailboxOrDefault(mailbox string) string {
	if mailbox == "" {
		return scan.DefaultMailbox
	}
	return mailbox
}

// safeFilename strips header-breaking characters and falls back to the
// synthetic name when the request carries none.
func safeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '\r', '\n', '/':
			return -1
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "document.pdf"
	}
	return cleaned
}

func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}
