package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"mailscan/internal/config"
	"mailscan/internal/cursor"
	"mailscan/internal/sanitizer"
	"mailscan/internal/scan"
)

// stubSession is an in-memory scan.Session for handler tests.
type stubSession struct {
	uids         []uint32
	messages     map[uint32]scan.MessageData
	parts        map[string][]byte
	lastCriteria scan.SearchCriteria
	closed       bool
}

func (s *stubSession) Status(_ context.Context, _ string) (scan.MailboxStatus, error) {
	return scan.MailboxStatus{Messages: uint32(len(s.uids))}, nil
}

func (s *stubSession) Open(_ context.Context, _ string) error { return nil }

func (s *stubSession) SearchUIDs(_ context.Context, criteria scan.SearchCriteria) ([]uint32, error) {
	s.lastCriteria = criteria
	var out []uint32
	for _, uid := range s.uids {
		if criteria.UIDGreaterThan > 0 && uid <= criteria.UIDGreaterThan {
			continue
		}
		out = append(out, uid)
	}
	return out, nil
}

func (s *stubSession) FetchBatch(_ context.Context, uids []uint32, _ bool) ([]scan.MessageData, error) {
	var out []scan.MessageData
	for _, uid := range uids {
		if msg, ok := s.messages[uid]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *stubSession) DownloadPart(_ context.Context, uid uint32, partPath string) ([]byte, error) {
	data, ok := s.parts[fmt.Sprintf("%d:%s", uid, partPath)]
	if !ok {
		return nil, fmt.Errorf("no such part")
	}
	return data, nil
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type stubDialer struct {
	sess *stubSession
	err  error
}

func (d *stubDialer) Dial(_ context.Context, _ scan.ConnectConfig) (scan.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

func pdfStructure() *scan.MimeNode {
	return &scan.MimeNode{
		Kind: "multipart/mixed",
		Children: []*scan.MimeNode{
			{Kind: "text/plain", TransferEncoding: "7bit"},
			{Kind: "application/pdf", Filename: "inv.pdf", SizeBytes: 512, TransferEncoding: "base64"},
		},
	}
}

func stubMailbox() *stubSession {
	sess := &stubSession{
		messages: make(map[uint32]scan.MessageData),
		parts:    map[string][]byte{"3:2": []byte("%PDF-1.7 bytes")},
	}
	for uid := uint32(1); uid <= 5; uid++ {
		sess.uids = append(sess.uids, uid)
		structure := &scan.MimeNode{Kind: "text/plain"}
		if uid == 3 {
			structure = pdfStructure()
		}
		sess.messages[uid] = scan.MessageData{
			UID: uid,
			Envelope: scan.Envelope{
				Subject: fmt.Sprintf("msg %d", uid),
				From:    []scan.Address{{Address: "sender@example.com"}},
				Date:    time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			},
			Structure: structure,
		}
	}
	return sess
}

func newTestRouter(dialer scan.Dialer, cursors *cursor.Store) chi.Router {
	h := NewHandler(
		dialer,
		scan.NewOrchestrator(nil),
		scan.NewRetriever(nil),
		cursors,
		nil,
		sanitizer.New(),
		config.IMAPConfig{DefaultHost: "imap.example.com", DefaultPort: 993, DefaultTLS: true},
		nil,
	)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, h, nil)
	})
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func connection() map[string]any {
	return map[string]any{
		"host":     "imap.example.com",
		"username": "ana@example.com",
		"password": "app-password",
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var env APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an API envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestScanEndpoint(t *testing.T) {
	sess := stubMailbox()
	router := newTestRouter(&stubDialer{sess: sess}, nil)

	rec := postJSON(t, router, "/api/v1/scans", map[string]any{
		"connection": connection(),
		"days_back":  30,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("success = false: %s", rec.Body.String())
	}

	var result scan.Result
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("data is not a scan result: %v", err)
	}
	if result.TotalScanned != 5 || result.TotalWithPdf != 1 {
		t.Errorf("result = %+v, want 5 scanned / 1 with pdf", result)
	}
	if len(result.Messages) != 1 || result.Messages[0].UID != 3 {
		t.Errorf("messages = %+v", result.Messages)
	}
	if !sess.closed {
		t.Error("session was not closed")
	}
}

func TestScanEndpointValidation(t *testing.T) {
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, nil)

	rec := postJSON(t, router, "/api/v1/scans", map[string]any{
		"connection": map[string]any{"host": "imap.example.com"},
		"days_back":  30,
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != string(scan.CategoryInvalidRequest) {
		t.Errorf("error = %+v, want %s", env.Error, scan.CategoryInvalidRequest)
	}
}

func TestScanEndpointAuthFailure(t *testing.T) {
	dialer := &stubDialer{err: scan.NewError(scan.CategoryAuth, "login rejected by server")}
	router := newTestRouter(dialer, nil)

	rec := postJSON(t, router, "/api/v1/scans", map[string]any{
		"connection": connection(),
		"days_back":  30,
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != string(scan.CategoryAuth) {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestScanStreamEndpoint(t *testing.T) {
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, nil)

	rec := postJSON(t, router, "/api/v1/scans/stream", map[string]any{
		"connection": connection(),
		"days_back":  30,
	})

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, body = %s", got, rec.Body.String())
	}
	body := rec.Body.String()
	for _, event := range []string{"event: scan_started", "event: pdf_batch", "event: scan_complete"} {
		if !strings.Contains(body, event) {
			t.Errorf("stream missing %q:\n%s", event, body)
		}
	}
}

func TestMessageDetailEndpoint(t *testing.T) {
	sess := stubMailbox()
	msg := sess.messages[3]
	msg.RawSource = []byte("Content-Type: text/plain\r\n\r\nBody text.\r\n")
	sess.messages[3] = msg
	router := newTestRouter(&stubDialer{sess: sess}, nil)

	rec := postJSON(t, router, "/api/v1/messages/detail", map[string]any{
		"connection": connection(),
		"uid":        3,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var detail scan.Detail
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &detail); err != nil {
		t.Fatalf("data is not a detail: %v", err)
	}
	if detail.UID != 3 || detail.TextBody != "Body text." {
		t.Errorf("detail = %+v", detail)
	}
	if len(detail.Attachments) != 1 || detail.Attachments[0].Filename != "inv.pdf" {
		t.Errorf("attachments = %+v", detail.Attachments)
	}
}

func TestMessageDetailNotFound(t *testing.T) {
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, nil)

	rec := postJSON(t, router, "/api/v1/messages/detail", map[string]any{
		"connection": connection(),
		"uid":        999,
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAttachmentDownloadEndpoint(t *testing.T) {
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, nil)

	rec := postJSON(t, router, "/api/v1/attachments/download", map[string]any{
		"connection": connection(),
		"uid":        3,
		"part_path":  "2",
		"filename":   "inv.pdf",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "inv.pdf") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Errorf("body does not start with PDF magic: %q", rec.Body.Bytes()[:8])
	}
}

func TestAttachmentArchiveDisabled(t *testing.T) {
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, nil)

	rec := postJSON(t, router, "/api/v1/attachments/archive", map[string]any{
		"connection": connection(),
		"account":    "ana@example.com",
		"uid":        3,
		"part_path":  "2",
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != CodeArchiveDisabled {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestCursorEndpointsDisabled(t *testing.T) {
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cursors/ana@example.com", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	router := newTestRouter(&stubDialer{sess: stubMailbox()}, store)

	payload, _ := json.Marshal(map[string]any{"last_uid": 4321, "scanned_count": 150, "with_pdf_count": 12})
	putReq := httptest.NewRequest(http.MethodPut, "/api/v1/cursors/ana@example.com", bytes.NewReader(payload))
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", putRec.Code, putRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/cursors/ana@example.com", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", getRec.Code)
	}
	env := decodeEnvelope(t, getRec)
	var c cursor.Cursor
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("data is not a cursor: %v", err)
	}
	if c.LastUID != 4321 || c.Mailbox != "INBOX" {
		t.Errorf("cursor = %+v", c)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/cursors/ana@example.com", nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", delRec.Code)
	}

	missRec := httptest.NewRecorder()
	router.ServeHTTP(missRec, httptest.NewRequest(http.MethodGet, "/api/v1/cursors/ana@example.com", nil))
	if missRec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", missRec.Code)
	}
}

func TestScanAutoResumeFromCursor(t *testing.T) {
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	seed := cursor.Cursor{
		Account: "ana@example.com", Mailbox: "INBOX",
		LastUID: 2, ScannedCount: 2, WithPdfCount: 0,
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Put(context.Background(), seed); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	sess := stubMailbox()
	router := newTestRouter(&stubDialer{sess: sess}, store)

	rec := postJSON(t, router, "/api/v1/scans", map[string]any{
		"connection": connection(),
		"account":    "ana@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if sess.lastCriteria.UIDGreaterThan != 2 {
		t.Errorf("UIDGreaterThan = %d, want 2 (from stored cursor)", sess.lastCriteria.UIDGreaterThan)
	}

	env := decodeEnvelope(t, rec)
	var result scan.Result
	raw, _ := json.Marshal(env.Data)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("data is not a scan result: %v", err)
	}
	// 2 previously scanned plus uids 3..5 this run.
	if result.TotalScanned != 5 || result.TotalWithPdf != 1 {
		t.Errorf("result = %+v, want cumulative 5 / 1", result)
	}

	updated, err := store.Get(context.Background(), "ana@example.com")
	if err != nil || updated == nil {
		t.Fatalf("cursor after scan: %v, %v", updated, err)
	}
	if updated.LastUID != 5 {
		t.Errorf("persisted LastUID = %d, want 5 (newest covered by the scan)", updated.LastUID)
	}
	if updated.ScannedCount != 5 || updated.WithPdfCount != 1 {
		t.Errorf("persisted counts = %d / %d, want 5 / 1", updated.ScannedCount, updated.WithPdfCount)
	}
}

// A repeat scan over an unchanged mailbox must be a no-op: the cursor points
// past every known UID, so nothing is rescanned and the totals stay put.
func TestScanRepeatWithCursorIsStable(t *testing.T) {
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	sess := stubMailbox()
	router := newTestRouter(&stubDialer{sess: sess}, store)

	scanOnce := func() scan.Result {
		rec := postJSON(t, router, "/api/v1/scans", map[string]any{
			"connection": connection(),
			"account":    "ana@example.com",
			"days_back":  30,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		env := decodeEnvelope(t, rec)
		var result scan.Result
		raw, _ := json.Marshal(env.Data)
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("data is not a scan result: %v", err)
		}
		return result
	}

	first := scanOnce()
	if first.TotalScanned != 5 || first.TotalWithPdf != 1 {
		t.Fatalf("first scan = %+v, want 5 / 1", first)
	}

	second := scanOnce()
	if sess.lastCriteria.UIDGreaterThan != 5 {
		t.Errorf("second scan UIDGreaterThan = %d, want 5", sess.lastCriteria.UIDGreaterThan)
	}
	if second.TotalScanned != 5 || second.TotalWithPdf != 1 {
		t.Errorf("second scan = %+v, want unchanged totals 5 / 1", second)
	}
	if len(second.Messages) != 0 {
		t.Errorf("second scan returned %d messages, want none", len(second.Messages))
	}

	after, err := store.Get(context.Background(), "ana@example.com")
	if err != nil || after == nil {
		t.Fatalf("cursor after repeat scan: %v, %v", after, err)
	}
	if after.LastUID != 5 || after.ScannedCount != 5 || after.WithPdfCount != 1 {
		t.Errorf("cursor = %+v, want LastUID 5 and counts 5 / 1", after)
	}
}
