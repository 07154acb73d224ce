package scan

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

const (
	// DefaultMailbox is scanned when a request names none.
	DefaultMailbox = "INBOX"
	// MaxTimeRangeDays is the sentinel for "all time"; larger values are
	// clamped to it.
	MaxTimeRangeDays = 3650

	fetchChunkSize     = 100
	progressInterval   = 50
	pdfBatchSize       = 10
	maxReportedPercent = 99
)

// Orchestrator drives full and incremental mailbox scans against a Session,
// producing a finite event sequence per invocation. The streaming and
// non-streaming paths share one classification loop.
type Orchestrator struct {
	log *slog.Logger
	now func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{log: log, now: time.Now}
}

// scanState is the explicit per-invocation state threaded through the scan
// loop. Cumulative totals are seeded from the request's previous counts;
// sessionScanned counts only this invocation and drives progress cadence and
// ETA.
type scanState struct {
	totalScanned   int
	totalWithPdf   int
	sessionScanned int
	returned       int
	lastUID        uint32
	pending        []MessageSummary
	startedAt      time.Time
}

// Stream runs a scan and emits its events through emit. On failure a single
// scan_error event is emitted after which no further events follow; the
// session is not closed here — the caller owns it and releases it on every
// exit path.
func (o *Orchestrator) Stream(ctx context.Context, sess Session, req Request, emit EmitFunc) error {
	if err := o.run(ctx, sess, req, emit); err != nil {
		o.log.Error("scan failed",
			slog.String("category", string(CategoryOf(err))),
			slog.String("error", err.Error()),
		)
		// Best effort: the emit sink itself may be the failure.
		_ = emit(Event{Type: EventTypeError, Data: ErrorData{
			Code:    string(CategoryOf(err)),
			Message: err.Error(),
		}})
		return err
	}
	return nil
}

// Scan is the non-streaming variant: identical search, ordering, and
// classification logic, collected into one aggregate result.
func (o *Orchestrator) Scan(ctx context.Context, sess Session, req Request) (*Result, error) {
	result := &Result{Messages: []MessageSummary{}}
	collect := func(ev Event) error {
		switch data := ev.Data.(type) {
		case PdfBatchData:
			result.Messages = append(result.Messages, data.Messages...)
		case CompleteData:
			result.TotalScanned = data.TotalScanned
			result.TotalWithPdf = data.TotalWithPdf
			result.LastUID = data.LastUID
			result.HighestUID = data.HighestUID
		}
		return nil
	}
	if err := o.run(ctx, sess, req, collect); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, sess Session, req Request, emit EmitFunc) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	mailbox := req.Mailbox
	if mailbox == "" {
		mailbox = DefaultMailbox
	}

	if err := sess.Open(ctx, mailbox); err != nil {
		return WrapError(CategoryFetch, "opening mailbox "+mailbox, err)
	}
	status, err := sess.Status(ctx, mailbox)
	if err != nil {
		return WrapError(CategoryFetch, "fetching mailbox status", err)
	}

	uids, err := sess.SearchUIDs(ctx, buildCriteria(req, o.now()))
	if err != nil {
		return WrapError(CategorySearch, "searching mailbox", err)
	}

	// Newest first: users scanning large mailboxes see recent messages
	// before the backlog.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	// The newest UID the search covered, taken before resume filtering:
	// messages above the resume point were processed by the earlier run, so
	// the incremental cursor still advances past them.
	var highestUID uint32
	if len(uids) > 0 {
		highestUID = uids[0]
	}

	// Messages at or above the resume point were processed by an earlier
	// partial run of this newest-first scan; they are skipped without
	// counting toward any total.
	if req.ResumeAfterUID > 0 {
		remaining := uids[:0]
		for _, uid := range uids {
			if uid < req.ResumeAfterUID {
				remaining = append(remaining, uid)
			}
		}
		uids = remaining
	}

	if err := emit(Event{Type: EventTypeStart, Data: StartData{
		Mailbox:         mailbox,
		MailboxMessages: status.Messages,
		Candidates:      len(uids),
		Incremental:     req.Incremental(),
	}}); err != nil {
		return WrapError(CategoryInternal, "emitting start event", err)
	}

	state := &scanState{
		totalScanned: req.PreviousScannedCount,
		totalWithPdf: req.PreviousPdfCount,
		startedAt:    o.now(),
	}

	for start := 0; start < len(uids); start += fetchChunkSize {
		if err := ctx.Err(); err != nil {
			return WrapError(CategoryFetch, "scan cancelled", err)
		}
		end := start + fetchChunkSize
		if end > len(uids) {
			end = len(uids)
		}
		chunk := uids[start:end]

		batch, err := sess.FetchBatch(ctx, chunk, false)
		if err != nil {
			return WrapError(CategoryFetch, "fetching message batch", err)
		}
		// Servers may answer a batch in any order; process in our own.
		byUID := make(map[uint32]MessageData, len(batch))
		for _, msg := range batch {
			byUID[msg.UID] = msg
		}

		for _, uid := range chunk {
			msg, ok := byUID[uid]
			if !ok {
				continue
			}
			if err := o.processMessage(state, req, msg, emit); err != nil {
				return err
			}
			if state.sessionScanned%progressInterval == 0 {
				if err := o.emitProgress(state, len(uids), emit); err != nil {
					return err
				}
			}
		}
	}

	// Drain the final partial batch before completing.
	if err := flushBatch(state, emit); err != nil {
		return err
	}
	return emit(Event{Type: EventTypeComplete, Data: CompleteData{
		TotalScanned: state.totalScanned,
		TotalWithPdf: state.totalWithPdf,
		Returned:     state.returned,
		LastUID:      state.lastUID,
		HighestUID:   highestUID,
	}})
}

// processMessage classifies one message and updates the scan state. A
// malformed or absent structure tree short-circuits to "no attachments"
// rather than aborting the scan.
func (o *Orchestrator) processMessage(state *scanState, req Request, msg MessageData, emit EmitFunc) error {
	state.lastUID = msg.UID
	state.totalScanned++
	state.sessionScanned++

	descriptors := Walk(msg.Structure)
	if len(descriptors) == 0 {
		return nil
	}
	state.totalWithPdf++

	// The cap limits payload volume, not classification accuracy: counting
	// continues after the returned set is full.
	if req.MaxResults > 0 && state.returned >= req.MaxResults {
		return nil
	}
	state.returned++
	state.pending = append(state.pending, summarize(msg, descriptors))
	if len(state.pending) >= pdfBatchSize {
		return flushBatch(state, emit)
	}
	return nil
}

func (o *Orchestrator) emitProgress(state *scanState, total int, emit EmitFunc) error {
	percent := 0
	if total > 0 {
		percent = state.sessionScanned * 100 / total
	}
	if percent > maxReportedPercent {
		percent = maxReportedPercent
	}
	return emit(Event{Type: EventTypeProgress, Data: ProgressData{
		Scanned:    state.sessionScanned,
		Total:      total,
		WithPdf:    state.totalWithPdf,
		Percent:    percent,
		LastUID:    state.lastUID,
		EtaSeconds: o.estimateEta(state, total),
	}})
}

// estimateEta projects elapsed wall time per scanned message over the
// remaining candidates.
func (o *Orchestrator) estimateEta(state *scanState, total int) int {
	if state.sessionScanned == 0 {
		return 0
	}
	remaining := total - state.sessionScanned
	if remaining <= 0 {
		return 0
	}
	elapsed := o.now().Sub(state.startedAt)
	perMessage := elapsed / time.Duration(state.sessionScanned)
	return int((perMessage * time.Duration(remaining)).Round(time.Second) / time.Second)
}

func flushBatch(state *scanState, emit EmitFunc) error {
	if len(state.pending) == 0 {
		return nil
	}
	batch := state.pending
	state.pending = nil
	return emit(Event{Type: EventTypePdfBatch, Data: PdfBatchData{Messages: batch}})
}

func validateRequest(req Request) error {
	if !req.Incremental() && req.TimeRangeDays <= 0 {
		return NewError(CategoryInvalidRequest, "either time_range_days or since_uid is required")
	}
	if req.MaxResults < 0 {
		return NewError(CategoryInvalidRequest, "max_results must not be negative")
	}
	return nil
}

// buildCriteria maps the request onto the collaborator's search predicate.
// Incremental mode ignores the date bound entirely.
func buildCriteria(req Request, now time.Time) SearchCriteria {
	criteria := SearchCriteria{
		FromContains:    req.FromContains,
		SubjectContains: req.SubjectContains,
	}
	if req.Incremental() {
		criteria.UIDGreaterThan = req.SinceUID
		return criteria
	}
	days := req.TimeRangeDays
	if days > MaxTimeRangeDays {
		days = MaxTimeRangeDays
	}
	criteria.SinceDate = now.AddDate(0, 0, -days)
	return criteria
}
