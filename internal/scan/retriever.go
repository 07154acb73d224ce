package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"strings"
	"time"
)

// pdfMagic is the required first four bytes of a valid payload. Some servers
// return HTML error bodies through an otherwise successful download, so the
// transport succeeding is not enough.
var pdfMagic = []byte("%PDF")

const (
	retrieveAttempts    = 3
	retrieveBackoffBase = time.Second
)

// Retriever fetches one attachment's binary content by UID and part path. It
// performs no classification: it trusts a previously discovered part path and
// falls back to rediscovery through Locate only when that path fails.
type Retriever struct {
	log         *slog.Logger
	attempts    int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetriever creates a Retriever with the default retry budget.
func NewRetriever(log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{
		log:         log,
		attempts:    retrieveAttempts,
		backoffBase: retrieveBackoffBase,
		sleep:       sleepContext,
	}
}

// Retrieve downloads and validates the attachment at (uid, partPath), with at
// most three attempts and exponential backoff between them. Exhausting the
// budget fails with DOWNLOAD_FAILED carrying the last underlying error.
func (r *Retriever) Retrieve(ctx context.Context, sess Session, uid uint32, partPath string) ([]byte, error) {
	var lastErr error
	backoff := r.backoffBase
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, WrapError(CategoryDownload, "attachment retrieval cancelled", err)
			}
			backoff *= 2
		}
		data, err := r.attempt(ctx, sess, uid, partPath)
		if err == nil {
			return data, nil
		}
		lastErr = err
		r.log.Warn("attachment retrieval attempt failed",
			slog.Uint64("uid", uint64(uid)),
			slog.String("part_path", partPath),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, WrapError(CategoryDownload,
		fmt.Sprintf("attachment %s of message %d failed after %d attempts", partPath, uid, r.attempts),
		lastErr)
}

// attempt tries the remembered part path directly, then re-fetches the
// structure and walks the ranked candidate list in order. Each candidate is a
// typed success-or-move-on step; no control flow via panics or sentinel
// aborts.
func (r *Retriever) attempt(ctx context.Context, sess Session, uid uint32, partPath string) ([]byte, error) {
	data, directErr := r.download(ctx, sess, uid, partPath, "")
	if directErr == nil {
		return data, nil
	}

	batch, err := sess.FetchBatch(ctx, []uint32{uid}, false)
	if err != nil {
		return nil, WrapError(CategoryFetch, "re-fetching message structure", err)
	}
	if len(batch) == 0 {
		return nil, NewError(CategoryNotFound, fmt.Sprintf("message %d not found", uid))
	}
	structure := batch[0].Structure

	candidates, err := Locate(structure)
	if err != nil {
		return nil, err
	}
	lastErr := directErr
	for _, candidate := range candidates {
		if candidate == partPath {
			// Already tried directly.
			continue
		}
		encoding := ""
		if node := FindNode(structure, candidate); node != nil {
			encoding = node.TransferEncoding
		}
		data, err := r.download(ctx, sess, uid, candidate, encoding)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// download fetches one part and validates the decoded payload. A payload that
// is empty or does not start with %PDF counts as a failed attempt even though
// the transport succeeded.
func (r *Retriever) download(ctx context.Context, sess Session, uid uint32, partPath, encoding string) ([]byte, error) {
	raw, err := sess.DownloadPart(ctx, uid, partPath)
	if err != nil {
		return nil, err
	}
	data, err := decodePart(raw, encoding)
	if err != nil {
		return nil, fmt.Errorf("decoding part %s: %w", partPath, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload for part %s", partPath)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, fmt.Errorf("payload for part %s is not a PDF", partPath)
	}
	return data, nil
}

// decodePart reverses the part's content transfer encoding. When the encoding
// is unknown (the direct-path case, where no structure was fetched) a payload
// that does not already look like a PDF is speculatively base64-decoded,
// since binary parts are normally transported that way.
func decodePart(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "base64":
		return decodeBase64(raw)
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
	case "7bit", "8bit", "binary":
		return raw, nil
	case "":
		if bytes.HasPrefix(raw, pdfMagic) {
			return raw, nil
		}
		if decoded, err := decodeBase64(raw); err == nil {
			return decoded, nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}

func decodeBase64(raw []byte) ([]byte, error) {
	compact := make([]byte, 0, len(raw))
	for _, b := range raw {
		switch b {
		case '\r', '\n', ' ', '\t':
		default:
			compact = append(compact, b)
		}
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(compact)))
	n, err := base64.StdEncoding.Decode(decoded, compact)
	if err != nil {
		return nil, err
	}
	return decoded[:n], nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
