// Package mailbox implements the scan.Session collaborator over IMAP using
// go-imap v2. One session wraps one authenticated IMAP connection.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"mailscan/internal/scan"
)

// Dialer opens authenticated IMAP sessions.
type Dialer struct {
	log *slog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{log: log}
}

// Dial connects to the IMAP server, authenticates, and returns the session.
// The caller owns the session and must Close it on every exit path.
func (d *Dialer) Dial(ctx context.Context, cfg scan.ConnectConfig) (scan.Session, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	options := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	var client *imapclient.Client
	var err error
	switch {
	case cfg.TLS && cfg.DialTimeout > 0:
		dialer := &net.Dialer{Timeout: cfg.DialTimeout}
		var conn net.Conn
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, nil)
		if err == nil {
			client = imapclient.New(conn, options)
		}
	case cfg.TLS:
		client, err = imapclient.DialTLS(addr, options)
	default:
		client, err = imapclient.DialStartTLS(addr, options)
	}
	if err != nil {
		return nil, scan.WrapError(scan.CategoryConnect, "connecting to "+addr, err)
	}

	if err := client.Login(cfg.Credentials.Username, cfg.Credentials.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, scan.ClassifyLoginError(err)
	}

	d.log.Debug("imap session established", slog.String("host", cfg.Host))
	return &session{client: client, log: d.log}, nil
}

type session struct {
	client    *imapclient.Client
	log       *slog.Logger
	closeOnce sync.Once
}

func (s *session) Status(_ context.Context, mailbox string) (scan.MailboxStatus, error) {
	data, err := s.client.Status(mailbox, &imap.StatusOptions{
		NumMessages: true,
		NumUnseen:   true,
	}).Wait()
	if err != nil {
		return scan.MailboxStatus{}, fmt.Errorf("STATUS %s: %w", mailbox, err)
	}
	status := scan.MailboxStatus{}
	if data.NumMessages != nil {
		status.Messages = *data.NumMessages
	}
	if data.NumUnseen != nil {
		status.Unseen = *data.NumUnseen
	}
	return status, nil
}

func (s *session) Open(_ context.Context, mailbox string) error {
	if _, err := s.client.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %s: %w", mailbox, err)
	}
	return nil
}

func (s *session) SearchUIDs(_ context.Context, c scan.SearchCriteria) ([]uint32, error) {
	criteria := &imap.SearchCriteria{}
	if c.UIDGreaterThan > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: imap.UID(c.UIDGreaterThan + 1), Stop: 0}}}
	} else if !c.SinceDate.IsZero() {
		criteria.Since = c.SinceDate
	}
	if c.FromContains != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: c.FromContains})
	}
	if c.SubjectContains != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: c.SubjectContains})
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID SEARCH: %w", err)
	}
	imapUIDs := data.AllUIDs()
	uids := make([]uint32, len(imapUIDs))
	for i, uid := range imapUIDs {
		uids[i] = uint32(uid)
	}
	return uids, nil
}

func (s *session) FetchBatch(_ context.Context, uids []uint32, withSource bool) ([]scan.MessageData, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	set := imap.UIDSet{}
	for _, uid := range uids {
		set.AddNum(imap.UID(uid))
	}

	options := &imap.FetchOptions{
		UID:           true,
		Envelope:      true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	}
	var bodySection *imap.FetchItemBodySection
	if withSource {
		bodySection = &imap.FetchItemBodySection{Peek: true}
		options.BodySection = []*imap.FetchItemBodySection{bodySection}
	}

	cmd := s.client.Fetch(set, options)

	var out []scan.MessageData
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			// An unreadable message aborts only itself, not the batch.
			s.log.Debug("skipping unreadable message", slog.String("error", err.Error()))
			continue
		}
		data := scan.MessageData{
			UID:       uint32(buf.UID),
			Envelope:  envelopeFromBuffer(buf.Envelope),
			Structure: nodeFromStructure(buf.BodyStructure),
		}
		if bodySection != nil {
			data.RawSource = buf.FindBodySection(bodySection)
		}
		out = append(out, data)
	}
	// Sole closer: the command error must not be discarded by a deferred
	// second close.
	if err := cmd.Close(); err != nil {
		return out, fmt.Errorf("UID FETCH: %w", err)
	}
	return out, nil
}

func (s *session) DownloadPart(_ context.Context, uid uint32, partPath string) ([]byte, error) {
	part, err := parsePartPath(partPath)
	if err != nil {
		return nil, err
	}
	section := &imap.FetchItemBodySection{Part: part, Peek: true}
	cmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})

	msg := cmd.Next()
	if msg == nil {
		_ = cmd.Close()
		return nil, scan.NewError(scan.CategoryNotFound, fmt.Sprintf("message %d not found", uid))
	}
	buf, err := msg.Collect()
	if err != nil {
		_ = cmd.Close()
		return nil, fmt.Errorf("collecting part %s of message %d: %w", partPath, uid, err)
	}
	data := buf.FindBodySection(section)
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("UID FETCH BODY[%s]: %w", partPath, err)
	}
	if data == nil {
		return nil, fmt.Errorf("server returned no data for part %s of message %d", partPath, uid)
	}
	return data, nil
}

// Close logs out exactly once. A failure during cleanup is swallowed so it
// never masks the primary error of the request.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.client.Logout().Wait(); err != nil {
			s.log.Debug("imap logout failed", slog.String("error", err.Error()))
			_ = s.client.Close()
		}
	})
	return nil
}

func parsePartPath(partPath string) ([]int, error) {
	if partPath == "" {
		return nil, scan.NewError(scan.CategoryInvalidRequest, "part path is required")
	}
	var part []int
	for _, segment := range strings.Split(partPath, ".") {
		index, err := strconv.Atoi(segment)
		if err != nil || index < 1 {
			return nil, scan.NewError(scan.CategoryInvalidRequest, "invalid part path "+strconv.Quote(partPath))
		}
		part = append(part, index)
	}
	return part, nil
}
