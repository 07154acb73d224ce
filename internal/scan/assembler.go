package scan

import (
	"regexp"
	"strconv"
	"strings"
)

// syntheticFilename names a PDF part that carried no filename of its own.
// Applied at the consumption site, never inside the walker.
const syntheticFilename = "document.pdf"

const snippetLength = 200

// FormatAddress renders an address as "Name <user@host>", or the bare
// "user@host" when no display name is present.
func FormatAddress(a Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// FormatAddressList joins formatted addresses with ", ".
func FormatAddressList(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, FormatAddress(a))
	}
	return strings.Join(parts, ", ")
}

// summarize builds the scan result entry for one PDF-bearing message.
func summarize(msg MessageData, descriptors []PdfAttachmentDescriptor) MessageSummary {
	return MessageSummary{
		UID:         msg.UID,
		Subject:     msg.Envelope.Subject,
		From:        FormatAddressList(msg.Envelope.From),
		Date:        msg.Envelope.Date,
		Attachments: normalizeDescriptors(descriptors),
	}
}

// BuildDetail assembles the single-message view from a fetch that included
// the raw source. The snippet is the first 200 characters of the text body.
func BuildDetail(msg MessageData) Detail {
	text, html := ExtractBodies(msg.RawSource)
	return Detail{
		UID:         msg.UID,
		Subject:     msg.Envelope.Subject,
		From:        FormatAddressList(msg.Envelope.From),
		Date:        msg.Envelope.Date,
		Attachments: normalizeDescriptors(Walk(msg.Structure)),
		TextBody:    text,
		HTMLBody:    html,
		Snippet:     Snippet(text),
	}
}

func normalizeDescriptors(descriptors []PdfAttachmentDescriptor) []PdfAttachmentDescriptor {
	out := make([]PdfAttachmentDescriptor, len(descriptors))
	for i, d := range descriptors {
		if d.Filename == "" {
			d.Filename = syntheticFilename
		}
		out[i] = d
	}
	return out
}

// Snippet returns the first 200 characters of text, rune-safe.
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength])
}

var (
	softBreakPattern = regexp.MustCompile(`=\r?\n`)
	hexEscapePattern = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)
)

// DecodeQuotedPrintable decodes =XX hex escapes and removes soft line breaks
// (=\r\n). It is deliberately forgiving: malformed escapes pass through
// unchanged rather than failing the extraction.
func DecodeQuotedPrintable(s string) string {
	s = softBreakPattern.ReplaceAllString(s, "")
	return hexEscapePattern.ReplaceAllStringFunc(s, func(match string) string {
		value, err := strconv.ParseUint(match[1:], 16, 8)
		if err != nil {
			return match
		}
		// Raw byte, not a code point: adjacent escapes must reassemble
		// into multibyte UTF-8 sequences.
		return string([]byte{byte(value)})
	})
}

var (
	textPartPattern = regexp.MustCompile(`(?i)content-type:\s*text/plain`)
	htmlPartPattern = regexp.MustCompile(`(?i)content-type:\s*text/html`)
	qpHeaderPattern = regexp.MustCompile(`(?i)content-transfer-encoding:\s*quoted-printable`)
)

// ExtractBodies pulls the plain and HTML bodies out of a raw message source.
// This is a best-effort, pattern-based extraction, not a MIME parser: each
// body runs from the blank line after its content-type header block to the
// first multipart boundary marker that follows (or end of input).
func ExtractBodies(raw []byte) (textBody, htmlBody string) {
	source := string(raw)
	textBody = extractSection(source, textPartPattern)
	htmlBody = extractSection(source, htmlPartPattern)
	return textBody, htmlBody
}

func extractSection(source string, headerPattern *regexp.Regexp) string {
	loc := headerPattern.FindStringIndex(source)
	if loc == nil {
		return ""
	}
	rest := source[loc[1]:]

	// The part body starts after the first blank line following the header
	// block.
	bodyStart := strings.Index(rest, "\r\n\r\n")
	sepLen := 4
	if bodyStart < 0 {
		bodyStart = strings.Index(rest, "\n\n")
		sepLen = 2
	}
	if bodyStart < 0 {
		return ""
	}
	headerBlock := rest[:bodyStart]
	body := rest[bodyStart+sepLen:]

	// Bounded by the first boundary marker after the header block.
	if end := strings.Index(body, "\r\n--"); end >= 0 {
		body = body[:end]
	} else if end := strings.Index(body, "\n--"); end >= 0 {
		body = body[:end]
	}

	body = strings.TrimRight(body, "\r\n")
	if qpHeaderPattern.MatchString(headerBlock) {
		body = DecodeQuotedPrintable(body)
	}
	return body
}
