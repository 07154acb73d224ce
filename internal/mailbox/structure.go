package mailbox

import (
	"github.com/emersion/go-imap/v2"

	"mailscan/internal/scan"
)

// nodeFromStructure converts a BODYSTRUCTURE response into the scan package's
// structure tree. Single parts resolve their filename the way the server
// advertises it: disposition filename first, then the content-type name
// parameter. A nil or unrecognized structure yields nil, which downstream
// classification treats as "no attachments".
func nodeFromStructure(bs imap.BodyStructure) *scan.MimeNode {
	switch part := bs.(type) {
	case *imap.BodyStructureSinglePart:
		return &scan.MimeNode{
			Kind:             part.MediaType(),
			Filename:         part.Filename(),
			SizeBytes:        int64(part.Size),
			TransferEncoding: part.Encoding,
		}
	case *imap.BodyStructureMultiPart:
		node := &scan.MimeNode{Kind: part.MediaType()}
		for _, child := range part.Children {
			if converted := nodeFromStructure(child); converted != nil {
				node.Children = append(node.Children, converted)
			}
		}
		return node
	default:
		return nil
	}
}

// envelopeFromBuffer extracts the summary header fields from a fetch buffer
// envelope.
func envelopeFromBuffer(env *imap.Envelope) scan.Envelope {
	if env == nil {
		return scan.Envelope{}
	}
	out := scan.Envelope{
		Subject: env.Subject,
		Date:    env.Date,
	}
	for _, from := range env.From {
		out.From = append(out.From, scan.Address{
			Name:    from.Name,
			Address: from.Addr(),
		})
	}
	return out
}

// compile-time check that session satisfies the collaborator contract.
var _ scan.Session = (*session)(nil)
