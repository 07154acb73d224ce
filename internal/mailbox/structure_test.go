package mailbox

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"mailscan/internal/scan"
)

func TestNodeFromSinglePart(t *testing.T) {
	part := &imap.BodyStructureSinglePart{
		Type:     "application",
		Subtype:  "pdf",
		Params:   map[string]string{"name": "inv.pdf"},
		Encoding: "base64",
		Size:     4096,
	}

	node := nodeFromStructure(part)
	if node == nil {
		t.Fatal("nodeFromStructure returned nil")
	}
	if node.Kind != "application/pdf" {
		t.Errorf("Kind = %q, want application/pdf", node.Kind)
	}
	if node.Filename != "inv.pdf" {
		t.Errorf("Filename = %q, want inv.pdf", node.Filename)
	}
	if node.SizeBytes != 4096 {
		t.Errorf("SizeBytes = %d, want 4096", node.SizeBytes)
	}
	if node.TransferEncoding != "base64" {
		t.Errorf("TransferEncoding = %q, want base64", node.TransferEncoding)
	}
	if node.IsMultipart() {
		t.Error("single part reported as multipart")
	}
}

func TestNodeFromMultiPart(t *testing.T) {
	structure := &imap.BodyStructureMultiPart{
		Subtype: "mixed",
		Children: []imap.BodyStructure{
			&imap.BodyStructureSinglePart{Type: "text", Subtype: "plain", Encoding: "7bit"},
			&imap.BodyStructureSinglePart{
				Type: "application", Subtype: "pdf",
				Params:   map[string]string{"name": "report.pdf"},
				Encoding: "base64", Size: 2048,
			},
		},
	}

	node := nodeFromStructure(structure)
	if node == nil {
		t.Fatal("nodeFromStructure returned nil")
	}
	if !node.IsMultipart() {
		t.Fatalf("Kind = %q, expected multipart container", node.Kind)
	}
	if len(node.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(node.Children))
	}

	descriptors := scan.Walk(node)
	if len(descriptors) != 1 {
		t.Fatalf("descriptors = %v, want one PDF", descriptors)
	}
	if descriptors[0].PartPath != "2" || descriptors[0].Filename != "report.pdf" {
		t.Errorf("descriptor = %+v, want part 2 / report.pdf", descriptors[0])
	}
}

func TestNodeFromNilStructure(t *testing.T) {
	if node := nodeFromStructure(nil); node != nil {
		t.Errorf("nodeFromStructure(nil) = %v, want nil", node)
	}
}

func TestEnvelopeFromBuffer(t *testing.T) {
	date := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	env := &imap.Envelope{
		Subject: "Invoice 42",
		Date:    date,
		From: []imap.Address{
			{Name: "Billing", Mailbox: "billing", Host: "example.com"},
		},
	}

	got := envelopeFromBuffer(env)
	if got.Subject != "Invoice 42" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if !got.Date.Equal(date) {
		t.Errorf("Date = %v, want %v", got.Date, date)
	}
	if len(got.From) != 1 || got.From[0].Address != "billing@example.com" || got.From[0].Name != "Billing" {
		t.Errorf("From = %+v", got.From)
	}
}

func TestEnvelopeFromNilBuffer(t *testing.T) {
	got := envelopeFromBuffer(nil)
	if got.Subject != "" || len(got.From) != 0 {
		t.Errorf("envelopeFromBuffer(nil) = %+v, want zero value", got)
	}
}

func TestParsePartPath(t *testing.T) {
	cases := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"1", []int{1}, false},
		{"2.1", []int{2, 1}, false},
		{"3.2.14", []int{3, 2, 14}, false},
		{"", nil, true},
		{"0", nil, true},
		{"a.b", nil, true},
		{"1..2", nil, true},
		{"-1", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parsePartPath(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parsePartPath(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if tc.wantErr {
				if scan.CategoryOf(err) != scan.CategoryInvalidRequest {
					t.Errorf("category = %v, want %v", scan.CategoryOf(err), scan.CategoryInvalidRequest)
				}
				return
			}
			if len(got) != len(tc.want) {
				t.Fatalf("parsePartPath(%q) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("parsePartPath(%q) = %v, want %v", tc.in, got, tc.want)
				}
			}
		})
	}
}
