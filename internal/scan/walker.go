package scan

import (
	"strconv"
	"strings"
)

const pdfMimeType = "application/pdf"

// Walk traverses a MIME structure tree depth-first in document order and
// returns a descriptor for every PDF leaf, each carrying its dotted part
// path. The children of the root multipart container are parts "1", "2", ...;
// a bare non-multipart root body is part "1". The input tree is never
// mutated; a nil tree yields no descriptors.
func Walk(root *MimeNode) []PdfAttachmentDescriptor {
	if root == nil {
		return nil
	}
	if len(root.Children) == 0 {
		return classifyLeaf(root, "1")
	}
	return walkChildren(root, "")
}

func walkChildren(parent *MimeNode, prefix string) []PdfAttachmentDescriptor {
	var found []PdfAttachmentDescriptor
	for i, child := range parent.Children {
		path := childPath(prefix, i+1)
		if len(child.Children) > 0 {
			found = append(found, walkChildren(child, path)...)
			continue
		}
		found = append(found, classifyLeaf(child, path)...)
	}
	return found
}

// classifyLeaf reports the leaf as a PDF attachment when its MIME type says
// so OR its filename ends in ".pdf". The OR is deliberate: some senders
// mislabel the MIME type but name the file correctly. Multipart containers
// are never attachments regardless of name.
func classifyLeaf(node *MimeNode, path string) []PdfAttachmentDescriptor {
	if node.IsMultipart() || !isPdfLeaf(node) {
		return nil
	}
	return []PdfAttachmentDescriptor{{
		Filename:         node.Filename,
		MimeType:         node.Kind,
		SizeBytes:        node.SizeBytes,
		PartPath:         path,
		TransferEncoding: node.TransferEncoding,
	}}
}

func isPdfLeaf(node *MimeNode) bool {
	if strings.EqualFold(node.Kind, pdfMimeType) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(node.Filename), ".pdf")
}

func childPath(prefix string, index int) string {
	if prefix == "" {
		return strconv.Itoa(index)
	}
	return prefix + "." + strconv.Itoa(index)
}

// FindNode resolves a dotted part path within a structure tree, returning nil
// when the path does not address a node.
func FindNode(root *MimeNode, partPath string) *MimeNode {
	if root == nil || partPath == "" {
		return nil
	}
	if len(root.Children) == 0 {
		if partPath == "1" {
			return root
		}
		return nil
	}
	node := root
	for _, segment := range strings.Split(partPath, ".") {
		index, err := strconv.Atoi(segment)
		if err != nil || index < 1 || index > len(node.Children) {
			return nil
		}
		node = node.Children[index-1]
	}
	return node
}
