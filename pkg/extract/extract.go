// Package extract turns uploaded files into plain text documents.
//
// Uploads arrive as metadata plus a fetchable URL. The extractor downloads
// the bytes, picks a parser from the file-type tag (pdf, docx, xlsx, json,
// anything else is treated as plain text) and produces Documents ready for
// session storage and retrieval indexing. Files that yield no text are
// skipped rather than failing the batch.
package extract

import (
	"strings"
)

// Document is one extracted document owned by a session.
type Document struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Content  string `json:"content,omitempty"`
	FileType string `json:"file_type"`
	FileURL  string `json:"file_url,omitempty"`
	Size     int64  `json:"size"`
}

// Upload is the client-supplied metadata for one file to ingest.
type Upload struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// FileTypeOf derives the file-type tag from a filename. Extension after the
// last dot, lowercased; files without an extension are treated as text.
func FileTypeOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "txt"
	}
	return strings.ToLower(filename[idx+1:])
}

// Text extracts plain text from raw file bytes according to the file type.
// Unknown types fall back to plain-text decoding.
func Text(fileType string, data []byte) (string, error) {
	switch fileType {
	case "pdf":
		return pdfText(data)
	case "docx":
		return docxText(data)
	case "xlsx":
		return xlsxText(data)
	case "json":
		return jsonText(data)
	default:
		return txtText(data)
	}
}

// supportedTypes are the extensions picked up by directory loading. Explicit
// uploads accept anything (unknown types decode as text).
var supportedTypes = map[string]bool{
	"pdf":  true,
	"docx": true,
	"xlsx": true,
	"json": true,
	"txt":  true,
	"md":   true,
}
