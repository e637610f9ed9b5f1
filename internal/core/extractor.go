package core

import (
	"context"
)

// File is an upload handed to the ingestion pipeline.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

// ParsedResult is the outcome of text extraction. Success=false always comes
// with an empty Content and a non-empty Error.
type ParsedResult struct {
	Content  string
	Metadata map[string]any
	Success  bool
	Error    string
}

// FileParser extracts plain text and structural metadata from a file.
type FileParser interface {
	Parse(ctx context.Context, f File) ParsedResult
	IsSupported(name, mimeType string) bool
	SupportedExtensions() []string
	Describe(name, mimeType string) string
}
