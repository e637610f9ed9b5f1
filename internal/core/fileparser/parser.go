// Package fileparser turns uploaded files into plain text plus structural metadata.
package fileparser

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

var _ core.FileParser = (*Parser)(nil)

// extractFunc is one parser variant. It returns the text and the variant's metadata.
type extractFunc func(ctx context.Context, f core.File) (string, map[string]any, error)

// Parser dispatches to a format specific extractor chosen by DetectType.
type Parser struct {
	previewRows int
	variants    map[FileType]extractFunc
	log         *logrus.Entry
}

// Option configures a Parser.
type Option func(*Parser)

// WithPreviewRows sets how many CSV data rows are rendered into the content.
func WithPreviewRows(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.previewRows = n
		}
	}
}

// New creates a Parser with every supported variant registered.
func New(opts ...Option) *Parser {
	p := &Parser{
		previewRows: 5,
		log:         logrus.WithField("component", "fileparser"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.variants = map[FileType]extractFunc{
		TypePDF:      p.parsePDF,
		TypeDocx:     p.parseWord,
		TypeDoc:      p.parseWord,
		TypeXlsx:     p.parseExcel,
		TypePptx:     p.parsePowerPoint,
		TypePpt:      p.parsePowerPoint,
		TypeText:     p.parseText,
		TypeMarkdown: p.parseText,
		TypeCSV:      p.parseCSV,
		TypeJSON:     p.parseJSON,
		TypeXML:      p.parseXML,
		TypeHTML:     p.parseHTML,
		TypeRTF:      p.parseRTF,
	}
	return p
}

// Parse never panics and never returns an error: failures are reported as
// Success=false with an empty Content.
func (p *Parser) Parse(ctx context.Context, f core.File) (res core.ParsedResult) {
	typ := DetectType(f.Name, f.MIMEType)

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"file": f.Name, "type": typ}).Errorf("parser panic: %v", r)
			res = failed(fmt.Errorf("failed to parse %s: %v", f.Name, r))
		}
	}()

	extract, ok := p.variants[typ]
	if !ok {
		extract = p.parseText
	}

	text, meta, err := extract(ctx, f)
	if err != nil {
		p.log.WithFields(logrus.Fields{"file": f.Name, "type": typ}).Warnf("extraction failed: %v", err)
		return failed(err)
	}

	text = sanitizeText(text)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["fileName"] = f.Name
	meta["fileType"] = string(typ)
	meta["fileSize"] = f.Size
	meta["wordCount"] = len(strings.Fields(text))

	return core.ParsedResult{Content: text, Metadata: meta, Success: true}
}

// IsSupported reports whether the file can be parsed.
func (p *Parser) IsSupported(name, mimeType string) bool {
	return IsSupported(name, mimeType)
}

// SupportedExtensions lists the accepted extensions.
func (p *Parser) SupportedExtensions() []string {
	return SupportedExtensions()
}

// Describe labels the detected type of a file.
func (p *Parser) Describe(name, mimeType string) string {
	return Describe(DetectType(name, mimeType))
}

func failed(err error) core.ParsedResult {
	return core.ParsedResult{Success: false, Content: "", Error: err.Error()}
}

// sanitizeText drops invalid UTF-8 and NUL bytes, which Postgres text columns reject.
func sanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// collapseWhitespace folds every whitespace run into one space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
