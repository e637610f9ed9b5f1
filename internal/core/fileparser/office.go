package fileparser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

// parsePDF reads every page with the pure Go reader and joins pages with a blank line.
// docconv (pdftotext) is tried when the pure Go reader cannot open the file or finds no text.
func (p *Parser) parsePDF(_ context.Context, f core.File) (string, map[string]any, error) {
	pages, err := pdfPages(f.Data)
	if err == nil && strings.TrimSpace(strings.Join(pages, "")) != "" {
		return strings.Join(pages, "\n\n"), map[string]any{
			"pageCount":        len(pages),
			"extractionMethod": "pdf",
		}, nil
	}

	body, meta, derr := docconv.ConvertPDF(bytes.NewReader(f.Data))
	if derr != nil {
		if err != nil {
			return "", nil, fmt.Errorf("failed to parse PDF %s: %w", f.Name, err)
		}
		return "", nil, fmt.Errorf("failed to parse PDF %s: %w", f.Name, derr)
	}
	out := map[string]any{"extractionMethod": "pdftotext"}
	if n := meta["Pages"]; n != "" {
		out["pageCount"] = n
	} else if len(pages) > 0 {
		out["pageCount"] = len(pages)
	}
	return body, out, nil
}

func pdfPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}

// parseWord tries docconv, then a direct read of word/document.xml, then the raw
// bytes as text, and finally settles for a placeholder. It never fails.
func (p *Parser) parseWord(_ context.Context, f core.File) (string, map[string]any, error) {
	meta := map[string]any{"hasImages": docxHasImages(f.Data)}

	var (
		text string
		err  error
	)
	if DetectType(f.Name, f.MIMEType) == TypeDoc {
		text, _, err = docconv.ConvertDoc(bytes.NewReader(f.Data))
	} else {
		text, _, err = docconv.ConvertDocx(bytes.NewReader(f.Data))
	}
	if err == nil && strings.TrimSpace(text) != "" {
		meta["extractionMethod"] = "docconv"
		return text, meta, nil
	}
	if err != nil {
		p.log.WithField("file", f.Name).Debugf("docconv word extraction failed: %v", err)
	}

	if text := docxText(f.Data); text != "" {
		meta["extractionMethod"] = "document.xml"
		return text, meta, nil
	}

	if raw, ok := usableRawText(f.Data); ok {
		meta["extractionMethod"] = "raw"
		return raw, meta, nil
	}

	meta["extractionMethod"] = "placeholder"
	return fmt.Sprintf("[Word document: %s] - Content extraction failed. Please convert to plain text format.", f.Name), meta, nil
}

func openZip(data []byte) (*zip.Reader, bool) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	return zr, err == nil
}

func docxHasImages(data []byte) bool {
	zr, ok := openZip(data)
	if !ok {
		return false
	}
	for _, zf := range zr.File {
		if strings.HasPrefix(zf.Name, "word/media/") {
			return true
		}
	}
	return false
}

type docxBody struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// docxText reads the paragraphs of word/document.xml, one line per paragraph.
func docxText(data []byte) string {
	zr, ok := openZip(data)
	if !ok {
		return ""
	}
	for _, zf := range zr.File {
		if zf.Name != "word/document.xml" {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return ""
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return ""
		}

		var doc docxBody
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return ""
		}
		lines := make([]string, 0, len(doc.Body.Paragraphs))
		for _, para := range doc.Body.Paragraphs {
			var b strings.Builder
			for _, r := range para.Runs {
				for _, t := range r.Text {
					b.WriteString(t)
				}
			}
			lines = append(lines, b.String())
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return ""
}

// usableRawText accepts data as text when it is valid UTF-8 and mostly printable.
func usableRawText(data []byte) (string, bool) {
	if !utf8.Valid(data) {
		return "", false
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", false
	}
	total, printable := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if printable*10 < total*9 {
		return "", false
	}
	return s, true
}

// parseExcel renders every sheet as tab separated rows under a "Sheet: <name>" header.
func (p *Parser) parseExcel(_ context.Context, f core.File) (string, map[string]any, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(f.Data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse Excel file %s: %w", f.Name, err)
	}
	defer wb.Close()

	var (
		b      strings.Builder
		sheets = wb.GetSheetList()
		tables = make(map[string][][]string, len(sheets))
	)
	for _, name := range sheets {
		rows, err := wb.GetRows(name)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read sheet %q of %s: %w", name, f.Name, err)
		}
		tables[name] = rows

		b.WriteString("Sheet: " + name + "\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return b.String(), map[string]any{
		"sheets": sheets,
		"tables": tables,
	}, nil
}

// parsePowerPoint is best effort: docconv handles .pptx, everything else gets a placeholder.
func (p *Parser) parsePowerPoint(_ context.Context, f core.File) (string, map[string]any, error) {
	if DetectType(f.Name, f.MIMEType) == TypePptx {
		text, _, err := docconv.ConvertPptx(bytes.NewReader(f.Data))
		if err == nil && strings.TrimSpace(text) != "" {
			return text, map[string]any{"extractionMethod": "docconv"}, nil
		}
		if err != nil {
			p.log.WithField("file", f.Name).Debugf("docconv pptx extraction failed: %v", err)
		}
	}

	return fmt.Sprintf("PowerPoint file: %s\n\nContent extraction not fully supported yet. Please convert to PDF or text format for better processing.", f.Name),
		map[string]any{"extractionMethod": "placeholder"}, nil
}
