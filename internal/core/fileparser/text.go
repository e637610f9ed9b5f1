package fileparser

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

var (
	xmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
	xmlDeclPattern = regexp.MustCompile(`(?s)<\?.*?\?>|<!--.*?-->|<!\[CDATA\[|\]\]>`)

	rtfGroupPattern   = regexp.MustCompile(`\{\\(?:\*|fonttbl|colortbl|stylesheet|info)[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	rtfHexPattern     = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
	rtfControlPattern = regexp.MustCompile(`\\[a-zA-Z]+-?\d*\s?`)
	rtfSymbolPattern  = regexp.MustCompile(`\\[^a-zA-Z\s]`)
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (p *Parser) parseText(_ context.Context, f core.File) (string, map[string]any, error) {
	return string(bytes.TrimPrefix(f.Data, utf8BOM)), nil, nil
}

// parseCSV renders the header and a preview of the first rows, not the whole dataset.
func (p *Parser) parseCSV(_ context.Context, f core.File) (string, map[string]any, error) {
	records := readCSV(bytes.TrimPrefix(f.Data, utf8BOM))
	if len(records) == 0 {
		return "", map[string]any{"structure": map[string]any{"headers": []string{}, "rowCount": 0, "columnCount": 0}}, nil
	}

	headers := records[0]
	rows := records[1:]

	var b strings.Builder
	fmt.Fprintf(&b, "CSV Data from %s\n\n", f.Name)
	fmt.Fprintf(&b, "Headers: %s\n\n", strings.Join(headers, ", "))
	for i, row := range rows {
		if i >= p.previewRows {
			break
		}
		fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(row, ", "))
	}
	if len(rows) > p.previewRows {
		fmt.Fprintf(&b, "\n... and %d more rows", len(rows)-p.previewRows)
	}

	return b.String(), map[string]any{
		"structure": map[string]any{
			"headers":     headers,
			"rowCount":    len(rows),
			"columnCount": len(headers),
		},
	}, nil
}

// readCSV parses with encoding/csv and falls back to a plain comma split for
// input the csv reader rejects.
func readCSV(data []byte) [][]string {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return trimRecords(out)
		}
		if err != nil {
			break
		}
		out = append(out, rec)
	}

	out = out[:0]
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.Split(line, ","))
	}
	return trimRecords(out)
}

func trimRecords(records [][]string) [][]string {
	for _, rec := range records {
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
	}
	return records
}

// parseJSON pretty prints valid JSON. Invalid JSON is kept as raw text behind a notice.
func (p *Parser) parseJSON(_ context.Context, f core.File) (string, map[string]any, error) {
	raw := bytes.TrimPrefix(f.Data, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Sprintf("Invalid JSON file: %s\n\nRaw content:\n%s", f.Name, raw), map[string]any{"validJSON": false}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", nil, fmt.Errorf("failed to format JSON %s: %w", f.Name, err)
	}

	return fmt.Sprintf("JSON Data from %s\n\n%s", f.Name, strings.TrimRight(buf.String(), "\n")),
		map[string]any{"validJSON": true, "structure": jsonStructure(v)}, nil
}

func jsonStructure(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return map[string]any{"type": "object", "keys": keys}
	case []any:
		return map[string]any{"type": "array", "length": len(t)}
	case string:
		return map[string]any{"type": "string"}
	case float64:
		return map[string]any{"type": "number"}
	case bool:
		return map[string]any{"type": "boolean"}
	default:
		return map[string]any{"type": "null"}
	}
}

// parseXML strips tags and collapses whitespace.
func (p *Parser) parseXML(_ context.Context, f core.File) (string, map[string]any, error) {
	s := string(bytes.TrimPrefix(f.Data, utf8BOM))
	s = xmlDeclPattern.ReplaceAllString(s, " ")
	s = xmlTagPattern.ReplaceAllString(s, " ")
	s = collapseWhitespace(html.UnescapeString(s))
	if s == "" {
		return "", nil, nil
	}
	return fmt.Sprintf("XML Content from %s\n\n%s", f.Name, s), nil, nil
}

// parseHTML removes script and style blocks and keeps the remaining text nodes.
func (p *Parser) parseHTML(_ context.Context, f core.File) (string, map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(f.Data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse HTML %s: %w", f.Name, err)
	}
	meta := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	return HTMLText(doc.Selection), meta, nil
}

// HTMLText returns the visible text below sel with whitespace collapsed.
// script, style and noscript elements are removed from sel's document.
func HTMLText(sel *goquery.Selection) string {
	sel.Find("script, style, noscript").Remove()

	var parts []string
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return collapseWhitespace(strings.Join(parts, " "))
}

// parseRTF removes control words, hex escapes and braces.
func (p *Parser) parseRTF(_ context.Context, f core.File) (string, map[string]any, error) {
	s := string(f.Data)
	s = rtfGroupPattern.ReplaceAllString(s, " ")
	s = rtfHexPattern.ReplaceAllString(s, "")
	s = rtfControlPattern.ReplaceAllString(s, "")
	s = rtfSymbolPattern.ReplaceAllString(s, "")
	s = strings.NewReplacer("{", "", "}", "").Replace(s)
	return collapseWhitespace(s), nil, nil
}
