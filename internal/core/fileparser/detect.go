package fileparser

import (
	"path/filepath"
	"strings"
)

// FileType is the parser variant chosen for a file.
type FileType string

const (
	TypePDF      FileType = "pdf"
	TypeDocx     FileType = "docx"
	TypeDoc      FileType = "doc"
	TypeXlsx     FileType = "xlsx"
	TypePptx     FileType = "pptx"
	TypePpt      FileType = "ppt"
	TypeText     FileType = "txt"
	TypeMarkdown FileType = "md"
	TypeCSV      FileType = "csv"
	TypeJSON     FileType = "json"
	TypeXML      FileType = "xml"
	TypeHTML     FileType = "html"
	TypeRTF      FileType = "rtf"
)

var extensionTypes = map[string]FileType{
	"pdf":      TypePDF,
	"docx":     TypeDocx,
	"doc":      TypeDoc,
	"xlsx":     TypeXlsx,
	"pptx":     TypePptx,
	"ppt":      TypePpt,
	"txt":      TypeText,
	"md":       TypeMarkdown,
	"markdown": TypeMarkdown,
	"csv":      TypeCSV,
	"json":     TypeJSON,
	"xml":      TypeXML,
	"html":     TypeHTML,
	"htm":      TypeHTML,
	"rtf":      TypeRTF,
}

// supportedExtensions is the user-facing list, in display order.
var supportedExtensions = []string{
	"pdf", "docx", "doc", "xlsx", "pptx", "ppt",
	"txt", "md", "markdown", "csv", "json", "xml", "html", "htm", "rtf",
}

// mimeRules are checked in order; more specific substrings come first because
// every OOXML type contains "officedocument". An empty typ rejects the file.
var mimeRules = []struct {
	substr string
	typ    FileType
}{
	{"pdf", TypePDF},
	{"spreadsheetml", TypeXlsx},
	{"ms-excel", ""},
	{"excel", TypeXlsx},
	{"spreadsheet", TypeXlsx},
	{"presentationml", TypePptx},
	{"ms-powerpoint", TypePpt},
	{"powerpoint", TypePptx},
	{"presentation", TypePptx},
	{"wordprocessingml", TypeDocx},
	{"msword", TypeDoc},
	{"word", TypeDocx},
	{"vnd.openxmlformats-officedocument", TypeDocx},
	{"text/csv", TypeCSV},
	{"application/json", TypeJSON},
	{"application/xml", TypeXML},
	{"text/xml", TypeXML},
	{"text/html", TypeHTML},
	{"application/rtf", TypeRTF},
	{"text/rtf", TypeRTF},
	{"text/markdown", TypeMarkdown},
	{"text/", TypeText},
}

var descriptions = map[FileType]string{
	TypePDF:      "PDF Document",
	TypeDocx:     "Word Document",
	TypeDoc:      "Word Document (Legacy)",
	TypeXlsx:     "Excel Spreadsheet",
	TypePptx:     "PowerPoint Presentation",
	TypePpt:      "PowerPoint Presentation (Legacy)",
	TypeText:     "Text File",
	TypeMarkdown: "Markdown File",
	TypeCSV:      "CSV File",
	TypeJSON:     "JSON File",
	TypeXML:      "XML File",
	TypeHTML:     "HTML File",
	TypeRTF:      "Rich Text Format",
}

func extensionOf(name string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	return strings.TrimPrefix(ext, ".")
}

// rejectedExtensions are formats no parser can read. Legacy BIFF workbooks
// fall here: excelize only opens OOXML.
var rejectedExtensions = map[string]bool{
	"xls": true,
}

// detect returns the file type and whether any signal recognised it.
func detect(name, mimeType string) (FileType, bool) {
	ext := extensionOf(name)
	if rejectedExtensions[ext] {
		return TypeText, false
	}
	if t, ok := extensionTypes[ext]; ok {
		return t, true
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" || strings.Contains(mimeType, "octet-stream") {
		return TypeText, false
	}
	for _, r := range mimeRules {
		if strings.Contains(mimeType, r.substr) {
			if r.typ == "" {
				return TypeText, false
			}
			return r.typ, true
		}
	}
	return TypeText, false
}

// DetectType picks the parser for a file: extension first, then the declared
// MIME type. Anything unrecognised is parsed as plain text.
func DetectType(name, mimeType string) FileType {
	t, _ := detect(name, mimeType)
	return t
}

// IsSupported reports whether name or mimeType identifies a known format.
func IsSupported(name, mimeType string) bool {
	_, ok := detect(name, mimeType)
	return ok
}

// SupportedExtensions lists the accepted file extensions.
func SupportedExtensions() []string {
	out := make([]string, len(supportedExtensions))
	copy(out, supportedExtensions)
	return out
}

// Describe returns a human readable label for a file type.
func Describe(t FileType) string {
	if d, ok := descriptions[t]; ok {
		return d
	}
	return "Text File"
}
