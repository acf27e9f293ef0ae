package source

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
}

// Extract reads the file at path and returns its text.
func Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content by extension (with the leading dot).
// PDF, DOCX and XLSX are decoded; anything else is read as UTF-8 text.
func ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := extractors[strings.ToLower(ext)]; ok {
		return fn(content)
	}
	return extractPlain(content), nil
}

// extractPlain replaces invalid UTF-8 sequences with U+FFFD.
func extractPlain(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(content)
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), nil
}

const (
	docxDefaultPart  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t>, with or without attributes
	docxText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// the Override element declaring the main document part, attributes in any order
	docxOverride = regexp.MustCompile(`<Override[^>]*ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]*>`)
	docxPartName = regexp.MustCompile(`PartName="/?([^"]+)"`)
)

func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	part := docxDefaultPart
	if types, err := readZipFile(zr, docxContentTypes); err == nil && types != nil {
		if ov := docxOverride.Find(types); ov != nil {
			if m := docxPartName.FindSubmatch(ov); m != nil {
				part = string(m[1])
			}
		}
	}

	body, err := readZipFile(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	var words []string
	for _, m := range docxText.FindAllSubmatch(body, -1) {
		if s := strings.TrimSpace(string(m[1])); s != "" {
			words = append(words, s)
		}
	}
	return strings.Join(words, " "), nil
}

// readZipFile returns the contents of name, or nil when the archive has no such entry.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}
