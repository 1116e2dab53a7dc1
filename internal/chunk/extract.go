package chunk

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// SampleOptions configures head/tail sampling for oversized documents.
type SampleOptions struct {
	MaxBytes  int
	HeadBytes int
	TailBytes int
}

// Sample returns content unchanged when under MaxBytes; otherwise the head
// and tail windows joined by an elision marker.
func Sample(content []byte, opts SampleOptions) []byte {
	if opts.MaxBytes <= 0 || len(content) <= opts.MaxBytes {
		return content
	}
	head := opts.HeadBytes
	if head <= 0 || head > len(content) {
		head = opts.MaxBytes / 2
	}
	tail := opts.TailBytes
	if tail <= 0 {
		tail = opts.MaxBytes / 4
	}
	if head+tail >= len(content) {
		return content
	}
	var b bytes.Buffer
	b.Write(content[:head])
	b.WriteString("\n\n[... truncated ...]\n\n")
	b.Write(content[len(content)-tail:])
	return b.Bytes()
}

// ExtractText converts binary document formats to plain text. Plain
// formats pass through unchanged.
func ExtractText(path string, content []byte) ([]byte, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return extractPDF(content)
	case strings.HasSuffix(lower, ".xlsx"):
		return extractXLSX(content)
	case strings.HasSuffix(lower, ".docx"):
		return extractDOCX(content)
	default:
		return content, nil
	}
}

// extractPDF pulls plain text page by page.
func extractPDF(content []byte) ([]byte, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // skip unreadable pages, keep the rest
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return []byte(b.String()), nil
}

// extractXLSX renders each sheet as pipe-table rows so the structural
// chunker's table detector picks them up.
func extractXLSX(content []byte) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "# %s\n\n", sheet)
		for _, row := range rows {
			b.WriteString("| ")
			b.WriteString(strings.Join(row, " | "))
			b.WriteString(" |\n")
		}
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// docx body XML: text lives in <w:t> runs, paragraphs in <w:p>.
type docxText struct {
	Value string `xml:",chardata"`
}

// extractDOCX unzips word/document.xml and joins paragraph text runs.
func extractDOCX(content []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, err
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("docx missing word/document.xml")
	}

	decoder := xml.NewDecoder(bytes.NewReader(docXML))
	var b strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var text docxText
				if err := decoder.DecodeElement(&text, &t); err == nil {
					b.WriteString(text.Value)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteString("\n")
			}
		}
	}
	return []byte(b.String()), nil
}
