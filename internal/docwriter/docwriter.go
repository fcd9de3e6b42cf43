// Package docwriter serializes generated report text as a .docx package.
package docwriter

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	// ContentType is the MIME type of the produced document.
	ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	// DefaultFilename is the name offered for download.
	DefaultFilename = "Filled_Report_Final.docx"
)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const packageRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

const documentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const documentTail = `<w:sectPr><w:pgSz w:w="12240" w:h="15840"/>` +
	`<w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440" w:header="720" w:footer="720" w:gutter="0"/>` +
	`</w:sectPr></w:body></w:document>`

// Write renders text as a .docx and returns the package bytes.
func Write(text string) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTo(&buf, text); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo renders text as a .docx into w. Every line becomes one unstyled
// paragraph, in order; tabs become tab runs.
func WriteTo(w io.Writer, text string) error {
	zw := zip.NewWriter(w)

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", packageRelsXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/document.xml", documentXML(text)},
	}

	for _, p := range parts {
		f, err := zw.Create(p.name)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
		if _, err := io.WriteString(f, p.body); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish docx: %w", err)
	}
	return nil
}

// Lines splits text the way the writer does: one entry per paragraph.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

func documentXML(text string) string {
	var sb strings.Builder
	sb.WriteString(documentHead)
	for _, line := range Lines(text) {
		writeParagraph(&sb, line)
	}
	sb.WriteString(documentTail)
	return sb.String()
}

func writeParagraph(sb *strings.Builder, line string) {
	if line == "" {
		sb.WriteString("<w:p/>")
		return
	}

	sb.WriteString("<w:p><w:r>")
	for i, seg := range strings.Split(line, "\t") {
		if i > 0 {
			sb.WriteString("<w:tab/>")
		}
		if seg == "" {
			continue
		}
		sb.WriteString(`<w:t xml:space="preserve">`)
		// strings.Builder never fails a write
		_ = xml.EscapeText(sb, []byte(seg))
		sb.WriteString("</w:t>")
	}
	sb.WriteString("</w:r></w:p>")
}
