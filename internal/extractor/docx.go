package extractor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// ExtractDOCX returns the text of an in-memory DOCX file, one line per
// paragraph in document order. Empty paragraphs are kept as empty lines so
// the template's layout survives into the prompt. On any error no partial
// text is returned.
func ExtractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	paragraphs, err := docxParagraphs(r.Editable().GetContent())
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs, "\n"), nil
}

// ExtractDOCXFile is ExtractDOCX for a file on disk.
func ExtractDOCXFile(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	paragraphs, err := docxParagraphs(r.Editable().GetContent())
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs, "\n"), nil
}

// docxParagraphs walks word/document.xml and collects the text runs of each
// top-level <w:p>. Paragraphs nested inside another paragraph (text boxes)
// are folded into their parent. Table cell paragraphs are included.
func docxParagraphs(xmlContent string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(xmlContent))

	var paragraphs []string
	var cur strings.Builder
	depth := 0
	inRun := 0
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse docx body: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if depth == 0 {
					cur.Reset()
				}
				depth++
			case "r":
				inRun++
			case "t":
				inText = depth > 0
			case "tab":
				// <w:tab> also defines tab stops inside <w:pPr>; only runs carry text
				if depth > 0 && inRun > 0 {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if depth > 0 && inRun > 0 {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				if inRun > 0 {
					inRun--
				}
			case "t":
				inText = false
			case "p":
				if depth == 0 {
					continue
				}
				depth--
				if depth == 0 {
					paragraphs = append(paragraphs, cur.String())
				}
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}

	return paragraphs, nil
}
