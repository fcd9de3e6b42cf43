package extractor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Source is one uploaded binary document.
type Source struct {
	Name string
	Data []byte
}

// FileResult tracks per-file extraction outcome.
type FileResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "failed"
	Error  string `json:"error,omitempty"`
	Pages  int    `json:"pages"`
	Chars  int    `json:"chars"`
}

// Failed reports whether the file contributed no text because of an error.
func (r FileResult) Failed() bool {
	return r.Status == "failed"
}

// ExtractPDF extracts the plain text of every page of an in-memory PDF,
// in page order. Pages are separated by a newline.
//
// The PDF library panics on some malformed content streams; those panics
// are returned as errors so one bad file never takes down a run.
func ExtractPDF(name string, data []byte) (string, error) {
	text, _, err := extractPages(name, data)
	return text, err
}

func extractPages(name string, data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pages = "", 0
			err = fmt.Errorf("failed to parse pdf %s: %v", name, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open pdf %s: %w", name, err)
	}

	var buf strings.Builder
	numPages := r.NumPage()
	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		str, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read page %d of %s: %w", pageIndex, name, err)
		}
		pages++
		buf.WriteString(str)
		if str != "" && !strings.HasSuffix(str, "\n") {
			buf.WriteString("\n")
		}
	}

	return buf.String(), pages, nil
}

// ExtractPDFFile is ExtractPDF for a file on disk.
func ExtractPDFFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return ExtractPDF(filepath.Base(filePath), data)
}

// ExtractPDFs extracts every report in upload order and concatenates the
// text. A file that fails contributes nothing and is reported in its
// FileResult; the remaining files are still processed. progress, if set,
// is called once per file as soon as it is done.
func ExtractPDFs(sources []Source, progress func(FileResult)) (string, []FileResult) {
	var combined strings.Builder
	endsWithNewline := false
	results := make([]FileResult, 0, len(sources))

	for _, src := range sources {
		res := FileResult{Name: src.Name, Status: "ok"}

		text, pages, err := extractPages(src.Name, src.Data)
		if err != nil {
			res.Status = "failed"
			res.Error = err.Error()
		} else {
			res.Pages = pages
			res.Chars = len(text)
			if combined.Len() > 0 && !endsWithNewline {
				combined.WriteString("\n")
			}
			combined.WriteString(text)
			if text != "" {
				endsWithNewline = strings.HasSuffix(text, "\n")
			}
		}

		results = append(results, res)
		if progress != nil {
			progress(res)
		}
	}

	return combined.String(), results
}
