package cli

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxFileExcerptChars caps what one attachment contributes to the summary.
const maxFileExcerptChars = 1200

// csvExcerptRows is how many data rows of a CSV attachment are kept.
const csvExcerptRows = 10

// attachment is a file handed to the run.
type attachment struct {
	Name string
	Data []byte
}

// readAttachments loads each path, keeping only the base name.
func readAttachments(paths []string) ([]attachment, error) {
	out := make([]attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, attachment{Name: filepath.Base(p), Data: data})
	}
	return out, nil
}

// summarizeAttachments renders one labelled line per file under an
// ATTACHMENTS SUMMARY heading. Text files contribute their trimmed content and
// CSVs their header plus first rows, each capped at maxFileExcerptChars.
// PDFs and images are listed without extracted text.
func summarizeAttachments(files []attachment) string {
	if len(files) == 0 {
		return ""
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
		switch ext {
		case "txt", "md":
			text := truncateRunes(strings.TrimSpace(string(f.Data)), maxFileExcerptChars)
			lines = append(lines, fmt.Sprintf("- TEXT %s: %s", f.Name, text))
		case "csv":
			lines = append(lines, fmt.Sprintf("- CSV %s (excerpt):\n%s", f.Name, csvExcerpt(f.Data)))
		case "pdf":
			lines = append(lines, fmt.Sprintf("- PDF %s: (no text extraction)", f.Name))
		case "png", "jpg", "jpeg", "webp":
			lines = append(lines, fmt.Sprintf("- IMAGE %s: (no OCR)", f.Name))
		default:
			lines = append(lines, fmt.Sprintf("- FILE %s: (%d bytes)", f.Name, len(f.Data)))
		}
	}
	return "ATTACHMENTS SUMMARY\n" + strings.Join(lines, "\n")
}

// csvExcerpt re-encodes the header and first csvExcerptRows rows. Unparseable
// input falls back to the raw text.
func csvExcerpt(data []byte) string {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i := 0; i <= csvExcerptRows; i++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if i == 0 {
				return truncateRunes(string(data), maxFileExcerptChars)
			}
			break
		}
		if err := w.Write(rec); err != nil {
			return truncateRunes(string(data), maxFileExcerptChars)
		}
	}
	w.Flush()
	return truncateRunes(strings.TrimRight(buf.String(), "\n"), maxFileExcerptChars)
}
