package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeAttachments(t *testing.T) {
	var rows strings.Builder
	rows.WriteString("name,score\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&rows, "s%d,%d\n", i, i*10)
	}

	got := summarizeAttachments([]attachment{
		{Name: "notes.md", Data: []byte("  Focus on unit fractions.\n")},
		{Name: "scores.csv", Data: []byte(rows.String())},
		{Name: "sample.PDF", Data: []byte("%PDF-1.4")},
		{Name: "board.jpg", Data: []byte{0xff, 0xd8}},
		{Name: "data.bin", Data: []byte{1, 2, 3}},
	})

	lines := strings.Split(got, "\n")
	assert.Equal(t, "ATTACHMENTS SUMMARY", lines[0])
	assert.Equal(t, "- TEXT notes.md: Focus on unit fractions.", lines[1])
	assert.Equal(t, "- CSV scores.csv (excerpt):", lines[2])
	assert.Equal(t, "name,score", lines[3])
	assert.Equal(t, "s10,100", lines[13], "header plus ten rows")
	assert.NotContains(t, got, "s11,")
	assert.Contains(t, got, "- PDF sample.PDF: (no text extraction)")
	assert.Contains(t, got, "- IMAGE board.jpg: (no OCR)")
	assert.True(t, strings.HasSuffix(got, "- FILE data.bin: (3 bytes)"))

	assert.Empty(t, summarizeAttachments(nil))
}

func TestSummarizeAttachments_PerFileCap(t *testing.T) {
	got := summarizeAttachments([]attachment{
		{Name: "long.txt", Data: []byte(strings.Repeat("ñ", 2000))},
		{Name: "short.txt", Data: []byte("kept")},
	})
	first := strings.Split(got, "\n")[1]
	assert.Len(t, []rune(strings.TrimPrefix(first, "- TEXT long.txt: ")), maxFileExcerptChars)
	assert.Contains(t, got, "- TEXT short.txt: kept", "a long file does not crowd out the next one")
}

func TestCSVExcerpt_Unparseable(t *testing.T) {
	raw := "a,\"b\nunterminated"
	assert.Equal(t, raw, csvExcerpt([]byte(raw)))
}

func TestReadAttachments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	files, err := readAttachments([]string{path})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Name)
	assert.Equal(t, "hi", string(files[0].Data))

	_, err = readAttachments([]string{filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
}
