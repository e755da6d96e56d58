package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/poiesic/boardmax/core"
)

// MaxFileSize is the default upper bound on the size of a loaded file.
const MaxFileSize int64 = 50 << 20

var (
	xmlTag        = regexp.MustCompile(`<[^>]*>`)
	docxParagraph = regexp.MustCompile(`</w:p>`)
)

// SupportedExtension reports whether the loader can read files with the given extension.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".txt", ".md":
		return true
	}
	return false
}

// Loader extracts plain text from marking-scheme files.
type Loader struct {
	// MaxFileSize rejects larger files. Zero means the package default.
	MaxFileSize int64
}

// Load reads the file at path and returns it as a Document.
// The document ID is left for the caller to set.
func (l *Loader) Load(path string) (*core.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &DocumentLoadError{Path: path, Err: err}
	}
	limit := l.MaxFileSize
	if limit <= 0 {
		limit = MaxFileSize
	}
	if info.Size() > limit {
		return nil, &DocumentLoadError{
			Path: path,
			Err:  fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, info.Size(), limit),
		}
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = readPDF(path, info.Size())
	case ".docx":
		text, err = readDOCX(path)
	case ".txt", ".md":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, &DocumentLoadError{Path: path, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &DocumentLoadError{Path: path, Err: ErrNoText}
	}

	return &core.Document{
		Path: path,
		Text: text,
		Size: info.Size(),
	}, nil
}

func readPDF(path string, size int64) (text string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// The PDF parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(f, size)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i, err)
		}
		if strings.TrimSpace(content) != "" {
			pages = append(pages, content)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func readDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("opening docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = docxParagraph.ReplaceAllString(content, "\n")
	content = xmlTag.ReplaceAllString(content, "")
	return unescapeXML(content), nil
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
