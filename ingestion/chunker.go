package ingestion

import (
	"fmt"
	"iter"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/poiesic/boardmax/core"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 500

	// DefaultChunkOverlap is the number of characters shared by consecutive chunks.
	DefaultChunkOverlap = 50
)

var (
	lineEndings = regexp.MustCompile(`\r\n?`)
	hspace      = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	lineSpace   = regexp.MustCompile(` *\n *`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// Chunker splits document text into overlapping chunks.
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker producing chunks of at most size characters,
// each sharing at least overlap characters with its predecessor.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}
	if overlap < 0 || overlap*3 >= size {
		return nil, fmt.Errorf("%w: got %d for size %d", ErrInvalidOverlap, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// DefaultChunker returns a chunker with DefaultChunkSize and DefaultChunkOverlap.
func DefaultChunker() *Chunker {
	return &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

// Size returns the maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns the chunks of doc in order. The sequence is computed
// lazily and may be iterated more than once.
func (c *Chunker) Chunks(doc *core.Document) iter.Seq[core.Chunk] {
	return func(yield func(core.Chunk) bool) {
		runes := []rune(normalizeText(doc.Text))
		source := filepath.Base(doc.Path)
		index := 0

		emit := func(from, to int) bool {
			text := strings.ReplaceAll(string(runes[from:to]), "\n", " ")
			if strings.TrimSpace(text) == "" {
				return true
			}
			chunk := core.Chunk{
				DocumentID: doc.ID,
				Source:     source,
				Subject:    doc.Subject,
				Index:      index,
				Text:       text,
			}
			index++
			return yield(chunk)
		}

		start := 0
		for start < len(runes) {
			if len(runes)-start <= c.size {
				emit(start, len(runes))
				return
			}
			cut := c.cutPoint(runes, start)
			if !emit(start, cut) {
				return
			}
			start = c.nextStart(runes, start, cut)
		}
	}
}

// cutPoint picks the exclusive end of the chunk beginning at start. The cut
// never falls before minCut so that chunks stay long enough to make progress
// past the overlap.
func (c *Chunker) cutPoint(runes []rune, start int) int {
	end := start + c.size
	minCut := start + max(c.size/2, c.overlap+c.overlap/2+1)
	minCut = min(minCut, end-1)

	boundaries := []func(i int) bool{
		// paragraph break
		func(i int) bool { return runes[i] == '\n' && i+1 < len(runes) && runes[i+1] == '\n' },
		// line break
		func(i int) bool { return runes[i] == '\n' },
		// sentence end
		func(i int) bool { return isSpace(runes[i]) && strings.ContainsRune(".!?", runes[i-1]) },
		// word break
		func(i int) bool { return isSpace(runes[i]) },
	}
	for _, isBoundary := range boundaries {
		for i := end; i > minCut; i-- {
			if isBoundary(i) {
				return i
			}
		}
	}
	return end
}

// nextStart backs up overlap characters from cut, then moves further back to
// the start of a word if one is within half the overlap.
func (c *Chunker) nextStart(runes []rune, start, cut int) int {
	next := cut - c.overlap
	if c.overlap == 0 {
		for next < len(runes) && isSpace(runes[next]) {
			next++
		}
		return next
	}
	floor := max(start+1, next-c.overlap/2)
	for i := next; i >= floor; i-- {
		if !isSpace(runes[i]) && isSpace(runes[i-1]) {
			return i
		}
	}
	return next
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n'
}

func normalizeText(text string) string {
	text = lineEndings.ReplaceAllString(text, "\n")
	text = hspace.ReplaceAllString(text, " ")
	text = lineSpace.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
