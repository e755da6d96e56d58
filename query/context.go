package query

import (
	"strings"
	"unicode/utf8"

	"github.com/poiesic/boardmax/core"
)

// DefaultMaxContextChars bounds the assembled context block.
const DefaultMaxContextChars = 6000

const contextSeparator = "\n\n"

// AssembleContext joins the texts of results, in order, separated by blank
// lines. A chunk that would push the block past maxChars is dropped together
// with every chunk after it; chunks are never cut. maxChars <= 0 disables the
// bound. It returns the block and the number of chunks it contains.
func AssembleContext(results []*core.SearchResult, maxChars int) (string, int) {
	var sb strings.Builder
	size := 0
	used := 0

	for _, r := range results {
		if r == nil || r.Entry == nil {
			continue
		}
		text := strings.TrimSpace(r.Entry.Text)
		if text == "" {
			continue
		}

		added := utf8.RuneCountInString(text)
		if used > 0 {
			added += len(contextSeparator)
		}
		if maxChars > 0 && size+added > maxChars {
			break
		}

		if used > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(text)
		size += added
		used++
	}

	return sb.String(), used
}
