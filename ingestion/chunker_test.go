package ingestion

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/boardmax/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/textsplitter"
)

func collect(c *Chunker, text string) []core.Chunk {
	return slices.Collect(c.Chunks(&core.Document{ID: "physics/ms.pdf", Path: "/data/physics/ms.pdf", Text: text}))
}

func prose(words int) string {
	var sb strings.Builder
	for i := range words {
		if i > 0 {
			if i%12 == 0 {
				sb.WriteString(". ")
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "word%d", i)
	}
	sb.WriteByte('.')
	return sb.String()
}

// sharedOverlap returns the length of the longest suffix of prev, at least
// minimum runes long, that next starts with, or 0 if there is none.
func sharedOverlap(prev, next string, minimum int) int {
	runes := []rune(prev)
	for k := len(runes); k >= minimum; k-- {
		if strings.HasPrefix(next, string(runes[len(runes)-k:])) {
			return k
		}
	}
	return 0
}

func TestNewChunker_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		size    int
		overlap int
		err     error
	}{
		{"defaults", 500, 50, nil},
		{"no overlap", 100, 0, nil},
		{"largest overlap", 100, 33, nil},
		{"zero size", 0, 0, ErrInvalidChunkSize},
		{"negative size", -5, 0, ErrInvalidChunkSize},
		{"negative overlap", 100, -1, ErrInvalidOverlap},
		{"overlap a third of size", 99, 33, ErrInvalidOverlap},
		{"overlap larger than size", 100, 200, ErrInvalidOverlap},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewChunker(tc.size, tc.overlap)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.size, c.Size())
			assert.Equal(t, tc.overlap, c.Overlap())
		})
	}
}

func TestChunker_UnbrokenText(t *testing.T) {
	chunks := collect(DefaultChunker(), strings.Repeat("x", 1200))
	require.Len(t, chunks, 3)
	assert.Equal(t, 500, len(chunks[0].Text))
	assert.Equal(t, 500, len(chunks[1].Text))
	assert.Equal(t, 300, len(chunks[2].Text))

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "physics/ms.pdf", chunk.DocumentID)
		assert.Equal(t, "ms.pdf", chunk.Source)
	}
}

func TestChunker_UnbrokenTextCount(t *testing.T) {
	testCases := []struct {
		size, overlap, length int
	}{
		{500, 50, 500},
		{500, 50, 501},
		{500, 50, 950},
		{500, 50, 951},
		{500, 50, 5000},
		{100, 0, 1000},
		{100, 10, 1001},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("S%d_O%d_L%d", tc.size, tc.overlap, tc.length), func(t *testing.T) {
			c, err := NewChunker(tc.size, tc.overlap)
			require.NoError(t, err)

			chunks := collect(c, strings.Repeat("y", tc.length))
			step := tc.size - tc.overlap
			want := (tc.length - tc.overlap + step - 1) / step
			assert.Len(t, chunks, want)
		})
	}
}

func TestChunker_ShortText(t *testing.T) {
	chunks := collect(DefaultChunker(), "  Refraction is the bending\r\n of light.  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Refraction is the bending of light.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunker_EmptyText(t *testing.T) {
	assert.Empty(t, collect(DefaultChunker(), " \n\t\n "))
}

func TestChunker_SizeAndOverlap(t *testing.T) {
	c := DefaultChunker()
	text := prose(600)
	chunks := collect(c, text)
	require.Greater(t, len(chunks), 3)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), c.Size(), "chunk %d too long", i)
		if i == 0 {
			continue
		}
		shared := sharedOverlap(chunks[i-1].Text, chunk.Text, c.Overlap())
		assert.GreaterOrEqual(t, shared, c.Overlap(), "chunk %d does not overlap its predecessor", i)
	}

	// Nothing is lost: the last chunk ends the text
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1].Text))
}

func TestChunker_OverlapVersusRecursiveSplitter(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = fmt.Sprintf("word%04d", i)
	}
	text := strings.Join(words, " ")

	t.Run("recursive character splitter carries less than the overlap", func(t *testing.T) {
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(DefaultChunkSize),
			textsplitter.WithChunkOverlap(DefaultChunkOverlap),
		)
		parts, err := splitter.SplitText(text)
		require.NoError(t, err)
		require.Greater(t, len(parts), 1)

		// It keeps only whole words totalling at most the overlap: word0050..word0054.
		assert.True(t, strings.HasPrefix(parts[1], "word0050 "))
		assert.Less(t, sharedOverlap(parts[0], parts[1], DefaultChunkOverlap), DefaultChunkOverlap)
	})

	t.Run("chunker carries at least the overlap", func(t *testing.T) {
		chunks := collect(DefaultChunker(), text)
		require.Greater(t, len(chunks), 1)
		for i := 1; i < len(chunks); i++ {
			assert.GreaterOrEqual(t, sharedOverlap(chunks[i-1].Text, chunks[i].Text, DefaultChunkOverlap), DefaultChunkOverlap,
				"chunk %d", i)
		}
	})
}

func TestChunker_PrefersNaturalBoundaries(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	t.Run("paragraph break", func(t *testing.T) {
		para := strings.Repeat("a", 70) + ". More words\n\n" + strings.Repeat("b ", 60)
		chunks := collect(c, para)
		assert.Equal(t, strings.Repeat("a", 70)+". More words", chunks[0].Text)
	})

	t.Run("sentence end", func(t *testing.T) {
		text := strings.Repeat("c", 60) + ". " + strings.Repeat("d", 20) + " " + strings.Repeat("e", 40)
		chunks := collect(c, text)
		assert.Equal(t, strings.Repeat("c", 60)+".", chunks[0].Text)
	})

	t.Run("word break", func(t *testing.T) {
		text := strings.Repeat("f", 80) + " " + strings.Repeat("g", 40)
		chunks := collect(c, text)
		assert.Equal(t, strings.Repeat("f", 80), chunks[0].Text)
	})
}

func TestChunker_NewlinesBecomeSpaces(t *testing.T) {
	chunks := collect(DefaultChunker(), "Line one\nLine two\n\n\n\nLine three")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Line one Line two  Line three", chunks[0].Text)
}

func TestChunker_Restartable(t *testing.T) {
	doc := &core.Document{ID: "a", Path: "a.txt", Text: prose(300)}
	seq := DefaultChunker().Chunks(doc)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	// Early exit is honoured
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestChunker_MultibyteRunes(t *testing.T) {
	chunks := collect(DefaultChunker(), strings.Repeat("é", 700))
	require.Len(t, chunks, 2)
	assert.Equal(t, 500, utf8.RuneCountInString(chunks[0].Text))
	assert.Equal(t, 250, utf8.RuneCountInString(chunks[1].Text))
}
