package ingestion

import (
	"testing"

	"github.com/poiesic/boardmax/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderSubject(t *testing.T) {
	testCases := []struct {
		id      string
		subject string
		err     error
	}{
		{"physics/2023/paper1.pdf", "physics", nil},
		{"Chemistry/ms.docx", "Chemistry", nil},
		{"biology_2022_ms.pdf", "biology", nil},
		{"maths-paper2.txt", "maths", nil},
		{"history.md", "history", nil},
		{"nosubject", "", ErrNoSubject},
		{"_leading.pdf", "", ErrNoSubject},
	}

	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			subject, err := FolderSubject{}.Subject(&core.Document{ID: tc.id})
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.subject, subject)
		})
	}
}

func TestFixedSubject(t *testing.T) {
	subject, err := FixedSubject("Physics").Subject(&core.Document{ID: "chemistry/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Physics", subject)

	_, err = FixedSubject("  ").Subject(&core.Document{})
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestTagger_SubjectFor(t *testing.T) {
	tagger := NewTagger(FolderSubject{}, []string{"Physics", "chemistry"})

	subject, err := tagger.SubjectFor(&core.Document{ID: "PHYSICS/ms.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "physics", subject)

	_, err = tagger.SubjectFor(&core.Document{ID: "biology/ms.pdf"})
	assert.ErrorIs(t, err, ErrSubjectNotAllowed)

	_, err = tagger.SubjectFor(&core.Document{ID: "ms"})
	assert.ErrorIs(t, err, ErrNoSubject)

	_, err = NewTagger(FixedSubject("phys!cs"), nil).SubjectFor(&core.Document{ID: "a.pdf"})
	assert.ErrorIs(t, err, core.ErrInvalidSubject)
}

func TestTagger_Tag(t *testing.T) {
	tagger := NewTagger(FixedSubject(" Physics "), nil)
	doc := &core.Document{ID: "x/ms.pdf"}
	chunk := core.Chunk{DocumentID: doc.ID, Index: 2, Text: "Momentum is conserved."}

	tagged, err := tagger.Tag(doc, chunk)
	require.NoError(t, err)
	assert.Equal(t, "physics", tagged.Subject)
	assert.Equal(t, chunk.Text, tagged.Text)
	assert.Empty(t, chunk.Subject, "input chunk is not modified")

	doc.Subject = "chemistry"
	tagged, err = tagger.Tag(doc, chunk)
	require.NoError(t, err)
	assert.Equal(t, "chemistry", tagged.Subject, "subject already on the document wins")

	_, err = NewTagger(FolderSubject{}, nil).Tag(&core.Document{ID: "ms"}, chunk)
	assert.ErrorIs(t, err, ErrNoSubject)

	_, err = tagger.Tag(doc, core.Chunk{Text: "   "})
	assert.ErrorIs(t, err, core.ErrEmptyContent)
}
