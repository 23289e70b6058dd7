package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidSizes(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"negative overlap", 100, -1},
		{"zero size", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.size, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidSize)
		})
	}
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("doc", "", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks, err := Split("doc", "short text", 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, "doc", chunks[0].DocumentID)
	assert.Equal(t, 0, chunks[0].Position)
}

func TestSplit_1500CharsNoSeparators(t *testing.T) {
	text := strings.Repeat("AAAA", 375)
	require.Len(t, text, 1500)

	chunks, err := Split("doc", text, 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Len(t, chunks[0].Text, 1000)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 800, chunks[1].Start)
	assert.Equal(t, text[800:1500], chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Position)
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("a", 60) + ". " + strings.Repeat("b", 20)
	para2 := strings.Repeat("c", 50)
	text := para1 + "\n\n" + para2

	chunks, err := Split("doc", text, 100, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"), "first chunk should end on the paragraph break, got %q", chunks[0].Text)
}

func TestSplit_FallsBackToSentenceThenWord(t *testing.T) {
	text := strings.Repeat("word ", 10) + "end. " + strings.Repeat("x", 80)
	chunks, err := Split("doc", text, 60, 5)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "end. "), "got %q", chunks[0].Text)

	words := strings.Repeat("lorem ", 30)
	chunks, err = Split("doc", words, 40, 5)
	require.NoError(t, err)
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Text, " "), "chunk should end on a word boundary, got %q", c.Text)
	}
}

func TestSplit_Unicode(t *testing.T) {
	text := strings.Repeat("光合作用", 100)
	chunks, err := Split("doc", text, 50, 10)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 50)
		assert.True(t, utf8.ValidString(c.Text))
	}
	assert.Equal(t, text, Reassemble(chunks))
}

func TestSplit_CoverageAndSizeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []string{"a", "b", "c", " ", " ", ".", "\n", "\n\n", ". ", "é"}

	for iter := 0; iter < 200; iter++ {
		var sb strings.Builder
		length := rng.Intn(3000)
		for sb.Len() < length {
			sb.WriteString(alphabet[rng.Intn(len(alphabet))])
		}
		text := sb.String()

		size := 2 + rng.Intn(300)
		overlap := rng.Intn(size)

		chunks, err := Split("doc", text, size, overlap)
		require.NoError(t, err)

		assert.Equal(t, text, Reassemble(chunks), "coverage failed size=%d overlap=%d", size, overlap)
		for i, c := range chunks {
			n := utf8.RuneCountInString(c.Text)
			assert.LessOrEqual(t, n, size)
			assert.Equal(t, i, c.Position)
			if i > 0 {
				prev := chunks[i-1]
				prevEnd := prev.Start + utf8.RuneCountInString(prev.Text)
				assert.Equal(t, prevEnd-overlap, c.Start, "overlap not maintained size=%d overlap=%d", size, overlap)
			}
		}
	}
}

func TestReassemble_Empty(t *testing.T) {
	assert.Equal(t, "", Reassemble(nil))
}
