package chunker_test

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfill/internal/chunker"
)

func assertInvariants(t *testing.T, text string, chunks []chunker.Chunk, size, overlap int) {
	t.Helper()

	assert.Equal(t, text, chunker.Join(chunks), "overlap-stripped chunks must rebuild the input")

	prevStart, prevEnd := -1, 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), size, "chunk %d too long", i)
		assert.Equal(t, c.Len(), utf8.RuneCountInString(c.Text))
		assert.Greater(t, c.Start, prevStart, "chunk %d does not start after its predecessor", i)
		assert.Equal(t, prevEnd, c.Start+c.Overlap, "chunk %d body must begin where chunk %d ended", i, i-1)
		assert.LessOrEqual(t, c.Overlap, overlap)
		prevStart, prevEnd = c.Start, c.End
	}
	if len(chunks) > 0 {
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, 0, chunks[0].Overlap)
		assert.Equal(t, utf8.RuneCountInString(text), chunks[len(chunks)-1].End)
	}
}

func assertNoBlankChunks(t *testing.T, chunks []chunker.Chunk) {
	t.Helper()
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.Body()), "chunk %d body %q is whitespace only", c.Index, c.Body())
	}
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	chunks, err := chunker.Split("short report", 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short report", chunks[0].Text)
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := chunker.Split("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("x", 28) + "\n\n" // 30 runes
	text := strings.Repeat(para, 10)

	chunks, err := chunker.Split(text, 100, 10)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 100, 10)
	assertNoBlankChunks(t, chunks)

	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Body(), "\n\n"), "chunk body %q should end at a paragraph break", c.Body())
	}
}

func TestSplit_FallsBackToSentences(t *testing.T) {
	text := strings.Repeat("The claimant called the office. ", 20)

	chunks, err := chunker.Split(text, 120, 20)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 120, 20)
	assertNoBlankChunks(t, chunks)

	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Body(), ". "), "chunk body %q should end at a sentence break", c.Body())
	}
}

func TestSplit_HardCutWithoutSeparators(t *testing.T) {
	text := strings.Repeat("a", 1000)

	chunks, err := chunker.Split(text, 300, 50)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 300, 50)
	assertNoBlankChunks(t, chunks)
	assert.Greater(t, len(chunks), 3)
	for _, c := range chunks[1:] {
		assert.Equal(t, 50, c.Overlap)
	}
}

func TestSplit_OverlapStartsAtWord(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 50)

	chunks, err := chunker.Split(text, 100, 20)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 100, 20)
	assertNoBlankChunks(t, chunks)

	for _, c := range chunks[1:] {
		assert.Greater(t, c.Overlap, 0)
		assert.NotEqual(t, ' ', []rune(c.Text)[0], "overlap should begin at a word, got %q", c.Text)
	}
}

func TestSplit_Unicode(t *testing.T) {
	text := strings.Repeat("Schadensmeldung für Größe ü. ", 40)

	chunks, err := chunker.Split(text, 64, 8)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 64, 8)
	assertNoBlankChunks(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text))
	}
}

func TestSplit_ZeroOverlap(t *testing.T) {
	text := strings.Repeat("word ", 100)

	chunks, err := chunker.Split(text, 50, 0)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 50, 0)
	assertNoBlankChunks(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, 0, c.Overlap)
	}
}

func TestSplit_Defaults(t *testing.T) {
	text := strings.Repeat("Line of a long police report with facts and figures.\n", 500)

	chunks, err := chunker.Split(text, chunker.DefaultSize, chunker.DefaultOverlap)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, chunker.DefaultSize, chunker.DefaultOverlap)
	assertNoBlankChunks(t, chunks)
	assert.Greater(t, len(chunks), 5)
}

func TestSplit_ShortLineJoinsOversizedParagraph(t *testing.T) {
	text := "Claim summary\n" + strings.Repeat("The adjuster inspected the roof. ", 150) + "\nEnd"

	chunks, err := chunker.Split(text, chunker.DefaultSize, chunker.DefaultOverlap)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, chunker.DefaultSize, chunker.DefaultOverlap)
	assertNoBlankChunks(t, chunks)

	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "Claim summary\nThe adjuster inspected the roof. "))
	assert.True(t, strings.HasSuffix(chunks[0].Body(), ". "))
	assert.Equal(t, "End", chunks[2].Body())
}

func TestSplit_LeadingNewlineIsNotAChunk(t *testing.T) {
	page := strings.Repeat("Page notes the claimant and adjuster met on site. ", 4)
	text := "\n" + page + "\n" + page + "\n" + page + "\n"

	chunks, err := chunker.Split(text, 120, 10)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 120, 10)
	assertNoBlankChunks(t, chunks)

	assert.Len(t, chunks, 6)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "\nPage notes"))
}

func TestSplit_BlankRunDoesNotStandAlone(t *testing.T) {
	text := strings.Repeat("x", 57) + "\n\n\n\n" + strings.Repeat("y", 58) + "\n\n"

	chunks, err := chunker.Split(text, 60, 0)
	require.NoError(t, err)
	assertInvariants(t, text, chunks, 60, 0)
	assertNoBlankChunks(t, chunks)
	assert.Len(t, chunks, 3)
}

func TestSplit_RandomizedCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []string{"a", "b", "c", " ", " ", "\n", "\n\n", ". ", "é", "日"}

	for iter := 0; iter < 200; iter++ {
		var sb strings.Builder
		n := rng.Intn(2000)
		for i := 0; i < n; i++ {
			sb.WriteString(alphabet[rng.Intn(len(alphabet))])
		}
		text := sb.String()
		size := 2 + rng.Intn(300)
		overlap := rng.Intn(size)

		chunks, err := chunker.Split(text, size, overlap)
		require.NoError(t, err)
		assertInvariants(t, text, chunks, size, overlap)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := chunker.New(tc.size, tc.overlap)
			assert.ErrorIs(t, err, chunker.ErrInvalidConfig)
		})
	}
}
