package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(0, 0)
	assert.Equal(t, DefaultChunkSize, s.Size)
	assert.Equal(t, 0, s.Overlap)

	s = NewSplitter(100, 150)
	assert.Equal(t, 100, s.Size)
	assert.Equal(t, 20, s.Overlap)

	s = NewSplitter(100, -1)
	assert.Equal(t, 0, s.Overlap)
}

func TestSplit_Empty(t *testing.T) {
	assert.Nil(t, NewSplitter(10, 2).Split(""))
	assert.Nil(t, NewSplitter(10, 2).Split("  \n\n "))
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	got := NewSplitter(100, 20).Split("  Le marché français.  ")
	assert.Equal(t, []string{"Le marché français."}, got)
}

func TestSplit_ParagraphsFirst(t *testing.T) {
	text := "aaaa bbbb\n\ncccc dddd\n\neeee ffff"
	got := NewSplitter(12, 0).Split(text)
	assert.Equal(t, []string{"aaaa bbbb", "cccc dddd", "eeee ffff"}, got)
}

func TestSplit_Overlap(t *testing.T) {
	got := NewSplitter(11, 5).Split("one two three four")
	assert.Equal(t, []string{"one two", "two three", "three four"}, got)
}

func TestSplit_ChunksRespectSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("segment ")
		if i%17 == 0 {
			b.WriteString("\n\n")
		}
	}
	s := NewSplitter(120, 30)
	chunks := s.Split(b.String())
	assert.Greater(t, len(chunks), 5)
	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), 120)
		assert.NotEmpty(t, c)
	}
}

func TestSplit_LongWordFallsBackToCharacters(t *testing.T) {
	word := strings.Repeat("é", 25)
	chunks := NewSplitter(10, 0).Split(word)
	assert.Equal(t, []string{strings.Repeat("é", 10), strings.Repeat("é", 10), strings.Repeat("é", 5)}, chunks)
}
