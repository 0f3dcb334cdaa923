package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/types"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func expectedCount(length, size, overlap int) int {
	return (length - overlap + (size - overlap) - 1) / (size - overlap)
}

func reconstruct(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		sb.WriteString(string([]rune(c)[overlap:]))
	}
	return sb.String()
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := New()
		assert.Equal(t, DefaultChunkSize, c.Size())
		assert.Equal(t, DefaultChunkOverlap, c.Overlap())
	})

	t.Run("custom options", func(t *testing.T) {
		c := New(WithChunkSize(500), WithChunkOverlap(50))
		assert.Equal(t, 500, c.Size())
		assert.Equal(t, 50, c.Overlap())
	})

	t.Run("overlap not smaller than size is clamped", func(t *testing.T) {
		c := New(WithChunkSize(100), WithChunkOverlap(100))
		assert.Equal(t, 20, c.Overlap())
	})

	t.Run("invalid size falls back to default", func(t *testing.T) {
		c := New(WithChunkSize(0), WithChunkOverlap(-1))
		assert.Equal(t, DefaultChunkSize, c.Size())
		assert.Equal(t, 0, c.Overlap())
	})
}

func TestSplitEdgeCases(t *testing.T) {
	c := New()

	t.Run("empty text gives no chunks", func(t *testing.T) {
		assert.Empty(t, c.Split("", types.PlainText))
	})

	t.Run("short text gives one chunk", func(t *testing.T) {
		text := words(50)
		chunks := c.Split(text, types.PlainText)
		require.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0])
	})

	t.Run("text of exactly chunk size gives one chunk", func(t *testing.T) {
		text := strings.Repeat("a", DefaultChunkSize)
		assert.Len(t, c.Split(text, types.PlainText), 1)
	})
}

func TestSplitInvariants(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		ct      types.ContentType
		size    int
		overlap int
	}{
		{"plain words", words(3000), types.PlainText, 1000, 200},
		{"no separators", strings.Repeat("x", 3000), types.PlainText, 1000, 200},
		{"paragraphs", strings.Repeat("A short paragraph about loading docks.\n\n", 200), types.PlainText, 300, 50},
		{"multibyte", strings.Repeat("склад закрывается в 21:00. ", 150), types.PlainText, 400, 80},
		{"java", strings.Repeat("public class Foo {\n    public void bar() {\n        baz();\n    }\n}\n", 60), types.Java, 500, 100},
		{"python", strings.Repeat("class Foo:\n    def bar(self):\n        return 1\n\ndef baz():\n    pass\n", 80), types.Python, 400, 60},
		{"zero overlap", words(1000), types.PlainText, 250, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(WithChunkSize(tt.size), WithChunkOverlap(tt.overlap))
			chunks := c.Split(tt.text, tt.ct)
			require.Greater(t, len(chunks), 1)

			for i, ch := range chunks {
				assert.LessOrEqual(t, len([]rune(ch)), tt.size, "chunk %d too long", i)
			}
			for i := 0; i+1 < len(chunks); i++ {
				prev, next := []rune(chunks[i]), []rune(chunks[i+1])
				assert.Equal(t, string(prev[len(prev)-tt.overlap:]), string(next[:tt.overlap]),
					"overlap between chunk %d and %d", i, i+1)
			}
			assert.Equal(t, tt.text, reconstruct(chunks, tt.overlap))

			again := c.Split(tt.text, tt.ct)
			assert.Equal(t, chunks, again)
		})
	}
}

func TestSplitChunkCount(t *testing.T) {
	c := New()

	t.Run("fifty words", func(t *testing.T) {
		assert.Len(t, c.Split(words(50), types.PlainText), 1)
	})

	t.Run("three thousand words", func(t *testing.T) {
		text := words(3000)
		chunks := c.Split(text, types.PlainText)
		assert.Len(t, chunks, expectedCount(len(text), 1000, 200))
	})

	t.Run("unbroken text", func(t *testing.T) {
		text := strings.Repeat("x", 3000)
		assert.Len(t, c.Split(text, types.PlainText), 4)
	})
}

func TestSplitProseChunkCountBounds(t *testing.T) {
	sentences := []string{
		"The warehouse closes at 9pm on weekdays.",
		"Staff badge in at the east door.",
		"Forklifts are serviced every Tuesday morning before the first shift starts.",
		"Returns go to bay seven.",
	}
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(sentences[i%len(sentences)])
		if i%5 == 4 {
			sb.WriteString("\n\n")
		} else {
			sb.WriteString(" ")
		}
	}
	text := sb.String()
	n := len([]rune(text))

	const size, overlap = 100, 20
	chunks := New(WithChunkSize(size), WithChunkOverlap(overlap)).Split(text, types.PlainText)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch)), size)
	}
	// a window ends no earlier than its upper half, so every step advances
	// at least size/2 - overlap runes
	step := max(size/2-overlap, 1)
	upper := 1 + (n-size+step-1)/step
	assert.GreaterOrEqual(t, len(chunks), expectedCount(n, size, overlap))
	assert.LessOrEqual(t, len(chunks), upper)
	assert.Equal(t, text, reconstruct(chunks, overlap))
}

func TestSplitPrefersStructuralBoundaries(t *testing.T) {
	fn := "def handler_%02d(event):\n    value = event.get('key')\n    return value * %d\n\n"
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(fmt.Sprintf(fn, i, i))
	}
	text := "import os\n" + sb.String()

	c := New(WithChunkSize(300), WithChunkOverlap(0))
	chunks := c.Split(text, types.Python)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[1:] {
		assert.True(t, strings.HasPrefix(ch, "def handler_"), "chunk starts mid-function: %q", ch[:20])
	}
}

func TestSplitProseEndsOnWordBoundary(t *testing.T) {
	text := words(500)
	c := New(WithChunkSize(200), WithChunkOverlap(0))
	chunks := c.Split(text, types.PlainText)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch, " "), "chunk does not end on a word boundary: %q", ch)
	}
}

func TestChunk(t *testing.T) {
	doc := types.Document{
		ID:      types.DocumentID("data/a.txt", 0),
		Source:  "data/a.txt",
		Type:    types.PlainText,
		Content: words(600),
	}
	c := New(WithChunkSize(500), WithChunkOverlap(100))
	chunks := c.Chunk(doc)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, doc.Source, ch.Source)
		assert.Equal(t, doc.ID, ch.DocID)
		assert.Equal(t, types.ChunkID(doc.ID, i), ch.ID)
	}

	assert.Equal(t, chunks, c.Chunk(doc))
	assert.Empty(t, c.Chunk(types.Document{Source: "empty.txt"}))
}
