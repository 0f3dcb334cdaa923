package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType classifies a source file. Every supported format has its own
// value; anything else is Unsupported.
type ContentType int

const (
	Unsupported ContentType = iota
	PDF
	Word
	PowerPoint
	Excel
	Markdown
	PlainText
	Java
	Python
	Go
)

var contentTypeNames = map[ContentType]string{
	Unsupported: "skip",
	PDF:         "pdf",
	Word:        "docx",
	PowerPoint:  "pptx",
	Excel:       "xlsx",
	Markdown:    "markdown",
	PlainText:   "text",
	Java:        "java",
	Python:      "python",
	Go:          "go",
}

func (t ContentType) String() string {
	if name, ok := contentTypeNames[t]; ok {
		return name
	}
	return "skip"
}

// IsCode reports whether the type is a programming language source file.
func (t ContentType) IsCode() bool {
	switch t {
	case Java, Python, Go:
		return true
	}
	return false
}

// ParseContentType maps a configuration name back to its ContentType.
func ParseContentType(name string) (ContentType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range contentTypeNames {
		if n == name {
			return t, true
		}
	}
	return Unsupported, false
}

type Document struct {
	ID      uuid.UUID
	Source  string // path of the file the text came from
	Type    ContentType
	Title   string
	Page    int // 1-based page for paginated formats, 0 otherwise
	Content string
	ModTime time.Time
}

type Chunk struct {
	ID       uuid.UUID
	DocID    uuid.UUID
	Source   string
	Type     ContentType
	Page     int
	Position int
	Content  string
}

// EmbeddingInfo identifies the embedding configuration that produced a set
// of vectors. Two vectors are comparable only if their infos match.
type EmbeddingInfo struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Normalize bool   `json:"normalize"`
	Device    string `json:"device"`
}

type Entry struct {
	Chunk     Chunk
	Embedding []float32
}

// Hit is a single ranked retrieval result.
type Hit struct {
	Chunk Chunk
	Score float64
	Rank  int
}

type Answer struct {
	Text         string
	Sources      []Chunk
	Insufficient bool
}

// DocumentID derives a stable id from the source path and page so that
// re-ingesting the same file yields the same ids.
func DocumentID(source string, page int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(page)))
}

// ChunkID derives a stable id for the n-th chunk of a document.
func ChunkID(docID uuid.UUID, position int) uuid.UUID {
	return uuid.NewSHA1(docID, []byte(strconv.Itoa(position)))
}
