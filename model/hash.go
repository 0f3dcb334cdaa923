package model

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"docrag/config"
	"docrag/types"
)

// HashEmbedder is a local bag-of-words embedder: every token is hashed to
// one dimension with a hashed sign and weighted by log term frequency. It
// needs no model runtime and is fully deterministic.
type HashEmbedder struct {
	cfg config.Embedding
	dim int
}

func NewHashEmbedder(cfg config.Embedding) *HashEmbedder {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 384
	}
	cfg.Dimension = dim
	return &HashEmbedder{cfg: cfg, dim: dim}
}

func (e *HashEmbedder) Info() types.EmbeddingInfo {
	return infoFromConfig(e.cfg)
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, e.dim)
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	keys := make([]string, 0, len(counts))
	for tok := range counts {
		keys = append(keys, tok)
	}
	sort.Strings(keys)
	for _, tok := range keys {
		n := counts[tok]
		h := fnv.New64a()
		h.Write([]byte(e.cfg.Model))
		h.Write([]byte{0})
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		w := float32(1 + math.Log(float64(n)))
		if sum>>63 == 1 {
			w = -w
		}
		v[idx] += w
	}
	if e.cfg.Normalize {
		l2normalize(v)
	}
	return v, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "do": {}, "does": {}, "did": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"its": {}, "of": {}, "on": {}, "or": {}, "so": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}

// Tokenize lower-cases text, splits it on anything that is not a letter or
// digit, drops stopwords and strips a plural "s".
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, ok := stopwords[f]; ok {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = f[:len(f)-1]
		}
		tokens = append(tokens, f)
	}
	return tokens
}
