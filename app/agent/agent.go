package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"docrag/config"
	"docrag/model"
	"docrag/types"
)

// InsufficientContextAnswer is returned when retrieval finds nothing, so
// the model is never asked to answer without context.
const InsufficientContextAnswer = "The provided documents do not contain enough information to answer this question."

const systemPrompt = `You are an assistant that answers questions using only the context provided by the user.
Never make up facts, names, numbers or sources that are not in the context.
If the context does not contain the answer, reply exactly: "` + InsufficientContextAnswer + `"
Answer in the language of the question, clearly and to the point, without introductions.`

// Retriever is the part of the retriever the composer needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]types.Hit, error)
}

// TokenCounter returns the number of model tokens in s.
type TokenCounter func(s string) int

type Composer struct {
	retriever Retriever
	generator model.Generator
	cfg       config.LLM
	k         int
	overlap   int
	count     TokenCounter
	logger    *slog.Logger
}

type Option func(*Composer)

// WithK sets the number of passages retrieved per question. Zero keeps the
// retriever's default.
func WithK(k int) Option {
	return func(c *Composer) { c.k = k }
}

// WithChunkOverlap lets the composer drop text repeated between adjacent
// chunks of the same document.
func WithChunkOverlap(n int) Option {
	return func(c *Composer) { c.overlap = max(n, 0) }
}

func WithTokenCounter(f TokenCounter) Option {
	return func(c *Composer) {
		if f != nil {
			c.count = f
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewComposer(r Retriever, g model.Generator, cfg config.LLM, opts ...Option) *Composer {
	c := &Composer{
		retriever: r,
		generator: g,
		cfg:       cfg,
		count:     CountTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Answer retrieves context for question and asks the model to answer from
// it. An empty retrieval gives an insufficient-context answer without a
// model call.
func (c *Composer) Answer(ctx context.Context, question string) (*types.Answer, error) {
	return c.AnswerK(ctx, question, c.k)
}

// AnswerK is Answer with k passages retrieved instead of the configured
// number. Zero keeps the configured number.
func (c *Composer) AnswerK(ctx context.Context, question string, k int) (*types.Answer, error) {
	if k <= 0 {
		k = c.k
	}
	hits, err := c.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	if len(hits) == 0 {
		c.logger.Info("no context retrieved", "question_len", len(question))
		return &types.Answer{Text: InsufficientContextAnswer, Insufficient: true}, nil
	}

	user, sources := c.buildPrompt(question, hits)
	c.logger.Debug("prompt built",
		"passages", len(sources),
		"retrieved", len(hits),
		"tokens", c.count(systemPrompt)+c.count(user))

	gctx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.generator.Generate(gctx, model.Prompt{
		System:      systemPrompt,
		User:        user,
		Temperature: c.cfg.Temperature,
		Seed:        c.cfg.Seed,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", types.ErrGenerationTimeout, time.Since(start).Round(time.Millisecond), err)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrGenerationFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty completion", types.ErrGenerationFailed)
	}
	c.logger.Info("answer generated", "took", time.Since(start), "sources", len(sources))

	return &types.Answer{Text: text, Sources: sources}, nil
}

// buildPrompt places hits in rank order until the token budget is used.
// The first passage is always kept, truncated if it alone is too long.
func (c *Composer) buildPrompt(question string, hits []types.Hit) (string, []types.Chunk) {
	budget := c.cfg.MaxContextTokens
	if budget <= 0 {
		budget = 3000
	}
	budget -= c.count(systemPrompt) + c.count(promptFrame(question, ""))

	texts := removeChunkOverlaps(hits, c.overlap)

	var (
		sb      strings.Builder
		sources []types.Chunk
		used    int
	)
	for i, h := range hits {
		passage := formatPassage(len(sources)+1, h.Chunk, texts[i])
		n := c.count(passage)
		if used+n > budget {
			if len(sources) > 0 {
				c.logger.Debug("context budget reached", "kept", len(sources), "dropped", len(hits)-i)
				break
			}
			passage = c.truncate(passage, budget)
			n = c.count(passage)
		}
		sb.WriteString(passage)
		sources = append(sources, h.Chunk)
		used += n
	}
	return promptFrame(question, sb.String()), sources
}

func promptFrame(question, context string) string {
	return fmt.Sprintf("Context:\n%s\nQuestion:\n%s\n\nAnswer:", context, question)
}

func formatPassage(n int, ch types.Chunk, text string) string {
	if ch.Page > 0 {
		return fmt.Sprintf("[%d] %s (page %d)\n%s\n\n", n, ch.Source, ch.Page, text)
	}
	return fmt.Sprintf("[%d] %s\n%s\n\n", n, ch.Source, text)
}

// truncate shortens s until it fits in budget tokens.
func (c *Composer) truncate(s string, budget int) string {
	r := []rune(s)
	for len(r) > 0 && c.count(string(r)) > budget {
		cut := len(r) / 10
		if cut == 0 {
			cut = 1
		}
		r = r[:len(r)-cut]
	}
	return string(r)
}

// removeChunkOverlaps returns the prompt text of every hit. When the
// previous chunk of the same document was also retrieved, the overlap it
// shares with this one is dropped.
func removeChunkOverlaps(hits []types.Hit, overlap int) []string {
	type key struct {
		doc string
		pos int
	}
	present := make(map[key]bool, len(hits))
	for _, h := range hits {
		present[key{h.Chunk.DocID.String(), h.Chunk.Position}] = true
	}

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.Content
		if overlap == 0 || h.Chunk.Position == 0 {
			continue
		}
		if present[key{h.Chunk.DocID.String(), h.Chunk.Position - 1}] {
			r := []rune(h.Chunk.Content)
			if len(r) > overlap {
				out[i] = string(r[overlap:])
			}
		}
	}
	return out
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens counts tokens with the cl100k encoding, read from the
// dictionary embedded in the binary. When the encoding cannot be loaded it
// falls back to an estimate of four runes per token.
func CountTokens(s string) int {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		e, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
		if err != nil {
			slog.Warn("token encoding unavailable, estimating by length", "error", err)
			return
		}
		enc = e
	})
	if enc == nil {
		return EstimateTokens(s)
	}
	return len(enc.Encode(s, nil, nil))
}

func EstimateTokens(s string) int {
	n := len([]rune(s))
	return (n + 3) / 4
}
