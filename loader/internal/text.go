package internal

import (
	"bytes"
	"context"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"docrag/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readUTF8(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", errEncoding
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// parseText reads plain text and source files verbatim.
func parseText(t types.ContentType) parseFunc {
	return func(ctx context.Context, path string) ([]types.Document, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := readUTF8(path)
		if err != nil {
			return nil, err
		}
		return []types.Document{{Type: t, Content: content}}, nil
	}
}

var (
	mdCodeFence  = regexp.MustCompile("(?m)^```[^\n]*\n?")
	mdInlineCode = regexp.MustCompile("`([^`\n]+)`")
	mdImages     = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLinks      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeadings   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`\*{1,2}([^*\n]+)\*{1,2}`)
	mdUnderscore = regexp.MustCompile(`(^|\s)_{1,2}([^_\n]+)_{1,2}`)
	mdQuote      = regexp.MustCompile(`(?m)^>\s?`)
	mdRule       = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	mdListMarker = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	mdHTML       = regexp.MustCompile(`<[^>\n]+>`)
	mdBlankLines = regexp.MustCompile(`\n{3,}`)
)

func parseMarkdown(ctx context.Context, path string) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := readUTF8(path)
	if err != nil {
		return nil, err
	}
	return []types.Document{{
		Type:    types.Markdown,
		Title:   markdownTitle(content),
		Content: stripMarkdown(content),
	}}, nil
}

// stripMarkdown removes formatting but keeps line structure, so headings
// still start their own paragraph. Code inside fences is kept as text.
func stripMarkdown(s string) string {
	s = mdCodeFence.ReplaceAllString(s, "")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdImages.ReplaceAllString(s, "$1")
	s = mdLinks.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeadings.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdListMarker.ReplaceAllString(s, "$1")
	s = mdEmphasis.ReplaceAllString(s, "$1")
	s = mdUnderscore.ReplaceAllString(s, "$1$2")
	s = mdHTML.ReplaceAllString(s, "")
	s = mdBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func markdownTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
				return title
			}
		}
	}
	return ""
}
