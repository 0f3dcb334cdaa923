package internal

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"docrag/types"
)

type pdfParser struct {
	cropTop    float64
	cropBottom float64
}

func (p *pdfParser) cropping() bool {
	return p.cropTop > 0 || p.cropBottom > 0
}

// parse yields one document per page with text, numbered from 1.
func (p *pdfParser) parse(ctx context.Context, path string) ([]types.Document, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}
	if !mt.Is("application/pdf") {
		return nil, fmt.Errorf("not a pdf: detected %s", mt.String())
	}

	src := path
	if p.cropping() {
		tmp, err := os.CreateTemp("", "docrag-*.pdf")
		if err != nil {
			return nil, err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		if err := cropHeaderFooter(path, tmp.Name(), p.cropTop, p.cropBottom); err != nil {
			return nil, err
		}
		src = tmp.Name()
	}

	f, r, err := pdf.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var docs []types.Document
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := p.pageText(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		docs = append(docs, types.Document{Type: types.PDF, Page: i, Content: strings.TrimSpace(text)})
	}
	return docs, nil
}

// pageText extracts a page. On cropped files only glyphs inside the crop
// box are kept, since text extraction ignores page boundaries.
func (p *pdfParser) pageText(page pdf.Page) (string, error) {
	if p.cropping() {
		if box, ok := pageBox(page.V, "CropBox"); ok {
			return textInBox(page, box), nil
		}
	}
	return page.GetPlainText(nil)
}

// rect is a PDF rectangle [llx lly urx ury].
type rect [4]float64

func (r rect) contains(x, y float64) bool {
	return x >= r[0] && x <= r[2] && y >= r[1] && y <= r[3]
}

// pageBox reads a page boundary box, following inherited attributes up
// the page tree.
func pageBox(v pdf.Value, key string) (rect, bool) {
	for n := v; !n.IsNull(); n = n.Key("Parent") {
		b := n.Key(key)
		if b.Kind() != pdf.Array || b.Len() != 4 {
			continue
		}
		var r rect
		for i := range r {
			r[i] = b.Index(i).Float64()
		}
		if r[0] > r[2] {
			r[0], r[2] = r[2], r[0]
		}
		if r[1] > r[3] {
			r[1], r[3] = r[3], r[1]
		}
		return r, true
	}
	return rect{}, false
}

// textInBox rebuilds the page text from positioned glyphs that fall inside
// box. A change of baseline starts a new line and a horizontal gap wider
// than a quarter of the font size becomes a space.
func textInBox(page pdf.Page, box rect) string {
	var (
		b          strings.Builder
		lastY      = math.NaN()
		lastEnd    float64
		lastIsStop bool
	)
	for _, t := range page.Content().Text {
		if !box.contains(t.X, t.Y) {
			continue
		}
		tol := math.Max(t.FontSize*0.5, 1)
		switch {
		case math.IsNaN(lastY):
		case math.Abs(t.Y-lastY) > tol:
			b.WriteByte('\n')
		case t.X-lastEnd > t.FontSize*0.25 && !lastIsStop && t.S != " ":
			b.WriteByte(' ')
		}
		b.WriteString(t.S)
		lastY = t.Y
		lastEnd = t.X + t.W
		lastIsStop = t.S == " "
	}
	return b.String()
}
