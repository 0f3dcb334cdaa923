package internal

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"docrag/types"
)

// OOXML containers are zip archives of XML parts. Only the text-bearing
// parts are read.

var (
	slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	sheetPart = regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`)
)

func openOOXML(path string) (*zip.ReadCloser, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}
	if !isZip(mt) {
		return nil, fmt.Errorf("not an office document: detected %s", mt.String())
	}
	return zip.OpenReader(path)
}

func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func findPart(zr *zip.ReadCloser, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// numberedParts returns the parts matching re ordered by their number.
func numberedParts(zr *zip.ReadCloser, re *regexp.Regexp) []*zip.File {
	type part struct {
		n int
		f *zip.File
	}
	var parts []part
	for _, f := range zr.File {
		if m := re.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			parts = append(parts, part{n, f})
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	out := make([]*zip.File, len(parts))
	for i, p := range parts {
		out[i] = p.f
	}
	return out
}

// paragraphText collects the character data of every textElem element and
// ends a line at every paraElem. Tabs and breaks become whitespace.
func paragraphText(r io.Reader, paraElem, textElem string) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case textElem:
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				inText = false
			case paraElem:
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func partText(f *zip.File, paraElem, textElem string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return paragraphText(rc, paraElem, textElem)
}

func parseWord(ctx context.Context, path string) ([]types.Document, error) {
	zr, err := openOOXML(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	body := findPart(zr, "word/document.xml")
	if body == nil {
		return nil, fmt.Errorf("word/document.xml not found")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := partText(body, "p", "t")
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	return []types.Document{{Type: types.Word, Content: text}}, nil
}

// parsePowerPoint yields one document per slide, numbered from 1.
func parsePowerPoint(ctx context.Context, path string) ([]types.Document, error) {
	zr, err := openOOXML(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	slides := numberedParts(zr, slidePart)
	if len(slides) == 0 {
		return nil, fmt.Errorf("no slides found")
	}

	var docs []types.Document
	for i, f := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := partText(f, "p", "t")
		if err != nil {
			return nil, fmt.Errorf("read slide %d: %w", i+1, err)
		}
		docs = append(docs, types.Document{Type: types.PowerPoint, Page: i + 1, Content: text})
	}
	return docs, nil
}

// parseExcel yields one document per worksheet: a line per row with cells
// separated by tabs.
func parseExcel(ctx context.Context, path string) ([]types.Document, error) {
	zr, err := openOOXML(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var shared []string
	if f := findPart(zr, "xl/sharedStrings.xml"); f != nil {
		if shared, err = sharedStrings(f); err != nil {
			return nil, fmt.Errorf("read shared strings: %w", err)
		}
	}

	sheets := numberedParts(zr, sheetPart)
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no worksheets found")
	}

	var docs []types.Document
	for i, f := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := sheetText(f, shared)
		if err != nil {
			return nil, fmt.Errorf("read sheet %d: %w", i+1, err)
		}
		docs = append(docs, types.Document{Type: types.Excel, Page: i + 1, Content: text})
	}
	return docs, nil
}

func sharedStrings(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				out = append(out, cur.String())
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

func sheetText(f *zip.File, shared []string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		b        strings.Builder
		row      []string
		cellType string
		value    strings.Builder
		inValue  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = row[:0]
			case "c":
				cellType = ""
				value.Reset()
				for _, a := range t.Attr {
					if a.Name.Local == "t" {
						cellType = a.Value
					}
				}
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				v := value.String()
				if cellType == "s" {
					idx, err := strconv.Atoi(strings.TrimSpace(v))
					if err != nil || idx < 0 || idx >= len(shared) {
						return "", fmt.Errorf("bad shared string index %q", v)
					}
					v = shared[idx]
				}
				row = append(row, v)
			case "row":
				line := strings.TrimRight(strings.Join(row, "\t"), "\t")
				if strings.TrimSpace(line) != "" {
					b.WriteString(line)
					b.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
