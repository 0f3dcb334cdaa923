package internal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docrag/config"
	"docrag/types"
)

type parseFunc func(ctx context.Context, path string) ([]types.Document, error)

// Loader walks a directory tree and turns every supported file into
// documents.
type Loader struct {
	registry *Registry
	parsers  map[types.ContentType]parseFunc
	workers  int
	logger   *slog.Logger
}

// Failure records a file that could not be loaded.
type Failure struct {
	Path string
	Err  error
}

type Result struct {
	Documents []types.Document
	Files     int
	Skipped   int
	Failures  []Failure
}

func (r *Result) Failed() int { return len(r.Failures) }

func New(cfg config.Loader, logger *slog.Logger) (*Loader, error) {
	registry, err := NewRegistry(cfg.Extensions)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	pdf := &pdfParser{cropTop: cfg.PDFCropTop, cropBottom: cfg.PDFCropBottom}
	l := &Loader{
		registry: registry,
		workers:  workers,
		logger:   logger,
		parsers: map[types.ContentType]parseFunc{
			types.PDF:        pdf.parse,
			types.Word:       parseWord,
			types.PowerPoint: parsePowerPoint,
			types.Excel:      parseExcel,
			types.Markdown:   parseMarkdown,
			types.PlainText:  parseText(types.PlainText),
			types.Java:       parseText(types.Java),
			types.Python:     parseText(types.Python),
			types.Go:         parseText(types.Go),
		},
	}
	return l, nil
}

// Load reads every supported file under root. Files that fail to parse
// are logged and reported in the result; they never abort the run.
func (l *Loader) Load(ctx context.Context, root string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source directory: %s is not a directory", root)
	}

	s := &scan{root: root, res: &Result{}}
	if err := filepath.WalkDir(root, l.visit(s)); err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	res, paths, kinds := s.res, s.paths, s.kinds

	// one slot per file keeps the output in walk order
	docs := make([][]types.Document, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			d, err := l.parseFile(gctx, path, kinds[i])
			if err != nil {
				errs[i] = err
				return nil
			}
			docs[i] = d
			l.logger.Debug("loaded file", "path", path, "type", kinds[i], "documents", len(d), "took", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, path := range paths {
		if errs[i] != nil {
			l.logger.Warn("failed to load file", "path", path, "error", errs[i])
			res.Failures = append(res.Failures, Failure{Path: path, Err: errs[i]})
			continue
		}
		if len(docs[i]) == 0 {
			l.logger.Info("no text extracted", "path", path)
		}
		res.Documents = append(res.Documents, docs[i]...)
	}

	l.logger.Info("documents loaded",
		"root", root,
		"files", res.Files,
		"documents", len(res.Documents),
		"skipped", res.Skipped,
		"failed", res.Failed())
	return res, nil
}

// scan collects the files of one walk.
type scan struct {
	root  string
	res   *Result
	paths []string
	kinds []types.ContentType
}

// visit classifies walked entries. An unreadable entry below the root is
// recorded as a failure and skipped; only an unreadable root stops the walk.
func (l *Loader) visit(s *scan) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			l.logger.Warn("failed to read path", "path", path, "error", err)
			s.res.Failures = append(s.res.Failures, Failure{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		s.res.Files++
		t := l.registry.Classify(path)
		if t == types.Unsupported {
			s.res.Skipped++
			l.logger.Info("skipping unsupported file", "path", path)
			return nil
		}
		s.paths = append(s.paths, path)
		s.kinds = append(s.kinds, t)
		return nil
	}
}

func (l *Loader) parseFile(ctx context.Context, path string, t types.ContentType) (docs []types.Document, err error) {
	parse, ok := l.parsers[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, types.ErrUnsupportedType)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	docs, err = parse(ctx, path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(path)
	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		d.Source = path
		d.Type = t
		d.ID = types.DocumentID(path, d.Page)
		if d.Title == "" {
			d.Title = titleFromPath(path)
		}
		if statErr == nil {
			d.ModTime = info.ModTime()
		}
		out = append(out, d)
	}
	return out, nil
}

func titleFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

var errEncoding = errors.New("unreadable encoding")
