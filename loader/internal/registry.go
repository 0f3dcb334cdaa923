package internal

import (
	"fmt"
	"path/filepath"
	"strings"

	"docrag/types"
)

var defaultExtensions = map[string]types.ContentType{
	".pdf":      types.PDF,
	".docx":     types.Word,
	".pptx":     types.PowerPoint,
	".xlsx":     types.Excel,
	".md":       types.Markdown,
	".markdown": types.Markdown,
	".txt":      types.PlainText,
	".java":     types.Java,
	".py":       types.Python,
	".go":       types.Go,
}

// Registry maps file extensions to content types.
type Registry struct {
	byExt map[string]types.ContentType
}

// NewRegistry starts from the built-in table and applies overrides such
// as ".log": "text" or ".md": "skip".
func NewRegistry(overrides map[string]string) (*Registry, error) {
	r := &Registry{byExt: make(map[string]types.ContentType, len(defaultExtensions)+len(overrides))}
	for ext, t := range defaultExtensions {
		r.byExt[ext] = t
	}
	for ext, name := range overrides {
		t, ok := types.ParseContentType(name)
		if !ok {
			return nil, fmt.Errorf("extension %s: %w %q", ext, types.ErrUnsupportedType, name)
		}
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.byExt[ext] = t
	}
	return r, nil
}

// Classify returns the content type for path, or types.Unsupported.
func (r *Registry) Classify(path string) types.ContentType {
	if t, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return types.Unsupported
}
