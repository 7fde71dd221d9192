// Package web holds the frontend's templates and static assets.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
)

const (
	baseTemplate     = "base.html"
	partialsTemplate = "partials.html"
)

// fragments render without the page layout; they are loaded into a page by script.
var fragments = map[string]bool{
	"history_items.html": true,
}

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

// Templates is the embedded template directory.
func Templates() fs.FS {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// Static is the embedded asset directory served under /static/.
func Static() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// LoadTemplates parses every page together with the layout and partials.
// Keys are file names, e.g. "upload.html".
func LoadTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	templates := make(map[string]*template.Template)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".html" || name == baseTemplate || name == partialsTemplate {
			continue
		}

		var tmpl *template.Template
		if fragments[name] {
			tmpl, err = template.New(name).Funcs(funcMap).ParseFS(fsys, name, partialsTemplate)
		} else {
			tmpl, err = template.New(baseTemplate).Funcs(funcMap).ParseFS(fsys, baseTemplate, name, partialsTemplate)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}
	return templates, nil
}

var funcMap = template.FuncMap{
	"add":                add,
	"dict":               dict,
	"bytesToMB":          bytesToMB,
	"mimeTypeExtensions": mimeTypeExtensions,
	"previewURL":         previewURL,
}

func add(a, b int) int { return a + b }

func bytesToMB(bytes int64) int64 {
	return bytes / (1024 * 1024)
}

func mimeTypeExtensions(mimeTypes []string) string {
	exts := make([]string, 0, len(mimeTypes))
	for _, mime := range mimeTypes {
		if _, ext, ok := strings.Cut(mime, "/"); ok {
			exts = append(exts, ext)
		}
	}
	return strings.Join(exts, ", ")
}

// previewURL lets generated image thumbnails through html/template's URL
// filter. Anything but an image data URL is dropped.
func previewURL(s string) template.URL {
	if strings.HasPrefix(s, "data:image/") {
		return template.URL(s)
	}
	return ""
}

func dict(values ...any) (map[string]any, error) {
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("invalid dict call: number of arguments must be even")
	}
	m := make(map[string]any, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings")
		}
		m[key] = values[i+1]
	}
	return m, nil
}
