// Package web embeds the page templates and the static assets served under
// /static/, including the module sources the loader resolves.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
)

//go:embed templates static
var files embed.FS

// Static returns the tree served under /static/.
func Static() fs.FS {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Modules returns the module source tree, rooted at the default asset base.
func Modules() fs.FS {
	sub, err := fs.Sub(files, "static/js")
	if err != nil {
		panic(err)
	}
	return sub
}

// Pages parses the layout once per page template and returns them keyed by
// template name (the file name without extension).
func Pages() (map[string]*template.Template, error) {
	base, err := template.ParseFS(files, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	names, err := fs.Glob(files, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(files, name); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		pages[strings.TrimSuffix(path.Base(name), ".html")] = t
	}
	return pages, nil
}
