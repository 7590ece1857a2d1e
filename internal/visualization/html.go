package visualization

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// PageOptions configures the live map page.
type PageOptions struct {
	Title   string
	APIBase string        // base URL of the HTTP API, "" for same origin
	Refresh time.Duration // poll interval
}

type pageData struct {
	Title         string
	APIBase       string
	RefreshMillis int64
}

// RenderHTML produces the live map page. The page polls the API for the
// current map and statistics and offers start, stop and reset controls.
func RenderHTML(opts PageOptions) ([]byte, error) {
	if opts.Title == "" {
		opts.Title = "cura"
	}
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second
	}

	tmplBytes, err := templates.ReadFile("templates/map.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read HTML template: %w", err)
	}
	tmpl, err := template.New("map").Parse(string(tmplBytes))
	if err != nil {
		return nil, fmt.Errorf("parse HTML template: %w", err)
	}

	var buf bytes.Buffer
	data := pageData{
		Title:         opts.Title,
		APIBase:       opts.APIBase,
		RefreshMillis: opts.Refresh.Milliseconds(),
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute HTML template: %w", err)
	}
	return buf.Bytes(), nil
}
