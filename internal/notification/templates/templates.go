// Package templates renders notification bodies.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"strings"
)

// WelcomeEmail is the template sent to a newly provisioned admin.
const WelcomeEmail = "welcome-email"

//go:embed *.html
var files embed.FS

// Renderer resolves a template by name and executes it with a data context.
type Renderer struct {
	templates *template.Template
	logger    *slog.Logger
}

type Option func(*Renderer)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// New parses the built-in templates. Each file is registered under its name
// without the .html suffix.
func New(opts ...Option) (*Renderer, error) {
	root := template.New("")
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		body, err := files.ReadFile(e.Name())
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), ".html")
		if _, err := root.New(name).Option("missingkey=zero").Parse(string(body)); err != nil {
			return nil, err
		}
	}
	r := &Renderer{templates: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Render executes the named template. An unknown name or an execution error
// yields "" so the caller sends an empty body rather than failing the job.
func (r *Renderer) Render(name string, data map[string]any) string {
	t := r.templates.Lookup(name)
	if t == nil {
		r.logger.Warn("unknown notification template", "template", name)
		return ""
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		r.logger.Warn("render notification template", "template", name, "error", err)
		return ""
	}
	return buf.String()
}
