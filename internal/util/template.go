package util

import (
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig"
)

// PromptTemplate is a prompt text rendered with text/template and the sprig
// function map. Parsing happens once, on the first Render.
type PromptTemplate struct {
	text  string
	plain bool

	once sync.Once
	tmpl *template.Template
	err  error
}

// NewPromptTemplate wraps text. Text without "{{" renders verbatim.
func NewPromptTemplate(text string) *PromptTemplate {
	return &PromptTemplate{text: text, plain: !strings.Contains(text, "{{")}
}

// Render executes the template against data. A parse error is sticky.
func (p *PromptTemplate) Render(data any) (string, error) {
	if p.plain {
		return p.text, nil
	}

	p.once.Do(func() {
		p.tmpl, p.err = template.New("prompt").Funcs(sprig.TxtFuncMap()).Parse(p.text)
	})

	if p.err != nil {
		return "", p.err
	}

	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// RenderTemplate parses and renders text in one step.
func RenderTemplate(text string, data any) (string, error) {
	return NewPromptTemplate(text).Render(data)
}
