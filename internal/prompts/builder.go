package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Builder composes a prompt from a registered template, extra fragments
// and {{name}} variables.
type Builder struct {
	fragments []string
	variables map[string]string
}

// NewBuilder starts from the prompt registered under id and version.
func NewBuilder(registry *Registry, id string, version Version) (*Builder, error) {
	base, err := registry.Get(id, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}
	return &Builder{
		fragments: []string{base.Content},
		variables: make(map[string]string),
	}, nil
}

// AddFragment appends a paragraph to the prompt.
func (b *Builder) AddFragment(text string) *Builder {
	if strings.TrimSpace(text) != "" {
		b.fragments = append(b.fragments, text)
	}
	return b
}

// Set binds a variable.
func (b *Builder) Set(key, value string) *Builder {
	b.variables[key] = value
	return b
}

// Build substitutes variables in one pass, so values are never expanded
// themselves, and fails if any placeholder is left unbound.
func (b *Builder) Build() (string, error) {
	tmpl := strings.Join(b.fragments, "\n\n")
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := b.variables[m[1]]; !ok {
			return "", fmt.Errorf("unbound prompt variable %s", m[0])
		}
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(s string) string {
		return b.variables[s[2:len(s)-2]]
	}), nil
}
