package milestone

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/lherron/fieldsync/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtinFS embed.FS

// templateFile is the on-disk YAML layout
type templateFile struct {
	Templates []domain.Template `yaml:"templates"`
}

// Validate checks that a template has unique, named milestones of a known
// kind whose weights are each within 0-100 and sum to exactly 100.
func Validate(tpl domain.Template) error {
	if strings.TrimSpace(tpl.Name) == "" {
		return &domain.TemplateInvalidError{Reason: "name is required"}
	}
	if len(tpl.Milestones) == 0 {
		return &domain.TemplateInvalidError{Template: tpl.Name, Reason: "no milestones"}
	}

	seen := make(map[string]struct{}, len(tpl.Milestones))
	sum := 0
	for _, m := range tpl.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			return &domain.TemplateInvalidError{Template: tpl.Name, Reason: "milestone name is required"}
		}
		if _, dup := seen[m.Name]; dup {
			return &domain.TemplateInvalidError{Template: tpl.Name, Reason: fmt.Sprintf("duplicate milestone %q", m.Name)}
		}
		seen[m.Name] = struct{}{}
		if err := domain.ValidateMilestoneKind(m.Kind); err != nil {
			return &domain.TemplateInvalidError{Template: tpl.Name, Reason: err.Error()}
		}
		if m.Weight < 0 || m.Weight > 100 {
			return &domain.TemplateInvalidError{Template: tpl.Name, Reason: fmt.Sprintf("milestone %q weight %d out of range 0-100", m.Name, m.Weight)}
		}
		sum += m.Weight
	}
	if sum != 100 {
		return &domain.TemplateInvalidError{Template: tpl.Name, Sum: sum}
	}
	return nil
}

// ParseTemplates decodes a YAML template document and validates every template.
func ParseTemplates(data []byte) ([]domain.Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	for _, tpl := range f.Templates {
		if err := Validate(tpl); err != nil {
			return nil, err
		}
	}
	return f.Templates, nil
}

// LoadTemplates reads and validates a YAML template file.
func LoadTemplates(path string) ([]domain.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates %s: %w", path, err)
	}
	return ParseTemplates(data)
}

// Registry holds validated templates by name
type Registry struct {
	templates map[string]domain.Template
}

// NewRegistry builds a registry; later templates replace earlier ones with the same name.
func NewRegistry(templates ...domain.Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]domain.Template, len(templates))}
	for _, tpl := range templates {
		if err := r.Add(tpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the built-in templates.
func DefaultRegistry() *Registry {
	entries, err := builtinFS.ReadDir("templates")
	if err != nil {
		panic(fmt.Sprintf("milestone: read builtin templates: %v", err))
	}
	r := &Registry{templates: map[string]domain.Template{}}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			panic(fmt.Sprintf("milestone: read %s: %v", entry.Name(), err))
		}
		templates, err := ParseTemplates(data)
		if err != nil {
			panic(fmt.Sprintf("milestone: builtin %s: %v", entry.Name(), err))
		}
		for _, tpl := range templates {
			r.templates[tpl.Name] = tpl
		}
	}
	return r
}

// LoadRegistry returns the built-in templates extended by the file at path.
// An empty path yields the built-ins alone.
func LoadRegistry(path string) (*Registry, error) {
	r := DefaultRegistry()
	if path == "" {
		return r, nil
	}
	templates, err := LoadTemplates(path)
	if err != nil {
		return nil, err
	}
	for _, tpl := range templates {
		if err := r.Add(tpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add validates and registers a template
func (r *Registry) Add(tpl domain.Template) error {
	if err := Validate(tpl); err != nil {
		return err
	}
	r.templates[tpl.Name] = tpl
	return nil
}

// Get looks up a template by name
func (r *Registry) Get(name string) (domain.Template, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return domain.Template{}, fmt.Errorf("unknown template %q", name)
	}
	return tpl, nil
}

// Names returns the registered template names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
