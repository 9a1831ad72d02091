// Package registry maintains the catalogue of known components and their
// canonical repository URLs, and validates URLs that appear in generated
// answers.
package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is the canonical location of one component.
type Entry struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// Registry maps component names to canonical repositories under a single
// host. The catalogue is loaded once at startup and read-only afterwards.
type Registry struct {
	host       string
	components map[string]Entry // keyed by lowercase component name
}

type catalogueFile struct {
	Components map[string]Entry `yaml:"components"`
}

// Load reads the catalogue from a YAML file of the form:
//
//	components:
//	  alpha: {owner: ORG, repo: alpha}
func Load(path, host string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry catalogue: %w", err)
	}
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry catalogue: %w", err)
	}
	return NewFromEntries(file.Components, host), nil
}

// NewFromEntries builds a Registry from an in-memory catalogue.
func NewFromEntries(entries map[string]Entry, host string) *Registry {
	components := make(map[string]Entry, len(entries))
	for name, e := range entries {
		if e.Repo == "" {
			e.Repo = name
		}
		components[strings.ToLower(name)] = e
	}
	return &Registry{host: host, components: components}
}

// Host returns the repository host the catalogue applies to.
func (r *Registry) Host() string { return r.host }

// Lookup returns the canonical entry for a component name.
func (r *Registry) Lookup(component string) (Entry, bool) {
	e, ok := r.components[strings.ToLower(component)]
	return e, ok
}

// CanonicalURL returns the canonical repository URL for a component, or ""
// when the component is unknown.
func (r *Registry) CanonicalURL(component string) string {
	e, ok := r.Lookup(component)
	if !ok {
		return ""
	}
	return fmt.Sprintf("https://%s/%s/%s", r.host, e.Owner, e.Repo)
}

// Components returns the known component names, for prompt assembly.
func (r *Registry) Components() []string {
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	return names
}
