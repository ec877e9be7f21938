package report

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/loadout/internal/errors"
)

// Template describes a finding for human readers.
type Template struct {
	ID             int    `yaml:"id" json:"id" validate:"gte=0"`
	Title          string `yaml:"title" json:"title" validate:"required"`
	Description    string `yaml:"description" json:"description"`
	Recommendation string `yaml:"recommendation" json:"recommendation"`
}

// Catalogue maps finding ids to their templates.
type Catalogue map[int]Template

// LoadCatalogue reads a YAML list of templates from path.
func LoadCatalogue(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "finding templates not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read finding templates: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue parses a YAML list of templates. Later duplicates of an id
// are rejected.
func ParseCatalogue(data []byte) (Catalogue, error) {
	var templates []Template
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse finding templates: %w", err)
	}

	validate := validator.New()
	cat := make(Catalogue, len(templates))
	for i := range templates {
		t := templates[i]
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("invalid finding template %d: %w", i, err)
		}
		if _, dup := cat[t.ID]; dup {
			return nil, fmt.Errorf("duplicate finding template id %d", t.ID)
		}
		cat[t.ID] = t
	}
	return cat, nil
}

// Lookup returns the template for id.
func (c Catalogue) Lookup(id int) (Template, bool) {
	t, ok := c[id]
	return t, ok
}
