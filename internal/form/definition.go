// Package form builds wizards from YAML definitions. Each page of a
// definition becomes a wizard.Step over a Data map shared by all pages; the
// last page submits the collected values to the backend and settles through
// the task waiter.
package form

import (
	"fmt"
	"os"
	"regexp"

	ierr "github.com/mark3labs/consolewiz/internal/errors"
	"github.com/mark3labs/consolewiz/internal/logger"
	"gopkg.in/yaml.v3"
)

// Field types.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeNumber = "number"
	TypeBool   = "bool"
)

// Definition describes a wizard.
type Definition struct {
	Name   string       `yaml:"name"`
	Title  string       `yaml:"title"`
	Submit SubmitConfig `yaml:"submit"`
	Pages  []PageConfig `yaml:"pages"`
}

// SubmitConfig says where the last page posts the collected values.
type SubmitConfig struct {
	Path string `yaml:"path"`
	// Await makes the wizard wait for the backend task. When false the wizard
	// closes as soon as the task id is known and the task's outcome is reported
	// separately. Defaults to true.
	Await *bool `yaml:"await"`
}

// Awaits reports whether the wizard waits for the submitted task.
func (s SubmitConfig) Awaits() bool {
	return s.Await == nil || *s.Await
}

// PageConfig is one step of the wizard.
type PageConfig struct {
	Name   string        `yaml:"name"`
	Fields []FieldConfig `yaml:"fields"`
}

// FieldConfig is one input on a page.
type FieldConfig struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label"`
	Type     string   `yaml:"type"` // string (default), int, number, bool
	Required bool     `yaml:"required"`
	Pattern  string   `yaml:"pattern"`
	Min      *float64 `yaml:"min"` // value for numbers, length for strings
	Max      *float64 `yaml:"max"`
	Options  []string `yaml:"options"`
	Default  string   `yaml:"default"`
}

// LoadDefinition reads and validates a definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wizard definition: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("Loaded wizard %q from %s (%d pages)", def.Name, path, len(def.Pages))
	return def, nil
}

// ParseDefinition decodes and validates a YAML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse wizard definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition for mistakes that would make the wizard
// unusable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("wizard name is required: %w", ierr.ErrConfiguration)
	}
	if d.Submit.Path == "" {
		return fmt.Errorf("wizard %s: submit.path is required: %w", d.Name, ierr.ErrConfiguration)
	}
	if len(d.Pages) == 0 {
		return fmt.Errorf("wizard %s has no pages: %w", d.Name, ierr.ErrConfiguration)
	}

	seen := make(map[string]string)
	for i, p := range d.Pages {
		page := p.Name
		if page == "" {
			page = fmt.Sprintf("#%d", i+1)
		}
		for _, f := range p.Fields {
			if f.Name == "" {
				return fmt.Errorf("wizard %s page %s: field without name: %w", d.Name, page, ierr.ErrConfiguration)
			}
			if other, dup := seen[f.Name]; dup {
				return fmt.Errorf("wizard %s: field %s defined on pages %s and %s: %w", d.Name, f.Name, other, page, ierr.ErrConfiguration)
			}
			seen[f.Name] = page

			switch f.Type {
			case "", TypeString, TypeInt, TypeNumber, TypeBool:
			default:
				return fmt.Errorf("wizard %s field %s: unknown type %q: %w", d.Name, f.Name, f.Type, ierr.ErrConfiguration)
			}
			if f.Pattern != "" {
				if _, err := regexp.Compile(f.Pattern); err != nil {
					return fmt.Errorf("wizard %s field %s: bad pattern: %v: %w", d.Name, f.Name, err, ierr.ErrConfiguration)
				}
			}
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				return fmt.Errorf("wizard %s field %s: min exceeds max: %w", d.Name, f.Name, ierr.ErrConfiguration)
			}
		}
	}
	return nil
}

// Fields returns every field of every page in order.
func (d *Definition) Fields() []FieldConfig {
	var out []FieldConfig
	for _, p := range d.Pages {
		out = append(out, p.Fields...)
	}
	return out
}
