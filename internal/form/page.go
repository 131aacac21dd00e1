package form

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/consolewiz/internal/wizard"
)

// Page is a wizard.Step over a set of fields stored in a shared Data.
type Page struct {
	name     string
	fields   []FieldConfig
	patterns map[string]*regexp.Regexp
	data     *Data
	finish   func(ctx context.Context) (any, error) // last page only
}

var (
	_ wizard.Step      = (*Page)(nil)
	_ wizard.Activator = (*Page)(nil)
)

// NewPage creates a page. The config must already be validated.
func NewPage(cfg PageConfig, data *Data) *Page {
	p := &Page{
		name:     cfg.Name,
		fields:   cfg.Fields,
		patterns: make(map[string]*regexp.Regexp),
		data:     data,
	}
	for _, f := range cfg.Fields {
		if f.Pattern != "" {
			p.patterns[f.Name] = regexp.MustCompile(f.Pattern)
		}
	}
	return p
}

// Name returns the page name.
func (p *Page) Name() string {
	return p.name
}

// Fields returns the page's fields.
func (p *Page) Fields() []FieldConfig {
	return p.fields
}

// Activate fills in defaults for fields that have no value yet.
func (p *Page) Activate() {
	for _, f := range p.fields {
		if f.Default != "" {
			p.data.SetDefault(f.Name, f.Default)
		}
	}
}

// Validate checks every field on the page.
func (p *Page) Validate() wizard.ValidationResult {
	res := wizard.Valid()
	for _, f := range p.fields {
		raw, _ := p.data.Get(f.Name)
		if reason := p.check(f, raw); reason != "" {
			res = res.Merge(wizard.Invalid(f.Name, reason))
		}
	}
	return res
}

// Finish submits the wizard on the last page. Other pages have nothing to
// commit.
func (p *Page) Finish(ctx context.Context) (any, error) {
	if p.finish == nil {
		return nil, nil
	}
	return p.finish(ctx)
}

func (p *Page) check(f FieldConfig, raw string) string {
	label := f.Label
	if label == "" {
		label = f.Name
	}

	if blank(raw) {
		if f.Required {
			return label + " is required"
		}
		return ""
	}

	v, err := convert(f.Type, raw)
	if err != nil {
		return fmt.Sprintf("%s must be a valid %s", label, f.Type)
	}

	if re := p.patterns[f.Name]; re != nil && !re.MatchString(raw) {
		return fmt.Sprintf("%s has an invalid format", label)
	}
	if len(f.Options) > 0 && !slices.Contains(f.Options, raw) {
		return fmt.Sprintf("%s must be one of %s", label, strings.Join(f.Options, ", "))
	}

	var size float64
	var unit string
	switch n := v.(type) {
	case int64:
		size = float64(n)
	case float64:
		size = n
	case bool:
		return ""
	default:
		size = float64(utf8.RuneCountInString(raw))
		unit = " characters"
	}
	if f.Min != nil && size < *f.Min {
		return fmt.Sprintf("%s must be at least %g%s", label, *f.Min, unit)
	}
	if f.Max != nil && size > *f.Max {
		return fmt.Sprintf("%s must be at most %g%s", label, *f.Max, unit)
	}
	return ""
}
