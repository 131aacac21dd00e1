package form

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Data is the value map shared by every page of a wizard. The caller owns it:
// it may prefill values before building the wizard and edit them while the
// wizard is open.
type Data struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewData returns a Data holding a copy of initial.
func NewData(initial map[string]string) *Data {
	d := &Data{values: make(map[string]string, len(initial))}
	for k, v := range initial {
		d.values[k] = v
	}
	return d
}

// Get returns the raw value of a field.
func (d *Data) Get(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[name]
	return v, ok
}

// Set stores the raw value of a field.
func (d *Data) Set(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[name] = value
}

// SetDefault stores value unless the field already has one. It reports
// whether it stored.
func (d *Data) SetDefault(name, value string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.values[name]; ok {
		return false
	}
	d.values[name] = value
	return true
}

// Keys returns the field names holding a value, sorted.
func (d *Data) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payload converts the values of fields to their declared types. Blank
// optional fields are left out.
func (d *Data) Payload(fields []FieldConfig) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, ok := d.Get(f.Name)
		if !ok || blank(raw) {
			continue
		}
		v, err := convert(f.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

// blank reports whether raw counts as no value at all.
func blank(raw string) bool {
	return strings.TrimSpace(raw) == ""
}

func convert(typ, raw string) (any, error) {
	switch typ {
	case TypeInt:
		return strconv.ParseInt(raw, 10, 64)
	case TypeNumber:
		return strconv.ParseFloat(raw, 64)
	case TypeBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}
