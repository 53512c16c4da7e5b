package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CustomFieldType is the declared type of a custom field.
type CustomFieldType string

const (
	CustomFieldString  CustomFieldType = "string"
	CustomFieldNumber  CustomFieldType = "number"
	CustomFieldBoolean CustomFieldType = "boolean"
	CustomFieldDate    CustomFieldType = "date"
	CustomFieldEnum    CustomFieldType = "enum"
)

// IsValid returns true for supported field types.
func (t CustomFieldType) IsValid() bool {
	switch t {
	case CustomFieldString, CustomFieldNumber, CustomFieldBoolean, CustomFieldDate, CustomFieldEnum:
		return true
	default:
		return false
	}
}

// CustomFieldDefinition declares one custom field in the schema registry.
type CustomFieldDefinition struct {
	Name      string          `yaml:"name" json:"name"`
	Type      CustomFieldType `yaml:"type" json:"type"`
	Required  bool            `yaml:"required" json:"required"`
	Options   []string        `yaml:"options" json:"options,omitempty"`       // enum only
	MaxLength int             `yaml:"max_length" json:"max_length,omitempty"` // string only, 0 = unlimited
}

// CustomFieldValue is a typed custom field value. Exactly one of the value
// pointers is set, matching Type.
type CustomFieldValue struct {
	Type   CustomFieldType
	String *string
	Number *float64
	Bool   *bool
	Date   *time.Time
}

// Value returns the underlying value as a plain Go value.
func (v CustomFieldValue) Value() any {
	switch {
	case v.String != nil:
		return *v.String
	case v.Number != nil:
		return *v.Number
	case v.Bool != nil:
		return *v.Bool
	case v.Date != nil:
		return v.Date.Format(time.DateOnly)
	default:
		return nil
	}
}

// MarshalJSON renders the bare value.
func (v CustomFieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value())
}

// CustomFields maps field name to typed value.
type CustomFields map[string]CustomFieldValue

type storedCustomField struct {
	Type  CustomFieldType `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalStored encodes the fields with their types for JSONB storage.
func (c CustomFields) MarshalStored() ([]byte, error) {
	stored := make(map[string]storedCustomField, len(c))
	for name, v := range c {
		raw, err := json.Marshal(v.Value())
		if err != nil {
			return nil, err
		}
		stored[name] = storedCustomField{Type: v.Type, Value: raw}
	}
	return json.Marshal(stored)
}

// UnmarshalStoredCustomFields decodes the JSONB storage form.
func UnmarshalStoredCustomFields(data []byte) (CustomFields, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var stored map[string]storedCustomField
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode custom fields: %w", err)
	}
	out := make(CustomFields, len(stored))
	for name, s := range stored {
		v, err := decodeCustomValue(s.Type, s.Value)
		if err != nil {
			return nil, fmt.Errorf("decode custom field %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// CustomFieldRegistry validates custom field input against declared definitions.
type CustomFieldRegistry struct {
	defs map[string]CustomFieldDefinition
}

// NewCustomFieldRegistry builds a registry, rejecting malformed definitions.
func NewCustomFieldRegistry(defs []CustomFieldDefinition) (*CustomFieldRegistry, error) {
	r := &CustomFieldRegistry{defs: make(map[string]CustomFieldDefinition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("custom field definition without name")
		}
		if !d.Type.IsValid() {
			return nil, fmt.Errorf("custom field %s: unsupported type %q", d.Name, d.Type)
		}
		if d.Type == CustomFieldEnum && len(d.Options) == 0 {
			return nil, fmt.Errorf("custom field %s: enum requires options", d.Name)
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("custom field %s declared twice", d.Name)
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

// Definitions returns the registered definitions sorted by name.
func (r *CustomFieldRegistry) Definitions() []CustomFieldDefinition {
	out := make([]CustomFieldDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Apply merges raw input into existing and validates the result. A JSON null
// removes a field. The returned map of field errors is keyed by
// "custom_fields.<name>" and is empty on success.
func (r *CustomFieldRegistry) Apply(existing CustomFields, raw map[string]json.RawMessage) (CustomFields, map[string]string) {
	errs := make(map[string]string)
	merged := make(CustomFields, len(existing)+len(raw))
	for k, v := range existing {
		merged[k] = v
	}

	for name, value := range raw {
		key := "custom_fields." + name
		def, ok := r.defs[name]
		if !ok {
			errs[key] = "unknown custom field"
			continue
		}
		if len(value) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			delete(merged, name)
			continue
		}
		v, err := decodeCustomValue(def.Type, value)
		if err != nil {
			errs[key] = err.Error()
			continue
		}
		if msg := def.check(v); msg != "" {
			errs[key] = msg
			continue
		}
		merged[name] = v
	}

	for name, def := range r.defs {
		if _, ok := merged[name]; def.Required && !ok {
			if _, reported := errs["custom_fields."+name]; !reported {
				errs["custom_fields."+name] = "is required"
			}
		}
	}

	if len(merged) == 0 {
		merged = nil
	}
	return merged, errs
}

func (d CustomFieldDefinition) check(v CustomFieldValue) string {
	switch d.Type {
	case CustomFieldString:
		if d.MaxLength > 0 && len(*v.String) > d.MaxLength {
			return fmt.Sprintf("must be at most %d characters", d.MaxLength)
		}
	case CustomFieldEnum:
		for _, o := range d.Options {
			if o == *v.String {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %v", d.Options)
	}
	return ""
}

func decodeCustomValue(t CustomFieldType, raw json.RawMessage) (CustomFieldValue, error) {
	v := CustomFieldValue{Type: t}
	switch t {
	case CustomFieldString, CustomFieldEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return v, fmt.Errorf("must be a string")
		}
		v.String = &s
	case CustomFieldNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return v, fmt.Errorf("must be a number")
		}
		v.Number = &n
	case CustomFieldBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return v, fmt.Errorf("must be a boolean")
		}
		v.Bool = &b
	case CustomFieldDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return v, fmt.Errorf("must be a date string (YYYY-MM-DD)")
		}
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return v, fmt.Errorf("must be a date string (YYYY-MM-DD)")
		}
		v.Date = &d
	default:
		return v, fmt.Errorf("unsupported type %q", t)
	}
	return v, nil
}
