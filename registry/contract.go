package registry

import (
	"fmt"
)

// FieldType is the coercion target of a contract field. The set is closed.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
)

// FieldDef defines one field of a schema contract.
type FieldDef struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Nullable bool      `yaml:"nullable"`

	// Rule is an optional validation rule applied after coercion, e.g.
	// "nonnegative", "nonempty", "oneof:debito|credito", "maxlen:120".
	// Rules run in field declaration order; the first failure rejects the
	// record with a recorded reason.
	Rule string `yaml:"rule"`
}

// SchemaContract is a named, versioned set of field definitions for one data
// domain. Contracts are immutable once registered; a change is a new version.
type SchemaContract struct {
	Domain  string     `yaml:"domain"`
	Version int        `yaml:"version"`
	Fields  []FieldDef `yaml:"fields"`

	// BusinessKeyField names the field whose coerced value identifies the
	// record across sources and time.
	BusinessKeyField string `yaml:"business_key"`

	// EffectiveDateField names the field carrying the record's effective
	// date, used for Type-2 validity intervals. When empty, the source
	// timestamp is used.
	EffectiveDateField string `yaml:"effective_date"`
}

// Field returns the definition of a named field, if present.
func (c *SchemaContract) Field(name string) (FieldDef, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Validate checks that the contract is internally consistent.
func (c *SchemaContract) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("contract without domain")
	}
	if c.Version <= 0 {
		return fmt.Errorf("contract %q: version must be positive, got %d", c.Domain, c.Version)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("contract %q v%d: no fields defined", c.Domain, c.Version)
	}

	names := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("contract %q v%d: field without name", c.Domain, c.Version)
		}
		if names[f.Name] {
			return fmt.Errorf("contract %q v%d: field %q defined twice", c.Domain, c.Version, f.Name)
		}
		names[f.Name] = true

		switch f.Type {
		case FieldString, FieldInt, FieldFloat, FieldBool, FieldDate, FieldDateTime:
		default:
			return fmt.Errorf("contract %q v%d: field %q has unknown type %q", c.Domain, c.Version, f.Name, f.Type)
		}
	}

	if c.BusinessKeyField == "" {
		return fmt.Errorf("contract %q v%d: business_key is required", c.Domain, c.Version)
	}
	if !names[c.BusinessKeyField] {
		return fmt.Errorf("contract %q v%d: business_key %q is not a defined field", c.Domain, c.Version, c.BusinessKeyField)
	}
	if c.EffectiveDateField != "" && !names[c.EffectiveDateField] {
		return fmt.Errorf("contract %q v%d: effective_date %q is not a defined field", c.Domain, c.Version, c.EffectiveDateField)
	}

	return nil
}
