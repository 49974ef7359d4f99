// Package validator checks records against a store schema.
package validator

import (
	"fmt"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/record"
)

// SchemaValidator validates records against a fixed schema.
type SchemaValidator struct {
	schema record.Schema
}

// NewSchemaValidator creates a validator for the given schema.
func NewSchemaValidator(schema record.Schema) *SchemaValidator {
	return &SchemaValidator{schema: schema}
}

// Schema returns the schema records are validated against.
func (v *SchemaValidator) Schema() record.Schema {
	return v.schema
}

// Validate checks that rec carries exactly the schema's fields with values
// of the declared shape and element type.
func (v *SchemaValidator) Validate(rec record.Record) error {
	if rec == nil {
		return &errors.SchemaError{Reason: "record is nil"}
	}

	if len(rec) != len(v.schema.Fields) {
		for name := range rec {
			if _, ok := v.schema.Field(name); !ok {
				return &errors.SchemaError{
					Field:  name,
					Reason: "unknown field",
				}
			}
		}
	}

	for _, f := range v.schema.Fields {
		value, ok := rec[f.Name]
		if !ok {
			return &errors.SchemaError{
				Field:  f.Name,
				Reason: "required field is missing",
			}
		}
		if err := record.Check(f, value); err != nil {
			return &errors.SchemaError{
				Field:  f.Name,
				Reason: err.Error(),
			}
		}
	}

	return nil
}

// ValidateBatch validates every record, reporting the first failure with
// its position in the batch.
func (v *SchemaValidator) ValidateBatch(records []record.Record) error {
	for i, rec := range records {
		if err := v.Validate(rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}
