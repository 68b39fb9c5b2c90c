package schema

import (
	"fmt"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/linkage"
)

// Validation error codes (E200-E299)
const (
	ErrInvalidName   = "E201" // table or column name is not an identifier
	ErrUnknownType   = "E202" // type is not one of int, float, string, bool, ref
	ErrMissingRef    = "E203" // ref column without a target table
	ErrUnknownRef    = "E204" // ref names an undeclared table
	ErrRefOnScalar   = "E205" // ref or on_remove on a non-ref column
	ErrInvalidPolicy = "E206" // on_remove is not cascade, nullify or reassign
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks s and returns every problem found (does not fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError

	declared := make(map[ir.TableName]bool, len(s.Tables))
	for _, t := range s.Tables {
		declared[t.Name] = true
	}

	for _, t := range s.Tables {
		field := "table." + string(t.Name)
		errs = append(errs, checkName(field, string(t.Name), t.Pos.Line())...)
		for _, c := range t.Columns {
			errs = append(errs, validateColumn(field+".columns."+string(c.Name), c, declared)...)
		}
	}
	return errs
}

func validateColumn(field string, c Column, declared map[ir.TableName]bool) []ValidationError {
	line := c.Pos.Line()
	errs := checkName(field, string(c.Name), line)

	switch c.Type {
	case TypeInt, TypeFloat, TypeString, TypeBool:
		if c.Ref != "" || c.OnRemove != "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("ref and on_remove only apply to ref columns, not %s", c.Type),
				Code:    ErrRefOnScalar,
				Line:    line,
			})
		}
		return errs
	case TypeRef:
	default:
		return append(errs, ValidationError{
			Field:   field + ".type",
			Message: fmt.Sprintf("unknown type %q (want int, float, string, bool or ref)", c.Type),
			Code:    ErrUnknownType,
			Line:    line,
		})
	}

	switch {
	case c.Ref == "":
		errs = append(errs, ValidationError{
			Field:   field + ".ref",
			Message: "ref column needs a target table",
			Code:    ErrMissingRef,
			Line:    line,
		})
	case !declared[c.Ref]:
		errs = append(errs, ValidationError{
			Field:   field + ".ref",
			Message: fmt.Sprintf("table %q is not declared", c.Ref),
			Code:    ErrUnknownRef,
			Line:    line,
		})
	}
	if _, err := linkage.ParsePolicy(string(c.OnRemove)); err != nil {
		errs = append(errs, ValidationError{
			Field:   field + ".on_remove",
			Message: err.Error(),
			Code:    ErrInvalidPolicy,
			Line:    line,
		})
	}
	return errs
}

func checkName(field, name string, line int) []ValidationError {
	if _, err := ir.NormalizeName(name); err != nil {
		return []ValidationError{{Field: field, Message: err.Error(), Code: ErrInvalidName, Line: line}}
	}
	return nil
}
