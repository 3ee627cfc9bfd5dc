package models

import (
	"errors"
	"strconv"
	"strings"
)

// FieldError is one rejected field. Field is a path into the task, such as
// "jump_host.auth[0]".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (f FieldError) Error() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

func (f FieldError) Unwrap() error {
	return f.Cause
}

// ValidationErrors collects every problem found in a task or jump host so
// a batch file can be fixed in one pass.
type ValidationErrors struct {
	Fields []FieldError `json:"fields"`
}

// Add records err against field. Nested ValidationErrors are flattened with
// their paths prefixed by field.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	var nested *ValidationErrors
	if errors.As(err, &nested) {
		for _, sub := range nested.Fields {
			sub.Field = joinField(field, sub.Field)
			v.Fields = append(v.Fields, sub)
		}
		return
	}
	v.Fields = append(v.Fields, FieldError{Field: field, Message: err.Error(), Cause: err})
}

// AddAt records err against element i of the list field.
func (v *ValidationErrors) AddAt(field string, i int, err error) {
	v.Add(field+"["+strconv.Itoa(i)+"]", err)
}

// AddMessage records a problem that has no sentinel error.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message == "" {
		return
	}
	v.Fields = append(v.Fields, FieldError{Field: field, Message: message})
}

// Err returns v, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

// Lookup returns the first problem recorded for field.
func (v *ValidationErrors) Lookup(field string) (FieldError, bool) {
	if v == nil {
		return FieldError{}, false
	}
	for _, f := range v.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return FieldError{}, false
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes each FieldError, and through it each cause, to errors.Is
// and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	if v == nil {
		return nil
	}
	errs := make([]error, len(v.Fields))
	for i, f := range v.Fields {
		errs[i] = f
	}
	return errs
}

// joinField joins path segments; list indexes attach without a dot.
func joinField(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	case strings.HasPrefix(field, "["):
		return prefix + field
	default:
		return prefix + "." + field
	}
}
