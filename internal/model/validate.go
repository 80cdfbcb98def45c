package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// ErrBadValue is matched (via errors.Is) by every ValidationError.
var ErrBadValue = errors.New("bad value")

// MaxKeyLen bounds field key length in bytes.
const MaxKeyLen = 128

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) Unwrap() error { return ErrBadValue }

func validateWrite(key, device string) error {
	var ve ValidationError
	if key == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "key", Message: "is required"})
	} else if len(key) > MaxKeyLen {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "key",
			Message: fmt.Sprintf("must be %d bytes or fewer", MaxKeyLen),
		})
	} else if !utf8.ValidString(key) {
		ve.Errors = append(ve.Errors, FieldError{Field: "key", Message: "must be valid UTF-8"})
	}
	if device == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "device", Message: "is required"})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateField checks value against the namespace schema. Keys outside the
// schema are accepted (forward compatibility); known keys must carry their
// declared kind, and retired keys may not be written. Every string in value,
// record keys included, must be valid UTF-8 whatever the schema says.
func ValidateField(schema namespace.Schema, key string, value Value) error {
	if err := validateText(key, value); err != nil {
		return err
	}
	spec, ok := schema.Lookup(key)
	if !ok {
		return nil
	}
	var ve ValidationError
	if spec.Retired {
		ve.Errors = append(ve.Errors, FieldError{Field: key, Message: "is retired"})
	} else if want := kindOf(spec.Kind); want != value.Kind() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   key,
			Message: fmt.Sprintf("must be %s, got %s", want, value.Kind()),
		})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// validateText rejects values the wire format cannot carry: its strings are
// CBOR text, which peers refuse to decode unless it is valid UTF-8.
func validateText(key string, value Value) error {
	if path, ok := invalidText(key, value); ok {
		return &ValidationError{Errors: []FieldError{{Field: path, Message: "must be valid UTF-8"}}}
	}
	return nil
}

// invalidText returns the path of the first string or record key in v that
// is not valid UTF-8.
func invalidText(path string, v Value) (string, bool) {
	switch v.kind {
	case KindString:
		if !utf8.ValidString(v.str) {
			return path, true
		}
	case KindRecord:
		for _, k := range sortedKeys(v.record) {
			if !utf8.ValidString(k) {
				return path + "." + strconv.Quote(k), true
			}
			if p, bad := invalidText(path+"."+k, v.record[k]); bad {
				return p, true
			}
		}
	}
	return "", false
}

func kindOf(k namespace.Kind) Kind {
	switch k {
	case namespace.KindString:
		return KindString
	case namespace.KindInt:
		return KindInt
	case namespace.KindBool:
		return KindBool
	case namespace.KindBlob:
		return KindBlob
	case namespace.KindRecord:
		return KindRecord
	}
	return 0
}
