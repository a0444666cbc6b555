package datastore

import (
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/tphakala/dipper-go/internal/errors"
)

// ErrNotFound is returned when a lookup by primary key finds no row.
var ErrNotFound = errors.NewStd("record not found")

// dbError creates a properly categorized database error with context
func dbError(err error, operation, table string, context ...any) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundError(operation, table, context...)
	}

	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("table", table)

	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

func notFoundError(operation, table string, context ...any) error {
	builder := errors.New(ErrNotFound).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("operation", operation).
		Context("table", table)

	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// validationError creates a validation error
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}
