package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNoPrimaryKey        = errors.New("table has no usable primary key")
	ErrUnsortableKey       = errors.New("primary key is not a strictly increasing integer")
	ErrSchemaMismatch      = errors.New("table or column missing in source database")
	ErrSerializationFailed = errors.New("record serialization failed")
	ErrUnknownTable        = errors.New("table is not in the export catalog")
	ErrUploadFailed        = errors.New("upload failed")
	ErrClearFailed         = errors.New("clearing table prefix failed")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrChainActive         = errors.New("export chain already active for table")
	ErrQueueClosed         = errors.New("task queue is closed")
)

// Is and As mirror the standard library so callers only import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsStructural reports whether err means the table cannot be exported this
// cycle no matter how often the batch is attempted.
func IsStructural(err error) bool {
	return errors.Is(err, ErrNoPrimaryKey) ||
		errors.Is(err, ErrUnsortableKey) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrSerializationFailed) ||
		errors.Is(err, ErrUnknownTable)
}

// IsTransient reports whether err came from storage, the network or a
// transaction conflict and may succeed if the task is scheduled again.
func IsTransient(err error) bool {
	if IsStructural(err) {
		return false
	}
	var se *StorageError
	return errors.Is(err, ErrTransactionConflict) ||
		errors.Is(err, ErrUploadFailed) ||
		errors.Is(err, ErrClearFailed) ||
		errors.As(err, &se)
}

type TableError struct {
	Table  string
	Offset int64
	Err    error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("export failed for table '%s' at offset %d: %v", e.Table, e.Offset, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func NewTableError(table string, offset int64, err error) *TableError {
	return &TableError{
		Table:  table,
		Offset: offset,
		Err:    err,
	}
}

type StorageError struct {
	Operation string
	Bucket    string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for bucket '%s', key '%s': %v", e.Operation, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op, bucket, key string, err error) *StorageError {
	return &StorageError{
		Operation: op,
		Bucket:    bucket,
		Key:       key,
		Err:       err,
	}
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Field, e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}
