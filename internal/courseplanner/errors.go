package courseplanner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport is matched by every non-success response from the catalogue API.
	ErrTransport = errors.New("transport failure")
	// ErrSchemaMismatch is matched when a raw row lacks a field its record requires.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidFilter is matched when a filter value is not a known reference key.
	ErrInvalidFilter = errors.New("invalid filter value")
	// ErrAlreadyExists is returned when inserting a cache row whose key is taken.
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrInvalidPayload is returned when a response has no data.query.rows array.
	ErrInvalidPayload = errors.New("invalid payload schema")
)

type TransportError struct {
	StatusCode int
	URL        string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

// SchemaMismatchError lists every required field missing from a row.
type SchemaMismatchError struct {
	Record  string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s row: missing required fields: %s", e.Record, strings.Join(e.Missing, ", "))
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

type InvalidFilterError struct {
	Field string
	Value string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }
