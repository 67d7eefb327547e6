package courseplanner

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Schema describes how a record is read from a raw row: the required fields
// in declaration order and which of them is the natural key.
type Schema struct {
	Name   string
	Key    string
	Fields []string
}

// Missing returns the required fields absent from row, in schema order.
func (s Schema) Missing(row Row) []string {
	var out []string
	for _, f := range s.Fields {
		if _, ok := row[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Record is a typed catalogue entity addressable by its natural key.
type Record interface {
	Schema() Schema
	NaturalKey() string
}

// DecodeRecord converts a raw row into T, failing with a SchemaMismatchError
// when a required field is absent.
func DecodeRecord[T Record](row Row) (T, error) {
	var rec T
	schema := rec.Schema()
	if missing := schema.Missing(row); len(missing) > 0 {
		return rec, &SchemaMismatchError{Record: schema.Name, Missing: missing}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
		ErrorUnset:       true,
		DecodeHook:       flagHook,
	})
	if err != nil {
		return rec, err
	}
	if err := dec.Decode(map[string]any(row)); err != nil {
		return rec, fmt.Errorf("%s row: %w: %v", schema.Name, ErrSchemaMismatch, err)
	}
	return rec, nil
}

// flagHook accepts the Y/N flags the catalogue uses for booleans.
func flagHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	switch strings.ToUpper(strings.TrimSpace(reflect.ValueOf(data).String())) {
	case "Y", "YES":
		return true, nil
	case "N", "NO", "":
		return false, nil
	}
	return data, nil
}

// Rows extracts data.query.rows from a catalogue response.
func (p Payload) Rows() ([]Row, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(b, "data.query.rows")
	if !res.IsArray() {
		return nil, ErrInvalidPayload
	}
	var rows []Row
	if err := json.Unmarshal([]byte(res.Raw), &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return rows, nil
}
