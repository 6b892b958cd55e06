package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field is a single name/value pair of a Row.
type Field struct {
	Name  string
	Value any
}

// F is shorthand for building a Field.
func F(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Row is an ordered field-name to scalar mapping. Values are nil, string,
// float64 or bool. Rows are never modified in place; With returns a copy.
type Row struct {
	names  []string
	values map[string]any
}

// NewRow builds a row preserving the order of fields. A repeated name keeps its
// first position and its last value.
func NewRow(fields ...Field) Row {
	row := Row{
		names:  make([]string, 0, len(fields)),
		values: make(map[string]any, len(fields)),
	}
	for _, field := range fields {
		row.set(field.Name, field.Value)
	}
	return row
}

func (r *Row) set(name string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[name]; !exists {
		r.names = append(r.names, name)
	}
	r.values[name] = NormalizeScalar(value)
}

// Len returns the number of fields.
func (r Row) Len() int {
	return len(r.names)
}

// Names returns field names in row order.
func (r Row) Names() []string {
	return append([]string(nil), r.names...)
}

// Get returns the value stored under name.
func (r Row) Get(name string) (any, bool) {
	value, ok := r.values[name]
	return value, ok
}

// Has reports whether the row carries the field, blank or not.
func (r Row) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Fields returns the row as an ordered slice.
func (r Row) Fields() []Field {
	fields := make([]Field, 0, len(r.names))
	for _, name := range r.names {
		fields = append(fields, Field{Name: name, Value: r.values[name]})
	}
	return fields
}

// With returns a copy of the row where name holds value. New names are appended.
func (r Row) With(name string, value any) Row {
	next := Row{
		names:  make([]string, len(r.names), len(r.names)+1),
		values: make(map[string]any, len(r.values)+1),
	}
	copy(next.names, r.names)
	for k, v := range r.values {
		next.values[k] = v
	}
	next.set(name, value)
	return next
}

// MarshalJSON writes the row as an object in field order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(r.values[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping document order. Nested objects and
// arrays are kept as their compact JSON text.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("row must be a JSON object")
	}

	row := Row{values: make(map[string]any)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		value, err := scalarFromJSON(raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		row.set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = row
	return nil
}

func scalarFromJSON(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case 'n':
		return nil, nil
	case 't', 'f':
		var b bool
		err := json.Unmarshal(trimmed, &b)
		return b, err
	case '"':
		var s string
		err := json.Unmarshal(trimmed, &s)
		return s, err
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return nil, err
		}
		return buf.String(), nil
	default:
		return strconv.ParseFloat(string(trimmed), 64)
	}
}

// NormalizeScalar folds Go numeric kinds into float64 so rows compare and
// serialize uniformly. Anything that is not a scalar (slices, maps, structs)
// is stored as its compact JSON text.
func NormalizeScalar(value any) any {
	switch v := value.(type) {
	case nil, string, float64, bool:
		return v
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprint(v)
	}
}

// IsBlank reports whether a value is nil or a whitespace-only string.
func IsBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// IsPlaceholder extends IsBlank with the literal "-" used by surveyors for
// "no reading".
func IsPlaceholder(value any) bool {
	if IsBlank(value) {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == "-"
}

// FormatValue renders a scalar for identifiers, keys and log details.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Equal reports whether both rows hold the same fields, in the same order,
// with the same values.
func (r Row) Equal(other Row) bool {
	if len(r.names) != len(other.names) {
		return false
	}
	for i, name := range r.names {
		if other.names[i] != name {
			return false
		}
		if r.values[name] != other.values[name] {
			return false
		}
	}
	return true
}
