// Package codec maps document structs to relational rows.
//
// A document key is the field's json name; its column is the snake-case form
// of the key unless a db tag overrides it. `db:"-"` (or `json:"-"` without a
// db tag) keeps a field out of storage. Anonymous struct fields are
// flattened. Maps, slices and structs that do not implement driver.Valuer are
// stored as JSON.
package codec

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Field describes one persisted struct field.
type Field struct {
	Name   string
	Column string
	Index  []int
	Type   reflect.Type
	JSON   bool
}

// Schema is the persisted shape of a document type.
type Schema struct {
	Type     reflect.Type
	Fields   []Field
	byColumn map[string]int
	byName   map[string]int
}

var (
	schemas sync.Map // reflect.Type -> *Schema

	valuerType  = reflect.TypeFor[driver.Valuer]()
	scannerType = reflect.TypeFor[sql.Scanner]()
	timeType    = reflect.TypeFor[time.Time]()
)

// SchemaOf returns the cached schema for a struct type or pointer to one.
func SchemaOf(t reflect.Type) *Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if s, ok := schemas.Load(t); ok {
		return s.(*Schema)
	}
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("codec: %s is not a struct", t))
	}
	s := &Schema{Type: t, byColumn: map[string]int{}, byName: map[string]int{}}
	s.collect(t, nil)
	actual, _ := schemas.LoadOrStore(t, s)
	return actual.(*Schema)
}

// For returns the schema of doc's dynamic type.
func For(doc any) *Schema {
	return SchemaOf(reflect.TypeOf(doc))
}

func (s *Schema) collect(t reflect.Type, parent []int) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() && !f.Anonymous {
			continue
		}
		dbTag := f.Tag.Get("db")
		if dbTag == "-" {
			continue
		}
		jsonName, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if jsonName == "-" && dbTag == "" {
			continue
		}

		index := append(append([]int(nil), parent...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && jsonName == "" && dbTag == "" {
			s.collect(f.Type, index)
			continue
		}
		if !f.IsExported() {
			continue
		}

		name := jsonName
		if name == "" || name == "-" {
			name = f.Name
		}
		column := dbTag
		if column == "" {
			column = SnakeCase(name)
		}
		if _, dup := s.byColumn[column]; dup {
			panic(fmt.Sprintf("codec: %s maps two fields to column %q", t, column))
		}

		s.byColumn[column] = len(s.Fields)
		s.byName[name] = len(s.Fields)
		s.Fields = append(s.Fields, Field{
			Name:   name,
			Column: column,
			Index:  index,
			Type:   f.Type,
			JSON:   storedAsJSON(f.Type),
		})
	}
}

func storedAsJSON(t reflect.Type) bool {
	if t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType) {
		return false
	}
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base == timeType {
		return false
	}
	switch base.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	case reflect.Slice:
		return base.Elem().Kind() != reflect.Uint8
	}
	return false
}

// Columns lists column names in declaration order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Column
	}
	return out
}

// Lookup finds a field by column name or document key.
func (s *Schema) Lookup(name string) (Field, bool) {
	if i, ok := s.byColumn[name]; ok {
		return s.Fields[i], true
	}
	if i, ok := s.byName[name]; ok {
		return s.Fields[i], true
	}
	return Field{}, false
}

// Values returns the INSERT arguments for doc in column order.
func (s *Schema) Values(doc any) ([]any, error) {
	v := structValue(doc, s.Type)
	out := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		val, err := encodeField(f, v.FieldByIndex(f.Index))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		out[i] = val
	}
	return out, nil
}

// Targets returns Scan destinations for doc in column order.
func (s *Schema) Targets(doc any) []any {
	v := structValue(doc, s.Type)
	out := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		addr := v.FieldByIndex(f.Index).Addr()
		if f.JSON {
			out[i] = &jsonTarget{dst: addr}
		} else {
			out[i] = addr.Interface()
		}
	}
	return out
}

func encodeField(f Field, fv reflect.Value) (any, error) {
	if f.JSON {
		if (fv.Kind() == reflect.Map || fv.Kind() == reflect.Slice || fv.Kind() == reflect.Pointer) && fv.IsNil() {
			switch f.Type.Kind() {
			case reflect.Slice:
				return "[]", nil
			case reflect.Map:
				return "{}", nil
			}
			return nil, nil
		}
		b, err := json.Marshal(fv.Interface())
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	if fv.Kind() == reflect.Pointer && fv.IsNil() {
		return nil, nil
	}
	if valuer, ok := fv.Interface().(driver.Valuer); ok {
		return valuer.Value()
	}
	if fv.Kind() == reflect.Pointer {
		return fv.Elem().Interface(), nil
	}
	return fv.Interface(), nil
}

type jsonTarget struct {
	dst reflect.Value // addressable pointer to the field
}

func (j *jsonTarget) Scan(src any) error {
	j.dst.Elem().Set(reflect.Zero(j.dst.Elem().Type()))
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("codec: cannot decode %T as JSON", src)
	}
	return json.Unmarshal(raw, j.dst.Interface())
}

func structValue(doc any, t reflect.Type) reflect.Value {
	v := reflect.ValueOf(doc)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != t {
		panic(fmt.Sprintf("codec: expected non-nil *%s, got %T", t, doc))
	}
	return v.Elem()
}

// ToRow converts doc into a column -> Go value map.
func ToRow(doc any) map[string]any {
	s := For(doc)
	v := structValue(doc, s.Type)
	row := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		row[f.Column] = v.FieldByIndex(f.Index).Interface()
	}
	return row
}

// FromRow populates doc from a column -> value map. Values may be the Go
// field type, a convertible type, or raw JSON for JSON and Scanner fields.
// Unknown columns are ignored.
func FromRow(row map[string]any, doc any) error {
	s := For(doc)
	v := structValue(doc, s.Type)
	for col, val := range row {
		f, ok := s.Lookup(col)
		if !ok {
			continue
		}
		if err := assign(v.FieldByIndex(f.Index), f, val); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}
	return nil
}

func assign(fv reflect.Value, f Field, val any) error {
	if val == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return nil
	}
	if fv.Kind() == reflect.Pointer && rv.Type().AssignableTo(fv.Type().Elem()) {
		p := reflect.New(fv.Type().Elem())
		p.Elem().Set(rv)
		fv.Set(p)
		return nil
	}
	if scanner, ok := fv.Addr().Interface().(sql.Scanner); ok {
		return scanner.Scan(val)
	}
	if f.JSON {
		return (&jsonTarget{dst: fv.Addr()}).Scan(val)
	}
	// Numbers convert between widths; strings only to named string types.
	if rv.Type().ConvertibleTo(fv.Type()) && (fv.Kind() == reflect.String) == (rv.Kind() == reflect.String) {
		fv.Set(rv.Convert(fv.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", val, fv.Type())
}

// DeepCopy copies src into dst (both pointers to the same struct type) so
// that no map, slice or pointer is shared between them.
func DeepCopy(dst, src any) {
	d, s := reflect.ValueOf(dst), reflect.ValueOf(src)
	if d.Kind() != reflect.Pointer || s.Kind() != reflect.Pointer || d.Type() != s.Type() {
		panic(fmt.Sprintf("codec: DeepCopy(%T, %T)", dst, src))
	}
	d.Elem().Set(deepCopy(s.Elem()))
}

func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		it := v.MapRange()
		for it.Next() {
			out.SetMapIndex(it.Key(), deepCopy(it.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			out.Field(i).Set(deepCopy(v.Field(i)))
		}
		return out
	default:
		return v
	}
}
