package settings

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Names of the fields of the persisted settings record.
const (
	FieldMainAnimation      = "mainAnimation"
	FieldSeparatorAnimation = "separatorAnimation"
	FieldColorRed           = "colorRed"
	FieldColorGreen         = "colorGreen"
	FieldColorBlue          = "colorBlue"
	FieldMirror             = "mirror"
)

// Field is one named, fixed width value at a fixed offset of the region.
type Field struct {
	Name   string
	Offset int
	Width  int
}

func (f Field) end() int {
	return f.Offset + f.Width
}

// Layout is the on-storage record: six single byte fields, no header,
// no checksum.
var Layout = []Field{
	{Name: FieldMainAnimation, Offset: 0, Width: 1},
	{Name: FieldSeparatorAnimation, Offset: 1, Width: 1},
	{Name: FieldColorRed, Offset: 2, Width: 1},
	{Name: FieldColorGreen, Offset: 3, Width: 1},
	{Name: FieldColorBlue, Offset: 4, Width: 1},
	{Name: FieldMirror, Offset: 5, Width: 1},
}

// Schema is a validated, offset ordered set of fields.
type Schema struct {
	fields []Field
	byName map[string]Field
	size   int
}

// NewSchema validates the fields once: names must be unique and non
// empty, widths positive, offsets non-negative and no two fields may
// overlap.
func NewSchema(fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	sorted := slices.Clone(fields)
	slices.SortFunc(sorted, func(a, b Field) int {
		return a.Offset - b.Offset
	})

	s := &Schema{
		fields: sorted,
		byName: make(map[string]Field, len(sorted)),
	}
	for i, f := range sorted {
		if f.Name == "" {
			return nil, fmt.Errorf("field at offset %d has no name", f.Offset)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		if f.Width < 1 {
			return nil, fmt.Errorf("field %q: width must be at least 1, got %d", f.Name, f.Width)
		}
		if f.Offset < 0 {
			return nil, fmt.Errorf("field %q: offset must be non-negative, got %d", f.Name, f.Offset)
		}
		if i > 0 && sorted[i-1].end() > f.Offset {
			return nil, fmt.Errorf("field %q overlaps field %q", f.Name, sorted[i-1].Name)
		}
		s.byName[f.Name] = f
		if f.end() > s.size {
			s.size = f.end()
		}
	}
	return s, nil
}

// DefaultSchema returns the schema of Layout.
func DefaultSchema() *Schema {
	s, err := NewSchema(Layout...)
	if err != nil {
		panic(err)
	}
	return s
}

// Size is the number of bytes a region must have to hold every field.
func (s *Schema) Size() int {
	return s.size
}

// Fields returns the fields ordered by offset.
func (s *Schema) Fields() []Field {
	return slices.Clone(s.fields)
}

// Lookup returns the field registered under name.
func (s *Schema) Lookup(name string) (Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// requireBytes checks that every named field exists and is one byte wide.
func (s *Schema) requireBytes(names ...string) error {
	for _, name := range names {
		f, ok := s.byName[name]
		if !ok {
			return fmt.Errorf("schema lacks field %q", name)
		}
		if f.Width != 1 {
			return fmt.Errorf("field %q must be 1 byte wide, got %d", name, f.Width)
		}
	}
	return nil
}
