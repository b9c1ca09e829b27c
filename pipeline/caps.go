package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCaps is returned when a caps string cannot be parsed
var ErrInvalidCaps = errors.New("pipeline: invalid caps")

// Structure is one media type alternative inside Caps, e.g.
// "video/x-raw(memory:DroidSurface), format={ENCODED, YV12}, width=1280".
//
// Every field holds an ordered list of alternatives; a fixed field holds
// exactly one value.
type Structure struct {
	Name     string
	Features []string
	fields   []field
}

type field struct {
	name   string
	values []string
}

// NewStructure creates an empty structure for the given media type
func NewStructure(name string, features ...string) Structure {
	return Structure{Name: name, Features: append([]string(nil), features...)}
}

// Set replaces (or adds) a field with the given alternatives
func (s *Structure) Set(name string, values ...string) {
	vals := append([]string(nil), values...)
	for i := range s.fields {
		if s.fields[i].name == name {
			s.fields[i].values = vals
			return
		}
	}
	s.fields = append(s.fields, field{name: name, values: vals})
}

// Has reports whether the structure carries the named field
func (s Structure) Has(name string) bool {
	return s.index(name) >= 0
}

// Values returns all alternatives of a field (nil if absent)
func (s Structure) Values(name string) []string {
	if i := s.index(name); i >= 0 {
		return append([]string(nil), s.fields[i].values...)
	}
	return nil
}

// Get returns the first alternative of a field
func (s Structure) Get(name string) (string, bool) {
	i := s.index(name)
	if i < 0 || len(s.fields[i].values) == 0 {
		return "", false
	}
	return s.fields[i].values[0], true
}

// Int returns the first alternative of a field parsed as an integer
func (s Structure) Int(name string) (int, bool) {
	v, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Fraction returns the first alternative of a field parsed as N/D.
// A bare integer N is read as N/1.
func (s Structure) Fraction(name string) (num, den int, ok bool) {
	v, found := s.Get(name)
	if !found {
		return 0, 0, false
	}
	return ParseFraction(v)
}

// FieldNames returns the field names in insertion order
func (s Structure) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.name)
	}
	return names
}

// IsFixed reports whether every field has exactly one value
func (s Structure) IsFixed() bool {
	for _, f := range s.fields {
		if len(f.values) != 1 {
			return false
		}
	}
	return true
}

func (s Structure) index(name string) int {
	for i, f := range s.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

func (s Structure) copy() Structure {
	out := Structure{
		Name:     s.Name,
		Features: append([]string(nil), s.Features...),
		fields:   make([]field, len(s.fields)),
	}
	for i, f := range s.fields {
		out.fields[i] = field{name: f.name, values: append([]string(nil), f.values...)}
	}
	return out
}

// String formats the structure in gst-launch syntax
func (s Structure) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if len(s.Features) > 0 {
		b.WriteString("(")
		b.WriteString(strings.Join(s.Features, ", "))
		b.WriteString(")")
	}
	for _, f := range s.fields {
		b.WriteString(", ")
		b.WriteString(f.name)
		b.WriteString("=")
		if len(f.values) == 1 {
			b.WriteString(f.values[0])
		} else {
			b.WriteString("{ ")
			b.WriteString(strings.Join(f.values, ", "))
			b.WriteString(" }")
		}
	}
	return b.String()
}

func (s Structure) equal(o Structure) bool {
	if s.Name != o.Name || !sameSet(s.Features, o.Features) || len(s.fields) != len(o.fields) {
		return false
	}
	for _, f := range s.fields {
		j := o.index(f.name)
		if j < 0 || !sameSet(f.values, o.fields[j].values) {
			return false
		}
	}
	return true
}

func (s Structure) intersect(o Structure) (Structure, bool) {
	if s.Name != o.Name || !sameSet(s.Features, o.Features) {
		return Structure{}, false
	}
	out := Structure{Name: s.Name, Features: append([]string(nil), s.Features...)}
	for _, f := range s.fields {
		j := o.index(f.name)
		if j < 0 {
			out.fields = append(out.fields, field{name: f.name, values: append([]string(nil), f.values...)})
			continue
		}
		common := make([]string, 0, len(f.values))
		for _, v := range f.values {
			if contains(o.fields[j].values, v) {
				common = append(common, v)
			}
		}
		if len(common) == 0 {
			return Structure{}, false
		}
		out.fields = append(out.fields, field{name: f.name, values: common})
	}
	for _, f := range o.fields {
		if s.index(f.name) < 0 {
			out.fields = append(out.fields, field{name: f.name, values: append([]string(nil), f.values...)})
		}
	}
	return out, true
}

func (s Structure) fixate() Structure {
	out := s.copy()
	for i := range out.fields {
		if len(out.fields[i].values) > 1 {
			out.fields[i].values = out.fields[i].values[:1]
		}
	}
	return out
}

// Caps is an ordered set of media type alternatives, or ANY.
//
// The zero value is EMPTY caps. Caps values are immutable: every operation
// returns a new value.
type Caps struct {
	any        bool
	structures []Structure
}

// NewAnyCaps returns caps that accept everything
func NewAnyCaps() Caps { return Caps{any: true} }

// NewEmptyCaps returns caps that accept nothing
func NewEmptyCaps() Caps { return Caps{} }

// NewCaps builds caps from structures, in preference order
func NewCaps(structures ...Structure) Caps {
	c := Caps{}
	for _, s := range structures {
		c.structures = append(c.structures, s.copy())
	}
	return c
}

// ParseCaps parses a caps description such as
//
//	video/x-raw, format=YV12, width=1280, height=720; image/jpeg
//
// Type annotations like "(string)" or "(int)" are accepted and dropped.
// Ranges ("[ 1, 30 ]") are not supported.
func ParseCaps(desc string) (Caps, error) {
	desc = strings.TrimSpace(desc)
	switch desc {
	case "ANY":
		return NewAnyCaps(), nil
	case "", "EMPTY", "NONE":
		return NewEmptyCaps(), nil
	}

	c := Caps{}
	for _, part := range splitTop(desc, ';') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := parseStructure(part)
		if err != nil {
			return Caps{}, err
		}
		c.structures = append(c.structures, s)
	}
	return c, nil
}

// MustParseCaps is like ParseCaps but panics on error. Intended for
// templates and tests.
func MustParseCaps(desc string) Caps {
	c, err := ParseCaps(desc)
	if err != nil {
		panic(err)
	}
	return c
}

// IsAny reports whether the caps accept everything
func (c Caps) IsAny() bool { return c.any }

// IsEmpty reports whether the caps accept nothing
func (c Caps) IsEmpty() bool { return !c.any && len(c.structures) == 0 }

// IsFixed reports whether the caps describe exactly one concrete format
func (c Caps) IsFixed() bool {
	return !c.any && len(c.structures) == 1 && c.structures[0].IsFixed()
}

// Size returns the number of structures
func (c Caps) Size() int { return len(c.structures) }

// Structure returns a copy of the i-th structure
func (c Caps) Structure(i int) Structure { return c.structures[i].copy() }

// String formats the caps in gst-launch syntax
func (c Caps) String() string {
	if c.any {
		return "ANY"
	}
	if len(c.structures) == 0 {
		return "EMPTY"
	}
	parts := make([]string, len(c.structures))
	for i, s := range c.structures {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

// Equal reports whether both caps describe the same set of formats,
// structure by structure. Field and list order are not significant.
func (c Caps) Equal(o Caps) bool {
	if c.any || o.any {
		return c.any == o.any
	}
	if len(c.structures) != len(o.structures) {
		return false
	}
	for i := range c.structures {
		if !c.structures[i].equal(o.structures[i]) {
			return false
		}
	}
	return true
}

// Intersect returns the formats accepted by both caps, in the preference
// order of the receiver.
func (c Caps) Intersect(o Caps) Caps {
	switch {
	case c.any && o.any:
		return NewAnyCaps()
	case c.any:
		return o.copy()
	case o.any:
		return c.copy()
	}

	out := Caps{}
	for _, a := range c.structures {
		for _, b := range o.structures {
			s, ok := a.intersect(b)
			if !ok {
				continue
			}
			dup := false
			for _, have := range out.structures {
				if have.equal(s) {
					dup = true
					break
				}
			}
			if !dup {
				out.structures = append(out.structures, s)
			}
		}
	}
	return out
}

// Fixate picks the first structure and the first alternative of every
// field. ANY and EMPTY caps are returned unchanged.
func (c Caps) Fixate() Caps {
	if c.any || len(c.structures) == 0 {
		return c.copy()
	}
	return Caps{structures: []Structure{c.structures[0].fixate()}}
}

func (c Caps) copy() Caps {
	out := Caps{any: c.any}
	for _, s := range c.structures {
		out.structures = append(out.structures, s.copy())
	}
	return out
}

// ParseFraction parses "N/D" or "N"
func ParseFraction(v string) (num, den int, ok bool) {
	v = strings.TrimSpace(v)
	n, d, found := strings.Cut(v, "/")
	num, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return 0, 0, false
	}
	den = 1
	if found {
		den, err = strconv.Atoi(strings.TrimSpace(d))
		if err != nil || den == 0 {
			return 0, 0, false
		}
	}
	return num, den, true
}

func parseStructure(desc string) (Structure, error) {
	parts := splitTop(desc, ',')
	head := strings.TrimSpace(parts[0])
	if head == "" {
		return Structure{}, fmt.Errorf("%w: missing media type in %q", ErrInvalidCaps, desc)
	}

	s := Structure{}
	if open := strings.IndexByte(head, '('); open >= 0 {
		if !strings.HasSuffix(head, ")") {
			return Structure{}, fmt.Errorf("%w: unterminated features in %q", ErrInvalidCaps, head)
		}
		s.Name = strings.TrimSpace(head[:open])
		for _, feat := range strings.Split(head[open+1:len(head)-1], ",") {
			if feat = strings.TrimSpace(feat); feat != "" {
				s.Features = append(s.Features, feat)
			}
		}
	} else {
		s.Name = head
	}

	for _, part := range parts[1:] {
		key, raw, found := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return Structure{}, fmt.Errorf("%w: bad field %q", ErrInvalidCaps, strings.TrimSpace(part))
		}
		values, err := parseValue(raw)
		if err != nil {
			return Structure{}, err
		}
		s.Set(key, values...)
	}
	return s, nil
}

func parseValue(raw string) ([]string, error) {
	raw = stripType(strings.TrimSpace(raw))
	switch {
	case raw == "":
		return nil, fmt.Errorf("%w: empty value", ErrInvalidCaps)
	case strings.HasPrefix(raw, "["):
		return nil, fmt.Errorf("%w: ranges are not supported: %s", ErrInvalidCaps, raw)
	case strings.HasPrefix(raw, "{"):
		if !strings.HasSuffix(raw, "}") {
			return nil, fmt.Errorf("%w: unterminated list %s", ErrInvalidCaps, raw)
		}
		var values []string
		for _, item := range splitTop(raw[1:len(raw)-1], ',') {
			item = unquote(stripType(strings.TrimSpace(item)))
			if item != "" && !contains(values, item) {
				values = append(values, item)
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: empty list", ErrInvalidCaps)
		}
		return values, nil
	default:
		return []string{unquote(raw)}, nil
	}
}

func stripType(v string) string {
	if strings.HasPrefix(v, "(") {
		if end := strings.IndexByte(v, ')'); end > 0 {
			return strings.TrimSpace(v[end+1:])
		}
	}
	return v
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// splitTop splits s on sep, ignoring separators nested in (), {}, [] or quotes
func splitTop(s string, sep byte) []string {
	var (
		parts  []string
		depth  int
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '(' || c == '{' || c == '[':
			depth++
		case c == ')' || c == '}' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !contains(b, v) {
			return false
		}
	}
	return true
}
