package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which of the three value shapes a metric holds.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a ledger metric value: a non-negative integer, a short string,
// or a list of strings.
type Value struct {
	kind Kind
	n    int
	s    string
	list []string
}

// Int returns an integer value.
func Int(n int) Value { return Value{kind: KindInt, n: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value. A nil list is stored as empty.
func List(items ...string) Value {
	l := make([]string, len(items))
	copy(l, items)
	return Value{kind: KindList, list: l}
}

// Kind returns the value's shape.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer held by v. String values holding a number are
// parsed, since older ledger files stored some counts as strings.
func (v Value) Int() int {
	switch v.kind {
	case KindInt:
		return v.n
	case KindString:
		n, err := strconv.Atoi(strings.TrimSpace(v.s))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Str returns the string held by v, or "" for other kinds.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

// Strings returns a copy of the list held by v, or nil for other kinds.
func (v Value) Strings() []string {
	if v.kind != KindList {
		return nil
	}
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out
}

// String formats v for display and template substitution.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.Itoa(v.n)
	case KindString:
		return v.s
	case KindList:
		return strings.Join(v.list, ", ")
	}
	return ""
}

// Equal reports whether v and o hold the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	}
	if len(v.list) != len(o.list) {
		return false
	}
	for i := range v.list {
		if v.list[i] != o.list[i] {
			return false
		}
	}
	return true
}

func (v Value) clone() Value {
	if v.kind == KindList {
		return List(v.list...)
	}
	return v
}

// MarshalJSON encodes v as a bare JSON number, string or array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return []byte(strconv.Itoa(v.n)), nil
	case KindString:
		return json.Marshal(v.s)
	}
	if v.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.list)
}

// UnmarshalJSON decodes a bare JSON number, string or array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = String("")
	case json.Number:
		if n, err := t.Int64(); err == nil {
			*v = Int(int(n))
			return nil
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) {
			return fmt.Errorf("metric value %s is not an integer", t)
		}
		*v = Int(int(f))
	case string:
		*v = String(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("metric list item %v is not a string", item)
			}
			items = append(items, s)
		}
		*v = List(items...)
	default:
		return fmt.Errorf("unsupported metric value %s", string(data))
	}
	return nil
}
