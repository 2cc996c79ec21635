package snapshot

import "reflect"

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindColor3
	KindVector3
	KindArray
	KindRef
)

// Color3 is an RGB color in the 0.0-1.0 range, the aggregate color type of
// the domain's property system.
type Color3 struct{ R, G, B float64 }

// Vector3 is a 3-component aggregate numeric type.
type Vector3 struct{ X, Y, Z float64 }

// Value is a typed variant over the primitive and aggregate property types
// of the domain (spec.md §3: "values are variants over the known
// primitive and aggregate types"). The zero Value is KindString "".
type Value struct {
	kind  ValueKind
	str   string
	boo   bool
	i64   int64
	f64   float64
	color Color3
	vec3  Vector3
	arr   []Value
	ref   string
}

func String(s string) Value    { return Value{kind: KindString, str: s} }
func Bool(b bool) Value        { return Value{kind: KindBool, boo: b} }
func Int(i int64) Value        { return Value{kind: KindInt, i64: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f64: f} }
func FromColor3(c Color3) Value { return Value{kind: KindColor3, color: c} }
func FromVector3(v Vector3) Value { return Value{kind: KindVector3, vec3: v} }
func Array(vs ...Value) Value  { return Value{kind: KindArray, arr: vs} }
func Ref(path string) Value    { return Value{kind: KindRef, ref: path} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) AsString() string  { return v.str }
func (v Value) AsBool() bool      { return v.boo }
func (v Value) AsInt() int64      { return v.i64 }
func (v Value) AsFloat() float64  { return v.f64 }
func (v Value) AsColor3() Color3  { return v.color }
func (v Value) AsVector3() Vector3 { return v.vec3 }
func (v Value) AsArray() []Value  { return v.arr }
func (v Value) AsRef() string     { return v.ref }

// Equal reports structural equality, the comparison §4.4's property diff
// step and §8's P4/P5 round-trip/idempotence properties rely on.
func (v Value) Equal(other Value) bool {
	return reflect.DeepEqual(v, other)
}

// PropertyMap is an immutable-by-convention map from property name to
// Value. Callers must not mutate a map obtained from a Snapshot or
// Instance; Clone it first.
type PropertyMap map[string]Value

// Clone returns a shallow copy safe to mutate independently.
func (p PropertyMap) Clone() PropertyMap {
	out := make(PropertyMap, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal reports whether two property maps hold the same keys and
// structurally equal values (property order is irrelevant, spec.md §4.4
// step 3).
func (p PropertyMap) Equal(other PropertyMap) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
