package visitor

import "encoding/json"

// Field is an optional, nullable column value. The zero Field is absent: it was
// never supplied and must be left out of inserts so the store default applies.
// A null Field was explicitly set to NULL and must be written as such.
type Field[T any] struct {
	value T
	set   bool
	valid bool
}

// Value returns a Field holding v.
func Value[T any](v T) Field[T] {
	return Field[T]{value: v, set: true, valid: true}
}

// Null returns a Field explicitly set to NULL.
func Null[T any]() Field[T] {
	return Field[T]{set: true}
}

// Present reports whether the field was supplied, either as a value or as NULL.
func (f Field[T]) Present() bool { return f.set }

// IsNull reports whether the field was explicitly set to NULL.
func (f Field[T]) IsNull() bool { return f.set && !f.valid }

// Get returns the value and whether one is held.
func (f Field[T]) Get() (T, bool) { return f.value, f.valid }

// OrZero returns the held value or the zero value of T.
func (f Field[T]) OrZero() T { return f.value }

// Ptr returns nil for absent and null fields, or a pointer to a copy of the value.
func (f Field[T]) Ptr() *T {
	if !f.valid {
		return nil
	}
	v := f.value
	return &v
}

// FromPtr maps a scanned nullable column back into a present Field.
func FromPtr[T any](p *T) Field[T] {
	if p == nil {
		return Null[T]()
	}
	return Value(*p)
}

// MarshalJSON encodes absent and null fields as JSON null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
