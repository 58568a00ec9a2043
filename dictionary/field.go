package dictionary

import "context"

// Field is a typed dictionary key whose values have type V.
type Field[V any] string

// GetField reads a typed field. The boolean is false if the field is absent.
func GetField[S, V any](ctx context.Context, d *Dictionary[S], field Field[V]) (V, bool, error) {
	var value V
	ok, err := d.Get(ctx, string(field), &value)
	return value, ok, err
}

// SetField writes a typed field.
func SetField[S, V any](ctx context.Context, d *Dictionary[S], field Field[V], value V) error {
	return d.Set(ctx, string(field), value)
}
