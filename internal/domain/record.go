package domain

// Record is one row as returned by the Odoo JSON-RPC API, decoded from
// JSON. Odoo represents absent scalar values as boolean false and many2one
// relations as a [id, "display name"] pair, so the accessors below absorb
// both shapes instead of forcing callers to type-switch.
type Record map[string]any

// Int returns the value as an int64. JSON numbers decode as float64, which
// is the only numeric shape the API produces.
func (r Record) Int(key string) int64 {
	if v, ok := r[key].(float64); ok {
		return int64(v)
	}
	return 0
}

// Float returns the value as a float64, or 0 when absent or false.
func (r Record) Float(key string) float64 {
	if v, ok := r[key].(float64); ok {
		return v
	}
	return 0
}

// Str returns the value as a string. Odoo sends false for empty text
// fields, which maps to "".
func (r Record) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// RefVal returns the value interpreted as a many2one reference. A bare
// numeric id is accepted as well as the [id, name] pair; false and zero
// ids yield an unset Ref.
func (r Record) RefVal(key string) Ref {
	switch v := r[key].(type) {
	case []any:
		var ref Ref
		if len(v) > 0 {
			if id, ok := v[0].(float64); ok {
				ref.ID = int64(id)
				ref.Set = ref.ID != 0
			}
		}
		if len(v) > 1 {
			if name, ok := v[1].(string); ok {
				ref.Name = name
			}
		}
		return ref
	case float64:
		if v != 0 {
			return Ref{ID: int64(v), Set: true}
		}
	}
	return Ref{}
}

// Ref is a resolved many2one reference. Set is false when the source field
// was false, missing, or had a zero id.
type Ref struct {
	ID   int64
	Name string
	Set  bool
}
