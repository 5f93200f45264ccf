package tsstore

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value float64
}

// Record is an ordered, flat mapping from field name to value. A Record is
// built once per sample and not modified after it is handed to Write.
type Record struct {
	fields []Field
}

// NewRecord builds a Record from fields in order. A repeated name keeps its
// first position and takes the last value.
func NewRecord(fields ...Field) Record {
	r := Record{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		r = r.with(f.Name, f.Value)
	}
	return r
}

func (r Record) with(name string, value float64) Record {
	for i := range r.fields {
		if r.fields[i].Name == name {
			r.fields[i].Value = value
			return r
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: value})
	return r
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the value of the named field.
func (r Record) Get(name string) (float64, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Equal reports whether both records hold the same names with the same
// values. Field order is not compared.
func (r Record) Equal(other Record) bool {
	if len(r.fields) != len(other.fields) {
		return false
	}
	for _, f := range r.fields {
		v, ok := other.Get(f.Name)
		if !ok || v != f.Value {
			return false
		}
	}
	return true
}

// RecordBuilder accumulates fields for a Record.
type RecordBuilder struct {
	rec Record
}

// Add appends or replaces a field.
func (b *RecordBuilder) Add(name string, value float64) *RecordBuilder {
	b.rec = b.rec.with(name, value)
	return b
}

// Record returns the built Record. The builder must not be reused.
func (b *RecordBuilder) Record() Record {
	return b.rec
}
