// Package sink is a reference implementation of the Sink interface
// spec.md §6 leaves as an external collaborator: Save(Record) -> error.
// The core never imports this package; cmd/webants wires one of these
// in the same way any user-supplied sink would be.
package sink

import (
	"github.com/webants/webants/internal/request"
)

// Sink persists a Record, per spec.md §6. Implementations may buffer;
// Close flushes any buffered writes.
type Sink interface {
	Save(record request.Record) error
	Close() error
}

// fieldsToMap flattens a Record's FieldValue map down to its plain
// values, discarding extraction notes, for formats (JSON Lines, CSV)
// that have no place to carry per-field metadata.
func fieldsToMap(rec request.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields())+3)
	for k, v := range rec.Fields() {
		out[k] = v.Value
	}
	return out
}
