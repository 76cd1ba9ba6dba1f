// Package document models materialised documents: the identifiers that
// address them, their typed field values, and the pinned view states other
// documents can reference.
package document

import (
	"sort"

	"github.com/asaidimu/go-muninn/core/schema"
)

// ViewValue pairs a field's materialised value with the id of the operation
// that wrote it.
type ViewValue struct {
	OperationID OperationID
	Value       FieldValue
}

// ViewFields maps field names to materialised values. Iteration through
// Names is sorted so storage writes and derived hashes stay deterministic.
type ViewFields struct {
	fields map[string]ViewValue
}

// NewViewFields returns an empty field set.
func NewViewFields() *ViewFields {
	return &ViewFields{fields: make(map[string]ViewValue)}
}

// Set stores or replaces the value for a field name.
func (f *ViewFields) Set(name string, v ViewValue) {
	f.fields[name] = v
}

// Get returns the value for a field name.
func (f *ViewFields) Get(name string) (ViewValue, bool) {
	v, ok := f.fields[name]
	return v, ok
}

// Len returns the number of fields.
func (f *ViewFields) Len() int { return len(f.fields) }

// Names returns all field names sorted.
func (f *ViewFields) Names() []string {
	names := make([]string, 0, len(f.fields))
	for name := range f.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DocumentView is one pinned, materialised state of a document.
type DocumentView struct {
	ID     DocumentViewID
	Fields *ViewFields
}

// Document is the materialised state of a replicated document. Fields is nil
// once the document is deleted; a deleted document keeps its identity row but
// no view.
type Document struct {
	ID       DocumentID
	ViewID   DocumentViewID
	SchemaID schema.SchemaID
	Author   PublicKey
	Deleted  bool
	Fields   *ViewFields
}

// Get returns the current value of a field, or nil when the field is absent
// or the document carries no view.
func (d *Document) Get(name string) FieldValue {
	if d.Fields == nil {
		return nil
	}
	v, ok := d.Fields.Get(name)
	if !ok {
		return nil
	}
	return v.Value
}

// View returns the document's current state as a pinned view, or nil for
// documents without one.
func (d *Document) View() *DocumentView {
	if d.Fields == nil {
		return nil
	}
	return &DocumentView{ID: d.ViewID, Fields: d.Fields}
}
