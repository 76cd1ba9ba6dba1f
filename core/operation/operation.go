// Package operation models the author-published changes documents are
// materialised from. Entry encoding and signature checks happen upstream;
// operations handled here are already decoded and trusted.
package operation

import (
	"fmt"
	"sort"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/schema"
)

// Action is the kind of change an operation applies to its document.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates a stored action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("unknown operation action %q", s)
}

// Fields is the payload of a create or update operation. Iteration through
// Names is sorted for deterministic storage writes.
type Fields struct {
	fields map[string]document.FieldValue
}

// NewFields returns an empty payload.
func NewFields() *Fields {
	return &Fields{fields: make(map[string]document.FieldValue)}
}

// FieldsFromMap copies a plain map into an operation payload.
func FieldsFromMap(m map[string]document.FieldValue) *Fields {
	f := NewFields()
	for name, v := range m {
		f.Set(name, v)
	}
	return f
}

// Set stores or replaces a field value.
func (f *Fields) Set(name string, v document.FieldValue) {
	f.fields[name] = v
}

// Get returns a field value by name.
func (f *Fields) Get(name string) (document.FieldValue, bool) {
	v, ok := f.fields[name]
	return v, ok
}

// Len returns the number of fields.
func (f *Fields) Len() int { return len(f.fields) }

// Names returns all field names sorted.
func (f *Fields) Names() []string {
	names := make([]string, 0, len(f.fields))
	for name := range f.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operation is a single change to one document.
type Operation struct {
	ID        document.OperationID
	PublicKey document.PublicKey
	Action    Action
	SchemaID  schema.SchemaID
	Previous  document.DocumentViewID // view the change builds on, zero for create
	Fields    *Fields                 // nil for delete
}

// Validate checks the action's shape: creates carry fields and no previous
// view, updates carry both, deletes carry neither fields nor values.
func (op *Operation) Validate() error {
	switch op.Action {
	case ActionCreate:
		if op.Fields == nil || op.Fields.Len() == 0 {
			return fmt.Errorf("create operation %s: missing fields", op.ID)
		}
		if op.Previous != "" {
			return fmt.Errorf("create operation %s: must not reference a previous view", op.ID)
		}
	case ActionUpdate:
		if op.Fields == nil || op.Fields.Len() == 0 {
			return fmt.Errorf("update operation %s: missing fields", op.ID)
		}
		if op.Previous == "" {
			return fmt.Errorf("update operation %s: missing previous view", op.ID)
		}
	case ActionDelete:
		if op.Fields != nil && op.Fields.Len() > 0 {
			return fmt.Errorf("delete operation %s: must not carry fields", op.ID)
		}
		if op.Previous == "" {
			return fmt.Errorf("delete operation %s: missing previous view", op.ID)
		}
	default:
		return fmt.Errorf("operation %s: unknown action %q", op.ID, op.Action)
	}
	return nil
}
