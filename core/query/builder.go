package query

import "github.com/asaidimu/go-muninn/core/document"

// Builder assembles query arguments fluently. It is a convenience over
// filling Args by hand; the zero builder produces the zero Args.
type Builder struct {
	args Args
}

// NewBuilder creates a new, empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns the assembled arguments. The builder can keep being used
// afterwards; later calls see later state.
func (b *Builder) Build() *Args {
	args := b.args
	args.Select = append([]string(nil), b.args.Select...)
	args.Filter = append([]Condition(nil), b.args.Filter...)
	return &args
}

// Clone copies the builder so a new query can start from an existing one
// without modifying the original.
func (b *Builder) Clone() *Builder {
	clone := &Builder{args: b.args}
	clone.args.Select = append([]string(nil), b.args.Select...)
	clone.args.Filter = append([]Condition(nil), b.args.Filter...)
	return clone
}

// Reset clears all configuration, returning the builder to its initial
// state.
func (b *Builder) Reset() *Builder {
	b.args = Args{}
	return b
}

// Where adds an equality condition on one field's stored value. Conditions
// combine as a conjunction.
func (b *Builder) Where(field string, value document.FieldValue) *Builder {
	b.args.Filter = append(b.args.Filter, Condition{Field: field, Value: value})
	return b
}

// Select names the fields to materialise on each match. Without a selection
// every stored field comes back.
func (b *Builder) Select(fields ...string) *Builder {
	b.args.Select = append(b.args.Select, fields...)
	return b
}

// OrderByAsc sorts matches by one field's stored value, ascending.
func (b *Builder) OrderByAsc(field string) *Builder {
	b.args.Order = Order{Field: field, Direction: Ascending}
	return b
}

// OrderByDesc sorts matches by one field's stored value, descending.
func (b *Builder) OrderByDesc(field string) *Builder {
	b.args.Order = Order{Field: field, Direction: Descending}
	return b
}

// First bounds the page size.
func (b *Builder) First(n uint64) *Builder {
	b.args.Pagination.First = n
	return b
}

// After resumes pagination from a cursor returned by an earlier page.
func (b *Builder) After(cursor Cursor) *Builder {
	b.args.Pagination.After = cursor
	return b
}
