// Package query is the seam between the persistence layer's query engine and
// its consumers. Replication resolvers, API layers and the blob assembler
// all parameterise queries with these types.
package query

import (
	"context"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/schema"
)

// DefaultPageSize bounds queries that do not name an explicit page size.
const DefaultPageSize = 25

// Cursor resumes pagination strictly after a previously returned match.
// Cursors are opaque and only valid for the argument shape that produced
// them.
type Cursor string

// Pagination bounds one page of results.
type Pagination struct {
	First uint64 // page size, DefaultPageSize when zero
	After Cursor // empty for the first page
}

// Direction orders unanchored queries.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Order sorts unanchored queries by one field's stored value. The zero value
// keeps storage order: pinned list order for anchored queries, document id
// order otherwise.
type Order struct {
	Field     string
	Direction Direction
}

// Condition filters matches on equality of one field's stored value.
type Condition struct {
	Field string
	Value document.FieldValue
}

// Args parameterises a query. The zero value selects every field of the
// first DefaultPageSize matches in storage order.
type Args struct {
	Pagination Pagination
	Select     []string    // field names to materialise, empty selects all
	Filter     []Condition // conjunctive equality conditions
	Order      Order
}

// RelationList anchors a query to the members of one pinned relation list:
// only documents whose view id appears under the given field of the root
// view match, and matches keep the list's stored order.
type RelationList struct {
	Root  document.DocumentViewID
	Field string
}

// Match is one query result.
type Match struct {
	DocumentID document.DocumentID
	ViewID     document.DocumentViewID
	Fields     *document.ViewFields
}

// Result is one page of matches.
type Result struct {
	Matches     []Match
	EndCursor   Cursor
	HasNextPage bool
}

// Engine executes schema queries over materialised documents.
type Engine interface {
	Query(ctx context.Context, schemaID schema.SchemaID, args *Args, anchor *RelationList) (*Result, error)
}
