package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/query"
	"github.com/asaidimu/go-muninn/core/schema"
	"github.com/asaidimu/go-muninn/metrics"
)

const anchoredMembersSQL = `
SELECT
    member.list_index,
    member.value,
    document_views.document_id
FROM document_view_fields AS root
JOIN operation_fields_v1 AS member
    ON member.operation_id = root.operation_id
    AND member.name = root.name
JOIN document_views ON document_views.document_view_id = member.value
JOIN documents ON documents.document_id = document_views.document_id
WHERE root.document_view_id = ?
  AND root.name = ?
  AND member.value IS NOT NULL
  AND document_views.schema_id = ?
  AND documents.is_deleted = 0
`

const schemaDocumentsSQL = `
SELECT documents.document_id, documents.document_view_id
FROM documents
WHERE documents.schema_id = ?
  AND documents.is_deleted = 0
`

// fieldEqualsSQL compares one field's stored value under the view named by
// the interpolated column expression. Only trusted column names are ever
// interpolated; values always bind.
const fieldEqualsSQL = `  AND EXISTS (
    SELECT 1
    FROM document_view_fields AS filter_field
    JOIN operation_fields_v1 AS filter_value
        ON filter_value.operation_id = filter_field.operation_id
        AND filter_value.name = filter_field.name
    WHERE filter_field.document_view_id = %s
      AND filter_field.name = ?
      AND filter_value.value = ?
)
`

// orderValueSQL resolves one field's stored value for a document's current
// view. Values compare in their stored text encoding.
const orderValueSQL = `(
    SELECT order_value.value
    FROM document_view_fields AS order_field
    JOIN operation_fields_v1 AS order_value
        ON order_value.operation_id = order_field.operation_id
        AND order_value.name = order_field.name
    WHERE order_field.document_view_id = documents.document_view_id
      AND order_field.name = ?
    ORDER BY order_value.list_index ASC
    LIMIT 1
)`

// matchRef is one matched view before its fields are materialised.
type matchRef struct {
	docID     string
	viewID    string
	listIndex int64
}

// Query pages over the materialised documents of one schema. An anchor
// restricts matches to the members of a pinned relation list and keeps the
// list's stored order; unanchored queries page by document id, optionally
// reordered by one field's stored value. Cursors resume strictly after a
// previous match and only combine with the argument shape that minted them.
func (s *Store) Query(ctx context.Context, schemaID schema.SchemaID, args *query.Args, anchor *query.RelationList) (*query.Result, error) {
	if args == nil {
		args = &query.Args{}
	}
	first := args.Pagination.First
	if first == 0 {
		first = query.DefaultPageSize
	}

	start := time.Now()
	defer func() {
		metrics.StoreOperationDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	}()

	if anchor != nil {
		return s.queryAnchored(ctx, schemaID, args, anchor, first)
	}
	return s.queryDocuments(ctx, schemaID, args, first)
}

func (s *Store) queryAnchored(ctx context.Context, schemaID schema.SchemaID, args *query.Args, anchor *query.RelationList, first uint64) (*query.Result, error) {
	if args.Order.Field != "" {
		return nil, fmt.Errorf("query: anchored queries keep their list order and cannot order by field %q", args.Order.Field)
	}

	var sb strings.Builder
	sb.WriteString(anchoredMembersSQL)
	sqlArgs := []any{string(anchor.Root), anchor.Field, string(schemaID)}

	if args.Pagination.After != "" {
		afterIndex, err := strconv.ParseInt(string(args.Pagination.After), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("query: cursor %q is not a list index", args.Pagination.After)
		}
		sb.WriteString("  AND member.list_index > ?\n")
		sqlArgs = append(sqlArgs, afterIndex)
	}

	filterSQL, filterArgs, err := filterConditions(args.Filter, "member.value")
	if err != nil {
		return nil, err
	}
	sb.WriteString(filterSQL)
	sqlArgs = append(sqlArgs, filterArgs...)

	sb.WriteString("ORDER BY member.list_index ASC\nLIMIT ?")
	sqlArgs = append(sqlArgs, int64(first)+1)

	refs, err := s.queryMatchRefs(ctx, sb.String(), sqlArgs, true)
	if err != nil {
		return nil, err
	}

	hasNext := uint64(len(refs)) > first
	if hasNext {
		refs = refs[:first]
	}
	matches, err := s.buildMatches(ctx, refs, args.Select)
	if err != nil {
		return nil, err
	}

	result := &query.Result{Matches: matches, HasNextPage: hasNext}
	if len(refs) > 0 {
		result.EndCursor = query.Cursor(strconv.FormatInt(refs[len(refs)-1].listIndex, 10))
	}
	return result, nil
}

func (s *Store) queryDocuments(ctx context.Context, schemaID schema.SchemaID, args *query.Args, first uint64) (*query.Result, error) {
	ordered := args.Order.Field != "" || args.Order.Direction == query.Descending
	if args.Pagination.After != "" && ordered {
		return nil, fmt.Errorf("query: cursors only resume document id order")
	}

	var sb strings.Builder
	sb.WriteString(schemaDocumentsSQL)
	sqlArgs := []any{string(schemaID)}

	if args.Pagination.After != "" {
		sb.WriteString("  AND documents.document_id > ?\n")
		sqlArgs = append(sqlArgs, string(args.Pagination.After))
	}

	filterSQL, filterArgs, err := filterConditions(args.Filter, "documents.document_view_id")
	if err != nil {
		return nil, err
	}
	sb.WriteString(filterSQL)
	sqlArgs = append(sqlArgs, filterArgs...)

	dir, err := orderDirection(args.Order.Direction)
	if err != nil {
		return nil, err
	}
	if args.Order.Field != "" {
		sb.WriteString("ORDER BY " + orderValueSQL + " " + dir + ", documents.document_id ASC\n")
		sqlArgs = append(sqlArgs, args.Order.Field)
	} else {
		sb.WriteString("ORDER BY documents.document_id " + dir + "\n")
	}

	sb.WriteString("LIMIT ?")
	sqlArgs = append(sqlArgs, int64(first)+1)

	refs, err := s.queryMatchRefs(ctx, sb.String(), sqlArgs, false)
	if err != nil {
		return nil, err
	}

	hasNext := uint64(len(refs)) > first
	if hasNext {
		refs = refs[:first]
	}
	matches, err := s.buildMatches(ctx, refs, args.Select)
	if err != nil {
		return nil, err
	}

	result := &query.Result{Matches: matches, HasNextPage: hasNext}
	if len(refs) > 0 {
		result.EndCursor = query.Cursor(refs[len(refs)-1].docID)
	}
	return result, nil
}

// queryMatchRefs runs an assembled member or document query and drains its
// rows before any per-view loads run.
func (s *Store) queryMatchRefs(ctx context.Context, sqlText string, sqlArgs []any, anchored bool) ([]matchRef, error) {
	rows, err := s.pool.QueryContext(ctx, sqlText, sqlArgs...)
	if err != nil {
		return nil, classifyStorageErr("query documents", err)
	}
	defer rows.Close()

	var refs []matchRef
	for rows.Next() {
		var ref matchRef
		if anchored {
			err = rows.Scan(&ref.listIndex, &ref.viewID, &ref.docID)
		} else {
			err = rows.Scan(&ref.docID, &ref.viewID)
		}
		if err != nil {
			return nil, classifyStorageErr("query documents", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageErr("query documents", err)
	}
	return refs, nil
}

func (s *Store) buildMatches(ctx context.Context, refs []matchRef, selected []string) ([]query.Match, error) {
	matches := make([]query.Match, 0, len(refs))
	for _, ref := range refs {
		fields, err := s.viewFields(ctx, document.DocumentViewID(ref.viewID))
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, corruptionf("document view %s has no stored fields", ref.viewID)
		}
		matches = append(matches, query.Match{
			DocumentID: document.DocumentID(ref.docID),
			ViewID:     document.DocumentViewID(ref.viewID),
			Fields:     projectFields(fields, selected),
		})
	}
	return matches, nil
}

func projectFields(fields *document.ViewFields, selected []string) *document.ViewFields {
	if len(selected) == 0 {
		return fields
	}
	out := document.NewViewFields()
	for _, name := range selected {
		if v, ok := fields.Get(name); ok {
			out.Set(name, v)
		}
	}
	return out
}

func filterConditions(conds []query.Condition, viewColumn string) (string, []any, error) {
	var sb strings.Builder
	var args []any
	for _, cond := range conds {
		encoded := document.EncodeValue(cond.Value)
		if len(encoded) != 1 || encoded[0] == nil {
			return "", nil, fmt.Errorf("query: filter on %q: only scalar values compare", cond.Field)
		}
		fmt.Fprintf(&sb, fieldEqualsSQL, viewColumn)
		args = append(args, cond.Field, *encoded[0])
	}
	return sb.String(), args, nil
}

func orderDirection(d query.Direction) (string, error) {
	switch d {
	case "", query.Ascending:
		return "ASC", nil
	case query.Descending:
		return "DESC", nil
	}
	return "", fmt.Errorf("query: unknown order direction %q", d)
}
