package store

import (
	"database/sql"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/operation"
)

// documentViewFieldRow is one row of the view-field join: the stored
// (view, operation, name) triple fanned out per value element through
// operation_fields_v1. The joined columns arrive nullable; a view field with
// no operation-field match at all carries a null field_type.
type documentViewFieldRow struct {
	operationID string
	name        string
	fieldType   sql.NullString
	value       sql.NullString
	listIndex   sql.NullInt64
}

// fieldGroup accumulates one field's value elements in list order.
type fieldGroup struct {
	operationID string
	fieldType   document.FieldType
	values      []*string
}

func (g *fieldGroup) append(row documentViewFieldRow) error {
	if row.operationID != g.operationID {
		return corruptionf("view field %q written by conflicting operations %s and %s",
			row.name, g.operationID, row.operationID)
	}
	if document.FieldType(row.fieldType.String) != g.fieldType {
		return corruptionf("view field %q mixes field types %q and %q",
			row.name, g.fieldType, row.fieldType.String)
	}
	// Rows arrive sorted by list index, so each element's index must equal
	// the count gathered so far. Anything else is a gap or a duplicate.
	if row.listIndex.Int64 != int64(len(g.values)) {
		return corruptionf("view field %q: row index %d where %d was expected",
			row.name, row.listIndex.Int64, len(g.values))
	}
	if row.value.Valid {
		v := row.value.String
		g.values = append(g.values, &v)
	} else {
		g.values = append(g.values, nil)
	}
	return nil
}

// parseDocumentViewFieldRows folds joined rows, pre-sorted by list index,
// into materialised view fields. Index gaps and duplicates, unknown type
// tags, conflicting writers for one name and undecodable payloads all mean
// the stored view is corrupt; none of them panic.
func parseDocumentViewFieldRows(rows []documentViewFieldRow) (*document.ViewFields, error) {
	groups := make(map[string]*fieldGroup)
	for _, row := range rows {
		if !row.fieldType.Valid || !row.listIndex.Valid {
			return nil, corruptionf("view field %q has no value rows under operation %s",
				row.name, row.operationID)
		}
		g, ok := groups[row.name]
		if !ok {
			t := document.FieldType(row.fieldType.String)
			if !document.KnownFieldType(t) {
				return nil, corruptionf("view field %q: unknown field type %q", row.name, row.fieldType.String)
			}
			g = &fieldGroup{operationID: row.operationID, fieldType: t}
			groups[row.name] = g
		}
		if err := g.append(row); err != nil {
			return nil, err
		}
	}

	fields := document.NewViewFields()
	for name, g := range groups {
		value, err := document.DecodeValue(g.fieldType, g.values)
		if err != nil {
			return nil, corruptionf("view field %q: %v", name, err)
		}
		opID, err := document.NewOperationID(g.operationID)
		if err != nil {
			return nil, corruptionf("view field %q: %v", name, err)
		}
		fields.Set(name, document.ViewValue{OperationID: opID, Value: value})
	}
	return fields, nil
}

// operationFieldRow is one row of operation_fields_v1 for a known operation.
type operationFieldRow struct {
	name      string
	fieldType string
	value     sql.NullString
	listIndex int64
}

// parseOperationFieldRows folds an operation's field rows, pre-sorted by
// list index, back into its payload.
func parseOperationFieldRows(rows []operationFieldRow) (*operation.Fields, error) {
	groups := make(map[string]*fieldGroup)
	for _, row := range rows {
		g, ok := groups[row.name]
		if !ok {
			t := document.FieldType(row.fieldType)
			if !document.KnownFieldType(t) {
				return nil, corruptionf("operation field %q: unknown field type %q", row.name, row.fieldType)
			}
			g = &fieldGroup{fieldType: t}
			groups[row.name] = g
		}
		err := g.append(documentViewFieldRow{
			name:      row.name,
			fieldType: sql.NullString{String: row.fieldType, Valid: true},
			value:     row.value,
			listIndex: sql.NullInt64{Int64: row.listIndex, Valid: true},
		})
		if err != nil {
			return nil, err
		}
	}

	fields := operation.NewFields()
	for name, g := range groups {
		value, err := document.DecodeValue(g.fieldType, g.values)
		if err != nil {
			return nil, corruptionf("operation field %q: %v", name, err)
		}
		fields.Set(name, value)
	}
	return fields, nil
}
