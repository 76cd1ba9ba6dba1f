package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/schema"
	"github.com/asaidimu/go-muninn/metrics"
	"github.com/asaidimu/go-muninn/sqlite"
)

const upsertDocumentSQL = `
INSERT INTO documents (
    document_id,
    document_view_id,
    schema_id,
    is_deleted
)
VALUES (?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
    document_view_id = excluded.document_view_id,
    is_deleted = excluded.is_deleted
`

const selectDocumentViewBindingSQL = `
SELECT document_id, schema_id
FROM document_views
WHERE document_view_id = ?
`

const insertDocumentViewSQL = `
INSERT INTO document_views (document_view_id, document_id, schema_id)
VALUES (?, ?, ?)
`

const deleteViewFieldsSQL = `
DELETE FROM document_view_fields
WHERE document_view_id = ?
`

const insertViewFieldSQL = `
INSERT INTO document_view_fields (document_view_id, operation_id, name)
VALUES (?, ?, ?)
`

const selectDocumentSQL = `
SELECT
    documents.document_id,
    documents.document_view_id,
    documents.schema_id,
    operations_v1.public_key
FROM documents
LEFT JOIN operations_v1 ON operations_v1.operation_id = documents.document_id
WHERE documents.document_id = ?
  AND documents.is_deleted = 0
`

const selectDocumentsBySchemaSQL = `
SELECT
    documents.document_id,
    documents.document_view_id,
    documents.schema_id,
    operations_v1.public_key
FROM documents
LEFT JOIN operations_v1 ON operations_v1.operation_id = documents.document_id
WHERE documents.schema_id = ?
  AND documents.is_deleted = 0
ORDER BY documents.document_id ASC
`

const selectViewDocumentSQL = `
SELECT document_id
FROM document_views
WHERE document_view_id = ?
`

const selectViewFieldRowsSQL = `
SELECT
    document_view_fields.operation_id,
    document_view_fields.name,
    operation_fields_v1.field_type,
    operation_fields_v1.value,
    operation_fields_v1.list_index
FROM document_view_fields
LEFT JOIN operation_fields_v1
    ON operation_fields_v1.operation_id = document_view_fields.operation_id
    AND operation_fields_v1.name = document_view_fields.name
WHERE document_view_fields.document_view_id = ?
ORDER BY operation_fields_v1.list_index ASC
`

// InsertDocument writes a document's current state. The identity row is
// upserted in place, keeping its document id and schema id forever; deleted
// documents keep the identity row and lose their view. One transaction
// covers the identity row, the view row and the view's field rows.
func (s *Store) InsertDocument(ctx context.Context, doc *document.Document) error {
	scope := eventScope{
		operation:  "insert_document",
		start:      DocumentInsertStart,
		success:    DocumentInsertSuccess,
		failed:     DocumentInsertFailed,
		schemaID:   string(doc.SchemaID),
		documentID: string(doc.ID),
		viewID:     string(doc.ViewID),
	}

	start := time.Now()
	err := s.withEvents(scope, func() error {
		return s.transact(ctx, "insert document", func(tx *sqlite.Tx) error {
			if err := s.upsertDocumentTx(ctx, tx, doc); err != nil {
				return err
			}
			if doc.Deleted || doc.Fields == nil {
				return nil
			}
			view := &document.DocumentView{ID: doc.ViewID, Fields: doc.Fields}
			return s.insertViewTx(ctx, tx, view, doc.ID, doc.SchemaID)
		})
	})
	metrics.StoreOperationDuration.WithLabelValues("insert_document").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	metrics.DocumentInsertsTotal.WithLabelValues(string(doc.SchemaID)).Inc()
	s.logger.Debug("document inserted",
		zap.String("document", string(doc.ID)),
		zap.String("view", string(doc.ViewID)),
		zap.Bool("deleted", doc.Deleted))
	return nil
}

// InsertDocumentView pins one historical state of a document. The document
// row must already exist and every operation the view's fields reference
// must be stored, otherwise nothing is written.
func (s *Store) InsertDocumentView(ctx context.Context, view *document.DocumentView, docID document.DocumentID, schemaID schema.SchemaID) error {
	scope := eventScope{
		operation:  "insert_document_view",
		start:      ViewInsertStart,
		success:    ViewInsertSuccess,
		failed:     ViewInsertFailed,
		schemaID:   string(schemaID),
		documentID: string(docID),
		viewID:     string(view.ID),
	}

	start := time.Now()
	err := s.withEvents(scope, func() error {
		return s.transact(ctx, "insert document view", func(tx *sqlite.Tx) error {
			return s.insertViewTx(ctx, tx, view, docID, schemaID)
		})
	})
	metrics.StoreOperationDuration.WithLabelValues("insert_document_view").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	metrics.DocumentViewInsertsTotal.WithLabelValues(string(schemaID)).Inc()
	s.logger.Debug("document view inserted",
		zap.String("document", string(docID)),
		zap.String("view", string(view.ID)))
	return nil
}

// GetDocument returns the current state of a document. Unknown and deleted
// documents are both absent.
func (s *Store) GetDocument(ctx context.Context, id document.DocumentID) (*document.Document, error) {
	var row documentRow
	err := s.pool.QueryRowContext(ctx, selectDocumentSQL, string(id)).
		Scan(&row.documentID, &row.viewID, &row.schemaID, &row.publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.DocumentReadsTotal.WithLabelValues("get_document", "miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document", "error").Inc()
		return nil, classifyStorageErr("get document", err)
	}

	doc, err := s.materializeDocument(ctx, &row, document.DocumentViewID(row.viewID))
	if err != nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document", "error").Inc()
		return nil, err
	}
	if doc == nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document", "miss").Inc()
		return nil, nil
	}
	metrics.DocumentReadsTotal.WithLabelValues("get_document", "hit").Inc()
	return doc, nil
}

// GetDocumentByViewID returns a document pinned at one historical state. The
// result carries the requested view id and that view's fields; documents
// deleted since the view was pinned stay absent.
func (s *Store) GetDocumentByViewID(ctx context.Context, viewID document.DocumentViewID) (*document.Document, error) {
	var docID string
	err := s.pool.QueryRowContext(ctx, selectViewDocumentSQL, string(viewID)).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "error").Inc()
		return nil, classifyStorageErr("get document by view", err)
	}

	var row documentRow
	err = s.pool.QueryRowContext(ctx, selectDocumentSQL, docID).
		Scan(&row.documentID, &row.viewID, &row.schemaID, &row.publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "error").Inc()
		return nil, classifyStorageErr("get document by view", err)
	}

	doc, err := s.materializeDocument(ctx, &row, viewID)
	if err != nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "error").Inc()
		return nil, err
	}
	if doc == nil {
		metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "miss").Inc()
		return nil, nil
	}
	metrics.DocumentReadsTotal.WithLabelValues("get_document_by_view", "hit").Inc()
	return doc, nil
}

// GetDocumentsBySchema returns the current state of every non-deleted
// document of one schema, ordered by document id. No matches is an empty
// slice, not an error.
func (s *Store) GetDocumentsBySchema(ctx context.Context, schemaID schema.SchemaID) ([]*document.Document, error) {
	rows, err := s.pool.QueryContext(ctx, selectDocumentsBySchemaSQL, string(schemaID))
	if err != nil {
		return nil, classifyStorageErr("get documents by schema", err)
	}
	defer rows.Close()

	var docRows []documentRow
	for rows.Next() {
		var row documentRow
		if err := rows.Scan(&row.documentID, &row.viewID, &row.schemaID, &row.publicKey); err != nil {
			return nil, classifyStorageErr("get documents by schema", err)
		}
		docRows = append(docRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageErr("get documents by schema", err)
	}
	rows.Close()

	docs := make([]*document.Document, 0, len(docRows))
	for i := range docRows {
		doc, err := s.materializeDocument(ctx, &docRows[i], document.DocumentViewID(docRows[i].viewID))
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// documentRow is the scanned shape of the documents selects. The author key
// joins in from the create operation and arrives null when that operation
// was never stored.
type documentRow struct {
	documentID string
	viewID     string
	schemaID   string
	publicKey  sql.NullString
}

// materializeDocument builds a document from its identity row and the field
// rows of the given view. A view without field rows materialises nothing.
func (s *Store) materializeDocument(ctx context.Context, row *documentRow, viewID document.DocumentViewID) (*document.Document, error) {
	if !row.publicKey.Valid {
		return nil, corruptionf("document %s: create operation is not stored", row.documentID)
	}
	fields, err := s.viewFields(ctx, viewID)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}
	return &document.Document{
		ID:       document.DocumentID(row.documentID),
		ViewID:   viewID,
		SchemaID: schema.SchemaID(row.schemaID),
		Author:   document.PublicKey(row.publicKey.String),
		Fields:   fields,
	}, nil
}

// viewFields loads and decodes the field rows of one view. Views without
// rows yield nil fields.
func (s *Store) viewFields(ctx context.Context, viewID document.DocumentViewID) (*document.ViewFields, error) {
	rows, err := s.pool.QueryContext(ctx, selectViewFieldRowsSQL, string(viewID))
	if err != nil {
		return nil, classifyStorageErr("get document view fields", err)
	}
	defer rows.Close()

	var fieldRows []documentViewFieldRow
	for rows.Next() {
		var r documentViewFieldRow
		if err := rows.Scan(&r.operationID, &r.name, &r.fieldType, &r.value, &r.listIndex); err != nil {
			return nil, classifyStorageErr("get document view fields", err)
		}
		fieldRows = append(fieldRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageErr("get document view fields", err)
	}
	if len(fieldRows) == 0 {
		return nil, nil
	}
	return parseDocumentViewFieldRows(fieldRows)
}

func (s *Store) upsertDocumentTx(ctx context.Context, tx *sqlite.Tx, doc *document.Document) error {
	_, err := tx.ExecContext(ctx, upsertDocumentSQL,
		string(doc.ID), string(doc.ViewID), string(doc.SchemaID), doc.Deleted)
	return classifyStorageErr("upsert document", err)
}

// insertViewTx writes a view row and its field rows. Re-inserting the same
// view replaces its field rows wholesale, so a crashed earlier attempt never
// leaves partial state behind. A view id already bound to another document
// or schema fails without writing.
func (s *Store) insertViewTx(ctx context.Context, tx *sqlite.Tx, view *document.DocumentView, docID document.DocumentID, schemaID schema.SchemaID) error {
	var boundDoc, boundSchema string
	err := tx.QueryRowContext(ctx, selectDocumentViewBindingSQL, string(view.ID)).
		Scan(&boundDoc, &boundSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, insertDocumentViewSQL,
			string(view.ID), string(docID), string(schemaID)); err != nil {
			return classifyStorageErr("insert document view", err)
		}
	case err != nil:
		return classifyStorageErr("insert document view", err)
	default:
		if boundDoc != string(docID) || boundSchema != string(schemaID) {
			return fmt.Errorf("insert document view %s: already bound to document %s of schema %s: %w",
				view.ID, boundDoc, boundSchema, ErrFatalStorage)
		}
	}

	if _, err := tx.ExecContext(ctx, deleteViewFieldsSQL, string(view.ID)); err != nil {
		return classifyStorageErr("replace document view fields", err)
	}
	for _, name := range view.Fields.Names() {
		fieldValue, _ := view.Fields.Get(name)
		if _, err := tx.ExecContext(ctx, insertViewFieldSQL,
			string(view.ID), string(fieldValue.OperationID), name); err != nil {
			return classifyOperationRefErr("insert document view field", err)
		}
	}
	return nil
}

// transact runs fn in one transaction, classifying begin and commit failures
// that fn itself could not see.
func (s *Store) transact(ctx context.Context, op string, fn func(tx *sqlite.Tx) error) error {
	err := s.pool.Transact(ctx, fn)
	if err == nil || errors.Is(err, ErrFatalStorage) {
		return err
	}
	return classifyStorageErr(op, err)
}
