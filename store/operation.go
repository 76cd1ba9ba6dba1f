package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/operation"
	"github.com/asaidimu/go-muninn/core/schema"
	"github.com/asaidimu/go-muninn/metrics"
	"github.com/asaidimu/go-muninn/sqlite"
)

const insertOperationSQL = `
INSERT INTO operations_v1 (
    operation_id,
    public_key,
    document_id,
    schema_id,
    action,
    previous
)
VALUES (?, ?, ?, ?, ?, ?)
`

const insertOperationFieldSQL = `
INSERT INTO operation_fields_v1 (operation_id, name, field_type, value, list_index)
VALUES (?, ?, ?, ?, ?)
`

const selectOperationSQL = `
SELECT public_key, document_id, schema_id, action, previous
FROM operations_v1
WHERE operation_id = ?
`

const selectOperationFieldsSQL = `
SELECT name, field_type, value, list_index
FROM operation_fields_v1
WHERE operation_id = ?
ORDER BY list_index ASC
`

const operationExistsSQL = `
SELECT EXISTS (SELECT 1 FROM operations_v1 WHERE operation_id = ?)
`

const selectOperationsByDocumentSQL = `
SELECT operation_id, public_key, schema_id, action, previous
FROM operations_v1
WHERE document_id = ?
ORDER BY rowid ASC
`

// StoredOperation pairs an operation with the document the store indexed it
// under.
type StoredOperation struct {
	operation.Operation
	DocumentID document.DocumentID
}

// InsertOperation persists one decoded operation together with its field
// rows, one row per value element. The id must be new; replaying an
// operation fails on the primary key.
func (s *Store) InsertOperation(ctx context.Context, op *operation.Operation, documentID document.DocumentID) error {
	if err := op.Validate(); err != nil {
		return err
	}

	scope := eventScope{
		operation:  "insert_operation",
		start:      OperationInsertStart,
		success:    OperationInsertSuccess,
		failed:     OperationInsertFailed,
		schemaID:   string(op.SchemaID),
		documentID: string(documentID),
	}

	start := time.Now()
	err := s.withEvents(scope, func() error {
		return s.transact(ctx, "insert operation", func(tx *sqlite.Tx) error {
			if _, err := tx.ExecContext(ctx, insertOperationSQL,
				string(op.ID), string(op.PublicKey), string(documentID),
				string(op.SchemaID), string(op.Action), string(op.Previous)); err != nil {
				return classifyStorageErr("insert operation", err)
			}
			if op.Fields == nil {
				return nil
			}
			for _, name := range op.Fields.Names() {
				value, _ := op.Fields.Get(name)
				for i, element := range document.EncodeValue(value) {
					var raw any
					if element != nil {
						raw = *element
					}
					if _, err := tx.ExecContext(ctx, insertOperationFieldSQL,
						string(op.ID), name, string(value.Type()), raw, i); err != nil {
						return classifyStorageErr("insert operation field", err)
					}
				}
			}
			return nil
		})
	})
	metrics.StoreOperationDuration.WithLabelValues("insert_operation").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	metrics.OperationInsertsTotal.WithLabelValues(string(op.SchemaID)).Inc()
	s.logger.Debug("operation inserted",
		zap.String("operation", string(op.ID)),
		zap.String("document", string(documentID)),
		zap.String("action", string(op.Action)))
	return nil
}

// GetOperation returns one stored operation with its payload, or nil when
// the id is unknown.
func (s *Store) GetOperation(ctx context.Context, id document.OperationID) (*StoredOperation, error) {
	var publicKey, docID, schemaID, action, previous string
	err := s.pool.QueryRowContext(ctx, selectOperationSQL, string(id)).
		Scan(&publicKey, &docID, &schemaID, &action, &previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStorageErr("get operation", err)
	}

	parsedAction, err := operation.ParseAction(action)
	if err != nil {
		return nil, corruptionf("operation %s: %v", id, err)
	}
	fields, err := s.operationFields(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StoredOperation{
		Operation: operation.Operation{
			ID:        id,
			PublicKey: document.PublicKey(publicKey),
			Action:    parsedAction,
			SchemaID:  schema.SchemaID(schemaID),
			Previous:  document.DocumentViewID(previous),
			Fields:    fields,
		},
		DocumentID: document.DocumentID(docID),
	}, nil
}

// HasOperation reports whether an operation id is stored.
func (s *Store) HasOperation(ctx context.Context, id document.OperationID) (bool, error) {
	var n int
	if err := s.pool.QueryRowContext(ctx, operationExistsSQL, string(id)).Scan(&n); err != nil {
		return false, classifyStorageErr("operation exists", err)
	}
	return n == 1, nil
}

// GetOperationsByDocumentID returns every stored operation of one document.
// The materialiser persists operations in topological order, so insertion
// order is replay order.
func (s *Store) GetOperationsByDocumentID(ctx context.Context, docID document.DocumentID) ([]*StoredOperation, error) {
	rows, err := s.pool.QueryContext(ctx, selectOperationsByDocumentSQL, string(docID))
	if err != nil {
		return nil, classifyStorageErr("get operations by document", err)
	}
	defer rows.Close()

	type operationRow struct {
		id, publicKey, schemaID, action, previous string
	}
	var opRows []operationRow
	for rows.Next() {
		var r operationRow
		if err := rows.Scan(&r.id, &r.publicKey, &r.schemaID, &r.action, &r.previous); err != nil {
			return nil, classifyStorageErr("get operations by document", err)
		}
		opRows = append(opRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageErr("get operations by document", err)
	}
	rows.Close()

	ops := make([]*StoredOperation, 0, len(opRows))
	for _, r := range opRows {
		parsedAction, err := operation.ParseAction(r.action)
		if err != nil {
			return nil, corruptionf("operation %s: %v", r.id, err)
		}
		fields, err := s.operationFields(ctx, document.OperationID(r.id))
		if err != nil {
			return nil, err
		}
		ops = append(ops, &StoredOperation{
			Operation: operation.Operation{
				ID:        document.OperationID(r.id),
				PublicKey: document.PublicKey(r.publicKey),
				Action:    parsedAction,
				SchemaID:  schema.SchemaID(r.schemaID),
				Previous:  document.DocumentViewID(r.previous),
				Fields:    fields,
			},
			DocumentID: docID,
		})
	}
	return ops, nil
}

// operationFields loads and decodes one operation's field rows. Operations
// without rows, deletes among them, yield nil fields.
func (s *Store) operationFields(ctx context.Context, id document.OperationID) (*operation.Fields, error) {
	rows, err := s.pool.QueryContext(ctx, selectOperationFieldsSQL, string(id))
	if err != nil {
		return nil, classifyStorageErr("get operation fields", err)
	}
	defer rows.Close()

	var fieldRows []operationFieldRow
	for rows.Next() {
		var r operationFieldRow
		if err := rows.Scan(&r.name, &r.fieldType, &r.value, &r.listIndex); err != nil {
			return nil, classifyStorageErr("get operation fields", err)
		}
		fieldRows = append(fieldRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageErr("get operation fields", err)
	}
	if len(fieldRows) == 0 {
		return nil, nil
	}
	return parseOperationFieldRows(fieldRows)
}
