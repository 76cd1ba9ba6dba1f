package sqlite

import "database/sql"

// The five relations of the store. operations_v1 and operation_fields_v1 are
// written by the operation store and read by everything else;
// document_view_fields keeps one row per field name, list members fan out
// through operation_fields_v1 on (operation_id, name, list_index).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS operations_v1 (
    operation_id TEXT NOT NULL PRIMARY KEY,
    public_key   TEXT NOT NULL,
    document_id  TEXT NOT NULL,
    schema_id    TEXT NOT NULL,
    action       TEXT NOT NULL CHECK (action IN ('create', 'update', 'delete')),
    previous     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_operations_v1_document ON operations_v1 (document_id);

CREATE TABLE IF NOT EXISTS operation_fields_v1 (
    operation_id TEXT NOT NULL REFERENCES operations_v1 (operation_id),
    name         TEXT NOT NULL,
    field_type   TEXT NOT NULL,
    value        TEXT,
    list_index   INTEGER NOT NULL,
    UNIQUE (operation_id, name, list_index)
);

CREATE INDEX IF NOT EXISTS idx_operation_fields_v1_lookup ON operation_fields_v1 (operation_id, name);

CREATE TABLE IF NOT EXISTS documents (
    document_id      TEXT NOT NULL PRIMARY KEY,
    document_view_id TEXT NOT NULL,
    schema_id        TEXT NOT NULL,
    is_deleted       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_schema ON documents (schema_id);

CREATE TABLE IF NOT EXISTS document_views (
    document_view_id TEXT NOT NULL PRIMARY KEY,
    document_id      TEXT NOT NULL REFERENCES documents (document_id),
    schema_id        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_views_document ON document_views (document_id);

CREATE TABLE IF NOT EXISTS document_view_fields (
    document_view_id TEXT NOT NULL REFERENCES document_views (document_view_id),
    operation_id     TEXT NOT NULL REFERENCES operations_v1 (operation_id),
    name             TEXT NOT NULL,
    UNIQUE (document_view_id, operation_id, name)
);

CREATE INDEX IF NOT EXISTS idx_document_view_fields_view ON document_view_fields (document_view_id);
`

func migrate(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}
