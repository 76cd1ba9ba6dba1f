package schema

import "fmt"

// SchemaID names the shape of a document. Application schemas are
// "<name>_<definition view id>"; system schemas carry a version suffix.
type SchemaID string

const (
	// Blob is the system schema of blob documents.
	Blob SchemaID = "blob_v1"
	// BlobPiece is the system schema of the chunks a blob's bytes are split
	// into.
	BlobPiece SchemaID = "blob_piece_v1"
)

func (id SchemaID) String() string { return string(id) }

// IsSystem reports whether the schema is one of the built-in system schemas.
func (id SchemaID) IsSystem() bool {
	return id == Blob || id == BlobPiece
}

// ApplicationSchemaID derives an application schema id from the schema's
// name and the view id string of its definition document.
func ApplicationSchemaID(name, definitionViewID string) SchemaID {
	return SchemaID(fmt.Sprintf("%s_%s", name, definitionViewID))
}
