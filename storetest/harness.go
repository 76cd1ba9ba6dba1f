// Package storetest seeds stores for tests. The harness plays the role of the
// materialiser: it mints operations, folds them into document state and writes
// both sides through the store under test, so store tests exercise the same
// call sequence the node's materialiser produces.
package storetest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/asaidimu/go-muninn/core/blob"
	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/operation"
	"github.com/asaidimu/go-muninn/core/schema"
	"github.com/asaidimu/go-muninn/sqlite"
	"github.com/asaidimu/go-muninn/store"
)

// Harness wraps a store over an isolated throwaway database.
type Harness struct {
	Store *store.Store
	Pool  *sqlite.Pool

	// Author signs every operation the harness mints.
	Author document.PublicKey

	docs   map[document.DocumentID]*docState
	pieces map[document.DocumentID][]document.DocumentID
}

// docState is the harness's fold of one document's linear operation history.
type docState struct {
	schemaID schema.SchemaID
	viewID   document.DocumentViewID
	ops      []document.OperationID
	fields   map[string]document.ViewValue
	deleted  bool

	// history keeps the folded fields of every view the document has had,
	// so historical views can be pinned later.
	history map[document.DocumentViewID]map[string]document.ViewValue
}

// New opens a harness over a fresh database file under t.TempDir. The pool is
// closed when the test finishes.
func New(t *testing.T) *Harness {
	t.Helper()
	return NewWithOptions(t, nil)
}

// NewWithOptions opens a harness with explicit store options, for tests that
// tighten limits.
func NewWithOptions(t *testing.T, opts *store.Options) *Harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	url := "sqlite:" + filepath.Join(t.TempDir(), uuid.NewString()+".db")
	pool, err := sqlite.Open(sqlite.Config{URL: url, MaxConnections: 4}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	st, err := store.New(pool, logger, opts)
	require.NoError(t, err)

	return &Harness{
		Store:  st,
		Pool:   pool,
		Author: RandomPublicKey(),
		docs:   make(map[document.DocumentID]*docState),
		pieces: make(map[document.DocumentID][]document.DocumentID),
	}
}

// CreateDocument mints and stores a create operation, folds it and stores the
// resulting document. It returns the new document's id and current view id.
func (h *Harness) CreateDocument(t *testing.T, schemaID schema.SchemaID, fields map[string]document.FieldValue) (document.DocumentID, document.DocumentViewID) {
	t.Helper()

	opID := RandomOperationID()
	docID := opID.AsDocumentID()
	op := &operation.Operation{
		ID:        opID,
		PublicKey: h.Author,
		Action:    operation.ActionCreate,
		SchemaID:  schemaID,
		Fields:    operation.FieldsFromMap(fields),
	}
	require.NoError(t, h.Store.InsertOperation(context.Background(), op, docID))

	st := &docState{
		schemaID: schemaID,
		ops:      []document.OperationID{opID},
		fields:   make(map[string]document.ViewValue, len(fields)),
		history:  make(map[document.DocumentViewID]map[string]document.ViewValue),
	}
	for name, value := range fields {
		st.fields[name] = document.ViewValue{OperationID: opID, Value: value}
	}
	st.viewID = document.ViewIDFromOperationIDs(st.ops...)
	st.history[st.viewID] = snapshotFields(st.fields)
	h.docs[docID] = st

	require.NoError(t, h.Store.InsertDocument(context.Background(), h.currentDocument(docID)))
	return docID, st.viewID
}

// UpdateDocument mints and stores an update operation over the document's
// current view, folds it and upserts the document. It returns the new current
// view id.
func (h *Harness) UpdateDocument(t *testing.T, docID document.DocumentID, fields map[string]document.FieldValue) document.DocumentViewID {
	t.Helper()

	st := h.state(t, docID)
	require.False(t, st.deleted, "update of deleted document %s", docID)

	opID := RandomOperationID()
	op := &operation.Operation{
		ID:        opID,
		PublicKey: h.Author,
		Action:    operation.ActionUpdate,
		SchemaID:  st.schemaID,
		Previous:  st.viewID,
		Fields:    operation.FieldsFromMap(fields),
	}
	require.NoError(t, h.Store.InsertOperation(context.Background(), op, docID))

	st.ops = append(st.ops, opID)
	for name, value := range fields {
		st.fields[name] = document.ViewValue{OperationID: opID, Value: value}
	}
	st.viewID = document.ViewIDFromOperationIDs(st.ops...)
	st.history[st.viewID] = snapshotFields(st.fields)

	require.NoError(t, h.Store.InsertDocument(context.Background(), h.currentDocument(docID)))
	return st.viewID
}

// DeleteDocument mints and stores a delete operation, folds it and upserts the
// now deleted document.
func (h *Harness) DeleteDocument(t *testing.T, docID document.DocumentID) {
	t.Helper()

	st := h.state(t, docID)
	require.False(t, st.deleted, "double delete of document %s", docID)

	opID := RandomOperationID()
	op := &operation.Operation{
		ID:        opID,
		PublicKey: h.Author,
		Action:    operation.ActionDelete,
		SchemaID:  st.schemaID,
		Previous:  st.viewID,
	}
	require.NoError(t, h.Store.InsertOperation(context.Background(), op, docID))

	st.ops = append(st.ops, opID)
	st.deleted = true
	st.viewID = document.ViewIDFromOperationIDs(st.ops...)

	require.NoError(t, h.Store.InsertDocument(context.Background(), h.currentDocument(docID)))
}

// InsertViewAt pins a view the document had earlier in its history. The view
// id must be one returned by a previous CreateDocument or UpdateDocument call
// for the same document.
func (h *Harness) InsertViewAt(t *testing.T, docID document.DocumentID, viewID document.DocumentViewID) {
	t.Helper()

	st := h.state(t, docID)
	snapshot, ok := st.history[viewID]
	require.True(t, ok, "document %s never had view %s", docID, viewID)

	view := &document.DocumentView{ID: viewID, Fields: buildViewFields(snapshot)}
	require.NoError(t, h.Store.InsertDocumentView(context.Background(), view, docID, st.schemaID))
}

// PublishBlob splits a payload, publishes one piece document per chunk and
// then the blob document pinning them. It returns the blob document's id and
// current view id.
func (h *Harness) PublishBlob(t *testing.T, data []byte, pieceLength int, mimeType string) (document.DocumentID, document.DocumentViewID) {
	t.Helper()

	chunks, err := blob.Split(data, pieceLength)
	require.NoError(t, err)

	pinned := make(document.PinnedRelationList, 0, len(chunks))
	pieceDocs := make([]document.DocumentID, 0, len(chunks))
	for _, chunk := range chunks {
		pieceID, pieceView := h.CreateDocument(t, blob.PieceSchema, map[string]document.FieldValue{
			blob.FieldData: document.String(chunk),
		})
		pinned = append(pinned, pieceView)
		pieceDocs = append(pieceDocs, pieceID)
	}

	blobID, blobView := h.CreateDocument(t, blob.Schema, map[string]document.FieldValue{
		blob.FieldLength:   document.Int(len(data)),
		blob.FieldMimeType: document.String(mimeType),
		blob.FieldPieces:   pinned,
	})
	h.pieces[blobID] = pieceDocs
	return blobID, blobView
}

// PieceDocuments returns the piece documents a published blob pins, in order.
func (h *Harness) PieceDocuments(blobID document.DocumentID) []document.DocumentID {
	return h.pieces[blobID]
}

// Operations returns the ids of every operation the harness has minted for a
// document, oldest first.
func (h *Harness) Operations(t *testing.T, docID document.DocumentID) []document.OperationID {
	t.Helper()
	st := h.state(t, docID)
	out := make([]document.OperationID, len(st.ops))
	copy(out, st.ops)
	return out
}

func (h *Harness) state(t *testing.T, docID document.DocumentID) *docState {
	t.Helper()
	st, ok := h.docs[docID]
	require.True(t, ok, "unknown harness document %s", docID)
	return st
}

// currentDocument renders a docState as the document the materialiser would
// hand to InsertDocument.
func (h *Harness) currentDocument(docID document.DocumentID) *document.Document {
	st := h.docs[docID]
	doc := &document.Document{
		ID:       docID,
		ViewID:   st.viewID,
		SchemaID: st.schemaID,
		Author:   h.Author,
		Deleted:  st.deleted,
	}
	if !st.deleted {
		doc.Fields = buildViewFields(st.fields)
	}
	return doc
}

func snapshotFields(fields map[string]document.ViewValue) map[string]document.ViewValue {
	out := make(map[string]document.ViewValue, len(fields))
	for name, value := range fields {
		out[name] = value
	}
	return out
}

func buildViewFields(fields map[string]document.ViewValue) *document.ViewFields {
	out := document.NewViewFields()
	for name, value := range fields {
		out.Set(name, value)
	}
	return out
}

// RandomOperationID mints a fresh valid operation id.
func RandomOperationID() document.OperationID {
	return document.HashPayload([]byte(uuid.NewString()))
}

// RandomDocumentID mints a fresh valid document id.
func RandomDocumentID() document.DocumentID {
	return RandomOperationID().AsDocumentID()
}

// RandomViewID mints a fresh valid document view id.
func RandomViewID() document.DocumentViewID {
	return document.DocumentViewID(RandomOperationID())
}

// RandomPublicKey mints a fresh valid author key.
func RandomPublicKey() document.PublicKey {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return document.PublicKey(hex.EncodeToString(b[:]))
}
