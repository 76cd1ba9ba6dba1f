package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/operation"
	"github.com/asaidimu/go-muninn/core/schema"
	"github.com/asaidimu/go-muninn/store"
	"github.com/asaidimu/go-muninn/storetest"
)

func testSchema() schema.SchemaID {
	return schema.ApplicationSchemaID("venues", string(storetest.RandomViewID()))
}

// assertFields checks a materialised field set against the values the
// harness folded.
func assertFields(t *testing.T, fields *document.ViewFields, want map[string]document.FieldValue) {
	t.Helper()
	require.NotNil(t, fields)
	assert.Equal(t, len(want), fields.Len())
	for name, wantValue := range want {
		got, ok := fields.Get(name)
		require.True(t, ok, "field %q missing", name)
		assert.Equal(t, wantValue, got.Value, "field %q", name)
	}
}

func countRows(t *testing.T, h *storetest.Harness, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, h.Pool.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func TestInsertDocumentRoundTrip(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()

	fields := map[string]document.FieldValue{
		"name":       document.String("Velvet Hall"),
		"capacity":   document.Int(450),
		"rating":     document.Float(4.5),
		"open":       document.Bool(true),
		"logo":       document.Bytes{0x89, 0x50, 0x4e},
		"owner":      document.Relation(storetest.RandomDocumentID()),
		"lease":      document.PinnedRelation(storetest.RandomViewID()),
		"rooms":      document.RelationList{storetest.RandomDocumentID(), storetest.RandomDocumentID()},
		"past_shows": document.PinnedRelationList{},
	}
	docID, viewID := h.CreateDocument(t, schemaID, fields)

	doc, err := h.Store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, docID, doc.ID)
	assert.Equal(t, viewID, doc.ViewID)
	assert.Equal(t, document.DocumentViewID(docID), doc.ViewID, "the create view is the create operation id")
	assert.Equal(t, schemaID, doc.SchemaID)
	assert.Equal(t, h.Author, doc.Author)
	assert.False(t, doc.Deleted)
	assertFields(t, doc.Fields, fields)
}

func TestGetDocumentAbsent(t *testing.T) {
	h := storetest.New(t)
	ctx := context.Background()

	doc, err := h.Store.GetDocument(ctx, storetest.RandomDocumentID())
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = h.Store.GetDocumentByViewID(ctx, storetest.RandomViewID())
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestViewPinningAcrossUpdate(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()

	docID, v1 := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("first"),
		"rank":  document.Int(1),
	})
	v2 := h.UpdateDocument(t, docID, map[string]document.FieldValue{
		"title": document.String("second"),
	})
	require.NotEqual(t, v1, v2)

	ctx := context.Background()
	current, err := h.Store.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, v2, current.ViewID)
	assertFields(t, current.Fields, map[string]document.FieldValue{
		"title": document.String("second"),
		"rank":  document.Int(1),
	})

	pinned, err := h.Store.GetDocumentByViewID(ctx, v1)
	require.NoError(t, err)
	require.NotNil(t, pinned)
	assert.Equal(t, v1, pinned.ViewID, "the returned view id is the requested one")
	assert.Equal(t, docID, pinned.ID)
	assertFields(t, pinned.Fields, map[string]document.FieldValue{
		"title": document.String("first"),
		"rank":  document.Int(1),
	})
}

// TestInsertDocumentViewPinsHistoricalState drives the store directly: the
// document is first stored at its second view, then the first view is pinned
// afterwards through InsertDocumentView.
func TestInsertDocumentViewPinsHistoricalState(t *testing.T) {
	h := storetest.New(t)
	ctx := context.Background()
	schemaID := testSchema()

	createID := storetest.RandomOperationID()
	docID := createID.AsDocumentID()
	err := h.Store.InsertOperation(ctx, &operation.Operation{
		ID:        createID,
		PublicKey: h.Author,
		Action:    operation.ActionCreate,
		SchemaID:  schemaID,
		Fields: operation.FieldsFromMap(map[string]document.FieldValue{
			"title": document.String("first"),
			"rank":  document.Int(1),
		}),
	}, docID)
	require.NoError(t, err)

	v1 := document.ViewIDFromOperationIDs(createID)
	updateID := storetest.RandomOperationID()
	err = h.Store.InsertOperation(ctx, &operation.Operation{
		ID:        updateID,
		PublicKey: h.Author,
		Action:    operation.ActionUpdate,
		SchemaID:  schemaID,
		Previous:  v1,
		Fields: operation.FieldsFromMap(map[string]document.FieldValue{
			"title": document.String("second"),
		}),
	}, docID)
	require.NoError(t, err)

	v2 := document.ViewIDFromOperationIDs(createID, updateID)
	v2Fields := document.NewViewFields()
	v2Fields.Set("title", document.ViewValue{OperationID: updateID, Value: document.String("second")})
	v2Fields.Set("rank", document.ViewValue{OperationID: createID, Value: document.Int(1)})
	err = h.Store.InsertDocument(ctx, &document.Document{
		ID:       docID,
		ViewID:   v2,
		SchemaID: schemaID,
		Author:   h.Author,
		Fields:   v2Fields,
	})
	require.NoError(t, err)

	// The first view was never materialised, so it cannot resolve yet.
	miss, err := h.Store.GetDocumentByViewID(ctx, v1)
	require.NoError(t, err)
	require.Nil(t, miss)

	v1Fields := document.NewViewFields()
	v1Fields.Set("title", document.ViewValue{OperationID: createID, Value: document.String("first")})
	v1Fields.Set("rank", document.ViewValue{OperationID: createID, Value: document.Int(1)})
	err = h.Store.InsertDocumentView(ctx, &document.DocumentView{ID: v1, Fields: v1Fields}, docID, schemaID)
	require.NoError(t, err)

	pinned, err := h.Store.GetDocumentByViewID(ctx, v1)
	require.NoError(t, err)
	require.NotNil(t, pinned)
	assert.Equal(t, v1, pinned.ViewID)
	assert.Equal(t, document.String("first"), pinned.Get("title"))

	current, err := h.Store.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, v2, current.ViewID)
	assert.Equal(t, document.String("second"), current.Get("title"))
}

func TestDeletionHidesDocumentAndHistory(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	docID, v1 := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("ephemeral"),
	})
	v2 := h.UpdateDocument(t, docID, map[string]document.FieldValue{
		"title": document.String("still here"),
	})
	h.DeleteDocument(t, docID)

	doc, err := h.Store.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Nil(t, doc, "deleted documents read as absent")

	for _, viewID := range []document.DocumentViewID{v1, v2} {
		doc, err := h.Store.GetDocumentByViewID(ctx, viewID)
		require.NoError(t, err)
		assert.Nil(t, doc, "views of deleted documents read as absent")
	}

	// Historical view rows survive the deletion; only visibility changes.
	assert.Equal(t, 2, countRows(t, h,
		`SELECT COUNT(*) FROM document_views WHERE document_id = ?`, string(docID)))
}

func TestSchemaListingExcludesDeleted(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	first, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{"n": document.Int(1)})
	second, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{"n": document.Int(2)})
	third, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{"n": document.Int(3)})
	h.DeleteDocument(t, second)

	// A different schema stays invisible to the listing.
	h.CreateDocument(t, testSchema(), map[string]document.FieldValue{"n": document.Int(4)})

	docs, err := h.Store.GetDocumentsBySchema(ctx, schemaID)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var ids []document.DocumentID
	for _, doc := range docs {
		ids = append(ids, doc.ID)
		assert.Equal(t, schemaID, doc.SchemaID)
	}
	assert.NotContains(t, ids, second)
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, third)
	assert.Less(t, string(ids[0]), string(ids[1]), "listing orders by document id")

	empty, err := h.Store.GetDocumentsBySchema(ctx, testSchema())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListFieldOrderPreserved(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()

	members := document.RelationList{
		storetest.RandomDocumentID(),
		storetest.RandomDocumentID(),
		storetest.RandomDocumentID(),
		storetest.RandomDocumentID(),
		storetest.RandomDocumentID(),
	}
	docID, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"members": members,
	})

	doc, err := h.Store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, members, doc.Get("members"), "list members come back in insert order")
}

func TestInsertDocumentViewAtomicity(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	docID, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("anchor"),
	})

	// One field references a stored operation, the other a fabricated id the
	// store has never seen.
	viewID := storetest.RandomViewID()
	fields := document.NewViewFields()
	fields.Set("title", document.ViewValue{
		OperationID: document.OperationID(docID),
		Value:       document.String("anchor"),
	})
	fields.Set("ghost", document.ViewValue{
		OperationID: storetest.RandomOperationID(),
		Value:       document.String("nowhere"),
	})

	err := h.Store.InsertDocumentView(ctx, &document.DocumentView{ID: viewID, Fields: fields}, docID, schemaID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrOperationMissing), "got %v", err)
	assert.True(t, errors.Is(err, store.ErrFatalStorage))

	assert.Equal(t, 0, countRows(t, h,
		`SELECT COUNT(*) FROM document_views WHERE document_view_id = ?`, string(viewID)))
	assert.Equal(t, 0, countRows(t, h,
		`SELECT COUNT(*) FROM document_view_fields WHERE document_view_id = ?`, string(viewID)))
}

func TestInsertDocumentViewUnknownDocument(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()

	docID, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("real"),
	})

	fields := document.NewViewFields()
	fields.Set("title", document.ViewValue{
		OperationID: document.OperationID(docID),
		Value:       document.String("real"),
	})
	err := h.Store.InsertDocumentView(context.Background(),
		&document.DocumentView{ID: storetest.RandomViewID(), Fields: fields},
		storetest.RandomDocumentID(), schemaID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrFatalStorage))
	assert.False(t, errors.Is(err, store.ErrOperationMissing),
		"an unknown document is not a missing operation")
}

func TestUpsertKeepsIdentityColumns(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	docID, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("steady"),
	})

	// An upsert carrying a different schema id updates the view and the
	// deletion flag but never the stored schema.
	newView := storetest.RandomViewID()
	err := h.Store.InsertDocument(ctx, &document.Document{
		ID:       docID,
		ViewID:   newView,
		SchemaID: testSchema(),
		Author:   h.Author,
		Deleted:  true,
	})
	require.NoError(t, err)

	var storedSchema, storedView string
	var deleted int
	err = h.Pool.QueryRowContext(ctx,
		`SELECT schema_id, document_view_id, is_deleted FROM documents WHERE document_id = ?`,
		string(docID)).Scan(&storedSchema, &storedView, &deleted)
	require.NoError(t, err)
	assert.Equal(t, string(schemaID), storedSchema)
	assert.Equal(t, string(newView), storedView)
	assert.Equal(t, 1, deleted)
}

func TestInsertDocumentIdempotent(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	fields := map[string]document.FieldValue{
		"title": document.String("twice"),
		"tags":  document.RelationList{storetest.RandomDocumentID(), storetest.RandomDocumentID()},
	}
	docID, viewID := h.CreateDocument(t, schemaID, fields)

	doc, err := h.Store.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.NotNil(t, doc)

	require.NoError(t, h.Store.InsertDocument(ctx, doc), "re-inserting the same state succeeds")

	// One row per field name, not per insert attempt.
	assert.Equal(t, 2, countRows(t, h,
		`SELECT COUNT(*) FROM document_view_fields WHERE document_view_id = ?`, string(viewID)))

	again, err := h.Store.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assertFields(t, again.Fields, fields)
}

func TestViewBoundToOtherDocumentRejected(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	_, viewA := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("a"),
	})
	docB, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("b"),
	})

	pinned, err := h.Store.GetDocumentByViewID(ctx, viewA)
	require.NoError(t, err)
	require.NotNil(t, pinned)

	err = h.Store.InsertDocumentView(ctx, pinned.View(), docB, schemaID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrFatalStorage))
}

func TestDocumentWithoutCreateOperationIsCorrupt(t *testing.T) {
	h := storetest.New(t)
	ctx := context.Background()

	docID := storetest.RandomDocumentID()
	_, err := h.Pool.ExecContext(ctx,
		`INSERT INTO documents (document_id, document_view_id, schema_id) VALUES (?, ?, ?)`,
		string(docID), string(storetest.RandomViewID()), string(testSchema()))
	require.NoError(t, err)

	_, err = h.Store.GetDocument(ctx, docID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrCorruption), "got %v", err)
}

func TestDocumentWithoutViewRowsIsAbsent(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()
	ctx := context.Background()

	docID, viewID := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("hollow"),
	})
	_, err := h.Pool.ExecContext(ctx,
		`DELETE FROM document_view_fields WHERE document_view_id = ?`, string(viewID))
	require.NoError(t, err)

	doc, err := h.Store.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Nil(t, doc, "a view with no field rows materialises nothing")
}

func TestAuthorSurvivesUpdates(t *testing.T) {
	h := storetest.New(t)
	schemaID := testSchema()

	docID, _ := h.CreateDocument(t, schemaID, map[string]document.FieldValue{
		"title": document.String("v1"),
	})
	h.UpdateDocument(t, docID, map[string]document.FieldValue{
		"title": document.String("v2"),
	})

	doc, err := h.Store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, h.Author, doc.Author, "the author is the create operation's key")
}
