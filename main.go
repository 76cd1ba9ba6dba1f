package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/asaidimu/go-muninn/config"
	"github.com/asaidimu/go-muninn/core/blob"
	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/operation"
	"github.com/asaidimu/go-muninn/core/query"
	"github.com/asaidimu/go-muninn/core/schema"
	"github.com/asaidimu/go-muninn/metrics"
	"github.com/asaidimu/go-muninn/sqlite"
	"github.com/asaidimu/go-muninn/store"
)

const (
	dbFileName = "muninn-demo.db"
	demoAuthor = "b1616d5fbde10a6240f5a8cfec9b6ae5e32c93a1d1e9a4e81c0325ed9a0dcb1a"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if configPath == "" {
		cfg.Database.URL = "sqlite:" + dbFileName
	}

	// Remove the demo database if it already exists to start fresh.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbFileName + suffix); err != nil && !os.IsNotExist(err) {
			log.Fatalf("Failed to remove existing database file %s: %v", dbFileName+suffix, err)
		}
	}
	fmt.Printf("Starting fresh: removed existing %s (if any).\n", dbFileName)

	level, err := cfg.ZapLevel()
	if err != nil {
		log.Fatalf("Failed to parse log level: %v", err)
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	metrics.Register()

	pool, err := sqlite.Open(cfg.PoolConfig(), logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if cErr := pool.Close(); cErr != nil {
			log.Printf("Error closing database: %v", cErr)
		}
		fmt.Println("Database closed.")
	}()

	st, err := store.New(pool, logger, cfg.StoreOptions())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	fmt.Println("Initialized store.")

	st.RegisterSubscription(store.RegisterSubscriptionOptions{
		Event: store.DocumentInsertSuccess,
		Callback: func(ctx context.Context, event store.StoreEvent) error {
			if event.DocumentID != nil {
				fmt.Printf("Document stored: %s\n", short(*event.DocumentID))
			}
			return nil
		},
	})
	st.RegisterSubscription(store.RegisterSubscriptionOptions{
		Event: store.BlobAssembleSuccess,
		Callback: func(ctx context.Context, event store.StoreEvent) error {
			if event.DocumentID != nil {
				fmt.Printf("Blob assembled: %s\n", short(*event.DocumentID))
			}
			return nil
		},
	})

	ctx := context.Background()
	author := document.PublicKey(demoAuthor)
	cafeSchema := schema.ApplicationSchemaID("cafes",
		string(document.HashPayload([]byte("demo/cafes/definition"))))

	// Publish three cafe documents the way the materialiser would: the create
	// operation first, then the folded document state.
	fmt.Println("\nPublishing sample documents...")
	umami := publishDocument(ctx, st, cafeSchema, author, "demo/cafes/umami", map[string]document.FieldValue{
		"name":  document.String("Umami Roastery"),
		"seats": document.Int(18),
		"open":  document.Bool(true),
	})
	publishDocument(ctx, st, cafeSchema, author, "demo/cafes/driftwood", map[string]document.FieldValue{
		"name":  document.String("Driftwood Espresso"),
		"seats": document.Int(9),
		"open":  document.Bool(true),
	})
	closing := publishDocument(ctx, st, cafeSchema, author, "demo/cafes/larkspur", map[string]document.FieldValue{
		"name":  document.String("Larkspur Beans"),
		"seats": document.Int(31),
		"open":  document.Bool(false),
	})

	// Update one document. The new view id covers the whole operation
	// history; the create view survives as a pinned historical state.
	createView := umami.ViewID
	updateID := document.HashPayload([]byte("demo/cafes/umami/update"))
	updateFields := operation.NewFields()
	updateFields.Set("seats", document.Int(24))
	err = st.InsertOperation(ctx, &operation.Operation{
		ID:        updateID,
		PublicKey: author,
		Action:    operation.ActionUpdate,
		SchemaID:  cafeSchema,
		Previous:  createView,
		Fields:    updateFields,
	}, umami.ID)
	if err != nil {
		log.Fatalf("Failed to insert update operation: %v", err)
	}

	folded := document.NewViewFields()
	for _, name := range umami.Fields.Names() {
		value, _ := umami.Fields.Get(name)
		folded.Set(name, value)
	}
	folded.Set("seats", document.ViewValue{OperationID: updateID, Value: document.Int(24)})
	umami.ViewID = document.ViewIDFromOperationIDs(document.OperationID(umami.ID), updateID)
	umami.Fields = folded
	if err := st.InsertDocument(ctx, umami); err != nil {
		log.Fatalf("Failed to upsert updated document: %v", err)
	}

	// Delete one document. The identity row stays, the state disappears.
	deleteID := document.HashPayload([]byte("demo/cafes/larkspur/delete"))
	err = st.InsertOperation(ctx, &operation.Operation{
		ID:        deleteID,
		PublicKey: author,
		Action:    operation.ActionDelete,
		SchemaID:  cafeSchema,
		Previous:  closing.ViewID,
	}, closing.ID)
	if err != nil {
		log.Fatalf("Failed to insert delete operation: %v", err)
	}
	err = st.InsertDocument(ctx, &document.Document{
		ID:       closing.ID,
		ViewID:   document.ViewIDFromOperationIDs(document.OperationID(closing.ID), deleteID),
		SchemaID: cafeSchema,
		Author:   author,
		Deleted:  true,
	})
	if err != nil {
		log.Fatalf("Failed to upsert deleted document: %v", err)
	}

	// Read back by document id, by pinned view id and by schema.
	fmt.Println("\nReading documents back:")
	current, err := st.GetDocument(ctx, umami.ID)
	if err != nil {
		log.Fatalf("Failed to get document: %v", err)
	}
	fmt.Printf("Current state of %s: seats=%s\n", short(string(umami.ID)), render(current.Get("seats")))

	pinned, err := st.GetDocumentByViewID(ctx, createView)
	if err != nil {
		log.Fatalf("Failed to get document by view: %v", err)
	}
	fmt.Printf("Pinned create view %s: seats=%s\n", short(string(createView)), render(pinned.Get("seats")))

	gone, err := st.GetDocument(ctx, closing.ID)
	if err != nil {
		log.Fatalf("Failed to get deleted document: %v", err)
	}
	fmt.Printf("Deleted document %s absent: %t\n", short(string(closing.ID)), gone == nil)

	ops, err := st.GetOperationsByDocumentID(ctx, umami.ID)
	if err != nil {
		log.Fatalf("Failed to list operations: %v", err)
	}
	fmt.Printf("Operations stored for %s: %d\n", short(string(umami.ID)), len(ops))

	// Query open cafes ordered by name.
	fmt.Println("\nQuerying open cafes:")
	result, err := st.Query(ctx, cafeSchema,
		query.NewBuilder().Where("open", document.Bool(true)).OrderByAsc("name").Build(), nil)
	if err != nil {
		log.Fatalf("Failed to query: %v", err)
	}

	fmt.Println("----------------------------------------------------")
	fmt.Printf("%-25s %-8s %-8s\n", "Name", "Seats", "Open")
	fmt.Println("----------------------------------------------------")
	for _, match := range result.Matches {
		name, _ := match.Fields.Get("name")
		seats, _ := match.Fields.Get("seats")
		open, _ := match.Fields.Get("open")
		fmt.Printf("%-25s %-8s %-8s\n", render(name.Value), render(seats.Value), render(open.Value))
	}
	fmt.Println("----------------------------------------------------")

	// Publish a blob and reassemble it from its pieces.
	fmt.Println("\nPublishing a blob...")
	payload := []byte("Muninn remembers what the flock already agreed on. " +
		"Blobs travel as pieces and come back whole.")
	blobID := publishBlob(ctx, st, author, "demo/blobs/motto", payload, 32, "text/plain")

	assembled, err := st.GetBlob(ctx, blobID)
	if err != nil {
		log.Fatalf("Failed to assemble blob: %v", err)
	}
	fmt.Printf("Blob %s: %s, %d bytes, intact=%t\n",
		short(string(blobID)), assembled.MimeType, len(assembled.Data),
		bytes.Equal(assembled.Data, payload))

	fmt.Printf("\nDatabase created successfully at: %s\n", dbFileName)
	fmt.Println("You can inspect it with the 'sqlite3' command-line tool:")
	fmt.Printf("    sqlite3 %s\n", dbFileName)
	fmt.Println("    .tables")
	fmt.Println("    SELECT * FROM documents;")
	fmt.Println("    SELECT * FROM operations_v1;")
}

// publishDocument mints a create operation from a seed, stores it and stores
// the folded document. It returns the document as inserted.
func publishDocument(ctx context.Context, st *store.Store, schemaID schema.SchemaID, author document.PublicKey, seed string, fields map[string]document.FieldValue) *document.Document {
	opID := document.HashPayload([]byte(seed))
	docID := opID.AsDocumentID()

	op := &operation.Operation{
		ID:        opID,
		PublicKey: author,
		Action:    operation.ActionCreate,
		SchemaID:  schemaID,
		Fields:    operation.FieldsFromMap(fields),
	}
	if err := st.InsertOperation(ctx, op, docID); err != nil {
		log.Fatalf("Failed to insert create operation: %v", err)
	}

	viewFields := document.NewViewFields()
	for name, value := range fields {
		viewFields.Set(name, document.ViewValue{OperationID: opID, Value: value})
	}
	doc := &document.Document{
		ID:       docID,
		ViewID:   document.ViewIDFromOperationIDs(opID),
		SchemaID: schemaID,
		Author:   author,
		Fields:   viewFields,
	}
	if err := st.InsertDocument(ctx, doc); err != nil {
		log.Fatalf("Failed to insert document: %v", err)
	}
	return doc
}

// publishBlob splits a payload, publishes its piece documents and the blob
// document pinning them, and returns the blob document id.
func publishBlob(ctx context.Context, st *store.Store, author document.PublicKey, seed string, data []byte, pieceLength int, mimeType string) document.DocumentID {
	chunks, err := blob.Split(data, pieceLength)
	if err != nil {
		log.Fatalf("Failed to split blob: %v", err)
	}

	pinned := make(document.PinnedRelationList, 0, len(chunks))
	for i, chunk := range chunks {
		piece := publishDocument(ctx, st, blob.PieceSchema, author,
			fmt.Sprintf("%s/piece/%d", seed, i), map[string]document.FieldValue{
				blob.FieldData: document.String(chunk),
			})
		pinned = append(pinned, piece.ViewID)
	}

	blobDoc := publishDocument(ctx, st, blob.Schema, author, seed, map[string]document.FieldValue{
		blob.FieldLength:   document.Int(len(data)),
		blob.FieldMimeType: document.String(mimeType),
		blob.FieldPieces:   pinned,
	})
	return blobDoc.ID
}

// render formats a field value for terminal output.
func render(v document.FieldValue) string {
	switch v := v.(type) {
	case document.Bool:
		return strconv.FormatBool(bool(v))
	case document.Int:
		return strconv.FormatInt(int64(v), 10)
	case document.Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case document.String:
		return string(v)
	case document.Bytes:
		return fmt.Sprintf("%d bytes", len(v))
	case document.Relation:
		return string(v)
	case document.PinnedRelation:
		return string(v)
	case document.RelationList:
		return fmt.Sprintf("%d relations", len(v))
	case document.PinnedRelationList:
		return fmt.Sprintf("%d pinned relations", len(v))
	}
	return "<unset>"
}

// short abbreviates an id for log lines.
func short(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}
