package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/asaidimu/go-muninn/core/blob"
	"github.com/asaidimu/go-muninn/core/document"
	"github.com/asaidimu/go-muninn/core/query"
	"github.com/asaidimu/go-muninn/metrics"
)

// Blob is a reassembled binary payload.
type Blob struct {
	DocumentID document.DocumentID
	ViewID     document.DocumentViewID
	MimeType   string
	Data       []byte
}

// GetBlob reassembles the blob a document currently describes, or nil when
// the document is absent or deleted.
func (s *Store) GetBlob(ctx context.Context, id document.DocumentID) (*Blob, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return s.assembleBlob(ctx, doc)
}

// GetBlobByViewID reassembles a blob as pinned at one historical state, or
// nil when that view is absent.
func (s *Store) GetBlobByViewID(ctx context.Context, viewID document.DocumentViewID) (*Blob, error) {
	doc, err := s.GetDocumentByViewID(ctx, viewID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return s.assembleBlob(ctx, doc)
}

func (s *Store) assembleBlob(ctx context.Context, doc *document.Document) (*Blob, error) {
	scope := eventScope{
		operation:  "assemble_blob",
		start:      BlobAssembleStart,
		success:    BlobAssembleSuccess,
		failed:     BlobAssembleFailed,
		schemaID:   string(doc.SchemaID),
		documentID: string(doc.ID),
		viewID:     string(doc.ViewID),
	}

	start := time.Now()
	var assembled *Blob
	err := s.withEvents(scope, func() error {
		b, err := s.assemble(ctx, doc)
		if err != nil {
			return err
		}
		assembled = b
		return nil
	})
	metrics.StoreOperationDuration.WithLabelValues("assemble_blob").Observe(time.Since(start).Seconds())
	metrics.BlobAssembliesTotal.WithLabelValues(blobStatus(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("blob assembled",
		zap.String("document", string(doc.ID)),
		zap.String("view", string(doc.ViewID)),
		zap.Int("bytes", len(assembled.Data)))
	return assembled, nil
}

// assemble validates a blob document and concatenates its pieces in pinned
// list order. The piece query only sees pieces whose views exist, so the
// data faults fall out of the counts: no pieces at all, fewer pieces than
// declared, or assembled bytes diverging from the declared length. Field
// shapes the blob schemas forbid are corruption, not panics.
func (s *Store) assemble(ctx context.Context, doc *document.Document) (*Blob, error) {
	if doc.SchemaID != blob.Schema {
		return nil, fmt.Errorf("document %s has schema %q: %w", doc.ID, doc.SchemaID, ErrNotBlobDocument)
	}

	length, ok := doc.Get(blob.FieldLength).(document.Int)
	if !ok {
		return nil, corruptionf("blob %s: field %q missing or not an integer", doc.ID, blob.FieldLength)
	}
	mimeType, ok := doc.Get(blob.FieldMimeType).(document.String)
	if !ok {
		return nil, corruptionf("blob %s: field %q missing or not a string", doc.ID, blob.FieldMimeType)
	}
	pieces, ok := doc.Get(blob.FieldPieces).(document.PinnedRelationList)
	if !ok {
		return nil, corruptionf("blob %s: field %q missing or not a pinned relation list", doc.ID, blob.FieldPieces)
	}
	expectedPieces := len(pieces)

	args := &query.Args{
		Pagination: query.Pagination{First: uint64(s.blobMaxPieces)},
		Select:     []string{blob.FieldData},
	}
	anchor := &query.RelationList{Root: doc.ViewID, Field: blob.FieldPieces}
	result, err := s.Query(ctx, blob.PieceSchema, args, anchor)
	if err != nil {
		return nil, err
	}

	if len(result.Matches) == 0 {
		return nil, fmt.Errorf("blob %s declares %d pieces: %w", doc.ID, expectedPieces, ErrNoBlobPiecesFound)
	}
	if len(result.Matches) != expectedPieces {
		return nil, fmt.Errorf("blob %s: found %d of %d pieces: %w",
			doc.ID, len(result.Matches), expectedPieces, ErrMissingPieces)
	}

	var buf bytes.Buffer
	for _, match := range result.Matches {
		fieldValue, ok := match.Fields.Get(blob.FieldData)
		if !ok {
			return nil, corruptionf("blob piece %s: field %q missing", match.DocumentID, blob.FieldData)
		}
		data, ok := fieldValue.Value.(document.String)
		if !ok {
			return nil, corruptionf("blob piece %s: field %q is not a string", match.DocumentID, blob.FieldData)
		}
		buf.WriteString(string(data))
	}
	if int64(buf.Len()) != int64(length) {
		return nil, fmt.Errorf("blob %s: assembled %d bytes, declared %d: %w",
			doc.ID, buf.Len(), int64(length), ErrIncorrectLength)
	}

	return &Blob{
		DocumentID: doc.ID,
		ViewID:     doc.ViewID,
		MimeType:   string(mimeType),
		Data:       buf.Bytes(),
	}, nil
}

func blobStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotBlobDocument):
		return "not_blob"
	case errors.Is(err, ErrNoBlobPiecesFound):
		return "no_pieces"
	case errors.Is(err, ErrMissingPieces):
		return "missing_pieces"
	case errors.Is(err, ErrIncorrectLength):
		return "length_mismatch"
	}
	return "error"
}
