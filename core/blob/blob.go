// Package blob holds the constants and chunking used to replicate binary
// payloads as documents: a blob document declares its length and mime type
// and pins an ordered list of piece documents carrying the payload bytes.
package blob

import (
	"bytes"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"

	"github.com/asaidimu/go-muninn/core/schema"
)

// System schemas involved in blob storage.
const (
	Schema      = schema.Blob
	PieceSchema = schema.BlobPiece
)

// Field names of the blob and blob piece system schemas.
const (
	FieldLength   = "length"
	FieldMimeType = "mime_type"
	FieldPieces   = "pieces"
	FieldData     = "data"
)

// MaxPieces caps how many pieces a single blob may declare. Deployments can
// move the cap through configuration; assembly fails closed above it.
const MaxPieces = 10_000

// DefaultPieceLength is the piece size used when publishing blobs without an
// explicit override.
const DefaultPieceLength = 256 * 1024

// Split chunks a payload into pieces of at most pieceLength bytes. An empty
// payload yields one empty piece so the blob document still pins a piece
// relation.
func Split(data []byte, pieceLength int) ([][]byte, error) {
	if pieceLength <= 0 {
		return nil, fmt.Errorf("piece length %d: must be positive", pieceLength)
	}
	if len(data) == 0 {
		return [][]byte{{}}, nil
	}
	splitter := chunker.NewSizeSplitter(bytes.NewReader(data), int64(pieceLength))
	var pieces [][]byte
	for {
		piece, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("split blob: %w", err)
		}
		pieces = append(pieces, piece)
	}
	return pieces, nil
}
