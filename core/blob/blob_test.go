package blob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name        string
		dataLen     int
		pieceLength int
		wantPieces  int
		wantLast    int
	}{
		{"smaller than one piece", 10, 64, 1, 10},
		{"exact multiple", 128, 64, 2, 64},
		{"remainder spills into last piece", 130, 64, 3, 2},
		{"piece length one", 5, 1, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.dataLen)
			for i := range data {
				data[i] = byte(i % 251)
			}

			pieces, err := Split(data, tt.pieceLength)
			require.NoError(t, err)
			require.Len(t, pieces, tt.wantPieces)

			for i, piece := range pieces[:len(pieces)-1] {
				assert.Len(t, piece, tt.pieceLength, "piece %d", i)
			}
			assert.Len(t, pieces[len(pieces)-1], tt.wantLast)

			assert.Equal(t, data, bytes.Join(pieces, nil), "concatenation restores the payload")
		})
	}
}

func TestSplitEmptyPayload(t *testing.T) {
	pieces, err := Split(nil, DefaultPieceLength)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Empty(t, pieces[0])
}

func TestSplitRejectsNonPositivePieceLength(t *testing.T) {
	_, err := Split([]byte("data"), 0)
	assert.Error(t, err)

	_, err = Split([]byte("data"), -3)
	assert.Error(t, err)
}
