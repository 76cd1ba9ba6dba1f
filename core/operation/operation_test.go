package operation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-muninn/core/document"
)

func TestParseAction(t *testing.T) {
	for _, want := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		got, err := ParseAction(string(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseAction("merge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation action")

	_, err = ParseAction("")
	require.Error(t, err)
}

func TestFieldsNamesSorted(t *testing.T) {
	fields := NewFields()
	fields.Set("zeta", document.Int(1))
	fields.Set("alpha", document.Int(2))
	fields.Set("mid", document.Int(3))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, fields.Names())
	assert.Equal(t, 3, fields.Len())

	v, ok := fields.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, document.Int(2), v)

	_, ok = fields.Get("missing")
	assert.False(t, ok)
}

func TestFieldsSetReplaces(t *testing.T) {
	fields := FieldsFromMap(map[string]document.FieldValue{
		"title": document.String("old"),
	})
	fields.Set("title", document.String("new"))

	v, ok := fields.Get("title")
	require.True(t, ok)
	assert.Equal(t, document.String("new"), v)
	assert.Equal(t, 1, fields.Len())
}

func TestValidate(t *testing.T) {
	id := document.OperationID("0020" + strings.Repeat("a", 64))
	previous := document.DocumentViewID(id)
	payload := FieldsFromMap(map[string]document.FieldValue{
		"title": document.String("x"),
	})

	tests := []struct {
		name    string
		op      Operation
		wantErr string
	}{
		{
			name: "valid create",
			op:   Operation{ID: id, Action: ActionCreate, Fields: payload},
		},
		{
			name:    "create without fields",
			op:      Operation{ID: id, Action: ActionCreate},
			wantErr: "missing fields",
		},
		{
			name:    "create with empty fields",
			op:      Operation{ID: id, Action: ActionCreate, Fields: NewFields()},
			wantErr: "missing fields",
		},
		{
			name:    "create with previous view",
			op:      Operation{ID: id, Action: ActionCreate, Fields: payload, Previous: previous},
			wantErr: "must not reference a previous view",
		},
		{
			name: "valid update",
			op:   Operation{ID: id, Action: ActionUpdate, Fields: payload, Previous: previous},
		},
		{
			name:    "update without previous view",
			op:      Operation{ID: id, Action: ActionUpdate, Fields: payload},
			wantErr: "missing previous view",
		},
		{
			name:    "update without fields",
			op:      Operation{ID: id, Action: ActionUpdate, Previous: previous},
			wantErr: "missing fields",
		},
		{
			name: "valid delete",
			op:   Operation{ID: id, Action: ActionDelete, Previous: previous},
		},
		{
			name:    "delete with fields",
			op:      Operation{ID: id, Action: ActionDelete, Fields: payload, Previous: previous},
			wantErr: "must not carry fields",
		},
		{
			name:    "delete without previous view",
			op:      Operation{ID: id, Action: ActionDelete},
			wantErr: "missing previous view",
		},
		{
			name:    "unknown action",
			op:      Operation{ID: id, Action: Action("merge"), Fields: payload},
			wantErr: "unknown action",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
