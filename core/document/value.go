package document

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// FieldType tags the variant carried by a FieldValue. The tags double as the
// field_type column encoding in storage.
type FieldType string

const (
	FieldBool               FieldType = "bool"
	FieldInt                FieldType = "int"
	FieldFloat              FieldType = "float"
	FieldString             FieldType = "str"
	FieldBytes              FieldType = "bytes"
	FieldRelation           FieldType = "relation"
	FieldPinnedRelation     FieldType = "pinned_relation"
	FieldRelationList       FieldType = "relation_list"
	FieldPinnedRelationList FieldType = "pinned_relation_list"
)

// IsList reports whether values of this type store one row per member.
func (t FieldType) IsList() bool {
	return t == FieldRelationList || t == FieldPinnedRelationList
}

// KnownFieldType reports whether t is one of the wire tags the codec accepts.
func KnownFieldType(t FieldType) bool {
	switch t {
	case FieldBool, FieldInt, FieldFloat, FieldString, FieldBytes,
		FieldRelation, FieldPinnedRelation, FieldRelationList, FieldPinnedRelationList:
		return true
	}
	return false
}

// FieldValue is one document field value. The variant set is closed: exactly
// one concrete type exists per FieldType and consumers switch on the concrete
// type instead of reflecting.
type FieldValue interface {
	Type() FieldType
	encode() []*string
}

type Bool bool
type Int int64
type Float float64
type String string
type Bytes []byte
type Relation DocumentID
type PinnedRelation DocumentViewID
type RelationList []DocumentID
type PinnedRelationList []DocumentViewID

func (Bool) Type() FieldType               { return FieldBool }
func (Int) Type() FieldType                { return FieldInt }
func (Float) Type() FieldType              { return FieldFloat }
func (String) Type() FieldType             { return FieldString }
func (Bytes) Type() FieldType              { return FieldBytes }
func (Relation) Type() FieldType           { return FieldRelation }
func (PinnedRelation) Type() FieldType     { return FieldPinnedRelation }
func (RelationList) Type() FieldType       { return FieldRelationList }
func (PinnedRelationList) Type() FieldType { return FieldPinnedRelationList }

func (v Bool) encode() []*string   { return one(strconv.FormatBool(bool(v))) }
func (v Int) encode() []*string    { return one(strconv.FormatInt(int64(v), 10)) }
func (v Float) encode() []*string  { return one(strconv.FormatFloat(float64(v), 'g', -1, 64)) }
func (v String) encode() []*string { return one(string(v)) }
func (v Bytes) encode() []*string  { return one(hex.EncodeToString(v)) }

func (v Relation) encode() []*string       { return one(string(v)) }
func (v PinnedRelation) encode() []*string { return one(string(v)) }

func (v RelationList) encode() []*string {
	out := make([]*string, 0, len(v))
	for _, id := range v {
		out = append(out, strPtr(string(id)))
	}
	return emptyListRow(out)
}

func (v PinnedRelationList) encode() []*string {
	out := make([]*string, 0, len(v))
	for _, id := range v {
		out = append(out, strPtr(string(id)))
	}
	return emptyListRow(out)
}

// EncodeValue renders a value into its storage form, one element per stored
// row. Scalars produce exactly one element; lists produce one element per
// member in order. The empty list produces a single nil element so the field
// keeps a row and stays addressable.
func EncodeValue(v FieldValue) []*string { return v.encode() }

// DecodeValue parses the stored form of a field. raw holds the value column
// of each row for the field in list order. Any shape EncodeValue could not
// have produced is an error, never a panic.
func DecodeValue(t FieldType, raw []*string) (FieldValue, error) {
	if t.IsList() {
		return decodeList(t, raw)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("field type %q: want one row, got %d", t, len(raw))
	}
	if raw[0] == nil {
		return nil, fmt.Errorf("field type %q: null value", t)
	}
	s := *raw[0]
	switch t {
	case FieldBool:
		switch s {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return nil, fmt.Errorf("bool field: invalid payload %q", s)
	case FieldInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int field: invalid payload %q", s)
		}
		return Int(n), nil
	case FieldFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("float field: invalid payload %q", s)
		}
		return Float(f), nil
	case FieldString:
		return String(s), nil
	case FieldBytes:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("bytes field: invalid hex payload: %w", err)
		}
		return Bytes(b), nil
	case FieldRelation:
		id, err := NewDocumentID(s)
		if err != nil {
			return nil, fmt.Errorf("relation field: %w", err)
		}
		return Relation(id), nil
	case FieldPinnedRelation:
		id, err := NewDocumentViewID(s)
		if err != nil {
			return nil, fmt.Errorf("pinned_relation field: %w", err)
		}
		return PinnedRelation(id), nil
	}
	return nil, fmt.Errorf("unknown field type %q", t)
}

func decodeList(t FieldType, raw []*string) (FieldValue, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("field type %q: want at least one row", t)
	}
	if len(raw) == 1 && raw[0] == nil {
		raw = nil
	}
	switch t {
	case FieldRelationList:
		out := make(RelationList, 0, len(raw))
		for i, r := range raw {
			if r == nil {
				return nil, fmt.Errorf("relation_list: null member at index %d", i)
			}
			id, err := NewDocumentID(*r)
			if err != nil {
				return nil, fmt.Errorf("relation_list member %d: %w", i, err)
			}
			out = append(out, id)
		}
		return out, nil
	case FieldPinnedRelationList:
		out := make(PinnedRelationList, 0, len(raw))
		for i, r := range raw {
			if r == nil {
				return nil, fmt.Errorf("pinned_relation_list: null member at index %d", i)
			}
			id, err := NewDocumentViewID(*r)
			if err != nil {
				return nil, fmt.Errorf("pinned_relation_list member %d: %w", i, err)
			}
			out = append(out, id)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown list field type %q", t)
}

func one(s string) []*string { return []*string{&s} }

func strPtr(s string) *string { return &s }

func emptyListRow(out []*string) []*string {
	if len(out) == 0 {
		return []*string{nil}
	}
	return out
}
