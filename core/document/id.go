package document

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Identifiers are lowercase hex BLAKE2b-256 digests carrying the multihash
// prefix 0x0020, 68 characters in total. They are compared as plain bytes
// once canonicalised.
const (
	idPrefix = "0020"
	idLength = 68
)

// OperationID identifies a single operation.
type OperationID string

// DocumentID identifies a document. It equals the id of the document's
// create operation.
type DocumentID string

// DocumentViewID identifies one materialised state of a document. The view
// produced by a create operation is identified by that operation's id.
type DocumentViewID string

// PublicKey is the hex-encoded key of an operation's author.
type PublicKey string

func (id OperationID) String() string    { return string(id) }
func (id DocumentID) String() string     { return string(id) }
func (id DocumentViewID) String() string { return string(id) }
func (k PublicKey) String() string       { return string(k) }

// AsDocumentID converts a create operation's id into the id of the document
// it creates.
func (id OperationID) AsDocumentID() DocumentID { return DocumentID(id) }

// NewOperationID canonicalises and validates a raw operation id string.
func NewOperationID(raw string) (OperationID, error) {
	s, err := canonicalizeID("operation id", raw)
	return OperationID(s), err
}

// NewDocumentID canonicalises and validates a raw document id string.
func NewDocumentID(raw string) (DocumentID, error) {
	s, err := canonicalizeID("document id", raw)
	return DocumentID(s), err
}

// NewDocumentViewID canonicalises and validates a raw document view id string.
func NewDocumentViewID(raw string) (DocumentViewID, error) {
	s, err := canonicalizeID("document view id", raw)
	return DocumentViewID(s), err
}

// NewPublicKey canonicalises and validates a raw public key string.
func NewPublicKey(raw string) (PublicKey, error) {
	s := strings.ToLower(raw)
	if len(s) != 64 || !isHex(s) {
		return "", fmt.Errorf("public key %q: want 64 hex characters", raw)
	}
	return PublicKey(s), nil
}

func canonicalizeID(kind, raw string) (string, error) {
	s := strings.ToLower(raw)
	if len(s) != idLength || !strings.HasPrefix(s, idPrefix) || !isHex(s[len(idPrefix):]) {
		return "", fmt.Errorf("%s %q: want %q followed by 64 hex characters", kind, raw, idPrefix)
	}
	return s, nil
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HashPayload mints an operation id from the operation's raw encoded bytes.
// Entry signing happens upstream; the digest alone is enough to key storage.
func HashPayload(payload []byte) OperationID {
	digest := blake2b.Sum256(payload)
	return OperationID(idPrefix + hex.EncodeToString(digest[:]))
}

// ViewIDFromOperationIDs derives the view id for the state a set of
// operations materialises. One operation maps to its own id, so the view of
// a create operation is identified by the create operation id itself. Larger
// sets hash the sorted, deduplicated id list into a fresh identifier.
func ViewIDFromOperationIDs(ids ...OperationID) DocumentViewID {
	if len(ids) == 0 {
		return ""
	}
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s := strings.ToLower(string(id))
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		uniq = append(uniq, s)
	}
	if len(uniq) == 1 {
		return DocumentViewID(uniq[0])
	}
	sort.Strings(uniq)
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // unkeyed blake2b cannot fail
	}
	for _, s := range uniq {
		h.Write([]byte(s))
		h.Write([]byte{'_'})
	}
	return DocumentViewID(idPrefix + hex.EncodeToString(h.Sum(nil)))
}
