// Package export persists weaving results: woven class files on disk and a
// transform history in SQLite, recorded as CBOR documents.
package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// cborEncMode uses canonical mode so identical transforms encode to
// identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("export: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Record documents one completed transform.
type Record struct {
	ID         string   `cbor:"id"`
	Target     string   `cbor:"target"`
	Traits     []string `cbor:"traits"`
	CreatedAt  int64    `cbor:"created_at"` // unix seconds
	SizeBefore int      `cbor:"size_before"`
	SizeAfter  int      `cbor:"size_after"`
	Digest     string   `cbor:"digest"` // sha256 of the woven bytes
}

// NewRecord builds a record for a transform of target by the named traits.
func NewRecord(target string, traits []string, before, after []byte) *Record {
	sum := sha256.Sum256(after)
	return &Record{
		ID:         uuid.New().String(),
		Target:     target,
		Traits:     append([]string(nil), traits...),
		CreatedAt:  time.Now().Unix(),
		SizeBefore: len(before),
		SizeAfter:  len(after),
		Digest:     hex.EncodeToString(sum[:]),
	}
}

// MarshalRecord serializes a Record to CBOR bytes.
func MarshalRecord(r *Record) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalRecord deserializes a Record from CBOR bytes.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("export: unmarshal record: %w", err)
	}
	return &r, nil
}
