package export

import (
	"bytes"
	"testing"
)

func TestNewRecord(t *testing.T) {
	before := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00}
	after := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x01, 0x02}

	r := NewRecord("com/example/Holder", []string{"com/example/CountTrait"}, before, after)
	if r.ID == "" {
		t.Error("record has no id")
	}
	if r.SizeBefore != len(before) || r.SizeAfter != len(after) {
		t.Errorf("sizes = %d/%d", r.SizeBefore, r.SizeAfter)
	}
	if len(r.Digest) != 64 {
		t.Errorf("digest = %q, want sha256 hex", r.Digest)
	}
	if r.CreatedAt == 0 {
		t.Error("record has no timestamp")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	r := &Record{
		ID:         "0b2f",
		Target:     "com/example/Holder",
		Traits:     []string{"com/example/A", "com/example/B"},
		CreatedAt:  1700000000,
		SizeBefore: 100,
		SizeAfter:  150,
		Digest:     "abc",
	}
	data, err := MarshalRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != r.ID || got.Target != r.Target || len(got.Traits) != 2 || got.SizeAfter != 150 {
		t.Errorf("round trip changed the record: %+v", got)
	}
}

func TestRecordCanonicalEncoding(t *testing.T) {
	r := &Record{ID: "x", Target: "t", CreatedAt: 1}
	a, err := MarshalRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical records encoded differently")
	}
}
