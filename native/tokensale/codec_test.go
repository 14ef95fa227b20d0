package tokensale

import (
	"encoding/binary"
	"strings"
	"testing"

	"tokensale/crypto"
)

func sampleRecord() *EscrowRecord {
	return &EscrowRecord{
		Admin:           crypto.ProgramID("admin"),
		Holding:         crypto.ProgramID("holding"),
		Name:            "sale1",
		ExchangeRate:    10,
		TotalSupply:     1000,
		RemainingSupply: 950,
		Bump:            254,
	}
}

func TestRecordEncodingLayout(t *testing.T) {
	if RecordSize != 229 {
		t.Fatalf("record size %d, want 229", RecordSize)
	}
	record := sampleRecord()
	data, err := record.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != RecordSize {
		t.Fatalf("encoded %d bytes", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[offNameLen:]); got != 5 {
		t.Fatalf("name length %d", got)
	}
	if data[RecordSize-1] != 254 {
		t.Fatalf("bump not in final byte")
	}

	var decoded EscrowRecord
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != *record {
		t.Fatalf("decoded %+v, want %+v", decoded, *record)
	}
}

func TestRecordMaxLengthName(t *testing.T) {
	record := sampleRecord()
	record.Name = strings.Repeat("n", MaxNameLength)
	data, err := record.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded EscrowRecord
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Name != record.Name {
		t.Fatalf("name truncated")
	}
	record.Name += "n"
	if _, err := record.MarshalBinary(); err == nil {
		t.Fatalf("expected oversized name to be rejected")
	}
}

func TestRecordDecodeRejectsCorruption(t *testing.T) {
	valid, err := sampleRecord().MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	corrupt := func(mutate func([]byte)) []byte {
		buf := append([]byte(nil), valid...)
		mutate(buf)
		return buf
	}
	cases := map[string][]byte{
		"short":         valid[:RecordSize-1],
		"discriminator": corrupt(func(b []byte) { b[0] ^= 0xff }),
		"name length":   corrupt(func(b []byte) { binary.LittleEndian.PutUint32(b[offNameLen:], MaxNameLength+1) }),
		"zero rate":     corrupt(func(b []byte) { binary.LittleEndian.PutUint64(b[offRate:], 0) }),
		"remaining":     corrupt(func(b []byte) { binary.LittleEndian.PutUint64(b[offRemaining:], 1001) }),
		"zeroed":        make([]byte, RecordSize),
	}
	for name, data := range cases {
		var record EscrowRecord
		if err := record.UnmarshalBinary(data); err == nil {
			t.Fatalf("%s: expected decode failure", name)
		}
	}
}
