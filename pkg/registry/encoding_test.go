package registry

import "testing"

func TestEncodeDecodeServerIDsRoundTrip(t *testing.T) {
	ids := []uint32{3, 1, 4, 1, 5, 9}
	encoded := encodeServerIDs(ids)
	if encoded != "3,1,4,1,5,9" {
		t.Fatalf("unexpected encoding: %q", encoded)
	}

	decoded, err := decodeServerIDs(encoded)
	if err != nil {
		t.Fatalf("decodeServerIDs: %v", err)
	}
	if len(decoded) != len(ids) {
		t.Fatalf("length mismatch: got %d, want %d", len(decoded), len(ids))
	}
	for i := range ids {
		if decoded[i] != ids[i] {
			t.Fatalf("index %d: got %d, want %d", i, decoded[i], ids[i])
		}
	}
}

func TestDecodeServerIDsEmpty(t *testing.T) {
	decoded, err := decodeServerIDs("")
	if err != nil {
		t.Fatalf("decodeServerIDs: %v", err)
	}
	if decoded != nil {
		t.Fatalf("expected nil, got %v", decoded)
	}
}

func TestDecodeServerIDsMalformed(t *testing.T) {
	if _, err := decodeServerIDs("1,two,3"); err == nil {
		t.Fatal("expected error decoding malformed server ids")
	}
}
