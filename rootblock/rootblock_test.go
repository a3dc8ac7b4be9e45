package rootblock

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	b := New(KindData, 1234567890, 1, 1)
	buf := Marshal(b)
	if len(buf) != Size {
		t.Fatalf("Marshal produced %d bytes, want %d", len(buf), Size)
	}
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *got != *b {
		t.Fatalf("round trip mismatch: got %+v, want %+v", *got, *b)
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	buf := Marshal(New(KindIndex, 1, 1, 1))
	buf[0] ^= 0xFF
	if _, err := Unmarshal(buf); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestUnmarshalRejectsBadChecksum(t *testing.T) {
	buf := Marshal(New(KindData, 1, 1, 1))
	buf[offHead] ^= 0xFF // corrupt a field without recomputing checksum
	if _, err := Unmarshal(buf); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	buf := Marshal(New(Kind(99), 1, 1, 1))
	if _, err := Unmarshal(buf); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	if _, err := Unmarshal(make([]byte, Size-1)); err == nil {
		t.Fatalf("expected error for short buffer")
	}
}
