package record

import (
	"bytes"
	"testing"
)

func TestSetRefRoundTrip(t *testing.T) {
	fields := [][]byte{
		[]byte("13534500702"),
		bytes.Repeat([]byte("x"), 440),
		{},
	}
	aligned, raw := Size(fields)
	if aligned%AlignSize != 0 {
		t.Fatalf("aligned size %d not a multiple of %d", aligned, AlignSize)
	}
	if aligned < raw {
		t.Fatalf("aligned %d < raw %d", aligned, raw)
	}
	buf := make([]byte, aligned)
	n, err := Set(buf, 0x7, fields)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n != aligned {
		t.Fatalf("Set returned %d, want %d", n, aligned)
	}

	header, got, err := Ref(buf)
	if err != nil {
		t.Fatalf("Ref: %v", err)
	}
	if header != 0x7 {
		t.Fatalf("header = %x, want 0x7", header)
	}
	if len(got) != len(fields) {
		t.Fatalf("got %d fields, want %d", len(got), len(fields))
	}
	for i := range fields {
		if !bytes.Equal(got[i], fields[i]) {
			t.Fatalf("field %d = %q, want %q", i, got[i], fields[i])
		}
	}

	nf, err := Fields(buf)
	if err != nil || nf != len(fields) {
		t.Fatalf("Fields() = %d, %v", nf, err)
	}
	rl, err := Length(buf)
	if err != nil || rl != raw {
		t.Fatalf("Length() = %d, %v; want %d", rl, err, raw)
	}
}

func TestSpecialRef(t *testing.T) {
	fields := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	aligned, _ := Size(fields)
	buf := make([]byte, aligned)
	if _, err := Set(buf, 0, fields); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i, want := range fields {
		got, err := SpecialRef(buf, i)
		if err != nil {
			t.Fatalf("SpecialRef(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("SpecialRef(%d) = %q, want %q", i, got, want)
		}
	}
	if _, err := SpecialRef(buf, len(fields)); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestSetBufferTooSmall(t *testing.T) {
	fields := [][]byte{[]byte("abc")}
	aligned, _ := Size(fields)
	buf := make([]byte, aligned-1)
	if _, err := Set(buf, 0, fields); err == nil {
		t.Fatalf("expected error for undersized buffer")
	}
}

func TestAlignPadZeroed(t *testing.T) {
	fields := [][]byte{[]byte("a")} // raw = 2 + 2 + 1 = 5, aligned = 8
	aligned, raw := Size(fields)
	if aligned != 8 || raw != 5 {
		t.Fatalf("unexpected sizes aligned=%d raw=%d", aligned, raw)
	}
	buf := make([]byte, aligned)
	for i := range buf {
		buf[i] = 0xFF
	}
	if _, err := Set(buf, 0, fields); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := raw; i < aligned; i++ {
		if buf[i] != 0 {
			t.Fatalf("pad byte %d not zeroed: %x", i, buf[i])
		}
	}
}

func TestEmptyFieldList(t *testing.T) {
	aligned, raw := Size(nil)
	buf := make([]byte, aligned)
	if _, err := Set(buf, 9, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	header, fields, err := Ref(buf)
	if err != nil {
		t.Fatalf("Ref: %v", err)
	}
	if header != 9 || len(fields) != 0 {
		t.Fatalf("header=%d fields=%v", header, fields)
	}
	if raw != fixedPrefix {
		t.Fatalf("raw = %d, want %d", raw, fixedPrefix)
	}
}
