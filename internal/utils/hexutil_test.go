package utils

import (
	"bytes"
	"testing"
)

func TestBytesToHexUppercase(t *testing.T) {
	got := BytesToHex([]byte{0x0a, 0xff, 0x00, 0x3c})
	if got != "0AFF003C" {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func TestHexRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0xde, 0xad, 0xbe, 0xef},
		[]byte("<!--:Begin:Msg:ID1-->"),
	}

	for _, in := range inputs {
		out, err := HexToBytes(BytesToHex(in))
		if err != nil {
			t.Fatalf("decode failed for %v: %v", in, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("round trip mismatch: got %v want %v", out, in)
		}
	}
}

func TestHexToBytesCaseNormalizing(t *testing.T) {
	upper, err := HexToBytes("0AFF")
	if err != nil {
		t.Fatalf("upper case decode failed: %v", err)
	}
	lower, err := HexToBytes("0aff")
	if err != nil {
		t.Fatalf("lower case decode failed: %v", err)
	}
	if !bytes.Equal(upper, lower) {
		t.Fatalf("case normalization mismatch: %v vs %v", upper, lower)
	}
}

func TestHexToBytesRejectsMalformed(t *testing.T) {
	if _, err := HexToBytes("0AF"); err == nil {
		t.Fatal("expected error for odd-length input")
	}
	if _, err := HexToBytes("zz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}
