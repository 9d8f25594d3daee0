package radix64

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"testing"
)

func TestEncodeMatchesStandardBase64(t *testing.T) {
	// On valid inputs the encoder must be byte-for-byte identical to the
	// standard padded encoding; the differences are confined to decoding
	cases := [][]byte{
		{},
		{0},
		{0xFF},
		{1, 2},
		{1, 2, 3},
		{1, 2, 3, 4},
		[]byte("TAG-ABC123"),
		[]byte("any carrier of bytes"),
		bytes.Repeat([]byte{0xAB}, 100),
	}

	for i, data := range cases {
		t.Run(fmt.Sprintf("Case_%d", i), func(t *testing.T) {
			got := BytesToText(data)
			want := base64.StdEncoding.EncodeToString(data)
			if got != want {
				t.Errorf("BytesToText(%v) = %q, want %q", data, got, want)
			}
		})
	}
}

func TestEncodeLength(t *testing.T) {
	for n := 1; n <= 30; n++ {
		data := make([]byte, n)
		encoded := BytesToText(data)
		want := ((n + 2) / 3) * 4
		if len(encoded) != want {
			t.Errorf("BytesToText of %d bytes has length %d, want %d", n, len(encoded), want)
		}
	}
}

func TestDecodeInverse(t *testing.T) {
	for n := 0; n <= 64; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*7 + n)
		}

		decoded := TextToBytes(BytesToText(data))
		if !bytes.Equal(decoded, data) {
			t.Errorf("Round trip failed for %d bytes.\nExpected: %v\nGot: %v", n, data, decoded)
		}
	}
}

func TestDecodePartialGroups(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []byte
	}{
		// "TWFu" encodes "Man"
		{"FullGroup", "TWFu", []byte("Man")},
		// "TWE=" encodes "Ma"; padding stripped leaves 3 chars -> 2 bytes
		{"ThreeChars", "TWE=", []byte("Ma")},
		// "TQ==" encodes "M"; padding stripped leaves 2 chars -> 1 byte
		{"TwoChars", "TQ==", []byte("M")},
		{"Empty", "", []byte{}},
		{"OnlyPadding", "====", []byte{}},
		// A lone character carries fewer than 8 bits and yields nothing
		{"SingleChar", "T", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TextToBytes(tt.text)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("TextToBytes(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDecodeLaxOnInvalidInput(t *testing.T) {
	// Inputs the standard decoder rejects must decode without error here;
	// garbage output is fine, panics or dropped payloads are not
	inputs := []string{
		"not-valid-base64!!",
		"!!!!",
		"a b\tc\nd",
		"CC::1:",
		"日本語テキスト",
	}

	for _, input := range inputs {
		out := TextToBytes(input)
		if out == nil {
			t.Errorf("TextToBytes(%q) returned nil, want non-nil slice", input)
		}
	}
}

func TestDecodeDeterministic(t *testing.T) {
	input := "garbage-input!!"
	first := TextToBytes(input)
	second := TextToBytes(input)
	if !bytes.Equal(first, second) {
		t.Error("Lax decoding must be deterministic")
	}
}

func TestStringByteConversion(t *testing.T) {
	tests := []struct {
		s    string
		want []byte
	}{
		{"", []byte{}},
		{"TAG-X", []byte{'T', 'A', 'G', '-', 'X'}},
		// Latin-1 range: one byte per code point even where UTF-8 uses two
		{"café", []byte{'c', 'a', 'f', 0xE9}},
	}

	for _, tt := range tests {
		got := StringToBytes(tt.s)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("StringToBytes(%q) = %v, want %v", tt.s, got, tt.want)
		}

		back := BytesToString(got)
		if back != tt.s {
			t.Errorf("BytesToString(StringToBytes(%q)) = %q", tt.s, back)
		}
	}
}

func TestBytesToStringHighBytes(t *testing.T) {
	// Every byte value maps to the code point of the same value and back
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	s := BytesToString(data)
	back := StringToBytes(s)
	if !bytes.Equal(back, data) {
		t.Error("High byte values must survive the string round trip")
	}
}
