package keystream

import (
	"bytes"
	"testing"
)

func TestApplyInvolution(t *testing.T) {
	key := []byte("shared-secret")

	cases := [][]byte{
		{},
		{0x00},
		[]byte("TAG-ABC123"),
		[]byte("longer than the key, repeating the stream cyclically"),
		bytes.Repeat([]byte{0xFF}, 257),
	}

	for _, data := range cases {
		once := Apply(data, key)
		twice := Apply(once, key)
		if !bytes.Equal(twice, data) {
			t.Errorf("Apply is not an involution for %v", data)
		}
	}
}

func TestApplyKeyCycling(t *testing.T) {
	key := []byte{0x0F, 0xF0}
	data := []byte{0x00, 0x00, 0x00, 0x00, 0x00}

	got := Apply(data, key)
	want := []byte{0x0F, 0xF0, 0x0F, 0xF0, 0x0F}
	if !bytes.Equal(got, want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
}

func TestApplyEmptyKey(t *testing.T) {
	data := []byte("untouched")
	got := Apply(data, nil)
	if !bytes.Equal(got, data) {
		t.Errorf("Apply with empty key should copy input, got %v", got)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	data := []byte{1, 2, 3}
	original := append([]byte(nil), data...)

	_ = Apply(data, []byte{0xFF})

	if !bytes.Equal(data, original) {
		t.Error("Apply must not mutate its input")
	}
}

func TestApplyDeterministic(t *testing.T) {
	key := []byte("fixed")
	data := []byte("same plaintext, same ciphertext")

	first := Apply(data, key)
	second := Apply(data, key)
	if !bytes.Equal(first, second) {
		t.Error("Apply must be deterministic: identical input and key must yield identical output")
	}
}
