package fingerprint

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		want  Hash
	}{
		{name: "nil input is the empty sentinel", input: nil, want: Empty},
		{name: "empty input is the empty sentinel", input: []byte{}, want: Empty},
		{
			name:  "known digest",
			input: []byte("abc"),
			want:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Bytes(tt.input); got != tt.want {
				t.Errorf("Bytes(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextMatchesBytes(t *testing.T) {
	t.Parallel()

	if Text("annual report") != Bytes([]byte("annual report")) {
		t.Error("Text and Bytes disagree for identical content")
	}
	// Whitespace is significant.
	if Text("report") == Text("report ") {
		t.Error("trailing whitespace should change the fingerprint")
	}
}

func TestReader(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("%PDF-1.7 "), 4096)
	got, n, err := Reader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Reader() consumed %d bytes, want %d", n, len(payload))
	}
	if got != Bytes(payload) {
		t.Errorf("Reader() = %s, want %s", got, Bytes(payload))
	}

	empty, n, err := Reader(strings.NewReader(""))
	if err != nil || n != 0 || empty != Empty {
		t.Errorf("Reader(empty) = (%s, %d, %v), want (Empty, 0, nil)", empty, n, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestReaderError(t *testing.T) {
	t.Parallel()

	if _, _, err := Reader(failingReader{}); err == nil {
		t.Error("expected error from failing reader")
	}
}

func TestHashHelpers(t *testing.T) {
	t.Parallel()

	h := Text("x")
	if len(h.Short()) != 12 {
		t.Errorf("Short() length = %d, want 12", len(h.Short()))
	}
	if h.IsEmpty() {
		t.Error("non-empty hash reported as empty")
	}
	if !Empty.IsEmpty() || !Hash("").IsEmpty() {
		t.Error("Empty and unset hashes must report IsEmpty")
	}
}
