package wire

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecodeSentenceRoundTrip(t *testing.T) {
	cases := [][]string{
		nil,
		{"/login"},
		{"/ping", "=address=8.8.8.8", "=count=4", ".tag=1"},
		{strings.Repeat("a", 300)},  // forces 2-byte length prefix
		{strings.Repeat("b", 20000)}, // forces 3-byte length prefix
	}

	for _, words := range cases {
		encoded := EncodeSentence(words)
		got, err := DecodeSentence(bufio.NewReader(bytes.NewReader(encoded)))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(got) != len(words) {
			t.Fatalf("got %d words, want %d", len(got), len(words))
		}
		for i := range words {
			if got[i] != words[i] {
				t.Errorf("word %d: got %q want %q", i, got[i], words[i])
			}
		}
	}
}

func TestLengthCodecRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x200000, 0xFFFFFFF, 1 << 27}
	for _, l := range lengths {
		enc := encodeLength(l)
		got, err := decodeLength(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("decodeLength(%d) error: %v", l, err)
		}
		if got != l {
			t.Errorf("decodeLength(encodeLength(%d)) = %d", l, got)
		}
	}
}

func TestDecodeSentenceOversizeWord(t *testing.T) {
	// 0xF0 prefix with a length bigger than MaxWordLen.
	var buf bytes.Buffer
	buf.WriteByte(0xF0)
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})
	_, err := DecodeSentence(bufio.NewReader(&buf))
	if err == nil {
		t.Fatal("expected oversize word error")
	}
	var we *WireError
	if !asWireError(err, &we) {
		t.Fatalf("expected *WireError, got %T: %v", err, err)
	}
}

func TestDecodeSentenceShortRead(t *testing.T) {
	// Claims a 10-byte word but supplies none.
	buf := bytes.NewReader([]byte{10})
	_, err := DecodeSentence(bufio.NewReader(buf))
	if err == nil {
		t.Fatal("expected short-read error")
	}
}

func TestDecodeSentenceInvalidUTF8NotFatal(t *testing.T) {
	word := []byte{0xFF, 0xFE, 'o', 'k'}
	var buf bytes.Buffer
	buf.Write(encodeLength(len(word)))
	buf.Write(word)
	buf.WriteByte(0x00)

	got, err := DecodeSentence(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 word, got %d", len(got))
	}
	if !strings.HasSuffix(got[0], "ok") {
		t.Errorf("expected sanitized word to retain trailing ok, got %q", got[0])
	}
}

func asWireError(err error, target **WireError) bool {
	we, ok := err.(*WireError)
	if !ok {
		return false
	}
	*target = we
	return true
}

var _ io.Reader = (*bytes.Reader)(nil)
